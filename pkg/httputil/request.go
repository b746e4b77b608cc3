package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Paging defaults shared by every filter endpoint
const (
	DefaultPageIndex = 1
	DefaultPageSize  = 20
	MaxPageSize      = 500
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, r, err)
		return false
	}
	return true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperr.Validation(fmt.Sprintf("missing path parameter: %s", key))
	}
	return str, nil
}

// ParsePathStringOrError extracts a string path parameter and writes error on failure
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteAppError(w, r, err)
		return "", false
	}
	return val, true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("invalid integer for query param %s: %s", key, str),
			apperr.FieldError{Field: key, Message: "must be an integer"})
	}
	return val, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, apperr.Validation(fmt.Sprintf("invalid boolean for query param %s: %s", key, str))
	}
	return val, nil
}

// ParseQueryList collects a repeated query parameter. Comma separated values
// are split, so ?ids=a&ids=b and ?ids=a,b are equivalent.
func ParseQueryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// PageParams is the parsed filter/pageIndex/pageSize triple
type PageParams struct {
	Filter    string
	PageIndex int
	PageSize  int
}

// ParsePaging reads filter, pageIndex and pageSize. pageIndex is 1-based.
func ParsePaging(r *http.Request) (PageParams, error) {
	pageIndex, err := ParseQueryInt(r, "pageIndex", DefaultPageIndex)
	if err != nil {
		return PageParams{}, err
	}
	pageSize, err := ParseQueryInt(r, "pageSize", DefaultPageSize)
	if err != nil {
		return PageParams{}, err
	}
	if pageIndex < 1 {
		return PageParams{}, apperr.Validation("pageIndex must be at least 1",
			apperr.FieldError{Field: "pageIndex", Message: "must be at least 1"})
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return PageParams{}, apperr.Validation(fmt.Sprintf("pageSize must be between 1 and %d", MaxPageSize),
			apperr.FieldError{Field: "pageSize", Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize)})
	}
	return PageParams{
		Filter:    strings.TrimSpace(r.URL.Query().Get("filter")),
		PageIndex: pageIndex,
		PageSize:  pageSize,
	}, nil
}

// Query converts parsed paging into a store query
func (p PageParams) Query() storage.PageQuery {
	return storage.PageQuery{Filter: p.Filter, PageIndex: p.PageIndex, PageSize: p.PageSize}
}
