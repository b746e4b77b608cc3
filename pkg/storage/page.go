package storage

import (
	"fmt"
	"strings"
)

// PageQuery is a filter plus 1-based paging. PageSize 0 means unpaged.
type PageQuery struct {
	Filter    string
	PageIndex int
	PageSize  int
}

// Paged reports whether a LIMIT applies
func (q PageQuery) Paged() bool {
	return q.PageSize > 0
}

// LimitClause returns the LIMIT/OFFSET suffix, or "" when unpaged
func (q PageQuery) LimitClause() string {
	if !q.Paged() {
		return ""
	}
	index := q.PageIndex
	if index < 1 {
		index = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", q.PageSize, (index-1)*q.PageSize)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern wraps filter for a substring LIKE match. LIKE metacharacters
// in filter are escaped with a backslash. Case is folded by the database.
func (q PageQuery) LikePattern() string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(q.Filter)) + "%"
}

// HasFilter reports whether Filter has any non-space content
func (q PageQuery) HasFilter() bool {
	return strings.TrimSpace(q.Filter) != ""
}

// Page is one page of a listing. TotalRecords counts every row matching the
// filter regardless of PageSize.
type Page[T any] struct {
	Items        []T `json:"items"`
	TotalRecords int `json:"totalRecords"`
	PageIndex    int `json:"pageIndex"`
	PageSize     int `json:"pageSize"`
}

// NewPage fills in paging metadata from q
func NewPage[T any](items []T, total int, q PageQuery) *Page[T] {
	if items == nil {
		items = []T{}
	}
	index := q.PageIndex
	if q.Paged() && index < 1 {
		index = 1
	}
	return &Page[T]{Items: items, TotalRecords: total, PageIndex: index, PageSize: q.PageSize}
}

// FilterClause builds "WHERE (LOWER(a) LIKE LOWER($n) ESCAPE '\' OR ...)" for
// the given columns, numbering the placeholder after the existing args. Both
// sides are folded by the same LOWER, so sqlite matches case-insensitively
// for ASCII only while postgres folds Unicode. It returns "" and args
// unchanged when q has no filter.
func (q PageQuery) FilterClause(args []interface{}, columns ...string) (string, []interface{}) {
	if !q.HasFilter() || len(columns) == 0 {
		return "", args
	}
	args = append(args, q.LikePattern())
	n := len(args)
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf(`LOWER(COALESCE(%s, '')) LIKE LOWER($%d) ESCAPE '\'`, col, n)
	}
	return " WHERE (" + strings.Join(parts, " OR ") + ")", args
}
