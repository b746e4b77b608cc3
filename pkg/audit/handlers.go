package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
)

// Searcher queries stored audit events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) (*SearchResult, error)
	Get(ctx context.Context, id string) (*AuditEvent, error)
}

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// FunctionAudit is the permission-matrix function guarding the audit trail
const FunctionAudit = "SYSTEM_AUDIT"

// RegisterRoutes registers audit log routes behind a VIEW check on
// FunctionAudit.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/audit", httputil.Protect(guard, FunctionAudit, "VIEW", h.listEvents)).Methods("GET")
	router.Handle("/api/audit/{id}", httputil.Protect(guard, FunctionAudit, "VIEW", h.getEvent)).Methods("GET")
}

type eventPage struct {
	Items        []*AuditEvent `json:"items"`
	TotalRecords int           `json:"totalRecords"`
	PageIndex    int           `json:"pageIndex"`
	PageSize     int           `json:"pageSize"`
}

// listEvents handles GET /api/audit
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	paging, err := httputil.ParsePaging(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter.Limit = paging.PageSize
	filter.Offset = (paging.PageIndex - 1) * paging.PageSize

	result, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, eventPage{
		Items:        result.Events,
		TotalRecords: result.TotalRecords,
		PageIndex:    paging.PageIndex,
		PageSize:     paging.PageSize,
	})
}

// getEvent handles GET /api/audit/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, event)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{
		UserID:       q.Get("userId"),
		Status:       EventStatus(q.Get("status")),
		ResourceType: ResourceType(q.Get("resourceType")),
		ResourceID:   q.Get("resourceId"),
	}
	for _, et := range httputil.ParseQueryList(r, "eventType") {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}

	var err error
	if filter.StartTime, err = parseTime(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTime(value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, apperr.Validation(field+" must be an RFC 3339 timestamp",
			apperr.FieldError{Field: field, Message: "must be an RFC 3339 timestamp"})
	}
	return &t, nil
}
