package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// FunctionUsers is the permission-matrix function guarding user admin
const FunctionUsers = "SYSTEM_USER"

// Handlers provides HTTP handlers for user administration
type Handlers struct {
	store       *UserStore
	auditLogger audit.Logger
}

// NewHandlers creates user handlers. auditLogger may be nil.
func NewHandlers(store *UserStore, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &Handlers{store: store, auditLogger: auditLogger}
}

// RegisterRoutes registers the /api/users routes behind guard
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/users", httputil.Protect(guard, FunctionUsers, "VIEW", h.listUsers)).Methods("GET")
	router.Handle("/api/users", httputil.Protect(guard, FunctionUsers, "CREATE", h.createUser)).Methods("POST")
	router.Handle("/api/users/filter", httputil.Protect(guard, FunctionUsers, "VIEW", h.filterUsers)).Methods("GET")
	router.Handle("/api/users/{id}", httputil.Protect(guard, FunctionUsers, "VIEW", h.getUser)).Methods("GET")
	router.Handle("/api/users/{id}", httputil.Protect(guard, FunctionUsers, "UPDATE", h.updateUser)).Methods("PUT")
	router.Handle("/api/users/{id}", httputil.Protect(guard, FunctionUsers, "DELETE", h.deleteUser)).Methods("DELETE")
}

// listUsers handles GET /api/users
func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListUsers(r.Context(), httputil.PageParams{}.Query())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterUsers handles GET /api/users/filter
func (h *Handlers) filterUsers(w http.ResponseWriter, r *http.Request) {
	paging, err := httputil.ParsePaging(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	page, err := h.store.ListUsers(r.Context(), paging.Query())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getUser handles GET /api/users/{id}
func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// createUser handles POST /api/users
func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.CreateUser(r.Context(), req)
	h.logAudit(r, audit.EventTypeAdminUserCreate, req.ID, nil, user, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// updateUser handles PUT /api/users/{id}
func (h *Handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	user, err := h.store.UpdateUser(r.Context(), id, req)
	h.logAudit(r, audit.EventTypeAdminUserUpdate, id, before, user, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// deleteUser handles DELETE /api/users/{id}
func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.DeleteUser(r.Context(), id)
	h.logAudit(r, audit.EventTypeAdminUserDelete, id, nil, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// logAudit records a user mutation. Failures to write the audit trail are
// logged and never fail the request.
func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, userID string, before, after interface{}, opErr error) {
	ctx := r.Context()
	status := audit.EventStatusSuccess
	if opErr != nil {
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status).WithRequest(r)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = userID
	if ac, ok := FromContext(ctx); ok {
		event.Username = ac.Username
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	} else if before != nil || after != nil {
		event.Changes = &audit.ChangeDetails{Before: before, After: after}
	}

	if err := h.auditLogger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
