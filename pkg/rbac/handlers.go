package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/validation"
)

// Functions of the permission matrix that guard the admin API
const (
	FunctionSystem     = "SYSTEM"
	FunctionUsers      = "SYSTEM_USER"
	FunctionRoles      = "SYSTEM_ROLE"
	FunctionFunctions  = "SYSTEM_FUNCTION"
	FunctionPermission = "SYSTEM_PERMISSION"
	FunctionAudit      = "SYSTEM_AUDIT"
)

// Handlers provides HTTP handlers for the function registry, roles,
// permissions and memberships.
type Handlers struct {
	store       *Store
	checker     *PermissionChecker
	auditLogger audit.Logger
}

// NewHandlers creates RBAC handlers. auditLogger may be nil.
func NewHandlers(store *Store, checker *PermissionChecker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &Handlers{store: store, checker: checker, auditLogger: auditLogger}
}

// RegisterRoutes registers the RBAC routes behind guard
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	// Function registry
	router.Handle("/api/functions", httputil.Protect(guard, FunctionFunctions, CommandView, h.listFunctions)).Methods("GET")
	router.Handle("/api/functions", httputil.Protect(guard, FunctionFunctions, CommandCreate, h.createFunction)).Methods("POST")
	router.Handle("/api/functions/filter", httputil.Protect(guard, FunctionFunctions, CommandView, h.filterFunctions)).Methods("GET")
	router.Handle("/api/functions/{id}", httputil.Protect(guard, FunctionFunctions, CommandView, h.getFunction)).Methods("GET")
	router.Handle("/api/functions/{id}", httputil.Protect(guard, FunctionFunctions, CommandUpdate, h.updateFunction)).Methods("PUT")
	router.Handle("/api/functions/{id}", httputil.Protect(guard, FunctionFunctions, CommandDelete, h.deleteFunction)).Methods("DELETE")

	// Commands and associations
	router.Handle("/api/commands", httputil.Protect(guard, FunctionFunctions, CommandView, h.listCommands)).Methods("GET")
	router.Handle("/api/functions/{id}/commands", httputil.Protect(guard, FunctionFunctions, CommandView, h.listFunctionCommands)).Methods("GET")
	router.Handle("/api/functions/{id}/commands", httputil.Protect(guard, FunctionFunctions, CommandCreate, h.assignCommands)).Methods("POST")
	router.Handle("/api/functions/{id}/commands", httputil.Protect(guard, FunctionFunctions, CommandDelete, h.unassignCommands)).Methods("DELETE")

	// Roles
	router.Handle("/api/roles", httputil.Protect(guard, FunctionRoles, CommandView, h.listRoles)).Methods("GET")
	router.Handle("/api/roles", httputil.Protect(guard, FunctionRoles, CommandCreate, h.createRole)).Methods("POST")
	router.Handle("/api/roles/filter", httputil.Protect(guard, FunctionRoles, CommandView, h.filterRoles)).Methods("GET")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, FunctionRoles, CommandView, h.getRole)).Methods("GET")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, FunctionRoles, CommandUpdate, h.updateRole)).Methods("PUT")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, FunctionRoles, CommandDelete, h.deleteRole)).Methods("DELETE")

	// Role permissions
	router.Handle("/api/roles/{id}/permissions", httputil.Protect(guard, FunctionPermission, CommandView, h.getRolePermissions)).Methods("GET")
	router.Handle("/api/roles/{id}/permissions", httputil.Protect(guard, FunctionPermission, CommandApprove, h.replaceRolePermissions)).Methods("PUT")

	// Memberships and user access
	router.Handle("/api/users/{id}/roles", httputil.Protect(guard, FunctionUsers, CommandView, h.getUserRoles)).Methods("GET")
	router.Handle("/api/users/{id}/roles", httputil.Protect(guard, FunctionUsers, CommandUpdate, h.assignRole)).Methods("POST")
	router.Handle("/api/users/{id}/roles/{roleId}", httputil.Protect(guard, FunctionUsers, CommandUpdate, h.removeRole)).Methods("DELETE")
	router.Handle("/api/users/{id}/permissions", httputil.Protect(guard, FunctionUsers, CommandView, h.getUserPermissions)).Methods("GET")
	router.Handle("/api/users/{id}/access", httputil.Protect(guard, FunctionUsers, CommandView, h.checkUserAccess)).Methods("GET")
}

// listFunctions handles GET /api/functions
func (h *Handlers) listFunctions(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListFunctions(r.Context(), FunctionQuery{})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterFunctions handles GET /api/functions/filter
func (h *Handlers) filterFunctions(w http.ResponseWriter, r *http.Request) {
	paging, err := httputil.ParsePaging(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	page, err := h.store.ListFunctions(r.Context(), paging.Query())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getFunction handles GET /api/functions/{id}
func (h *Handlers) getFunction(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	f, err := h.store.GetFunction(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, f)
}

// createFunction handles POST /api/functions
func (h *Handlers) createFunction(w http.ResponseWriter, r *http.Request) {
	var f Function
	if !httputil.ParseJSONOrError(w, r, &f) {
		return
	}

	created, err := h.store.CreateFunction(r.Context(), f)
	h.logAudit(r, audit.EventTypeRegistryFunctionCreate, audit.ResourceTypeFunction, f.ID, nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateFunctions(r.Context())
	httputil.WriteCreated(w, created)
}

// updateFunction handles PUT /api/functions/{id}
func (h *Handlers) updateFunction(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var f Function
	if !httputil.ParseJSONOrError(w, r, &f) {
		return
	}

	before, err := h.store.GetFunction(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	updated, err := h.store.UpdateFunction(r.Context(), id, f)
	h.logAudit(r, audit.EventTypeRegistryFunctionUpdate, audit.ResourceTypeFunction, id, before, updated, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateFunctions(r.Context())
	httputil.WriteSuccess(w, updated)
}

// deleteFunction handles DELETE /api/functions/{id}
func (h *Handlers) deleteFunction(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.DeleteFunction(r.Context(), id)
	h.logAudit(r, audit.EventTypeRegistryFunctionDelete, audit.ResourceTypeFunction, id, nil, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateAll(r.Context())
	httputil.WriteNoContent(w)
}

// listCommands handles GET /api/commands
func (h *Handlers) listCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := h.store.ListCommands(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, commands)
}

// listFunctionCommands handles GET /api/functions/{id}/commands
func (h *Handlers) listFunctionCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	commands, err := h.store.ListCommandsForFunction(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, commands)
}

// assignCommands handles POST /api/functions/{id}/commands
func (h *Handlers) assignCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req AssignCommandsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	err := h.store.AssignCommands(r.Context(), id, req.CommandIDs, req.AddToAllFunctions)
	h.logAudit(r, audit.EventTypeRegistryCommandsAssign, audit.ResourceTypeFunction, id, nil, req, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	commands, err := h.store.ListCommandsForFunction(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, commands)
}

// unassignCommands handles DELETE /api/functions/{id}/commands
func (h *Handlers) unassignCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	commandIDs := httputil.ParseQueryList(r, "commandIds")
	if len(commandIDs) == 0 {
		httputil.WriteAppError(w, r, apperr.Validation("at least one command is required",
			apperr.FieldError{Field: "commandIds", Message: "is required"}))
		return
	}

	err := h.store.UnassignCommands(r.Context(), id, commandIDs)
	h.logAudit(r, audit.EventTypeRegistryCommandsUnassign, audit.ResourceTypeFunction, id,
		map[string]interface{}{"commandIds": commandIDs}, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateAll(r.Context())
	httputil.WriteNoContent(w)
}

// listRoles handles GET /api/roles
func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.ListRoles(r.Context(), httputil.PageParams{}.Query())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page.Items)
}

// filterRoles handles GET /api/roles/filter
func (h *Handlers) filterRoles(w http.ResponseWriter, r *http.Request) {
	paging, err := httputil.ParsePaging(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	page, err := h.store.ListRoles(r.Context(), paging.Query())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// getRole handles GET /api/roles/{id}
func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// createRole handles POST /api/roles
func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var role Role
	if !httputil.ParseJSONOrError(w, r, &role) {
		return
	}

	created, err := h.store.CreateRole(r.Context(), role)
	h.logAudit(r, audit.EventTypeAdminRoleCreate, audit.ResourceTypeRole, role.ID, nil, created, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// updateRole handles PUT /api/roles/{id}
func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var role Role
	if !httputil.ParseJSONOrError(w, r, &role) {
		return
	}

	before, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	updated, err := h.store.UpdateRole(r.Context(), id, role)
	h.logAudit(r, audit.EventTypeAdminRoleUpdate, audit.ResourceTypeRole, id, before, updated, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deleteRole handles DELETE /api/roles/{id}
func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.DeleteRole(r.Context(), id)
	h.logAudit(r, audit.EventTypeAdminRoleDelete, audit.ResourceTypeRole, id, nil, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateRole(r.Context(), id)
	httputil.WriteNoContent(w)
}

// getRolePermissions handles GET /api/roles/{id}/permissions
func (h *Handlers) getRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	matrix, err := h.checker.GetPermissionMatrix(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// replaceRolePermissions handles PUT /api/roles/{id}/permissions
func (h *Handlers) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req ReplacePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	before, err := h.store.GetRolePermissions(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	err = h.store.ReplaceRolePermissions(r.Context(), id, req.Permissions)
	h.logAudit(r, audit.EventTypeAuthzPermissionsReplace, audit.ResourceTypePermission, id, before, req.Permissions, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.checker.InvalidateRole(r.Context(), id)
	httputil.WriteNoContent(w)
}

// getUserRoles handles GET /api/users/{id}/roles
func (h *Handlers) getUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if !h.requireUser(w, r, id) {
		return
	}
	roles, err := h.store.GetUserRoles(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// assignRole handles POST /api/users/{id}/roles
func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grantedBy := ""
	if ac, ok := auth.FromContext(r.Context()); ok {
		grantedBy = ac.Subject
	}
	membership, err := h.store.AssignRoleToUser(r.Context(), id, req, grantedBy)
	h.logAudit(r, audit.EventTypeAdminUserRoleAssign, audit.ResourceTypeUser, id, nil, membership, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// removeRole handles DELETE /api/users/{id}/roles/{roleId}
func (h *Handlers) removeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	err := h.store.RemoveRoleFromUser(r.Context(), id, roleID)
	h.logAudit(r, audit.EventTypeAdminUserRoleRemove, audit.ResourceTypeUser, id,
		map[string]interface{}{"roleId": roleID}, nil, err)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getUserPermissions handles GET /api/users/{id}/permissions
func (h *Handlers) getUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	matrix, err := h.checker.GetUserPermissionMatrix(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// checkUserAccess handles GET /api/users/{id}/access
func (h *Handlers) checkUserAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	functionID := httputil.ParseQueryString(r, "functionId", "")
	commandID := httputil.ParseQueryString(r, "commandId", "")

	var fields []apperr.FieldError
	if functionID == "" {
		fields = append(fields, apperr.FieldError{Field: "functionId", Message: "is required"})
	}
	if commandID == "" {
		fields = append(fields, apperr.FieldError{Field: "commandId", Message: "is required"})
	}
	if len(fields) > 0 {
		httputil.WriteAppError(w, r, apperr.Validation("functionId and commandId are required", fields...))
		return
	}
	if !h.requireUser(w, r, id) {
		return
	}

	decision, err := h.checker.CheckAccess(r.Context(), id, functionID, commandID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request, id string) bool {
	ok, err := h.store.UserExists(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return false
	}
	if !ok {
		httputil.WriteAppError(w, r, apperr.NotFound("user", id))
		return false
	}
	return true
}

// logAudit records an access-control mutation. Failures to write the audit
// trail are logged and never fail the request.
func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, before, after interface{}, opErr error) {
	ctx := r.Context()
	status := audit.EventStatusSuccess
	if opErr != nil {
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status).WithRequest(r)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if ac, ok := auth.FromContext(ctx); ok {
		event.Username = ac.Username
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	} else {
		h.checker.metrics.RBACMutation(string(eventType))
		if before != nil || after != nil {
			event.Changes = &audit.ChangeDetails{Before: before, After: after}
		}
	}

	if err := h.auditLogger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
