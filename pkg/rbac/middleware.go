package rbac

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/middleware"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// RequireCommand returns middleware that admits the request only when the
// authenticated caller holds commandID on functionID. It has the shape of
// httputil.Guard so route packages can take it without importing rbac.
func (pc *PermissionChecker) RequireCommand(functionID, commandID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !pc.enforce {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := pc.CheckAccess(r.Context(), authCtx.Subject, functionID, commandID, authCtx.Roles...)
			if err != nil {
				observability.FromContext(r.Context()).
					WithError(err).
					WithFields(map[string]interface{}{"function_id": functionID, "command_id": commandID}).
					Error("permission lookup failed")
				httputil.WriteInternalError(w)
				return
			}
			if !decision.Allowed {
				pc.logDenied(r, decision)
				httputil.WriteForbidden(w, fmt.Sprintf("permission denied: %s on %s", commandID, functionID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Guard returns RequireCommand as an httputil.Guard
func (pc *PermissionChecker) Guard() httputil.Guard {
	return pc.RequireCommand
}

func (pc *PermissionChecker) logDenied(r *http.Request, decision *AccessDecision) {
	event := audit.NewEvent(r.Context(), audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied).WithRequest(r)
	event.UserID = decision.UserID
	event.ResourceType = audit.ResourceTypeFunction
	event.ResourceID = decision.FunctionID
	event.Message = decision.Reason
	event.Metadata = map[string]interface{}{"command_id": decision.CommandID}
	if err := pc.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to write audit event")
	}
}
