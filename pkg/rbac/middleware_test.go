package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/auth"
)

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) Log(_ context.Context, event *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func (l *recordingAuditLogger) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.EventType
	}
	return out
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withCaller(r *http.Request, subject string, roles ...string) *http.Request {
	ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{Subject: subject, Username: subject, Roles: roles})
	return r.WithContext(ctx)
}

func TestRequireCommand(t *testing.T) {
	s := newTestStore(t)
	seedCatalogMatrix(t, s)
	ctx := context.Background()
	mustCreateUser(t, s, "admin-user")
	mustCreateUser(t, s, "member-user")
	_, err := s.AssignRoleToUser(ctx, "admin-user", AssignRoleRequest{RoleID: "Admin"}, "")
	require.NoError(t, err)

	auditLogger := &recordingAuditLogger{}
	pc := NewPermissionChecker(s, WithAuditLogger(auditLogger))
	handler := pc.RequireCommand("PRODUCT", CommandDelete)(okHandler())

	tests := []struct {
		name   string
		req    *http.Request
		status int
		body   string
	}{
		{"anonymous", httptest.NewRequest(http.MethodDelete, "/api/products/1", nil), http.StatusUnauthorized, `{"message":"authentication required"}`},
		{"member denied", withCaller(httptest.NewRequest(http.MethodDelete, "/api/products/1", nil), "member-user"), http.StatusForbidden, `{"message":"permission denied: DELETE on PRODUCT"}`},
		{"admin allowed", withCaller(httptest.NewRequest(http.MethodDelete, "/api/products/1", nil), "admin-user"), http.StatusOK, ""},
		{"token role allowed", withCaller(httptest.NewRequest(http.MethodDelete, "/api/products/1", nil), "member-user", "Admin"), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tt.req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}

	assert.Equal(t, []audit.EventType{audit.EventTypeAuthzAccessDenied}, auditLogger.types())
	assert.Equal(t, audit.EventStatusDenied, auditLogger.events[0].Status)
	assert.Equal(t, "PRODUCT", auditLogger.events[0].ResourceID)
}

func TestRequireCommand_EnforcementOff(t *testing.T) {
	s := newTestStore(t)
	pc := NewPermissionChecker(s, WithEnforcement(false))
	handler := pc.Guard()("PRODUCT", CommandDelete)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withCaller(httptest.NewRequest(http.MethodDelete, "/", nil), "anyone"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireCommand_LookupFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT user_id, role_id").WillReturnError(assert.AnError)

	pc := NewPermissionChecker(NewStore(db, nil))
	w := httptest.NewRecorder()
	pc.RequireCommand("PRODUCT", CommandView)(okHandler()).
		ServeHTTP(w, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"message":"internal server error"}`, w.Body.String())
}
