package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/contextkeys"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newVerifier(t *testing.T) *auth.HMACVerifier {
	t.Helper()
	v, err := auth.NewHMACVerifier(testSecret, "")
	require.NoError(t, err)
	return v
}

func TestAuthMiddleware(t *testing.T) {
	verifier := newVerifier(t)
	valid, err := verifier.Mint("user-1", "alice", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	var seen *auth.AuthContext
	var seenUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthContext(r)
		seenUserID = contextkeys.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid token", false, "Bearer " + valid, http.StatusOK, "user-1"},
		{"missing header required", false, "", http.StatusUnauthorized, ""},
		{"missing header optional", true, "", http.StatusOK, ""},
		{"wrong scheme", false, "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token required", false, "Bearer nope", http.StatusUnauthorized, ""},
		{"invalid token optional is anonymous", true, "Bearer nope", http.StatusOK, ""},
		{"wrong scheme optional is anonymous", true, "Basic abc", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, seenUserID = nil, ""
			handler := NewAuthMiddleware(verifier, tt.optional).Handler(next)

			req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantUser != "" {
				require.NotNil(t, seen)
				assert.Equal(t, tt.wantUser, seen.Subject)
				assert.Equal(t, tt.wantUser, seenUserID)
			} else if w.Code == http.StatusOK {
				assert.Nil(t, seen)
			}
			if w.Code == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"message"`)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithAuthContext(req.Context(), &auth.AuthContext{Subject: "u"}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
