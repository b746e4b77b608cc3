package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/config"
	"github.com/platinummonkey/shopadmin/pkg/middleware"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
	"github.com/platinummonkey/shopadmin/pkg/storage/storagetest"
)

const (
	testSecret = "server-test-secret-0123456789"
	testIssuer = "shopadmin-test"
)

func testConfig() *config.Config {
	db := storage.DefaultConfig()
	db.DSN = storagetest.MemoryDSN
	db.AutoMigrate = true

	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			HealthPort:      "0",
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORSOrigins:     []string{"*"},
		},
		Database: db,
		Cache: cache.Config{
			KeyPrefix: "shopadmin:",
			TTL:       time.Minute,
			LocalSize: 128,
			LocalTTL:  time.Minute,
		},
		Auth: config.AuthConfig{DevSecret: testSecret, DevIssuer: testIssuer},
		RBAC: config.RBACConfig{Enforce: true, SweepSchedule: "@every 1h", CacheTTL: time.Minute},
		Seed: config.SeedConfig{Enabled: true},
		RateLimit: config.RateLimitConfig{
			RateLimitConfig: middleware.DefaultRateLimitConfig(),
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       observability.ErrorLevel,
			MetricsEnabled: true,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, nil))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func mint(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	v, err := auth.NewHMACVerifier(testSecret, testIssuer)
	require.NoError(t, err)
	token, err := v.Mint(subject, subject, roles, time.Hour)
	require.NoError(t, err)
	return token
}

func call(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestComponentsOrder(t *testing.T) {
	var names []string
	for _, c := range Components() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"auth", "rbac", "catalog", "audit"}, names)
}

func TestMigrate_Idempotent(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.DSN = storagetest.MemoryDSN
	db, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	require.NoError(t, Migrate(context.Background(), db, logger))
	require.NoError(t, Migrate(context.Background(), db, logger))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM commands`).Scan(&n))
	assert.Positive(t, n)
}

func TestServer_AnonymousReads(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := call(t, s, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = call(t, s, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MutationsRequirePermission(t *testing.T) {
	s := newTestServer(t, testConfig())
	brand := map[string]interface{}{"name": "Acme", "isActive": true}

	w := call(t, s, http.MethodPost, "/api/brands", "", brand)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, s, http.MethodPost, "/api/brands", mint(t, "visitor", "Viewer"), brand)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(t, s, http.MethodPost, "/api/brands", mint(t, "admin"), brand)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	w = call(t, s, http.MethodGet, "/api/brands/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, s, http.MethodGet, "/api/audit?resourceType=brand", mint(t, "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), created.ID)
}

func TestServer_InvalidTokenIsAnonymous(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := call(t, s, http.MethodGet, "/api/brands", "not-a-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, s, http.MethodDelete, "/api/brands/x", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_RedisBackedCacheAndLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerWindow = 2
	cfg.RateLimit.BurstSize = 0
	cfg.RateLimit.WindowDuration = time.Minute
	s := newTestServer(t, cfg)

	_, ok := s.limiter.(*middleware.RedisLimiter)
	require.True(t, ok)

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, call(t, s, http.MethodGet, "/api/brands", "", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_HealthHandler(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.HealthHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	call(t, s, http.MethodGet, "/api/products", "", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "shopadmin_"))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_ReturnsConstructionErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "oracle" }},
		{"unreachable redis", func(c *config.Config) { c.Cache.RedisURL = "redis://127.0.0.1:1" }},
		{"missing seed file", func(c *config.Config) { c.Seed.Path = filepath.Join(t.TempDir(), "missing.yaml") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.NotPanics(t, func() {
				s, err := New(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, nil))
				assert.Error(t, err)
				assert.Nil(t, s)
			})
		})
	}
}

func TestServer_RateLimitKeysBySubject(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerWindow = 1
	cfg.RateLimit.BurstSize = 0
	cfg.RateLimit.WindowDuration = time.Hour
	s := newTestServer(t, cfg)
	admin := mint(t, "admin")

	assert.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/api/roles", admin, nil).Code)
	assert.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/api/brands", "", nil).Code,
		"an anonymous caller on the same address has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, call(t, s, http.MethodGet, "/api/roles", admin, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/brands", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.77")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "forwarding headers from an untrusted peer are ignored")
}

func TestServer_CacheMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())
	admin := mint(t, "admin")

	for i := 0; i < 3; i++ {
		w := call(t, s, http.MethodGet, "/api/roles/Admin/permissions", admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	assert.Positive(t, testutil.ToFloat64(s.metrics.CacheMissesTotal.WithLabelValues("rbac")))
	assert.Positive(t, testutil.ToFloat64(s.metrics.CacheHitsTotal.WithLabelValues("rbac")))
}
