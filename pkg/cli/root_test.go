package cli

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
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/catalog"
)

// run executes the CLI with args and returns what it printed
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	defer func() { out = prev }()

	err := NewRootCommand().Execute(args)
	return buf.String(), err
}

// testDSN points every command in a test at the same sqlite file
func testDSN(t *testing.T) {
	t.Helper()
	t.Setenv("SHOPADMIN_DB_DRIVER", "sqlite3")
	t.Setenv("SHOPADMIN_DB_DSN", "file:"+filepath.Join(t.TempDir(), "cli.db")+"?_foreign_keys=on&_loc=UTC")
	t.Setenv("SHOPADMIN_REDIS_URL", "")
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "shopadmin-cli", root.Name)
	expected := []string{"migrate", "seed", "matrix", "check", "grant", "revoke", "token", "rating", "average"}
	for _, name := range expected {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, len(expected))
}

func TestCommandUsage(t *testing.T) {
	output, err := run(t)
	require.NoError(t, err)

	assert.Contains(t, output, "Usage: shopadmin-cli <command> [args]")
	assert.Less(t, strings.Index(output, "average"), strings.Index(output, "token"))
}

func TestCommandExecute_Unknown(t *testing.T) {
	_, err := run(t, "nope")
	assert.EqualError(t, err, "unknown command: nope")
}

func TestSeedMatrixAndCheck(t *testing.T) {
	testDSN(t)

	output, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, output, "schema is up to date")

	output, err = run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, output, "functions=11 ")
	assert.Contains(t, output, "roles=3 users=1 memberships=1")

	output, err = run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, "functions=0 associations=0 roles=0 users=0 memberships=0 permissions=0\n", output)

	output, err = run(t, "matrix", "-role", "Viewer")
	require.NoError(t, err)
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "CONTENT_PRODUCT ") {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " VIEW"), line)
		}
	}

	output, err = run(t, "check", "-user", "admin", "-function", "SYSTEM_PERMISSION", "-command", "APPROVE")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "ALLOW admin APPROVE on SYSTEM_PERMISSION"), output)

	output, err = run(t, "check", "-user", "nobody", "-function", "CONTENT_BRAND", "-command", "VIEW")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, output, "DENY nobody VIEW on CONTENT_BRAND: user has no active roles")
}

func TestMatrixRequiresOneSubject(t *testing.T) {
	testDSN(t)
	_, err := run(t, "matrix")
	assert.Error(t, err)
	_, err = run(t, "matrix", "-role", "Viewer", "-user", "admin")
	assert.Error(t, err)
}

func TestGrantAndRevoke(t *testing.T) {
	testDSN(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	check := []string{"check", "-user", "visitor", "-roles", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE"}
	_, err = run(t, check...)
	assert.ErrorIs(t, err, ErrAccessDenied)

	output, err := run(t, "grant", "-role", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE")
	require.NoError(t, err)
	assert.Equal(t, "granted DELETE on CONTENT_BRAND to Viewer\n", output)

	output, err = run(t, check...)
	require.NoError(t, err)
	assert.Contains(t, output, "granted by Viewer")

	output, err = run(t, "revoke", "-role", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE")
	require.NoError(t, err)
	assert.Equal(t, "revoked DELETE on CONTENT_BRAND from Viewer\n", output)

	output, err = run(t, "revoke", "-role", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE")
	require.NoError(t, err)
	assert.Equal(t, "Viewer held no DELETE grant on CONTENT_BRAND\n", output)

	_, err = run(t, "grant", "-role", "Viewer", "-function", "CONTENT_RATING", "-command", "APPROVE")
	assert.Error(t, err)

	_, err = run(t, "grant", "-role", "Viewer")
	assert.Error(t, err)
}

func TestGrantWithoutRedisWarnsAboutStaleCache(t *testing.T) {
	testDSN(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	var logs bytes.Buffer
	prev := logger.Out
	logger.SetOutput(&logs)
	defer logger.SetOutput(prev)

	_, err = run(t, "grant", "-role", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "SHOPADMIN_RBAC_CACHE_TTL")
	assert.Contains(t, logs.String(), "role=Viewer")
}

func TestGrantInvalidatesSharedCache(t *testing.T) {
	testDSN(t)
	mr := miniredis.RunT(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	require.NoError(t, mr.Set("shopadmin:rbac:grants:Viewer", "[]"))
	_, err = run(t, "grant", "-redis", "redis://"+mr.Addr(), "-role", "Viewer", "-function", "CONTENT_BRAND", "-command", "DELETE")
	require.NoError(t, err)
	assert.False(t, mr.Exists("shopadmin:rbac:grants:Viewer"))
}

func TestTokenCommand(t *testing.T) {
	const secret = "cli-test-secret-0123456789"

	output, err := run(t, "token", "-secret", secret, "-issuer", "cli-test", "-subject", "alice", "-roles", "Editor, Viewer", "-ttl", "5m")
	require.NoError(t, err)

	v, err := auth.NewHMACVerifier(secret, "cli-test")
	require.NoError(t, err)
	ac, err := v.Verify(context.Background(), strings.TrimSpace(output))
	require.NoError(t, err)
	assert.Equal(t, "alice", ac.Subject)
	assert.Equal(t, "alice", ac.Username)
	assert.Equal(t, []string{"Editor", "Viewer"}, ac.Roles)

	_, err = run(t, "token", "-secret", secret)
	assert.Error(t, err)
}

func TestRatingAndAverageCommands(t *testing.T) {
	var gotAuth string
	router := mux.NewRouter()
	router.HandleFunc("/api/products/{id}/ratings", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var in catalog.Rating
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(catalog.Rating{
			ID: "r1", ProductID: mux.Vars(r)["id"], Stars: in.Stars, Comment: in.Comment, CreatedAt: time.Now(),
		})
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/products/{id}/ratings/average", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalog.AverageRating{ProductID: mux.Vars(r)["id"], AverageRating: 4.5, Count: 2})
	}).Methods(http.MethodGet)
	srv := httptest.NewServer(router)
	defer srv.Close()

	output, err := run(t, "rating", "-api", srv.URL, "-token", "tok", "-product", "p1", "-stars", "5", "-comment", "great")
	require.NoError(t, err)
	assert.Equal(t, "rating r1: 5 stars on p1\n", output)
	assert.Equal(t, "Bearer tok", gotAuth)

	output, err = run(t, "average", "-api", srv.URL, "-product", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1: 4.50 from 2 ratings\n", output)

	_, err = run(t, "average", "-api", srv.URL)
	assert.Error(t, err)
	_, err = run(t, "rating", "-api", srv.URL, "-product", "p1", "-client-id", "cli")
	assert.Error(t, err)
}
