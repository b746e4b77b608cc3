package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/rbac"
	"github.com/platinummonkey/shopadmin/pkg/storage/storagetest"
)

func newTestSeeder(t *testing.T, metrics *observability.Metrics) (*Seeder, *rbac.Store) {
	t.Helper()
	db := storagetest.OpenSQLite(t,
		storagetest.Component{Name: "auth", Migrations: auth.Migrations()},
		storagetest.Component{Name: "rbac", Migrations: rbac.Migrations()},
	)
	store := rbac.NewStore(db, nil)
	checker := rbac.NewPermissionChecker(store)
	return NewSeeder(store, auth.NewUserStore(db, nil), checker, metrics, nil, nil), store
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"default", string(defaultFile), ""},
		{"bad yaml", "functions: [", "failed to parse"},
		{"function without id", "functions:\n  - {name: x}", "without id"},
		{"duplicate function", "functions:\n  - {id: A}\n  - {id: A}", "listed twice"},
		{"cycle", "functions:\n  - {id: A, parentId: B}\n  - {id: B, parentId: A}", "cycle"},
		{"user without username", "users:\n  - {id: u1}", "needs id and username"},
		{"permission without role", "permissions:\n  - {all: true}", "without role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOrderedFunctions_ParentsFirst(t *testing.T) {
	f, err := Parse([]byte(`
functions:
  - {id: LEAF, parentId: MID}
  - {id: MID, parentId: ROOT}
  - {id: ROOT}
  - {id: EXTERNAL_CHILD, parentId: ALREADY_IN_DB}
`))
	require.NoError(t, err)

	ordered, err := f.orderedFunctions()
	require.NoError(t, err)
	ids := make([]string, len(ordered))
	for i, fn := range ordered {
		ids[i] = fn.ID
	}
	assert.Equal(t, []string{"ROOT", "MID", "LEAF", "EXTERNAL_CHILD"}, ids)
}

func TestApply_DefaultSeed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s, store := newTestSeeder(t, metrics)
	ctx := context.Background()

	f, err := Default()
	require.NoError(t, err)

	res, err := s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Functions)
	assert.Equal(t, 3, res.Roles)
	assert.Equal(t, 1, res.Users)
	assert.Equal(t, 1, res.Memberships)
	assert.Positive(t, res.Permissions)

	checker := rbac.NewPermissionChecker(store)
	decision, err := checker.CheckAccess(ctx, "admin", "SYSTEM_PERMISSION", rbac.CommandApprove)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	matrix, err := checker.GetPermissionMatrix(ctx, "Viewer")
	require.NoError(t, err)
	row, ok := matrix.Row("CONTENT_PRODUCT")
	require.True(t, ok)
	assert.Equal(t, []string{rbac.CommandView}, row.Commands)

	// A second run inserts nothing
	again, err := s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{}, again)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SeedRunsTotal.WithLabelValues("success")))
}

func TestApply_KeepsEditedPermissions(t *testing.T) {
	s, store := newTestSeeder(t, nil)
	ctx := context.Background()
	f, err := Default()
	require.NoError(t, err)
	_, err = s.Apply(ctx, f)
	require.NoError(t, err)

	_, err = store.Revoke(ctx, "CONTENT_PRODUCT", "Editor", rbac.CommandUpdate)
	require.NoError(t, err)
	before, err := store.CountPermissions(ctx)
	require.NoError(t, err)

	_, err = s.Apply(ctx, f)
	require.NoError(t, err)
	after, err := store.CountPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApply_UnknownCommandFails(t *testing.T) {
	s, _ := newTestSeeder(t, nil)
	f, err := Parse([]byte(`
commands:
  - {id: VIEW, name: View}
functions:
  - {id: REPORTS, name: Reports, commands: [VIEW]}
roles:
  - {id: Analyst, name: Analyst}
permissions:
  - role: Analyst
    grants:
      - {function: REPORTS, commands: [EXPORT]}
`))
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Analyst")
}

func TestApply_PermissionsAreAllOrNothing(t *testing.T) {
	s, store := newTestSeeder(t, nil)
	ctx := context.Background()
	const base = `
commands:
  - {id: VIEW, name: View}
  - {id: EXPORT, name: Export}
functions:
  - {id: REPORTS, name: Reports, commands: [VIEW]}
roles:
  - {id: Analyst, name: Analyst}
  - {id: Auditor, name: Auditor}
permissions:
  - role: Analyst
    grants:
      - {function: REPORTS, commands: [VIEW]}
  - role: Auditor
    grants:
`
	broken, err := Parse([]byte(base + "      - {function: REPORTS, commands: [EXPORT]}\n"))
	require.NoError(t, err)
	_, err = s.Apply(ctx, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Auditor")

	n, err := store.CountPermissions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the first role's grants roll back with the second's failure")

	fixed, err := Parse([]byte(base + "      - {function: REPORTS, commands: [VIEW]}\n"))
	require.NoError(t, err)
	res, err := s.Apply(ctx, fixed)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Permissions)

	for _, role := range []string{"Analyst", "Auditor"} {
		grants, err := store.GetRolePermissions(ctx, role)
		require.NoError(t, err)
		assert.Len(t, grants, 1, role)
	}
}

func TestLoad(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, f.Functions)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatch_ReappliesOnChange(t *testing.T) {
	s, store := newTestSeeder(t, nil)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - {id: First, name: First}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, path, 20*time.Millisecond) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - {id: Second, name: Second}\n"), 0o600))

	assert.Eventually(t, func() bool {
		_, err := store.GetRole(context.Background(), "Second")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
