package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

func TestGetPermissionMatrix_Scenario(t *testing.T) {
	s := newTestStore(t)
	seedCatalogMatrix(t, s)
	pc := NewPermissionChecker(s)
	ctx := context.Background()

	admin, err := pc.GetPermissionMatrix(ctx, "Admin")
	require.NoError(t, err)
	require.Len(t, admin.Functions, 2)
	assert.Equal(t, "PRODUCT", admin.Functions[0].FunctionID)
	for _, row := range admin.Functions {
		assert.Equal(t, []string{CommandView, CommandCreate, CommandUpdate, CommandDelete}, row.Commands, row.FunctionID)
		assert.False(t, row.HasApprove)
	}

	member, err := pc.GetPermissionMatrix(ctx, "Member")
	require.NoError(t, err)
	for _, row := range member.Functions {
		assert.Empty(t, row.Commands, row.FunctionID)
		assert.Zero(t, row.Mask)
	}

	_, err = pc.GetPermissionMatrix(ctx, "Ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// The matrix row for (F, R) equals the set of granted commands, no more and
// no less, whatever subset is granted.
func TestGetPermissionMatrix_MatchesGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "PRODUCT", nil, 1)
	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", KnownCommands, false))
	mustCreateRole(t, s, "Editor")
	pc := NewPermissionChecker(s)

	subsets := [][]string{
		{},
		{CommandApprove},
		{CommandView, CommandUpdate},
		KnownCommands,
	}
	for _, subset := range subsets {
		perms := make([]FunctionCommand, len(subset))
		for i, c := range subset {
			perms[i] = FunctionCommand{FunctionID: "PRODUCT", CommandID: c}
		}
		require.NoError(t, s.ReplaceRolePermissions(ctx, "Editor", perms))

		matrix, err := pc.GetPermissionMatrix(ctx, "Editor")
		require.NoError(t, err)
		row, ok := matrix.Row("PRODUCT")
		require.True(t, ok)
		assert.ElementsMatch(t, subset, row.Commands)
		assert.Equal(t, MaskFor(subset...), row.Mask)
	}
}

func TestGetUserPermissionMatrix_UnionOfActiveRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "PRODUCT", nil, 1)
	mustCreateFunction(t, s, "BRAND", nil, 2)
	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", KnownCommands, true))
	mustCreateRole(t, s, "Viewer")
	mustCreateRole(t, s, "BrandEditor")
	require.NoError(t, s.Grant(ctx, "PRODUCT", "Viewer", CommandView))
	require.NoError(t, s.Grant(ctx, "BRAND", "BrandEditor", CommandUpdate))
	mustCreateUser(t, s, "u1")
	_, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Viewer"}, "")
	require.NoError(t, err)
	_, err = s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "BrandEditor"}, "")
	require.NoError(t, err)

	pc := NewPermissionChecker(s)
	matrix, err := pc.GetUserPermissionMatrix(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"BrandEditor", "Viewer"}, matrix.RoleIDs)

	product, _ := matrix.Row("PRODUCT")
	brand, _ := matrix.Row("BRAND")
	assert.Equal(t, []string{CommandView}, product.Commands)
	assert.Equal(t, []string{CommandUpdate}, brand.Commands)

	_, err = pc.GetUserPermissionMatrix(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckAccess(t *testing.T) {
	s := newTestStore(t)
	seedCatalogMatrix(t, s)
	ctx := context.Background()
	mustCreateUser(t, s, "admin-user")
	mustCreateUser(t, s, "member-user")
	_, err := s.AssignRoleToUser(ctx, "admin-user", AssignRoleRequest{RoleID: "Admin"}, "")
	require.NoError(t, err)
	_, err = s.AssignRoleToUser(ctx, "member-user", AssignRoleRequest{RoleID: "Member"}, "")
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	pc := NewPermissionChecker(s, WithCheckerMetrics(metrics))

	tests := []struct {
		name       string
		user       string
		function   string
		command    string
		tokenRoles []string
		allowed    bool
		matched    []string
	}{
		{"admin may create products", "admin-user", "PRODUCT", CommandCreate, nil, true, []string{"Admin"}},
		{"admin may not approve", "admin-user", "PRODUCT", CommandApprove, nil, false, []string{}},
		{"member denied", "member-user", "PRODUCT", CommandView, nil, false, []string{}},
		{"token role counts", "member-user", "CATEGORY", CommandDelete, []string{"Admin"}, true, []string{"Admin"}},
		{"unknown user has no roles", "nobody", "PRODUCT", CommandView, nil, false, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := pc.CheckAccess(ctx, tt.user, tt.function, tt.command, tt.tokenRoles...)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.matched, decision.MatchedRoles)
			assert.NotEmpty(t, decision.Reason)
			assert.False(t, decision.CheckedAt.IsZero())
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("PRODUCT", CommandCreate, "allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("PRODUCT", CommandView, "deny")))
}

func TestCheckAccess_ExpiredMembershipIgnored(t *testing.T) {
	s := newTestStore(t)
	seedCatalogMatrix(t, s)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")

	soon := time.Now().Add(50 * time.Millisecond)
	_, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin", ExpiresAt: &soon}, "")
	require.NoError(t, err)

	pc := NewPermissionChecker(s)
	decision, err := pc.CheckAccess(ctx, "u1", "PRODUCT", CommandView)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	time.Sleep(100 * time.Millisecond)
	decision, err = pc.CheckAccess(ctx, "u1", "PRODUCT", CommandView)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestPermissionChecker_CacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := cache.NewRedisCache(client, "test:")

	s := newTestStore(t)
	seedCatalogMatrix(t, s)
	ctx := context.Background()
	pc := NewPermissionChecker(s, WithCache(c, time.Minute))

	_, err := pc.GetPermissionMatrix(ctx, "Admin")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:rbac:grants:Admin"))
	assert.True(t, mr.Exists("test:rbac:functions"))

	// A write that bypasses invalidation is invisible until the key is dropped.
	_, err = s.Revoke(ctx, "PRODUCT", "Admin", CommandView)
	require.NoError(t, err)
	matrix, err := pc.GetPermissionMatrix(ctx, "Admin")
	require.NoError(t, err)
	row, _ := matrix.Row("PRODUCT")
	assert.True(t, row.HasView)

	pc.InvalidateRole(ctx, "Admin")
	assert.False(t, mr.Exists("test:rbac:grants:Admin"))
	matrix, err = pc.GetPermissionMatrix(ctx, "Admin")
	require.NoError(t, err)
	row, _ = matrix.Row("PRODUCT")
	assert.False(t, row.HasView)

	mustCreateFunction(t, s, "BRAND", nil, 3)
	pc.InvalidateFunctions(ctx)
	matrix, err = pc.GetPermissionMatrix(ctx, "Admin")
	require.NoError(t, err)
	assert.Len(t, matrix.Functions, 3)

	_, err = pc.GetPermissionMatrix(ctx, "Member")
	require.NoError(t, err)
	pc.InvalidateAll(ctx)
	assert.False(t, mr.Exists("test:rbac:grants:Admin"))
	assert.False(t, mr.Exists("test:rbac:grants:Member"))
	assert.False(t, mr.Exists("test:rbac:functions"))
}

func TestHasPermission(t *testing.T) {
	grants := []Permission{
		{FunctionID: "PRODUCT", RoleID: "Admin", CommandID: CommandView},
		{FunctionID: "BRAND", RoleID: "Member", CommandID: CommandView},
	}
	assert.True(t, HasPermission(grants, "PRODUCT", CommandView))
	assert.True(t, HasPermission(grants, "BRAND", CommandView))
	assert.False(t, HasPermission(grants, "PRODUCT", CommandDelete))
	assert.False(t, HasPermission(nil, "PRODUCT", CommandView))
}
