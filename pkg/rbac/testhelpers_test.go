package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := storagetest.OpenSQLite(t,
		storagetest.Component{Name: "auth", Migrations: auth.Migrations()},
		storagetest.Component{Name: "rbac", Migrations: Migrations()},
	)
	return NewStore(db, nil)
}

func strPtr(s string) *string { return &s }

func mustCreateFunction(t *testing.T, s *Store, id string, parentID *string, sortOrder int) {
	t.Helper()
	_, err := s.CreateFunction(context.Background(), Function{ID: id, ParentID: parentID, Name: id, SortOrder: sortOrder})
	require.NoError(t, err)
}

func mustCreateRole(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.CreateRole(context.Background(), Role{ID: id, Name: id})
	require.NoError(t, err)
}

func mustCreateUser(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := auth.NewUserStore(s.DB(), nil).EnsureUser(context.Background(), auth.User{ID: id, Username: id, IsActive: true})
	require.NoError(t, err)
}

// seedCatalogMatrix builds PRODUCT with CATEGORY beneath it, every command
// applicable to both, Admin holding all four CRUD commands on both and
// Member holding nothing.
func seedCatalogMatrix(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	mustCreateFunction(t, s, "PRODUCT", nil, 1)
	mustCreateFunction(t, s, "CATEGORY", strPtr("PRODUCT"), 2)
	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", KnownCommands, true))

	mustCreateRole(t, s, "Admin")
	mustCreateRole(t, s, "Member")
	for _, fn := range []string{"PRODUCT", "CATEGORY"} {
		for _, cmd := range []string{CommandCreate, CommandUpdate, CommandDelete, CommandView} {
			require.NoError(t, s.Grant(ctx, fn, "Admin", cmd))
		}
	}
}
