package rbac

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

func TestMigrations_SeedCommands(t *testing.T) {
	s := newTestStore(t)

	commands, err := s.ListCommands(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(commands))
	for i, c := range commands {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"APPROVE", "CREATE", "DELETE", "UPDATE", "VIEW"}, ids)
}

func TestStore_CreateFunction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "CONTENT", nil, 1)

	tests := []struct {
		name     string
		function Function
		kind     apperr.Kind
		sentinel error
	}{
		{"duplicate id", Function{ID: "CONTENT", Name: "again"}, apperr.KindConflict, apperr.ErrDuplicateID},
		{"missing parent", Function{ID: "PRODUCT", Name: "Products", ParentID: strPtr("NOPE")}, apperr.KindValidation, nil},
		{"self parent", Function{ID: "LOOP", Name: "Loop", ParentID: strPtr("LOOP")}, apperr.KindValidation, apperr.ErrCycleDetected},
		{"missing name", Function{ID: "PRODUCT"}, apperr.KindValidation, nil},
		{"id too long", Function{ID: "A123456789012345678901234567890123456789012345678901", Name: "x"}, apperr.KindValidation, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateFunction(ctx, tt.function)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}

	created, err := s.CreateFunction(ctx, Function{ID: "PRODUCT", Name: "Products", ParentID: strPtr("CONTENT"), URL: strPtr("/products")})
	require.NoError(t, err)
	got, err := s.GetFunction(ctx, "PRODUCT")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestStore_GetFunctionMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFunction(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_UpdateFunctionRejectsCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "A", nil, 1)
	mustCreateFunction(t, s, "B", strPtr("A"), 2)
	mustCreateFunction(t, s, "C", strPtr("B"), 3)

	_, err := s.UpdateFunction(ctx, "A", Function{Name: "A", ParentID: strPtr("C")})
	assert.ErrorIs(t, err, apperr.ErrCycleDetected)

	_, err = s.UpdateFunction(ctx, "A", Function{Name: "A", ParentID: strPtr("A")})
	assert.ErrorIs(t, err, apperr.ErrCycleDetected)

	_, err = s.UpdateFunction(ctx, "MISSING", Function{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	updated, err := s.UpdateFunction(ctx, "C", Function{Name: "Renamed", ParentID: strPtr("A"), SortOrder: 9})
	require.NoError(t, err)
	assert.Equal(t, "C", updated.ID)

	got, err := s.GetFunction(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "A", *got.ParentID)
	assert.Equal(t, 9, got.SortOrder)
}

func TestStore_DeleteFunctionLeavesNoResidue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCatalogMatrix(t, s)
	mustCreateFunction(t, s, "BRAND", strPtr("CATEGORY"), 3)

	require.NoError(t, s.DeleteFunction(ctx, "CATEGORY"))

	var assoc, grants int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM command_in_function WHERE function_id = 'CATEGORY'`).Scan(&assoc))
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM permissions WHERE function_id = 'CATEGORY'`).Scan(&grants))
	assert.Zero(t, assoc)
	assert.Zero(t, grants)

	brand, err := s.GetFunction(ctx, "BRAND")
	require.NoError(t, err)
	require.NotNil(t, brand.ParentID)
	assert.Equal(t, "PRODUCT", *brand.ParentID)

	assert.ErrorIs(t, s.DeleteFunction(ctx, "CATEGORY"), apperr.ErrNotFound)
}

func TestStore_ListFunctionsPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		mustCreateFunction(t, s, fmt.Sprintf("REPORT_%d", i), nil, i)
	}
	mustCreateFunction(t, s, "SETTINGS", nil, 8)

	all, err := s.ListFunctions(ctx, FunctionQuery{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 8)
	assert.Equal(t, 8, all.TotalRecords)
	assert.Zero(t, all.PageSize)

	for _, size := range []int{1, 3, 5, 100} {
		t.Run(fmt.Sprintf("pageSize=%d", size), func(t *testing.T) {
			page, err := s.ListFunctions(ctx, FunctionQuery{Filter: "report", PageIndex: 2, PageSize: size})
			require.NoError(t, err)
			assert.Equal(t, 7, page.TotalRecords)
			assert.Equal(t, 2, page.PageIndex)
			assert.LessOrEqual(t, len(page.Items), size)
		})
	}

	page, err := s.ListFunctions(ctx, FunctionQuery{Filter: "REPORT", PageIndex: 3, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "REPORT_7", page.Items[0].ID)

	none, err := s.ListFunctions(ctx, FunctionQuery{Filter: "zzz", PageIndex: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, none.TotalRecords)
	assert.NotNil(t, none.Items)
}

func TestStore_ListFunctionsFilterIsLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "SYSTEM", nil, 1)
	mustCreateFunction(t, s, "PRODUCT", nil, 2)
	mustCreateFunction(t, s, "CONTENT_BRAND", nil, 3)
	_, err := s.CreateFunction(ctx, Function{ID: "PATHS", Name: `C:\shop`, SortOrder: 4})
	require.NoError(t, err)

	tests := []struct {
		filter string
		want   []string
	}{
		{filter: "_", want: []string{"CONTENT_BRAND"}},
		{filter: "%", want: nil},
		{filter: "t_b", want: []string{"CONTENT_BRAND"}},
		{filter: "t%b", want: nil},
		{filter: `\`, want: []string{"PATHS"}},
		{filter: "sys", want: []string{"SYSTEM"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			page, err := s.ListFunctions(ctx, FunctionQuery{Filter: tt.filter, PageIndex: 1, PageSize: 10})
			require.NoError(t, err)
			var ids []string
			for _, f := range page.Items {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), page.TotalRecords)
		})
	}
}

func TestStore_AssignCommandsPropagates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"PRODUCT", "CATEGORY", "BRAND"} {
		mustCreateFunction(t, s, id, nil, i)
	}

	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", []string{CommandView}, true))

	for _, id := range []string{"PRODUCT", "CATEGORY", "BRAND"} {
		commands, err := s.ListCommandsForFunction(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, commands, Command{ID: "VIEW", Name: "View"}, id)
	}

	// A pair another function already holds is skipped during propagation.
	require.NoError(t, s.AssignCommands(ctx, "BRAND", []string{CommandCreate}, false))
	require.NoError(t, s.AssignCommands(ctx, "CATEGORY", []string{CommandCreate}, true))
	n, err := s.CountCommandInFunction(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestStore_AssignCommandsTwiceConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "PRODUCT", nil, 1)

	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", []string{CommandView}, false))

	err := s.AssignCommands(ctx, "PRODUCT", []string{CommandCreate, CommandView}, false)
	assert.ErrorIs(t, err, apperr.ErrDuplicateAssociation)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// The whole batch rolled back, including CREATE.
	commands, err := s.ListCommandsForFunction(ctx, "PRODUCT")
	require.NoError(t, err)
	assert.Equal(t, []Command{{ID: "VIEW", Name: "View"}}, commands)
}

func TestStore_AssignCommandsErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "PRODUCT", nil, 1)

	assert.ErrorIs(t, s.AssignCommands(ctx, "NOPE", []string{CommandView}, false), apperr.ErrNotFound)
	assert.ErrorIs(t, s.AssignCommands(ctx, "PRODUCT", []string{"EXPORT"}, false), apperr.ErrNotFound)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(s.AssignCommands(ctx, "PRODUCT", nil, false)))
	_, err := s.ListCommandsForFunction(ctx, "NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_UnassignCommands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCatalogMatrix(t, s)

	before, err := s.CountCommandInFunction(ctx)
	require.NoError(t, err)

	err = s.UnassignCommands(ctx, "PRODUCT", []string{"NONEXISTENT"})
	assert.ErrorIs(t, err, apperr.ErrNotAssociated)

	err = s.UnassignCommands(ctx, "PRODUCT", []string{CommandView, "NONEXISTENT"})
	assert.ErrorIs(t, err, apperr.ErrNotAssociated)

	after, err := s.CountCommandInFunction(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, s.UnassignCommands(ctx, "PRODUCT", []string{CommandView}))
	grants, err := s.GetRolePermissions(ctx, "Admin")
	require.NoError(t, err)
	assert.False(t, HasPermission(grants, "PRODUCT", CommandView))
	assert.True(t, HasPermission(grants, "CATEGORY", CommandView))
}

func TestStore_GrantValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateFunction(t, s, "PRODUCT", nil, 1)
	mustCreateRole(t, s, "Member")
	require.NoError(t, s.AssignCommands(ctx, "PRODUCT", []string{CommandView}, false))

	tests := []struct {
		name                string
		function, role, cmd string
		kind                apperr.Kind
		code                string
	}{
		{"missing role", "PRODUCT", "Ghost", CommandView, apperr.KindNotFound, apperr.CodeNotFound},
		{"missing function", "NOPE", "Member", CommandView, apperr.KindNotFound, apperr.CodeNotFound},
		{"missing command", "PRODUCT", "Member", "EXPORT", apperr.KindNotFound, apperr.CodeNotFound},
		{"not applicable", "PRODUCT", "Member", CommandDelete, apperr.KindValidation, apperr.CodeCommandNotApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Grant(ctx, tt.function, tt.role, tt.cmd)
			appErr, ok := apperr.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.kind, appErr.Kind)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}

	require.NoError(t, s.Grant(ctx, "PRODUCT", "Member", CommandView))
	require.NoError(t, s.Grant(ctx, "PRODUCT", "Member", CommandView))
	n, err := s.CountPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_RevokeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCatalogMatrix(t, s)

	removed, err := s.Revoke(ctx, "PRODUCT", "Admin", CommandView)
	require.NoError(t, err)
	assert.True(t, removed)

	before, err := s.CountPermissions(ctx)
	require.NoError(t, err)

	removed, err = s.Revoke(ctx, "PRODUCT", "Admin", CommandView)
	require.NoError(t, err)
	assert.False(t, removed)

	after, err := s.CountPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_ReplaceRolePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCatalogMatrix(t, s)

	err := s.ReplaceRolePermissions(ctx, "Admin", []FunctionCommand{
		{FunctionID: "PRODUCT", CommandID: CommandApprove},
		{FunctionID: "MISSING", CommandID: CommandView},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	grants, err := s.GetRolePermissions(ctx, "Admin")
	require.NoError(t, err)
	assert.Len(t, grants, 8, "failed replacement keeps the old set")

	require.NoError(t, s.ReplaceRolePermissions(ctx, "Admin", []FunctionCommand{
		{FunctionID: "PRODUCT", CommandID: CommandApprove},
		{FunctionID: "PRODUCT", CommandID: CommandApprove},
	}))
	grants, err = s.GetRolePermissions(ctx, "Admin")
	require.NoError(t, err)
	assert.Equal(t, []Permission{{FunctionID: "PRODUCT", RoleID: "Admin", CommandID: CommandApprove}}, grants)

	assert.ErrorIs(t, s.ReplaceRolePermissions(ctx, "Ghost", nil), apperr.ErrNotFound)
}

func TestStore_Roles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRole(ctx, Role{ID: "Admin", Name: "Administrators"})
	require.NoError(t, err)
	_, err = s.CreateRole(ctx, Role{ID: "Admin", Name: "Again"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateID)
	_, err = s.CreateRole(ctx, Role{ID: "has space", Name: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	inserted, err := s.EnsureRole(ctx, Role{ID: "Member", Name: "Members"})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.EnsureRole(ctx, Role{ID: "Member", Name: "Members"})
	require.NoError(t, err)
	assert.False(t, inserted)

	page, err := s.ListRoles(ctx, storage.PageQuery{Filter: "admin", PageIndex: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalRecords)

	updated, err := s.UpdateRole(ctx, "Member", Role{Name: "Shoppers", Description: "storefront users"})
	require.NoError(t, err)
	assert.Equal(t, "Member", updated.ID)
	_, err = s.UpdateRole(ctx, "Ghost", Role{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := s.GetRole(ctx, "Member")
	require.NoError(t, err)
	assert.Equal(t, "Shoppers", got.Name)
}

func TestStore_DeleteRoleCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCatalogMatrix(t, s)
	mustCreateUser(t, s, "u1")
	_, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin"}, "")
	require.NoError(t, err)

	require.NoError(t, s.DeleteRole(ctx, "Admin"))

	grants, err := s.GrantsForRoles(ctx, []string{"Admin"})
	require.NoError(t, err)
	assert.Empty(t, grants)
	roles, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.ErrorIs(t, s.DeleteRole(ctx, "Admin"), apperr.ErrNotFound)
}

func TestStore_Memberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateRole(t, s, "Admin")
	mustCreateRole(t, s, "Member")
	mustCreateUser(t, s, "u1")

	_, err := s.AssignRoleToUser(ctx, "ghost", AssignRoleRequest{RoleID: "Admin"}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Ghost"}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	past := time.Now().Add(-time.Hour)
	_, err = s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin", ExpiresAt: &past}, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	future := time.Now().Add(time.Hour)
	membership, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin", ExpiresAt: &future}, "root")
	require.NoError(t, err)
	assert.Equal(t, "root", membership.GrantedBy)

	// Upsert clears the expiry.
	_, err = s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin"}, "root")
	require.NoError(t, err)
	_, err = s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Member"}, "")
	require.NoError(t, err)

	roles, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Nil(t, roles[0].ExpiresAt)

	ids, err := s.ActiveRoleIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Member"}, ids)

	require.NoError(t, s.RemoveRoleFromUser(ctx, "u1", "Member"))
	assert.ErrorIs(t, s.RemoveRoleFromUser(ctx, "u1", "Member"), apperr.ErrNotFound)
}

func TestStore_SweepExpiredMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateRole(t, s, "Admin")
	mustCreateRole(t, s, "Member")
	mustCreateUser(t, s, "u1")
	mustCreateUser(t, s, "u2")

	soon := time.Now().Add(time.Minute)
	_, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin", ExpiresAt: &soon}, "")
	require.NoError(t, err)
	_, err = s.AssignRoleToUser(ctx, "u2", AssignRoleRequest{RoleID: "Member"}, "")
	require.NoError(t, err)

	roleIDs, removed, err := s.SweepExpiredMemberships(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, roleIDs)

	roleIDs, removed, err = s.SweepExpiredMemberships(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, []string{"Admin"}, roleIDs)

	roles, err := s.GetUserRoles(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestStore_DeleteUserMembershipsTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateRole(t, s, "Admin")
	mustCreateUser(t, s, "u1")
	_, err := s.AssignRoleToUser(ctx, "u1", AssignRoleRequest{RoleID: "Admin"}, "")
	require.NoError(t, err)

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteUserMembershipsTx(ctx, tx, "u1"))
	require.NoError(t, tx.Commit())

	roles, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestStore_AssignCommandsRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM functions").WithArgs("PRODUCT").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM commands").WithArgs("VIEW").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM command_in_function").WithArgs("PRODUCT", "VIEW").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec("INSERT INTO command_in_function").WithArgs("VIEW", "PRODUCT").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	s := NewStore(db, nil)
	err = s.AssignCommands(context.Background(), "PRODUCT", []string{"VIEW"}, false)
	assert.ErrorIs(t, err, apperr.ErrPersistenceFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"VIEW", "CREATE"}, dedupe([]string{" VIEW", "CREATE", "VIEW", ""}))
}
