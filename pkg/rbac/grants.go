package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

func commandNotApplicable(functionID, commandID string) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    apperr.CodeCommandNotApplicable,
		Message: fmt.Sprintf("command %s is not applicable to function %s", commandID, functionID),
		Fields: []apperr.FieldError{
			{Field: "commandId", Message: "is not assigned to the function"},
		},
	}
}

// checkGrant verifies that a grant references an existing function, role
// and command and that the command applies to the function.
func checkGrant(ctx context.Context, q storage.Querier, functionID, roleID, commandID string) error {
	if err := requireRole(ctx, q, roleID); err != nil {
		return err
	}
	if err := requireFunction(ctx, q, functionID); err != nil {
		return err
	}
	if err := requireCommand(ctx, q, commandID); err != nil {
		return err
	}
	associated, err := pairAssociated(ctx, q, functionID, commandID)
	if err != nil {
		return err
	}
	if !associated {
		return commandNotApplicable(functionID, commandID)
	}
	return nil
}

func insertGrant(ctx context.Context, q storage.Querier, functionID, roleID, commandID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO permissions (function_id, role_id, command_id) VALUES ($1, $2, $3)
		ON CONFLICT (function_id, role_id, command_id) DO NOTHING`,
		functionID, roleID, commandID)
	if err != nil {
		return apperr.Persistence("grant permission", err)
	}
	return nil
}

// Grant gives roleID the command on functionID. Granting an existing
// permission succeeds without change.
func (s *Store) Grant(ctx context.Context, functionID, roleID, commandID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "grant", start, err) }()

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := checkGrant(ctx, tx, functionID, roleID, commandID); err != nil {
			return err
		}
		return insertGrant(ctx, tx, functionID, roleID, commandID)
	})
}

// Revoke removes a grant. It reports whether a row was deleted; revoking an
// absent grant is not an error.
func (s *Store) Revoke(ctx context.Context, functionID, roleID, commandID string) (removed bool, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "revoke", start, err) }()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM permissions WHERE function_id = $1 AND role_id = $2 AND command_id = $3`,
		functionID, roleID, commandID)
	if err != nil {
		return false, apperr.Persistence("revoke permission", err)
	}
	return storage.RequireAffected(result)
}

// ReplaceRolePermissions swaps the role's grant set for perms. Every entry
// is validated as Grant validates it; on any failure the old set is kept.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, perms []FunctionCommand) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "replace_role_permissions", start, err) }()

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return replaceRolePermissionsTx(ctx, tx, roleID, perms)
	})
}

func replaceRolePermissionsTx(ctx context.Context, tx *sql.Tx, roleID string, perms []FunctionCommand) error {
	if err := requireRole(ctx, tx, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if err := checkGrant(ctx, tx, p.FunctionID, roleID, p.CommandID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE role_id = $1`, roleID); err != nil {
		return apperr.Persistence("clear role permissions", err)
	}
	for _, p := range perms {
		if err := insertGrant(ctx, tx, p.FunctionID, roleID, p.CommandID); err != nil {
			return err
		}
	}
	return nil
}

// RoleGrants is the full grant set for one role
type RoleGrants struct {
	RoleID      string
	Permissions []FunctionCommand
}

// SeedPermissions installs every set in one transaction, but only while the
// permission table is empty. It reports whether anything was written; a
// failure on any role leaves the table empty.
func (s *Store) SeedPermissions(ctx context.Context, sets []RoleGrants) (applied bool, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "seed_permissions", start, err) }()

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&n); err != nil {
			return apperr.Persistence("count permissions", err)
		}
		if n > 0 {
			return nil
		}
		for _, set := range sets {
			if err := replaceRolePermissionsTx(ctx, tx, set.RoleID, set.Permissions); err != nil {
				return fmt.Errorf("role %s: %w", set.RoleID, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// GetRolePermissions returns the role's grants ordered by function and command
func (s *Store) GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if err := requireRole(ctx, s.db, roleID); err != nil {
		return nil, err
	}
	return s.GrantsForRoles(ctx, []string{roleID})
}

// GrantsForRoles loads every grant held by any of roleIDs. Unknown roles
// contribute nothing.
func (s *Store) GrantsForRoles(ctx context.Context, roleIDs []string) (grants []Permission, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "grants_for_roles", start, err) }()

	roleIDs = dedupe(roleIDs)
	grants = make([]Permission, 0)
	if len(roleIDs) == 0 {
		return grants, nil
	}

	in, args := inClause(nil, roleIDs)
	rows, err := s.db.QueryContext(ctx, `
		SELECT function_id, role_id, command_id
		FROM permissions
		WHERE role_id IN (`+in+`)
		ORDER BY function_id, role_id, command_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.FunctionID, &p.RoleID, &p.CommandID); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return grants, nil
}

// CountPermissions returns the number of grant rows
func (s *Store) CountPermissions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count permissions: %w", err)
	}
	return n, nil
}

// HasPermission reports whether any grant in grants allows commandID on
// functionID.
func HasPermission(grants []Permission, functionID, commandID string) bool {
	for _, g := range grants {
		if g.FunctionID == functionID && g.CommandID == commandID {
			return true
		}
	}
	return false
}

// matchingRoles returns the sorted, distinct roles whose grants allow
// commandID on functionID.
func matchingRoles(grants []Permission, functionID, commandID string) []string {
	var roles []string
	for _, g := range grants {
		if g.FunctionID == functionID && g.CommandID == commandID {
			roles = append(roles, g.RoleID)
		}
	}
	return dedupe(roles)
}
