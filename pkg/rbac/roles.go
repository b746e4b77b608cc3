package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
	"github.com/platinummonkey/shopadmin/pkg/validation"
)

const roleColumns = `id, name, description`

// CreateRole adds a role. The id must be unused.
func (s *Store) CreateRole(ctx context.Context, role Role) (created *Role, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_role", start, err) }()

	if err := validation.Struct(role); err != nil {
		return nil, err
	}

	found, err := exists(ctx, s.db, `SELECT 1 FROM roles WHERE id = $1`, role.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up role: %w", err)
	}
	if found {
		return nil, apperr.DuplicateID("role", role.ID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES ($1, $2, $3)`, role.ID, role.Name, role.Description)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperr.DuplicateID("role", role.ID)
		}
		return nil, apperr.Persistence("create role", err)
	}
	return &role, nil
}

// EnsureRole inserts role unless one with its id exists
func (s *Store) EnsureRole(ctx context.Context, role Role) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, role.ID, role.Name, role.Description)
	if err != nil {
		return false, fmt.Errorf("failed to ensure role %s: %w", role.ID, err)
	}
	return storage.RequireAffected(result)
}

// GetRole returns a role by id
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("role", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

// ListRoles returns roles whose id, name or description contains the
// filter, ordered by id.
func (s *Store) ListRoles(ctx context.Context, q storage.PageQuery) (page *storage.Page[Role], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_roles", start, err) }()

	where, args := q.FilterClause(nil, "id", "name", "description")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles`+where+` ORDER BY id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return storage.NewPage(roles, total, q), nil
}

// UpdateRole overwrites a role's name and description. The id in role is
// ignored.
func (s *Store) UpdateRole(ctx context.Context, id string, role Role) (updated *Role, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "update_role", start, err) }()

	role.ID = id
	if err := validation.Struct(role); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE roles SET name = $1, description = $2 WHERE id = $3`, role.Name, role.Description, id)
	if err != nil {
		return nil, apperr.Persistence("update role", err)
	}
	ok, err := storage.RequireAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("role", id)
	}
	return &role, nil
}

// DeleteRole removes a role with its grants and memberships
func (s *Store) DeleteRole(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_role", start, err) }()

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRole(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete role grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete role memberships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			return apperr.Persistence("delete role", err)
		}
		return nil
	})
}

// AssignRoleToUser creates or refreshes a membership. A nil ExpiresAt makes
// it permanent; an expiry in the past is rejected.
func (s *Store) AssignRoleToUser(ctx context.Context, userID string, req AssignRoleRequest, grantedBy string) (membership *UserRole, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "assign_role", start, err) }()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ur := UserRole{UserID: userID, RoleID: req.RoleID, GrantedAt: now, GrantedBy: grantedBy}
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		if !expires.After(now) {
			return nil, apperr.Validation("expiry must be in the future",
				apperr.FieldError{Field: "expiresAt", Message: "must be in the future"})
		}
		ur.ExpiresAt = &expires
	}

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := requireRole(ctx, tx, req.RoleID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id, granted_at, granted_by, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, role_id) DO UPDATE SET
				granted_at = excluded.granted_at,
				granted_by = excluded.granted_by,
				expires_at = excluded.expires_at`,
			ur.UserID, ur.RoleID, ur.GrantedAt, ur.GrantedBy, ur.ExpiresAt)
		if err != nil {
			return apperr.Persistence("assign role", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

// RemoveRoleFromUser deletes a membership
func (s *Store) RemoveRoleFromUser(ctx context.Context, userID, roleID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "remove_role", start, err) }()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return apperr.Persistence("remove role", err)
	}
	ok, err := storage.RequireAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("role membership", userID+"/"+roleID)
	}
	return nil
}

// GetUserRoles returns the user's memberships that have not expired,
// ordered by role id.
func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	all, err := s.memberships(ctx, s.db, `WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	active := make([]UserRole, 0, len(all))
	for _, ur := range all {
		if ur.Active(now) {
			active = append(active, ur)
		}
	}
	return active, nil
}

// ActiveRoleIDs returns the ids of the user's unexpired memberships
func (s *Store) ActiveRoleIDs(ctx context.Context, userID string) ([]string, error) {
	memberships, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(memberships))
	for i, ur := range memberships {
		ids[i] = ur.RoleID
	}
	return ids, nil
}

// UserExists reports whether a user row exists
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	ok, err := exists(ctx, s.db, `SELECT 1 FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return ok, nil
}

// SweepExpiredMemberships deletes memberships whose expiry is at or before
// now and returns the affected role ids with the number of rows removed.
// Expiry is compared in Go so the result does not depend on how the driver
// renders timestamps.
func (s *Store) SweepExpiredMemberships(ctx context.Context, now time.Time) (roleIDs []string, removed int64, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "sweep_memberships", start, err) }()

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		expiring, err := s.memberships(ctx, tx, `WHERE expires_at IS NOT NULL`)
		if err != nil {
			return err
		}
		for _, ur := range expiring {
			if ur.Active(now) {
				continue
			}
			result, err := tx.ExecContext(ctx,
				`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, ur.UserID, ur.RoleID)
			if err != nil {
				return fmt.Errorf("failed to delete expired membership: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			removed += n
			roleIDs = append(roleIDs, ur.RoleID)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return dedupe(roleIDs), removed, nil
}

// DeleteUserMembershipsTx removes every membership of userID inside tx. It
// matches the user store's delete hook so user deletion and membership
// cleanup commit together.
func (s *Store) DeleteUserMembershipsTx(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user memberships: %w", err)
	}
	return nil
}

func (s *Store) memberships(ctx context.Context, q storage.Querier, where string, args ...interface{}) ([]UserRole, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, role_id, granted_at, granted_by, expires_at
		FROM user_roles `+where+`
		ORDER BY user_id, role_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var (
			ur      UserRole
			expires sql.NullTime
		)
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.GrantedAt, &ur.GrantedBy, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if expires.Valid {
			t := expires.Time.UTC()
			ur.ExpiresAt = &t
		}
		ur.GrantedAt = ur.GrantedAt.UTC()
		out = append(out, ur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return out, nil
}
