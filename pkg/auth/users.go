package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
	"github.com/platinummonkey/shopadmin/pkg/validation"
)

// DeleteHook runs inside the DeleteUser transaction before the user row is
// removed. The rbac store registers one to drop role memberships.
type DeleteHook func(ctx context.Context, tx *sql.Tx, userID string) error

// UserStore persists users
type UserStore struct {
	db          *sql.DB
	metrics     *observability.Metrics
	deleteHooks []DeleteHook
}

// UserStoreOption configures a UserStore
type UserStoreOption func(*UserStore)

// WithDeleteHook adds a hook run inside the DeleteUser transaction
func WithDeleteHook(hook DeleteHook) UserStoreOption {
	return func(s *UserStore) {
		s.deleteHooks = append(s.deleteHooks, hook)
	}
}

// NewUserStore creates a user store. metrics may be nil.
func NewUserStore(db *sql.DB, metrics *observability.Metrics, opts ...UserStoreOption) *UserStore {
	s := &UserStore{db: db, metrics: metrics}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const userColumns = `id, username, email, full_name, is_active, created_at, updated_at`

// CreateUser inserts a new user. A duplicate id or username is a Conflict.
func (s *UserStore) CreateUser(ctx context.Context, req CreateUserRequest) (user *User, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB("users", "create", start, err) }()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &User{
		ID:        req.ID,
		Username:  req.Username,
		Email:     req.Email,
		FullName:  req.FullName,
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.FullName, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, s.conflict(ctx, u)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// conflict works out which unique column an insert collided with
func (s *UserStore) conflict(ctx context.Context, u *User) error {
	if _, err := s.GetUser(ctx, u.ID); err == nil {
		return apperr.DuplicateID("user", u.ID)
	}
	return usernameTaken(u.Username)
}

func usernameTaken(username string) error {
	return &apperr.Error{
		Kind:    apperr.KindConflict,
		Code:    apperr.CodeDuplicateID,
		Message: fmt.Sprintf("username already taken: %s", username),
		Fields:  []apperr.FieldError{{Field: "username", Message: "is already taken"}},
	}
}

// EnsureUser inserts u unless a user with the same id exists. It reports
// whether a row was inserted.
func (s *UserStore) EnsureUser(ctx context.Context, u User) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.Email, u.FullName, u.IsActive, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to ensure user %s: %w", u.ID, err)
	}
	return storage.RequireAffected(result)
}

// GetUser returns a user by id
func (s *UserStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns a page of users whose username, email or full name
// contains the filter, ordered by username.
func (s *UserStore) ListUsers(ctx context.Context, q storage.PageQuery) (page *storage.Page[User], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB("users", "list", start, err) }()

	where, args := q.FilterClause(nil, "username", "email", "full_name")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY username`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return storage.NewPage(users, total, q), nil
}

// UpdateUser overwrites the mutable fields of a user
func (s *UserStore) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (user *User, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB("users", "update", start, err) }()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = $1, email = $2, full_name = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		req.Username, req.Email, req.FullName, req.IsActive, time.Now().UTC(), id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, usernameTaken(req.Username)
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	ok, err := storage.RequireAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes a user and, through the delete hooks, everything that
// references it, in one transaction.
func (s *UserStore) DeleteUser(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB("users", "delete", start, err) }()

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, hook := range s.deleteHooks {
			if err := hook(ctx, tx, id); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		ok, err := storage.RequireAffected(result)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("user", id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
