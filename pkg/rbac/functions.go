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

const functionColumns = `id, parent_id, name, url, icon, sort_order`

// CreateFunction registers a new function. The id is chosen by the caller
// and must be unused; a parent, when given, must exist.
func (s *Store) CreateFunction(ctx context.Context, f Function) (created *Function, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_function", start, err) }()

	if err := validation.Struct(f); err != nil {
		return nil, err
	}

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM functions WHERE id = $1`, f.ID)
		if err != nil {
			return fmt.Errorf("failed to look up function: %w", err)
		}
		if found {
			return apperr.DuplicateID("function", f.ID)
		}

		if f.ParentID != nil {
			if err := storage.CheckParent(ctx, "function", f.ID, *f.ParentID, storage.TableParentLookup(tx, "functions")); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO functions (`+functionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ID, f.ParentID, f.Name, f.URL, f.Icon, f.SortOrder)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return apperr.DuplicateID("function", f.ID)
			}
			return apperr.Persistence("create function", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// EnsureFunction inserts f unless a function with its id exists. It reports
// whether a row was inserted.
func (s *Store) EnsureFunction(ctx context.Context, f Function) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO functions (`+functionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		f.ID, f.ParentID, f.Name, f.URL, f.Icon, f.SortOrder)
	if err != nil {
		return false, fmt.Errorf("failed to ensure function %s: %w", f.ID, err)
	}
	return storage.RequireAffected(result)
}

// GetFunction returns a function by id
func (s *Store) GetFunction(ctx context.Context, id string) (*Function, error) {
	return getFunction(ctx, s.db, id)
}

func getFunction(ctx context.Context, q storage.Querier, id string) (*Function, error) {
	row := q.QueryRowContext(ctx, `SELECT `+functionColumns+` FROM functions WHERE id = $1`, id)
	f, err := scanFunction(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("function", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get function: %w", err)
	}
	return f, nil
}

// ListFunctions returns functions whose name, id or url contains the
// filter, ordered by sort order then id. PageSize 0 returns every match.
func (s *Store) ListFunctions(ctx context.Context, q FunctionQuery) (page *storage.Page[Function], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_functions", start, err) }()

	where, args := q.FilterClause(nil, "name", "id", "url")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM functions`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count functions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+functionColumns+` FROM functions`+where+` ORDER BY sort_order, id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	defer rows.Close()

	var functions []Function
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan function: %w", err)
		}
		functions = append(functions, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate functions: %w", err)
	}
	return storage.NewPage(functions, total, q), nil
}

// UpdateFunction overwrites every field of function id. A new parent must
// exist and must not make the function its own ancestor.
func (s *Store) UpdateFunction(ctx context.Context, id string, f Function) (updated *Function, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "update_function", start, err) }()

	f.ID = id
	if err := validation.Struct(f); err != nil {
		return nil, err
	}

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireFunction(ctx, tx, id); err != nil {
			return err
		}
		if f.ParentID != nil {
			if err := storage.CheckParent(ctx, "function", id, *f.ParentID, storage.TableParentLookup(tx, "functions")); err != nil {
				return err
			}
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE functions SET parent_id = $1, name = $2, url = $3, icon = $4, sort_order = $5
			WHERE id = $6`,
			f.ParentID, f.Name, f.URL, f.Icon, f.SortOrder, id)
		if err != nil {
			return apperr.Persistence("update function", err)
		}
		if ok, err := storage.RequireAffected(result); err != nil || !ok {
			return apperr.Persistence("update function", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFunction removes a function together with its command associations
// and permission grants. Its children move up to its parent.
func (s *Store) DeleteFunction(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_function", start, err) }()

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		f, err := getFunction(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE functions SET parent_id = $1 WHERE parent_id = $2`, f.ParentID, id); err != nil {
			return fmt.Errorf("failed to re-parent children of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE function_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete permissions for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM command_in_function WHERE function_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete command associations for %s: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE id = $1`, id)
		if err != nil {
			return apperr.Persistence("delete function", err)
		}
		if ok, err := storage.RequireAffected(result); err != nil || !ok {
			return apperr.Persistence("delete function", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFunction(row rowScanner) (*Function, error) {
	var (
		f                   Function
		parentID, url, icon sql.NullString
	)
	if err := row.Scan(&f.ID, &parentID, &f.Name, &url, &icon, &f.SortOrder); err != nil {
		return nil, err
	}
	f.ParentID = nullableString(parentID)
	f.URL = nullableString(url)
	f.Icon = nullableString(icon)
	return &f, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
