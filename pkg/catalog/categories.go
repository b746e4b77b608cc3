package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
	"github.com/platinummonkey/shopadmin/pkg/validation"
)

const categoryColumns = `id, name, parent_id, sort_order, seo_alias, is_active`

// CreateCategory stores a new category under a generated id
func (s *Store) CreateCategory(ctx context.Context, c Category) (created *Category, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_category", start, err) }()

	if err := validation.Struct(c); err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if c.ParentID != nil {
			if err := storage.CheckParent(ctx, "category", c.ID, *c.ParentID, storage.TableParentLookup(tx, "categories")); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO categories (`+categoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.Name, c.ParentID, c.SortOrder, c.SeoAlias, c.IsActive)
		if err != nil {
			return apperr.Persistence("create category", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCategory returns a category by id
func (s *Store) GetCategory(ctx context.Context, id string) (*Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

// ListCategories returns categories whose name or SEO alias contains the
// filter, ordered by sort order then name.
func (s *Store) ListCategories(ctx context.Context, q storage.PageQuery) (page *storage.Page[Category], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_categories", start, err) }()

	where, args := q.FilterClause(nil, "name", "seo_alias")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories`+where+` ORDER BY sort_order, name, id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return storage.NewPage(categories, total, q), nil
}

// UpdateCategory overwrites a category. A new parent must exist and must
// not make the category its own ancestor.
func (s *Store) UpdateCategory(ctx context.Context, id string, c Category) (updated *Category, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "update_category", start, err) }()

	if err := validation.Struct(c); err != nil {
		return nil, err
	}
	c.ID = id

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "categories", "category", id); err != nil {
			return err
		}
		if c.ParentID != nil {
			if err := storage.CheckParent(ctx, "category", id, *c.ParentID, storage.TableParentLookup(tx, "categories")); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE categories SET name = $1, parent_id = $2, sort_order = $3, seo_alias = $4, is_active = $5
			WHERE id = $6`,
			c.Name, c.ParentID, c.SortOrder, c.SeoAlias, c.IsActive, id)
		if err != nil {
			return apperr.Persistence("update category", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCategory removes a category. Child categories move up to its
// parent and its products are left uncategorized.
func (s *Store) DeleteCategory(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_category", start, err) }()

	var productIDs []string
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
		c, err := scanCategory(row)
		if err == sql.ErrNoRows {
			return apperr.NotFound("category", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get category: %w", err)
		}

		productIDs, err = selectIDs(ctx, tx, `SELECT id FROM products WHERE category_id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to list category products: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE categories SET parent_id = $1 WHERE parent_id = $2`, c.ParentID, id); err != nil {
			return fmt.Errorf("failed to re-parent child categories: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET category_id = NULL WHERE category_id = $1`, id); err != nil {
			return fmt.Errorf("failed to detach category products: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
			return apperr.Persistence("delete category", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateProducts(ctx, productIDs...)
	return nil
}

func scanCategory(row rowScanner) (*Category, error) {
	var (
		c        Category
		parentID sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &parentID, &c.SortOrder, &c.SeoAlias, &c.IsActive); err != nil {
		return nil, err
	}
	c.ParentID = nullableString(parentID)
	return &c, nil
}
