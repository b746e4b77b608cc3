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

const brandColumns = `id, name, description, is_active`

// CreateBrand stores a new brand under a generated id
func (s *Store) CreateBrand(ctx context.Context, b Brand) (created *Brand, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_brand", start, err) }()

	if err := validation.Struct(b); err != nil {
		return nil, err
	}
	b.ID = uuid.NewString()

	_, err = s.db.ExecContext(ctx, `INSERT INTO brands (`+brandColumns+`) VALUES ($1, $2, $3, $4)`,
		b.ID, b.Name, b.Description, b.IsActive)
	if err != nil {
		return nil, apperr.Persistence("create brand", err)
	}
	return &b, nil
}

// GetBrand returns a brand by id
func (s *Store) GetBrand(ctx context.Context, id string) (*Brand, error) {
	var b Brand
	err := s.db.QueryRowContext(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Description, &b.IsActive)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("brand", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brand: %w", err)
	}
	return &b, nil
}

// ListBrands returns brands whose name or description contains the filter,
// ordered by name.
func (s *Store) ListBrands(ctx context.Context, q storage.PageQuery) (page *storage.Page[Brand], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_brands", start, err) }()

	where, args := q.FilterClause(nil, "name", "description")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM brands`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count brands: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+brandColumns+` FROM brands`+where+` ORDER BY name, id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	var brands []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate brands: %w", err)
	}
	return storage.NewPage(brands, total, q), nil
}

// UpdateBrand overwrites a brand's fields
func (s *Store) UpdateBrand(ctx context.Context, id string, b Brand) (updated *Brand, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "update_brand", start, err) }()

	if err := validation.Struct(b); err != nil {
		return nil, err
	}
	b.ID = id

	result, err := s.db.ExecContext(ctx,
		`UPDATE brands SET name = $1, description = $2, is_active = $3 WHERE id = $4`,
		b.Name, b.Description, b.IsActive, id)
	if err != nil {
		return nil, apperr.Persistence("update brand", err)
	}
	ok, err := storage.RequireAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("brand", id)
	}
	return &b, nil
}

// DeleteBrand removes a brand, its products and their ratings
func (s *Store) DeleteBrand(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_brand", start, err) }()

	var productIDs []string
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "brands", "brand", id); err != nil {
			return err
		}

		var err error
		productIDs, err = selectIDs(ctx, tx, `SELECT id FROM products WHERE brand_id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to list brand products: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ratings WHERE product_id IN (SELECT id FROM products WHERE brand_id = $1)`, id); err != nil {
			return fmt.Errorf("failed to delete brand ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE brand_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete brand products: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM brands WHERE id = $1`, id); err != nil {
			return apperr.Persistence("delete brand", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateProducts(ctx, productIDs...)
	return nil
}
