package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/storage"
	"github.com/platinummonkey/shopadmin/pkg/validation"
)

const productColumns = `id, code, name, category_id, brand_id, price, description, is_active, created_at`

func duplicateCode(code string, err error) *apperr.Error {
	e := apperr.DuplicateID("product code", code)
	e.Fields = []apperr.FieldError{{Field: "code", Message: "already in use"}}
	e.Err = err
	return e
}

// CreateProduct stores a new product. Category and brand references must
// exist and the code must be unique.
func (s *Store) CreateProduct(ctx context.Context, p Product) (created *Product, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_product", start, err) }()

	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC().Truncate(time.Second)

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.checkProductReferences(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.Code, p.Name, p.CategoryID, p.BrandID, p.Price, p.Description, p.IsActive, p.CreatedAt)
		if storage.IsUniqueViolation(err) {
			return duplicateCode(p.Code, err)
		}
		if err != nil {
			return apperr.Persistence("create product", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) checkProductReferences(ctx context.Context, q storage.Querier, p Product) error {
	if err := requireReference(ctx, q, "categories", "category", "categoryId", p.CategoryID); err != nil {
		return err
	}
	return requireReference(ctx, q, "brands", "brand", "brandId", p.BrandID)
}

// GetProduct returns a product by id, reading through the product cache
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	var cached Product
	hit, err := cache.GetJSON(ctx, s.cache, productKey(id), &cached)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", id).Warn("product cache read failed")
	}
	if hit {
		return &cached, nil
	}

	p, err := s.getProduct(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, productKey(id), p, s.cacheTTL); err != nil {
		s.logger.WithError(err).WithField("product_id", id).Warn("product cache write failed")
	}
	return p, nil
}

func (s *Store) getProduct(ctx context.Context, q storage.Querier, id string) (*Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts returns products matching the filter on name, code or
// description, optionally restricted to one category or brand.
func (s *Store) ListProducts(ctx context.Context, q ProductQuery) (page *storage.Page[Product], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_products", start, err) }()

	where, args := q.FilterClause(nil, "name", "code", "description")
	where, args = andEquals(where, args, "category_id", q.CategoryID)
	where, args = andEquals(where, args, "brand_id", q.BrandID)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products`+where+` ORDER BY name, id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return storage.NewPage(products, total, q.PageQuery), nil
}

// andEquals appends "col = $n" to where when value is set
func andEquals(where string, args []interface{}, col, value string) (string, []interface{}) {
	if value == "" {
		return where, args
	}
	args = append(args, value)
	cond := fmt.Sprintf("%s = $%d", col, len(args))
	if where == "" {
		return " WHERE " + cond, args
	}
	return where + " AND " + cond, args
}

// UpdateProduct overwrites a product. CreatedAt is preserved.
func (s *Store) UpdateProduct(ctx context.Context, id string, p Product) (updated *Product, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "update_product", start, err) }()

	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	p.ID = id

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := s.getProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		p.CreatedAt = existing.CreatedAt
		if err := s.checkProductReferences(ctx, tx, p); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET code = $1, name = $2, category_id = $3, brand_id = $4, price = $5,
				description = $6, is_active = $7
			WHERE id = $8`,
			p.Code, p.Name, p.CategoryID, p.BrandID, p.Price, p.Description, p.IsActive, id)
		if storage.IsUniqueViolation(err) {
			return duplicateCode(p.Code, err)
		}
		if err != nil {
			return apperr.Persistence("update product", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateProducts(ctx, id)
	return &p, nil
}

// DeleteProduct removes a product and its ratings
func (s *Store) DeleteProduct(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_product", start, err) }()

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "products", "product", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratings WHERE product_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete product ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
			return apperr.Persistence("delete product", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateProducts(ctx, id)
	return nil
}

func scanProduct(row rowScanner) (*Product, error) {
	var (
		p          Product
		categoryID sql.NullString
		brandID    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &categoryID, &brandID, &p.Price, &p.Description, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CategoryID = nullableString(categoryID)
	p.BrandID = nullableString(brandID)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
