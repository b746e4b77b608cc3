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

const ratingColumns = `id, product_id, user_id, stars, comment, created_at`

// CreateRating records a rating for a product. userID is empty for
// anonymous ratings.
func (s *Store) CreateRating(ctx context.Context, productID string, r Rating, userID string) (created *Rating, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "create_rating", start, err) }()

	if err := validation.Struct(r); err != nil {
		return nil, err
	}
	r.ID = uuid.NewString()
	r.ProductID = productID
	r.UserID = userID
	r.CreatedAt = s.now().UTC().Truncate(time.Second)

	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "products", "product", productID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO ratings (`+ratingColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.ProductID, r.UserID, r.Stars, r.Comment, r.CreatedAt)
		if err != nil {
			return apperr.Persistence("create rating", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRatings returns a product's ratings, newest first
func (s *Store) ListRatings(ctx context.Context, productID string, q storage.PageQuery) (page *storage.Page[Rating], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "list_ratings", start, err) }()

	if err := requireRow(ctx, s.db, "products", "product", productID); err != nil {
		return nil, err
	}

	where, args := q.FilterClause(nil, "comment")
	where, args = andEquals(where, args, "product_id", productID)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratings`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count ratings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings`+where+` ORDER BY created_at DESC, id`+q.LimitClause(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.ProductID, &r.UserID, &r.Stars, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}
	return storage.NewPage(ratings, total, q), nil
}

// DeleteRating removes a rating by id
func (s *Store) DeleteRating(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "delete_rating", start, err) }()

	result, err := s.db.ExecContext(ctx, `DELETE FROM ratings WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete rating", err)
	}
	ok, err := storage.RequireAffected(result)
	if err != nil {
		return apperr.Persistence("delete rating", err)
	}
	if !ok {
		return apperr.NotFound("rating", id)
	}
	return nil
}

// AverageRating returns the mean star count of a product. A product with no
// ratings averages 0.
func (s *Store) AverageRating(ctx context.Context, productID string) (avg *AverageRating, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "average_rating", start, err) }()

	if err := requireRow(ctx, s.db, "products", "product", productID); err != nil {
		return nil, err
	}

	avg = &AverageRating{ProductID: productID}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(stars), 0) FROM ratings WHERE product_id = $1`, productID).
		Scan(&avg.Count, &avg.AverageRating)
	if err != nil {
		return nil, fmt.Errorf("failed to average ratings: %w", err)
	}
	return avg, nil
}
