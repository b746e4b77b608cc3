package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

const (
	storeName        = "catalog"
	productKeyPrefix = "catalog:product:"
)

func productKey(id string) string { return productKeyPrefix + id }

// Store persists brands, categories, products and ratings
type Store struct {
	db       *sql.DB
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
}

// NewStore creates a catalog store. c, metrics and logger may be nil.
func NewStore(db *sql.DB, c cache.Cache, cacheTTL time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Store {
	if c == nil {
		c = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Store{db: db, cache: c, cacheTTL: cacheTTL, metrics: metrics, logger: logger, now: time.Now}
}

func exists(ctx context.Context, q storage.Querier, query string, args ...interface{}) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// requireRow returns NotFound when no row of table has the id
func requireRow(ctx context.Context, q storage.Querier, table, entity, id string) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", entity, err)
	}
	if !ok {
		return apperr.NotFound(entity, id)
	}
	return nil
}

// requireReference returns a Validation error naming field when a
// referenced row is missing.
func requireReference(ctx context.Context, q storage.Querier, table, entity, field string, id *string) error {
	if id == nil {
		return nil
	}
	ok, err := exists(ctx, q, `SELECT 1 FROM `+table+` WHERE id = $1`, *id)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", entity, err)
	}
	if !ok {
		return apperr.Validation(fmt.Sprintf("%s %s does not exist", entity, *id),
			apperr.FieldError{Field: field, Message: "does not exist"})
	}
	return nil
}

func (s *Store) invalidateProducts(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate product cache")
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func selectIDs(ctx context.Context, q storage.Querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
