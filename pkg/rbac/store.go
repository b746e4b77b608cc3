package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

const storeName = "rbac"

// Store persists functions, commands, their associations, roles, grants and
// memberships. Every multi-row mutation runs in one transaction.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a new RBAC store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// exists runs a "SELECT 1 ... WHERE" query and reports whether it matched
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

func requireFunction(ctx context.Context, q storage.Querier, id string) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM functions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to look up function: %w", err)
	}
	if !ok {
		return apperr.NotFound("function", id)
	}
	return nil
}

func requireCommand(ctx context.Context, q storage.Querier, id string) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM commands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to look up command: %w", err)
	}
	if !ok {
		return apperr.NotFound("command", id)
	}
	return nil
}

func requireRole(ctx context.Context, q storage.Querier, id string) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to look up role: %w", err)
	}
	if !ok {
		return apperr.NotFound("role", id)
	}
	return nil
}

func requireUser(ctx context.Context, q storage.Querier, id string) error {
	ok, err := exists(ctx, q, `SELECT 1 FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return apperr.NotFound("user", id)
	}
	return nil
}

func pairAssociated(ctx context.Context, q storage.Querier, functionID, commandID string) (bool, error) {
	ok, err := exists(ctx, q,
		`SELECT 1 FROM command_in_function WHERE function_id = $1 AND command_id = $2`, functionID, commandID)
	if err != nil {
		return false, fmt.Errorf("failed to look up command association: %w", err)
	}
	return ok, nil
}

// inClause returns "$n, $n+1, ..." for values appended after args
func inClause(args []interface{}, values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	for i, v := range values {
		args = append(args, v)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	return strings.Join(placeholders, ", "), args
}

// dedupe returns values with duplicates and surrounding spaces removed,
// preserving first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
