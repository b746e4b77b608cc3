package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one schema change for a component. The SQL must run on both
// postgres and sqlite.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	component VARCHAR(64) NOT NULL,
	version INTEGER NOT NULL,
	description TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	PRIMARY KEY (component, version)
)`

// Migrate applies every migration of component newer than the recorded
// version. Each migration runs in its own transaction together with its
// bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, component string, migrations []Migration) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db, component)
	if err != nil {
		return 0, err
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	count := 0
	for _, m := range sorted {
		if applied[m.Version] {
			continue
		}
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to apply %s migration %d (%s): %w", component, m.Version, m.Description, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (component, version, description, applied_at) VALUES ($1, $2, $3, $4)`,
				component, m.Version, m.Description, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to record %s migration %d: %w", component, m.Version, err)
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations WHERE component = $1`, component)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
