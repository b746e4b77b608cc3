// Package storagetest opens migrated databases for package tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Component pairs a migration set with its schema_migrations name
type Component struct {
	Name       string
	Migrations []storage.Migration
}

// MemoryDSN is a private in-memory sqlite database. storage.Open pins it to
// one connection, so every OpenSQLite call gets an isolated database.
const MemoryDSN = "file::memory:?_foreign_keys=on&_loc=UTC"

// OpenSQLite returns a fresh in-memory sqlite database with the given
// components migrated in order. The database is closed on test cleanup.
func OpenSQLite(t testing.TB, components ...Component) *sql.DB {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.DSN = MemoryDSN
	db, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	MigrateAll(t, db, components...)
	return db
}

// MigrateAll applies every component's migrations to db
func MigrateAll(t testing.TB, db *sql.DB, components ...Component) {
	t.Helper()
	for _, c := range components {
		_, err := storage.Migrate(context.Background(), db, c.Name, c.Migrations)
		require.NoError(t, err, "migrate %s", c.Name)
	}
}
