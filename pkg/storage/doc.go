// Package storage opens the relational store and provides the transaction
// and migration helpers shared by every component.
//
// Stores write SQL with $n placeholders, which both lib/pq and go-sqlite3
// accept, so the same queries run against postgres in production and an
// in-memory sqlite database in tests.
//
//	db, err := storage.Open(ctx, cfg.Database)
//	_, err = storage.Migrate(ctx, db, "rbac", rbac.Migrations())
//
//	err = storage.WithTx(ctx, db, func(tx *sql.Tx) error {
//		// every statement of a multi-row mutation goes through tx
//	})
package storage
