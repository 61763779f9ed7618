// Package storage persists the file registry: an append-only log with one
// row per ingestion attempt.
//
// # Backends
//
//   - SQLiteStorage: local file database, the default. Built on
//     modernc.org/sqlite, or github.com/mattn/go-sqlite3 with the
//     sqlite_cgo build tag.
//   - PostgresStorage: shared database through a pgx connection pool, for
//     deployments where several hosts ingest into the same warehouse.
//
// # Schema
//
//	file_registry(id, file_name, checksum, processed_at, status, error_message, row_count)
//
// SQLite enforces immutability with BEFORE UPDATE/DELETE triggers. Records
// are never updated; the current state of a file is its newest SUCCESS row,
// ordered by processed_at then id.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("registry.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.EnsureSchema(ctx); err != nil {
//	    return err
//	}
//
//	rec, err := db.LatestSuccess(ctx, "report.xlsx")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // never ingested
//	}
package storage
