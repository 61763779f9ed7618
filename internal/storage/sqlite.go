package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// processed_at is stored as fixed-width UTC text so lexical order is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage opens the database. Call EnsureSchema before use.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// EnsureSchema applies pending migrations
func (s *SQLiteStorage) EnsureSchema(ctx context.Context) error {
	if err := ApplyMigrations(ctx, s.db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// AppendRecord inserts one record
func (s *SQLiteStorage) AppendRecord(ctx context.Context, record *FileRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO file_registry (file_name, checksum, processed_at, status, error_message, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		record.FileName, record.Checksum, formatTime(record.ProcessedAt),
		string(record.Status), nullString(record.ErrorMessage), nullInt64(record.RowCount))
	if err != nil {
		return fmt.Errorf("failed to append file record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = id
	return nil
}

// LatestSuccess returns the most recent SUCCESS record for fileName
func (s *SQLiteStorage) LatestSuccess(ctx context.Context, fileName string) (*FileRecord, error) {
	query := `
		SELECT id, file_name, checksum, processed_at, status, error_message, row_count
		FROM file_registry
		WHERE file_name = ? AND status = 'SUCCESS'
		ORDER BY processed_at DESC, id DESC
		LIMIT 1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, fileName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// History returns up to limit records for fileName, newest first
func (s *SQLiteStorage) History(ctx context.Context, fileName string, limit int) ([]*FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, file_name, checksum, processed_at, status, error_message, row_count
		FROM file_registry
		WHERE file_name = ?
		ORDER BY processed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, fileName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*FileRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats summarizes the registry
func (s *SQLiteStorage) Stats(ctx context.Context) (*RegistryStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT file_name),
		       MAX(processed_at)
		FROM file_registry
	`
	var stats RegistryStats
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRecords, &stats.SuccessRecords, &stats.FailedRecords,
		&stats.DistinctFiles, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry stats: %w", err)
	}
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return nil, err
		}
		stats.LastProcessedAt = t
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	var record FileRecord
	var processedAt, status string
	var errorMessage sql.NullString
	var rowCount sql.NullInt64
	err := row.Scan(&record.ID, &record.FileName, &record.Checksum, &processedAt,
		&status, &errorMessage, &rowCount)
	if err != nil {
		return nil, err
	}

	record.ProcessedAt, err = parseTime(processedAt)
	if err != nil {
		return nil, err
	}
	record.Status = Status(status)
	if errorMessage.Valid {
		record.ErrorMessage = &errorMessage.String
	}
	if rowCount.Valid {
		record.RowCount = &rowCount.Int64
	}
	return &record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid processed_at %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}
