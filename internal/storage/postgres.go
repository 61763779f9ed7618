package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema is applied statement by statement on every EnsureSchema call.
// CREATE OR REPLACE TRIGGER needs Postgres 14 or later.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS file_registry (
		id BIGSERIAL PRIMARY KEY,
		file_name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('SUCCESS', 'FAILED')),
		error_message TEXT,
		row_count BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_registry_lookup
		ON file_registry (file_name, status, processed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_file_registry_processed_at
		ON file_registry (processed_at)`,
	`CREATE OR REPLACE FUNCTION file_registry_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'file_registry is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE TRIGGER file_registry_no_update
		BEFORE UPDATE OR DELETE ON file_registry
		FOR EACH ROW EXECUTE FUNCTION file_registry_append_only()`,
	`CREATE OR REPLACE TRIGGER file_registry_no_truncate
		BEFORE TRUNCATE ON file_registry
		FOR EACH STATEMENT EXECUTE FUNCTION file_registry_append_only()`,
}

// PostgresStorage implements Storage on a shared Postgres database
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects a pool to dsn and pings it
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision registry table: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) AppendRecord(ctx context.Context, record *FileRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO file_registry (file_name, checksum, processed_at, status, error_message, row_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.pool.QueryRow(ctx, query,
		record.FileName, record.Checksum, record.ProcessedAt.UTC(),
		string(record.Status), record.ErrorMessage, record.RowCount,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to append file record: %w", err)
	}
	return nil
}

func (s *PostgresStorage) LatestSuccess(ctx context.Context, fileName string) (*FileRecord, error) {
	query := `
		SELECT id, file_name, checksum, processed_at, status, error_message, row_count
		FROM file_registry
		WHERE file_name = $1 AND status = 'SUCCESS'
		ORDER BY processed_at DESC, id DESC
		LIMIT 1
	`
	record, err := scanPostgresRecord(s.pool.QueryRow(ctx, query, fileName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PostgresStorage) History(ctx context.Context, fileName string, limit int) ([]*FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, file_name, checksum, processed_at, status, error_message, row_count
		FROM file_registry
		WHERE file_name = $1
		ORDER BY processed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, fileName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStorage) Stats(ctx context.Context) (*RegistryStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'SUCCESS'),
		       COUNT(*) FILTER (WHERE status = 'FAILED'),
		       COUNT(DISTINCT file_name),
		       MAX(processed_at)
		FROM file_registry
	`
	var stats RegistryStats
	var last *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalRecords, &stats.SuccessRecords, &stats.FailedRecords,
		&stats.DistinctFiles, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry stats: %w", err)
	}
	if last != nil {
		stats.LastProcessedAt = last.UTC()
	}
	return &stats, nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (*FileRecord, error) {
	var record FileRecord
	var status string
	err := row.Scan(&record.ID, &record.FileName, &record.Checksum, &record.ProcessedAt,
		&status, &record.ErrorMessage, &record.RowCount)
	if err != nil {
		return nil, err
	}
	record.Status = Status(status)
	record.ProcessedAt = record.ProcessedAt.UTC()
	return &record, nil
}
