// Package warehouse loads uploaded artifacts into an Amazon Redshift table
// with COPY, over the Postgres wire protocol.
//
// Writes are append-only. The destination table is created on first use
// and never altered afterwards. DATE and TIMESTAMP schema columns, and the
// ingest_ts audit column, are stored as VARCHAR because normalization passes
// them through as text and columnar COPY does not cast strings.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/pkg/types"
)

const DefaultLoadTimeout = 30 * time.Minute

// ErrUnsupportedFormat is returned when Load is asked for an unknown file format
var ErrUnsupportedFormat = errors.New("unsupported load format")

// Config identifies the destination table and load credentials
type Config struct {
	DSN            string
	Schema         string
	Table          string
	IAMRole        string
	Region         string
	LoadTimeout    time.Duration
	ConnectRetries int
}

// LoadRequest describes one artifact to load
type LoadRequest struct {
	URI     string   // s3:// location of the artifact
	Format  string   // "parquet" or "csv"
	Columns []string // Physical column order inside the artifact
}

// RedshiftLoader issues DDL and COPY statements
type RedshiftLoader struct {
	db      *sql.DB
	cfg     Config
	sink    events.Sink
	schema  types.Schema
	ensured atomic.Bool
}

// Open connects to the warehouse, retrying while the cluster resumes
func Open(ctx context.Context, cfg Config, sink events.Sink) (*RedshiftLoader, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	retry := DefaultRetryConfig()
	if cfg.ConnectRetries > 0 {
		retry.MaxRetries = cfg.ConnectRetries
	}
	_, err = retryWithBackoff(ctx, retry, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	return NewRedshiftLoader(db, cfg, sink), nil
}

// NewRedshiftLoader wraps an existing connection pool
func NewRedshiftLoader(db *sql.DB, cfg Config, sink events.Sink) *RedshiftLoader {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	return &RedshiftLoader{db: db, cfg: cfg, sink: sink}
}

// TableName returns the quoted, schema-qualified destination
func (l *RedshiftLoader) TableName() string {
	if l.cfg.Schema == "" {
		return pq.QuoteIdentifier(l.cfg.Table)
	}
	return pq.QuoteIdentifier(l.cfg.Schema) + "." + pq.QuoteIdentifier(l.cfg.Table)
}

// EnsureTable creates the destination with schema plus audit columns if absent
func (l *RedshiftLoader) EnsureTable(ctx context.Context, schema types.Schema) error {
	l.schema = schema
	if _, err := l.db.ExecContext(ctx, createTableSQL(l.TableName(), schema)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", l.TableName(), err)
	}
	l.ensured.Store(true)
	return nil
}

// Load copies one artifact into the table and returns the COPY query id
func (l *RedshiftLoader) Load(ctx context.Context, req LoadRequest) (string, error) {
	if !l.ensured.Load() && l.schema != nil {
		if err := l.EnsureTable(ctx, l.schema); err != nil {
			return "", err
		}
	}

	stmt, err := copySQL(l.TableName(), req, l.cfg.IAMRole, l.cfg.Region)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.LoadTimeout)
	defer cancel()

	// pg_last_copy_id is per session, so stay on one connection
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire warehouse connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	start := time.Now()
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("COPY %s from %s failed: %w", l.TableName(), req.URI, err)
	}

	var jobID, rows int64
	if err := conn.QueryRowContext(ctx, "SELECT pg_last_copy_id(), pg_last_copy_count()").Scan(&jobID, &rows); err != nil {
		return "", fmt.Errorf("failed to read COPY job id: %w", err)
	}

	l.sink.Emit(ctx, events.LevelInfo, "warehouse.loaded", events.Fields{
		"table":       l.TableName(),
		"uri":         req.URI,
		"job_id":      jobID,
		"rows_loaded": rows,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return strconv.FormatInt(jobID, 10), nil
}

// Close releases the connection pool
func (l *RedshiftLoader) Close() error {
	return l.db.Close()
}

func columnType(f types.SchemaField) string {
	switch f.Type {
	case types.TypeInteger:
		return "BIGINT"
	case types.TypeFloat:
		return "DOUBLE PRECISION"
	case types.TypeBoolean:
		return "BOOLEAN"
	case types.TypeDate:
		return "VARCHAR(32)"
	case types.TypeTimestamp:
		return "VARCHAR(64)"
	default:
		return "VARCHAR(65535)"
	}
}

func createTableSQL(table string, schema types.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for _, f := range schema {
		fmt.Fprintf(&b, "    %s %s", pq.QuoteIdentifier(f.Name), columnType(f))
		if !f.Nullable() {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}
	fmt.Fprintf(&b, "    %s VARCHAR(1024),\n", pq.QuoteIdentifier(types.ColumnSourceFile))
	fmt.Fprintf(&b, "    %s VARCHAR(128),\n", pq.QuoteIdentifier(types.ColumnChecksum))
	fmt.Fprintf(&b, "    %s VARCHAR(64)\n", pq.QuoteIdentifier(types.ColumnIngestTS))
	b.WriteString(")")
	return b.String()
}

func copySQL(table string, req LoadRequest, iamRole, region string) (string, error) {
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(table)

	if len(req.Columns) > 0 {
		quoted := make([]string, len(req.Columns))
		for i, c := range req.Columns {
			quoted[i] = pq.QuoteIdentifier(c)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(quoted, ", "))
	}

	fmt.Fprintf(&b, " FROM %s", pq.QuoteLiteral(req.URI))
	if iamRole != "" {
		fmt.Fprintf(&b, " IAM_ROLE %s", pq.QuoteLiteral(iamRole))
	}

	switch req.Format {
	case "parquet":
		b.WriteString(" FORMAT AS PARQUET")
	case "csv":
		b.WriteString(" FORMAT AS CSV IGNOREHEADER 1 EMPTYASNULL")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	if region != "" {
		fmt.Fprintf(&b, " REGION %s", pq.QuoteLiteral(region))
	}
	return b.String(), nil
}
