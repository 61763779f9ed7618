package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no matching record exists
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned when a record violates the registry invariants
	ErrInvalidRecord = errors.New("invalid file record")
)

// RegistryTable is the name of the append-only registry table
const RegistryTable = "file_registry"

// Storage persists the append-only file processing log
type Storage interface {
	// EnsureSchema idempotently provisions the registry table
	EnsureSchema(ctx context.Context) error

	// AppendRecord inserts one immutable record and sets its ID
	AppendRecord(ctx context.Context, record *FileRecord) error

	// LatestSuccess returns the newest SUCCESS record for fileName, or ErrNotFound
	LatestSuccess(ctx context.Context, fileName string) (*FileRecord, error)

	// History returns up to limit records for fileName, newest first
	History(ctx context.Context, fileName string, limit int) ([]*FileRecord, error)

	// Stats summarizes the whole registry
	Stats(ctx context.Context) (*RegistryStats, error)

	Close() error
}

// Status is the outcome of one ingestion attempt
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// FileRecord is one registry entry
type FileRecord struct {
	ID           int64
	FileName     string // Basename, not full path
	Checksum     string
	ProcessedAt  time.Time
	Status       Status
	ErrorMessage *string // Set iff Status == FAILED
	RowCount     *int64  // Set iff Status == SUCCESS
}

// Validate checks the record invariants
func (r *FileRecord) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidRecord)
	}
	if r.ProcessedAt.IsZero() {
		return fmt.Errorf("%w: processed_at is required", ErrInvalidRecord)
	}

	switch r.Status {
	case StatusSuccess:
		if r.ErrorMessage != nil {
			return fmt.Errorf("%w: SUCCESS record cannot carry an error message", ErrInvalidRecord)
		}
		if r.RowCount == nil {
			return fmt.Errorf("%w: SUCCESS record requires a row count", ErrInvalidRecord)
		}
		if r.Checksum == "" {
			return fmt.Errorf("%w: SUCCESS record requires a checksum", ErrInvalidRecord)
		}
	case StatusFailed:
		if r.ErrorMessage == nil {
			return fmt.Errorf("%w: FAILED record requires an error message", ErrInvalidRecord)
		}
		if r.RowCount != nil {
			return fmt.Errorf("%w: FAILED record cannot carry a row count", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// RegistryStats contains aggregate counts over the registry
type RegistryStats struct {
	TotalRecords    int64
	SuccessRecords  int64
	FailedRecords   int64
	DistinctFiles   int64
	LastProcessedAt time.Time // Zero when the registry is empty
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
