// Package registry decides which files need processing and records the
// outcome of every attempt.
//
// The current state of a file is derived from the append-only log in
// storage: the checksum of its newest SUCCESS record. Read failures are
// reported as "absent" so a transient outage leads to reprocessing rather
// than a silent skip, and write failures are logged and swallowed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/storage"
)

// MaxErrorMessageLength bounds the error text persisted in a FAILED record
const MaxErrorMessageLength = 2000

// Registry wraps a Storage with the processing decision rules
type Registry struct {
	store storage.Storage
	sink  events.Sink
	now   func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the clock used to stamp processed_at
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry over store. A nil sink discards events.
func New(store storage.Storage, sink events.Sink, opts ...Option) *Registry {
	if sink == nil {
		sink = events.Discard
	}
	r := &Registry{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome describes the result of processing one file
type Outcome struct {
	FileName     string
	Fingerprint  string
	Status       storage.Status
	ErrorMessage string // FAILED only
	RowCount     int64  // SUCCESS only
}

// Succeeded builds a SUCCESS outcome
func Succeeded(fileName, fingerprint string, rowCount int64) Outcome {
	return Outcome{FileName: fileName, Fingerprint: fingerprint, Status: storage.StatusSuccess, RowCount: rowCount}
}

// Failed builds a FAILED outcome from err
func Failed(fileName, fingerprint string, err error) Outcome {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Outcome{FileName: fileName, Fingerprint: fingerprint, Status: storage.StatusFailed, ErrorMessage: msg}
}

// EnsureExists provisions the backing store. Safe to call on every run.
func (r *Registry) EnsureExists(ctx context.Context) error {
	if err := r.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure registry: %w", err)
	}
	return nil
}

// CurrentFingerprint returns the checksum of the newest SUCCESS record for
// fileName. The boolean is false when no such record exists or the lookup
// failed.
func (r *Registry) CurrentFingerprint(ctx context.Context, fileName string) (string, bool) {
	record, err := r.store.LatestSuccess(ctx, fileName)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		r.sink.Emit(ctx, events.LevelWarn, "registry.query_failed", events.Fields{
			"file_name": fileName,
			"error":     err.Error(),
		})
		return "", false
	}
	return record.Checksum, true
}

// ShouldProcess reports whether fileName with the given fingerprint has not
// yet been loaded successfully.
func (r *Registry) ShouldProcess(ctx context.Context, fileName, fingerprint string) bool {
	stored, ok := r.CurrentFingerprint(ctx, fileName)
	if !ok {
		return true
	}
	return stored != fingerprint
}

// RecordOutcome appends one record. Failures are logged, never returned.
func (r *Registry) RecordOutcome(ctx context.Context, outcome Outcome) {
	record := &storage.FileRecord{
		FileName:    outcome.FileName,
		Checksum:    outcome.Fingerprint,
		ProcessedAt: r.now().UTC(),
		Status:      outcome.Status,
	}
	switch outcome.Status {
	case storage.StatusSuccess:
		rows := outcome.RowCount
		record.RowCount = &rows
	case storage.StatusFailed:
		msg := truncate(outcome.ErrorMessage, MaxErrorMessageLength)
		if msg == "" {
			msg = "unknown error"
		}
		record.ErrorMessage = &msg
	}

	if err := r.store.AppendRecord(ctx, record); err != nil {
		r.sink.Emit(ctx, events.LevelError, "registry.write_failed", events.Fields{
			"file_name": outcome.FileName,
			"status":    string(outcome.Status),
			"error":     err.Error(),
		})
		return
	}

	r.sink.Emit(ctx, events.LevelDebug, "registry.recorded", events.Fields{
		"file_name": outcome.FileName,
		"status":    string(outcome.Status),
		"record_id": record.ID,
	})
}

// History returns up to limit records for fileName, newest first
func (r *Registry) History(ctx context.Context, fileName string, limit int) ([]*storage.FileRecord, error) {
	return r.store.History(ctx, fileName, limit)
}

// Stats summarizes the registry
func (r *Registry) Stats(ctx context.Context) (*storage.RegistryStats, error) {
	return r.store.Stats(ctx)
}

// Close releases the backing store
func (r *Registry) Close() error {
	return r.store.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
