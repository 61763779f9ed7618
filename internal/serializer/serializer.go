// Package serializer writes normalized tables to local artifact files.
//
// Artifacts are partitioned by ingestion date:
//
//	<output_dir>/ingest_date=YYYYMMDD/<stem>_YYYYMMDD_HHMMSS.<ext>
//
// Parquet output is snappy compressed with every column optional. CSV output
// has a header row and renders null as an empty field.
package serializer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/pkg/types"
)

// Format is an artifact encoding
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// ErrUnsupportedFormat is returned for an unknown Format
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ParseFormat validates a configured format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatParquet, FormatCSV:
		return Format(s), nil
	case "":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Artifact describes one written file
type Artifact struct {
	Path    string
	Format  Format
	Columns []string // Physical column order inside the file
	Rows    int
	Bytes   int64
}

// Serializer writes tables under an output directory
type Serializer struct {
	outputDir string
	format    Format
	partition bool
	sink      events.Sink
	now       func() time.Time
}

// Option configures a Serializer
type Option func(*Serializer)

// WithClock overrides the clock used for partition and file names
func WithClock(now func() time.Time) Option {
	return func(s *Serializer) { s.now = now }
}

// WithoutPartition writes directly into the output directory
func WithoutPartition() Option {
	return func(s *Serializer) { s.partition = false }
}

// New creates a serializer
func New(outputDir string, format Format, sink events.Sink, opts ...Option) (*Serializer, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Discard
	}
	s := &Serializer{
		outputDir: outputDir,
		format:    format,
		partition: true,
		sink:      sink,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OutputDir returns the root directory artifacts are written under
func (s *Serializer) OutputDir() string { return s.outputDir }

// Format returns the configured encoding
func (s *Serializer) Format() Format { return s.format }

// Serialize writes table to a new artifact named after stem
func (s *Serializer) Serialize(ctx context.Context, table *types.Table, stem string) (*Artifact, error) {
	now := s.now().UTC()

	dir := s.outputDir
	if s.partition {
		dir = filepath.Join(dir, "ingest_date="+now.Format("20060102"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	f, path, err := createUnique(dir, stem+"_"+now.Format("20060102_150405"), string(s.format))
	if err != nil {
		return nil, err
	}

	var columns []string
	switch s.format {
	case FormatParquet:
		columns, err = writeParquet(f, table)
	case FormatCSV:
		columns, err = writeCSV(f, table)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Path:    path,
		Format:  s.format,
		Columns: columns,
		Rows:    table.Len(),
		Bytes:   info.Size(),
	}
	s.sink.Emit(ctx, events.LevelInfo, "serializer.written", events.Fields{
		"path":   path,
		"format": string(s.format),
		"rows":   artifact.Rows,
		"bytes":  artifact.Bytes,
	})
	return artifact, nil
}

// createUnique opens base.ext, or base_N.ext if it already exists
func createUnique(dir, base, ext string) (*os.File, string, error) {
	for i := 0; i < 1000; i++ {
		name := base + "." + ext
		if i > 0 {
			name = base + "_" + strconv.Itoa(i) + "." + ext
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create artifact: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create artifact: too many files named %s", base)
}
