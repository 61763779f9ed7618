// Package objectstore uploads serialized artifacts to remote storage.
//
// Object keys mirror the artifact's path relative to the serializer output
// directory, under an optional prefix, so the ingest_date=YYYYMMDD/
// partition survives the upload.
//
// The local backend returns file:// URIs, which Redshift COPY cannot read.
// It serves tests and dry runs only; configuration rejects it otherwise.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/sheetload/internal/events"
)

const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

const (
	DefaultUploadTimeout = 5 * time.Minute
	DefaultPartSizeMB    = 16
)

// ErrUnsupportedBackend is returned for an unknown backend name
var ErrUnsupportedBackend = errors.New("unsupported object store backend")

// Uploader copies a local artifact to the object store and returns its URI
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Config selects and configures a backend
type Config struct {
	Backend       string
	Bucket        string
	Prefix        string
	Region        string
	Profile       string
	Endpoint      string // Custom S3 endpoint, e.g. LocalStack or MinIO
	UsePathStyle  bool
	UploadTimeout time.Duration
	PartSizeMB    int64
	LocalRoot     string
}

// New builds the configured uploader. baseDir is the serializer output
// directory that artifact keys are made relative to.
func New(ctx context.Context, cfg Config, baseDir string, sink events.Sink) (Uploader, error) {
	switch cfg.Backend {
	case BackendS3:
		return NewS3Uploader(ctx, cfg, baseDir, sink)
	case BackendLocal, "":
		return NewLocalUploader(cfg.LocalRoot, cfg.Prefix, baseDir, sink), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
}

// ObjectKey joins prefix with localPath relative to baseDir using forward
// slashes. Paths outside baseDir fall back to their base name.
func ObjectKey(prefix, baseDir, localPath string) string {
	rel, err := filepath.Rel(baseDir, localPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(localPath)
	}
	rel = filepath.ToSlash(rel)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}
