package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dshills/sheetload/internal/events"
)

// LocalUploader copies artifacts into a directory tree. Useful for
// development and for warehouses that read from a mounted share.
type LocalUploader struct {
	root    string
	prefix  string
	baseDir string
	sink    events.Sink
}

func NewLocalUploader(root, prefix, baseDir string, sink events.Sink) *LocalUploader {
	if sink == nil {
		sink = events.Discard
	}
	return &LocalUploader{root: root, prefix: prefix, baseDir: baseDir, sink: sink}
}

// Upload copies localPath to root/key and returns a file:// URI
func (u *LocalUploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := ObjectKey(u.prefix, u.baseDir, localPath)
	dest, err := filepath.Abs(filepath.Join(u.root, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	if err := copyFile(ctx, localPath, dest); err != nil {
		return "", err
	}

	uri := (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String()
	u.sink.Emit(ctx, events.LevelInfo, "objectstore.uploaded", events.Fields{"uri": uri})
	return uri, nil
}

// copyFile writes through a temp file and renames so readers never see a partial object
func copyFile(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := ctx.Err(); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
