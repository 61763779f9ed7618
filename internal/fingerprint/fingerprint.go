// Package fingerprint computes content hashes used as change-detection keys.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Supported algorithms
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmMD5    = "md5"
	AlgorithmXXHash = "xxhash"
)

// ChunkSize is the read buffer size; memory use does not grow with file size
const ChunkSize = 64 * 1024

// ErrUnsupportedAlgorithm is returned for unknown algorithm names
var ErrUnsupportedAlgorithm = errors.New("unsupported fingerprint algorithm")

// Fingerprinter hashes full file contents
type Fingerprinter struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Fingerprinter for the named algorithm. Empty means sha256.
func New(algorithm string) (*Fingerprinter, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}

	fp := &Fingerprinter{algorithm: algorithm}
	switch algorithm {
	case AlgorithmSHA256:
		fp.newHash = sha256.New
	case AlgorithmMD5:
		fp.newHash = md5.New
	case AlgorithmXXHash:
		fp.newHash = func() hash.Hash { return xxhash.New() }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return fp, nil
}

// Algorithm returns the configured algorithm name
func (f *Fingerprinter) Algorithm() string { return f.algorithm }

// Fingerprint returns the lowercase hex digest of the file at path
func (f *Fingerprinter) Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	return f.FingerprintReader(file)
}

// FingerprintReader hashes everything read from r
func (f *Fingerprinter) FingerprintReader(r io.Reader) (string, error) {
	h := f.newHash()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to read content for %s fingerprint: %w", f.algorithm, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
