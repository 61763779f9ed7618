// Package discovery finds candidate spreadsheet files under an input root.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/sheetload/internal/events"
)

// DefaultPattern matches spreadsheets at any depth, including the root
const DefaultPattern = "**/*.xlsx"

// DefaultIgnorePatterns cover office lock files and editor temp files
var DefaultIgnorePatterns = []string{"~$*", ".~*", "*.tmp", "*.temp"}

// ErrInvalidPattern is returned for malformed glob patterns
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Config controls what Discover returns
type Config struct {
	Root           string
	Pattern        string   // Matched against the slash-separated path relative to Root
	IgnorePatterns []string // Matched against the base name only; nil uses the defaults
}

// Discoverer walks an input root
type Discoverer struct {
	root    string
	pattern string
	ignore  []string
	sink    events.Sink
}

// New validates the patterns and creates a Discoverer
func New(cfg Config, sink events.Sink) (*Discoverer, error) {
	if sink == nil {
		sink = events.Discard
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	ignore := cfg.IgnorePatterns
	if ignore == nil {
		ignore = DefaultIgnorePatterns
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: ignore pattern %q", ErrInvalidPattern, p)
		}
	}

	return &Discoverer{
		root:    cfg.Root,
		pattern: pattern,
		ignore:  ignore,
		sink:    sink,
	}, nil
}

// Root returns the input root
func (d *Discoverer) Root() string { return d.root }

// Discover returns the matching regular files, sorted lexicographically.
// A missing or unreadable root yields no files and an error event; an
// unreadable entry below it is skipped. Only cancellation is returned as an
// error.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	info, err := os.Stat(d.root)
	if err == nil && !info.IsDir() {
		err = fmt.Errorf("%s is not a directory", d.root)
	}
	if err != nil {
		d.sink.Emit(ctx, events.LevelError, "discovery.root_unavailable", events.Fields{
			"root":  d.root,
			"error": err.Error(),
		})
		return nil, nil
	}

	seen := make(map[string]struct{})
	var files []string

	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.sink.Emit(ctx, events.LevelWarn, "discovery.walk_error", events.Fields{
				"path":  path,
				"error": err.Error(),
			})
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return nil
		}
		if !doublestar.MatchUnvalidated(d.pattern, filepath.ToSlash(rel)) {
			return nil
		}

		if !isRegular(path, entry) {
			return nil
		}

		if d.ignored(entry.Name()) {
			d.sink.Emit(ctx, events.LevelDebug, "discovery.ignored", events.Fields{"path": path})
			return nil
		}

		if _, dup := seen[path]; dup {
			return nil
		}
		seen[path] = struct{}{}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", d.root, err)
	}

	sort.Strings(files)

	d.sink.Emit(ctx, events.LevelInfo, "discovery.completed", events.Fields{
		"root":  d.root,
		"files": len(files),
	})
	return files, nil
}

func (d *Discoverer) ignored(name string) bool {
	for _, p := range d.ignore {
		if doublestar.MatchUnvalidated(p, name) {
			return true
		}
	}
	return false
}

// isRegular follows symlinks so linked files are treated like the target
func isRegular(path string, entry fs.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
