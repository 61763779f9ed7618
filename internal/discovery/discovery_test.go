package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sheetload/internal/events"
)

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		path := filepath.Join(root, filepath.FromSlash(r))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func relAll(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestDiscover_DefaultPatterns(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"report.xlsx",
		"~$report.xlsx",
		".~lock.xlsx",
		"notes.txt",
		"sub/b.xlsx",
		"sub/deeper/a.xlsx",
		"sub/scratch.tmp",
	)

	d, err := New(Config{Root: root}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"report.xlsx", "sub/b.xlsx", "sub/deeper/a.xlsx"}, relAll(t, root, files))
}

func TestDiscover_IgnoreOnBaseName(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "data.xlsx", "data.temp", "x.tmp")

	d, err := New(Config{Root: root, Pattern: "*"}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"data.xlsx"}, relAll(t, root, files))
}

func TestDiscover_CustomPattern(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "top.xlsx", "in/one.xlsx", "in/two.csv")

	d, err := New(Config{Root: root, Pattern: "in/*.xlsx", IgnorePatterns: []string{}}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"in/one.xlsx"}, relAll(t, root, files))
}

func TestDiscover_SkipsDirectoriesNamedLikeFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "folder.xlsx"), 0o755))
	touch(t, root, "folder.xlsx/inner.xlsx")

	d, err := New(Config{Root: root}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"folder.xlsx/inner.xlsx"}, relAll(t, root, files))
}

func TestDiscover_Sorted(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "c.xlsx", "a.xlsx", "b.xlsx")

	d, err := New(Config{Root: root}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.IsIncreasing(t, files)
	assert.Len(t, files, 3)
}

func TestDiscover_MissingRoot(t *testing.T) {
	rec := &events.Recorder{}
	d, err := New(Config{Root: filepath.Join(t.TempDir(), "nope")}, rec)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)

	unavailable := rec.Named("discovery.root_unavailable")
	require.Len(t, unavailable, 1)
	assert.Equal(t, events.LevelError, unavailable[0].Level)
}

func TestDiscover_RootIsFile(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.xlsx")

	rec := &events.Recorder{}
	d, err := New(Config{Root: filepath.Join(root, "a.xlsx")}, rec)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Len(t, rec.Named("discovery.root_unavailable"), 1)
}

func TestDiscover_SkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	touch(t, root, "ok/a.xlsx", "locked/b.xlsx")
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	rec := &events.Recorder{}
	d, err := New(Config{Root: root}, rec)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok/a.xlsx"}, relAll(t, root, files))
	assert.NotEmpty(t, rec.Named("discovery.walk_error"))
}

func TestDiscover_Cancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.xlsx")

	d, err := New(Config{Root: root}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover_EmptyRoot(t *testing.T) {
	d, err := New(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Config{Root: ".", Pattern: "[unterminated"}, nil)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = New(Config{Root: ".", IgnorePatterns: []string{"{a,b"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
