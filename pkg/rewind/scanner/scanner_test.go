package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, data string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(data), 0o644))
}

type skipNames map[string]bool

func (s skipNames) IsObservable(path string, _, _ bool) bool {
	return !s[filepath.Base(path)]
}

func TestSnapshotOrdersParentsFirst(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "one\ntwo\n")
	writeFile(t, dir, "src/main.go", "package main\n")
	writeFile(t, dir, "src/deep/x.bin", "\x00\x01")

	s := New(Options{})
	snap, err := s.Snapshot(context.Background(), []types.Root{{Path: dir}}, nil)
	require.NoError(t, err)
	require.NoError(t, snapshot.Validate(snap))

	var paths []string
	for _, e := range snap.Entries() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{".", "b.txt", "src", "src/deep", "src/main.go", "src/deep/x.bin"}, paths)

	b, ok := snap.Get(types.Key{Path: "b.txt"})
	require.True(t, ok)
	assert.Equal(t, int64(8), b.Size)
	assert.Equal(t, 2, b.Lines)
	assert.Nil(t, b.Content)
	assert.NotEmpty(t, b.Fingerprint)

	bin, ok := snap.Get(types.Key{Path: "src/deep/x.bin"})
	require.True(t, ok)
	assert.Zero(t, bin.Lines, "binary files are not counted")
}

func TestSnapshotCapturesContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "small.md", "# hi")
	writeFile(t, dir, "big.txt", strings.Repeat("x\n", 100))
	writeFile(t, dir, "latin1.txt", "caf\xe9")

	s := New(Options{IncludeContent: true, MaxContentSize: 50})
	snap, err := s.Snapshot(context.Background(), []types.Root{{Path: dir}}, nil)
	require.NoError(t, err)

	small, _ := snap.Get(types.Key{Path: "small.md"})
	require.NotNil(t, small.Content)
	assert.Equal(t, "# hi", *small.Content)
	assert.Equal(t, 1, small.Lines)

	big, _ := snap.Get(types.Key{Path: "big.txt"})
	assert.Nil(t, big.Content, "over the content cap")
	assert.Equal(t, 100, big.Lines)

	latin, _ := snap.Get(types.Key{Path: "latin1.txt"})
	require.NotNil(t, latin.Content)
	assert.Equal(t, "caf\uFFFD", *latin.Content)
}

func TestSnapshotPrunesUnobservableDirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "keep/a.txt", "a")
	writeFile(t, dir, "node_modules/pkg/index.js", "x")

	s := New(Options{})
	snap, err := s.Snapshot(context.Background(),
		[]types.Root{{Path: dir}},
		map[string]Matcher{"": skipNames{"node_modules": true}})
	require.NoError(t, err)

	assert.True(t, snap.Has(types.Key{Path: "keep/a.txt"}))
	assert.False(t, snap.Has(types.Key{Path: "node_modules"}))
	assert.False(t, snap.Has(types.Key{Path: "node_modules/pkg/index.js"}))
}

func TestSnapshotMultipleRoots(t *testing.T) {
	t.Parallel()
	main, wt := t.TempDir(), t.TempDir()
	writeFile(t, main, "a.txt", "a")
	writeFile(t, wt, "a.txt", "b")

	s := New(Options{})
	snap, err := s.Snapshot(context.Background(), []types.Root{
		{Path: main},
		{ID: "wt", Path: wt, Forced: true},
	}, nil)
	require.NoError(t, err)
	assert.True(t, snap.Has(types.Key{Path: "a.txt"}))
	assert.True(t, snap.Has(types.Key{Root: "wt", Path: "a.txt"}))
	assert.True(t, snap.Has(types.Key{Root: "wt", Path: "."}))
}

func TestSnapshotMissingRoot(t *testing.T) {
	t.Parallel()
	s := New(Options{})
	_, err := s.Snapshot(context.Background(), []types.Root{{Path: filepath.Join(t.TempDir(), "gone")}}, nil)
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestSnapshotHonoursCancellation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{})
	_, err := s.Snapshot(ctx, []types.Root{{Path: dir}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pkg/a.go", "package pkg\n")
	writeFile(t, dir, "pkg/sub/b.go", "package sub\n")
	root := types.Root{Path: dir}
	s := New(Options{})
	ctx := context.Background()

	entries, err := s.Read(ctx, root, "pkg/a.go", MatchAll)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pkg/a.go", entries[0].Path)
	assert.Equal(t, 1, entries[0].Lines)

	entries, err = s.Read(ctx, root, "pkg", MatchAll)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"pkg", "pkg/a.go", "pkg/sub", "pkg/sub/b.go"}, paths)

	entries, err = s.Read(ctx, root, "missing.txt", MatchAll)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.Read(ctx, root, "pkg/a.go", skipNames{"a.go": true})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadSkipsSymlinks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "real.txt", "x")
	if err := os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	s := New(Options{})
	entries, err := s.Read(context.Background(), types.Root{Path: dir}, "link.txt", MatchAll)
	require.NoError(t, err)
	assert.Empty(t, entries)

	snap, err := s.Snapshot(context.Background(), []types.Root{{Path: dir}}, nil)
	require.NoError(t, err)
	assert.False(t, snap.Has(types.Key{Path: "link.txt"}))
}

func TestLineCacheFollowsFingerprint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "f.txt", "1\n2\n")
	root := types.Root{Path: dir}
	s := New(Options{})

	first, err := s.Read(context.Background(), root, "f.txt", MatchAll)
	require.NoError(t, err)
	assert.Equal(t, 2, first[0].Lines)

	writeFile(t, dir, "f.txt", "1\n2\n3\n4\n")
	second, err := s.Read(context.Background(), root, "f.txt", MatchAll)
	require.NoError(t, err)
	assert.Equal(t, 4, second[0].Lines, "size change invalidates the cached count")

	s.Forget(dir)
	s.mu.Lock()
	assert.Empty(t, s.lines)
	s.mu.Unlock()
}

func TestCountFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := map[string]int{
		"":          0,
		"a":         1,
		"a\n":       1,
		"a\nb":      2,
		"a\n\n\nb\n": 4,
	}
	for data, want := range tests {
		p := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
		got, err := countFile(p)
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", data)
		assert.Equal(t, types.CountLines([]byte(data)), got, "%q", data)
	}
}
