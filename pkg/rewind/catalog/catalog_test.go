package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutAssignsID(t *testing.T) {
	c := openCatalog(t)

	id, err := c.Put(Meta{Path: "/tmp/a.jsonl", Events: 3})
	require.NoError(t, err)
	assert.Len(t, id, 26, "ulid")

	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 3, got.Events)
	assert.False(t, got.Added.IsZero())
}

func TestGetMissing(t *testing.T) {
	c := openCatalog(t)
	_, err := c.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.FindByPath("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByPathAndReplace(t *testing.T) {
	c := openCatalog(t)
	path := filepath.Join(t.TempDir(), "session.jsonl")

	first, err := c.Put(Meta{Path: path, Events: 1})
	require.NoError(t, err)
	second, err := c.Put(Meta{Path: path, Events: 2})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	got, err := c.FindByPath(path)
	require.NoError(t, err)
	assert.Equal(t, second, got.ID)
	assert.Equal(t, 2, got.Events)

	_, err = c.Get(first)
	assert.ErrorIs(t, err, ErrNotFound, "the older entry for the path is replaced")

	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListNewestFirst(t *testing.T) {
	c := openCatalog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[name]
		_, err := c.Put(Meta{
			ID:        name,
			Path:      filepath.Join("/recordings", name),
			StartTime: base.Add(offset),
			Events:    i,
		})
		require.NoError(t, err)
	}

	all, err := c.List()
	require.NoError(t, err)
	var ids []string
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestDelete(t *testing.T) {
	c := openCatalog(t)
	id, err := c.Put(Meta{Path: "/tmp/gone.jsonl"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(id))
	_, err = c.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.FindByPath("/tmp/gone.jsonl")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(id), ErrNotFound)
}

func TestPrune(t *testing.T) {
	c := openCatalog(t)
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.jsonl")
	require.NoError(t, os.WriteFile(kept, []byte("{}"), 0o644))

	_, err := c.Put(Meta{Path: kept})
	require.NoError(t, err)
	_, err = c.Put(Meta{Path: filepath.Join(dir, "missing.jsonl")})
	require.NoError(t, err)

	n, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := c.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kept, all[0].Path)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	id, err := c.Put(Meta{Path: "/tmp/x.jsonl"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.jsonl", got.Path)
}

func TestMetaFor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.jsonl")
	text := "hello\n"
	rec := &recording.Recording{
		StartTime: 1_700_000_000,
		Source:    recording.SourceLive,
		Roots:     []types.Root{{Path: dir}},
		InitialState: []types.Entry{
			{Path: ".", IsDir: true},
		},
		Events: []types.Event{
			{Timestamp: 0.5, Kind: types.Created, Path: "a.txt", Size: 6, Lines: 1, Content: &text},
			{Timestamp: 1.5, Kind: types.Modified, Path: "a.txt", Size: 12, Lines: 2},
			{Timestamp: 2.5, Kind: types.Deleted, Path: "a.txt"},
		},
	}
	require.NoError(t, recording.WriteFile(path, rec, recording.FormatLines))

	m := MetaFor(path, rec)
	assert.Equal(t, recording.SourceLive, m.Source)
	assert.Equal(t, []string{dir}, m.Roots)
	assert.InDelta(t, 2.5, m.Duration, 1e-9)
	assert.Equal(t, 3, m.Events)
	assert.Equal(t, 1, m.Created)
	assert.Equal(t, 1, m.Modified)
	assert.Equal(t, 1, m.Deleted)
	assert.True(t, m.Content)
	assert.Positive(t, m.Size)
	assert.Equal(t, int64(1_700_000_000), m.StartTime.Unix())
}

func TestOpenInMemory(t *testing.T) {
	c, err := OpenInMemory()
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Put(Meta{})
	require.NoError(t, err)
	all, err := c.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
