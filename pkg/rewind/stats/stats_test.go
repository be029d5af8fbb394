package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

func created(ts float64, path string, size int64, dir bool) types.Event {
	return types.Event{Timestamp: ts, Kind: types.Created, Path: path, Size: size, IsDir: dir}
}

func deleted(ts float64, path string, dir bool) types.Event {
	return types.Event{Timestamp: ts, Kind: types.Deleted, Path: path, IsDir: dir}
}

func TestPeakTracking(t *testing.T) {
	t.Parallel()
	initial := snapshot.FromEntries([]types.Entry{
		{Path: ".", IsDir: true},
		{Path: "a.go", Size: 10},
	})
	tr := NewTracker(initial)

	tr.Observe(
		created(1, "src", 0, true),
		created(1, "src/b.go", 5, false),
		created(2, "src/c.rs", 7, false),
		deleted(3, "src/b.go", false),
		deleted(3, "src/c.rs", false),
		deleted(3, "src", true),
	)
	s := tr.Snapshot(3)

	assert.Equal(t, 3, s.Created)
	assert.Equal(t, 3, s.Deleted)
	assert.Equal(t, 1, s.Files)
	assert.Equal(t, 0, s.Dirs)
	assert.Equal(t, 3, s.PeakFiles)
	assert.Equal(t, 1, s.PeakDirs)
	assert.Equal(t, int64(10), s.Bytes)
	assert.Equal(t, []ExtCount{{Ext: "go", Count: 1}}, s.TopExtensions)
}

func TestModifiedAdjustsBytes(t *testing.T) {
	t.Parallel()
	tr := NewTracker(snapshot.FromEntries([]types.Entry{{Path: "f.txt", Size: 10}}))
	tr.Observe(types.Event{Timestamp: 1, Kind: types.Modified, Path: "f.txt", Size: 25})

	s := tr.Snapshot(1)
	assert.Equal(t, 1, s.Modified)
	assert.Equal(t, int64(25), s.Bytes)
	assert.Equal(t, 1, s.Files)
}

func TestEventsPerMinute(t *testing.T) {
	t.Parallel()
	tr := NewTracker(nil)
	tr.Observe(
		created(10, "a", 0, false),
		created(70, "b", 0, false),
		created(100, "c", 0, false),
		created(130, "d", 0, false),
	)

	assert.Equal(t, 2, tr.Snapshot(100).EventsPerMinute)
	assert.Equal(t, 3, tr.Snapshot(130).EventsPerMinute)
	assert.Equal(t, 0, tr.Snapshot(500).EventsPerMinute)
}

func TestActivityBuckets(t *testing.T) {
	t.Parallel()
	tr := NewTracker(nil)
	tr.Observe(
		created(0, "a", 0, false),
		types.Event{Timestamp: 49.5, Kind: types.Modified, Path: "a"},
		deleted(100, "a", false),
	)
	s := tr.Snapshot(100)
	require.Len(t, s.Activity, DefaultBuckets)
	assert.Equal(t, Bucket{Created: 1}, s.Activity[0])
	assert.Equal(t, Bucket{Modified: 1}, s.Activity[24])
	assert.Equal(t, Bucket{Deleted: 1}, s.Activity[DefaultBuckets-1])

	total := 0
	for _, b := range s.Activity {
		total += b.Total()
	}
	assert.Equal(t, s.Events(), total)

	empty := NewTracker(nil).Snapshot(0)
	assert.Len(t, empty.Activity, DefaultBuckets)
}

func TestTopExtensionsOrdering(t *testing.T) {
	t.Parallel()
	tr := NewTracker(nil)
	var events []types.Event
	for _, p := range []string{"a.go", "b.go", "c.go", "d.md", "e.md", "f.rs", "g.ts", "h.py", "i.c", "Makefile"} {
		events = append(events, created(1, p, 1, false))
	}
	tr.Observe(events...)

	top := tr.Snapshot(1).TopExtensions
	require.Len(t, top, DefaultTopExtensions)
	assert.Equal(t, ExtCount{Ext: "go", Count: 3}, top[0])
	assert.Equal(t, ExtCount{Ext: "md", Count: 2}, top[1])
	assert.Equal(t, "c", top[2].Ext, "ties break alphabetically")
}

func TestFromRecordingMatchesTracker(t *testing.T) {
	t.Parallel()
	rec := &recording.Recording{
		InitialState: []types.Entry{{Path: ".", IsDir: true}, {Path: "x.txt", Size: 3}},
		Events: []types.Event{
			created(0.5, "y.txt", 4, false),
			{Timestamp: 1.5, Kind: types.Modified, Path: "x.txt", Size: 9},
			deleted(2.5, "y.txt", false),
		},
	}

	tr := NewTracker(rec.Initial())
	for _, ev := range rec.Events {
		tr.Observe(ev)
	}
	assert.Equal(t, tr.Snapshot(rec.End()), FromRecording(rec))

	s := FromRecording(rec)
	assert.Equal(t, 2.5, s.Duration)
	assert.Equal(t, 2, s.PeakFiles)
	assert.Equal(t, int64(9), s.Bytes)
}

func TestTrackerConcurrentUse(t *testing.T) {
	t.Parallel()
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Observe(types.Event{Timestamp: 1, Kind: types.Modified, Path: "f"})
				_ = tr.Snapshot(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, tr.Snapshot(1).Modified)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{5.9, "5s"},
		{184, "3m 4s"},
		{3720, "1h 2m"},
		{-3, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
