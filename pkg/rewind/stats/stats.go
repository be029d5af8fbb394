// Package stats derives session statistics from a recording or, incrementally,
// from a live event stream. Statistics are never persisted; both paths yield
// the same numbers for the same events.
package stats

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

const (
	// RateWindow is the trailing window, in seconds, behind EventsPerMinute.
	RateWindow = 60.0

	// DefaultBuckets is the number of activity slices reported.
	DefaultBuckets = 50

	// DefaultTopExtensions is the number of extensions reported.
	DefaultTopExtensions = 5
)

// Bucket counts the events in one slice of the session.
type Bucket struct {
	Created  int `json:"created" yaml:"created"`
	Modified int `json:"modified" yaml:"modified"`
	Deleted  int `json:"deleted" yaml:"deleted"`
}

// Total is the number of events in the bucket.
func (b Bucket) Total() int {
	return b.Created + b.Modified + b.Deleted
}

// ExtCount is the number of live files with an extension.
type ExtCount struct {
	Ext   string `json:"ext" yaml:"ext"`
	Count int    `json:"count" yaml:"count"`
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	// Duration is the session length in seconds.
	Duration float64 `json:"duration" yaml:"duration"`

	Created  int `json:"created" yaml:"created"`
	Modified int `json:"modified" yaml:"modified"`
	Deleted  int `json:"deleted" yaml:"deleted"`

	Files     int   `json:"files" yaml:"files"`
	Dirs      int   `json:"dirs" yaml:"dirs"`
	PeakFiles int   `json:"peak_files" yaml:"peak_files"`
	PeakDirs  int   `json:"peak_dirs" yaml:"peak_dirs"`
	Bytes     int64 `json:"bytes" yaml:"bytes"`

	// EventsPerMinute counts events in the trailing RateWindow.
	EventsPerMinute int `json:"events_per_minute" yaml:"events_per_minute"`

	Activity      []Bucket   `json:"activity,omitempty" yaml:"activity,omitempty"`
	TopExtensions []ExtCount `json:"top_extensions,omitempty" yaml:"top_extensions,omitempty"`
}

// Events is the total number of events.
func (s Stats) Events() int {
	return s.Created + s.Modified + s.Deleted
}

type liveEntry struct {
	size int64
	dir  bool
}

type stamp struct {
	at   float64
	kind types.EventKind
}

// Tracker accumulates statistics from events as they arrive. It is safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	created, modified, deleted int
	files, dirs                int
	peakFiles, peakDirs        int
	bytes                      int64

	live   map[types.Key]liveEntry
	exts   map[string]int
	stamps []stamp
}

// NewTracker seeds a tracker with the state events will be applied to. The
// root entry "." is not counted as a directory.
func NewTracker(initial *snapshot.Snapshot) *Tracker {
	t := &Tracker{
		live:  make(map[types.Key]liveEntry),
		exts:  make(map[string]int),
	}
	if initial == nil {
		return t
	}
	initial.Range(func(e types.Entry) bool {
		t.add(e)
		return true
	})
	t.peakFiles, t.peakDirs = t.files, t.dirs
	return t
}

func (t *Tracker) add(e types.Entry) {
	k := e.Key()
	t.remove(k)
	t.live[k] = liveEntry{size: e.Size, dir: e.IsDir}
	t.bytes += e.Size
	switch {
	case e.IsDir && e.Path == types.RootDir:
	case e.IsDir:
		t.dirs++
	default:
		t.files++
		if ext := e.Ext(); ext != "" {
			t.exts[ext]++
		}
	}
}

func (t *Tracker) remove(k types.Key) {
	l, ok := t.live[k]
	if !ok {
		return
	}
	delete(t.live, k)
	t.bytes -= l.size
	switch {
	case l.dir && k.Path == types.RootDir:
	case l.dir:
		t.dirs--
	default:
		t.files--
		if ext := types.Ext(k.Path); ext != "" && t.exts[ext] > 0 {
			t.exts[ext]--
		}
	}
}

// Observe folds events into the tracker.
func (t *Tracker) Observe(events ...types.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ev := range events {
		t.stamps = append(t.stamps, stamp{at: ev.Timestamp, kind: ev.Kind})
		switch ev.Kind {
		case types.Created:
			t.created++
			t.add(ev.Entry())
		case types.Modified:
			t.modified++
			k := ev.Key()
			if l, ok := t.live[k]; ok && l.dir == ev.IsDir {
				t.bytes += ev.Size - l.size
				t.live[k] = liveEntry{size: ev.Size, dir: ev.IsDir}
			} else {
				t.add(ev.Entry())
			}
		case types.Deleted:
			t.deleted++
			t.remove(ev.Key())
		}
		if t.files > t.peakFiles {
			t.peakFiles = t.files
		}
		if t.dirs > t.peakDirs {
			t.peakDirs = t.dirs
		}
	}
}

// Snapshot reports statistics as of session time now, in seconds.
func (t *Tracker) Snapshot(now float64) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Duration:  now,
		Created:   t.created,
		Modified:  t.modified,
		Deleted:   t.deleted,
		Files:     t.files,
		Dirs:      t.dirs,
		PeakFiles: t.peakFiles,
		PeakDirs:  t.peakDirs,
		Bytes:     t.bytes,
	}

	cutoff := now - RateWindow
	i := sort.Search(len(t.stamps), func(i int) bool { return t.stamps[i].at >= cutoff })
	for _, st := range t.stamps[i:] {
		if st.at <= now {
			s.EventsPerMinute++
		}
	}

	s.Activity = buckets(t.stamps, now, DefaultBuckets)
	s.TopExtensions = topExtensions(t.exts, DefaultTopExtensions)
	return s
}

// buckets splits [0, duration] into n slices and counts events per slice.
// Events past duration fall into the last slice.
func buckets(stamps []stamp, duration float64, n int) []Bucket {
	out := make([]Bucket, n)
	if n == 0 || duration <= 0 || len(stamps) == 0 {
		return out
	}
	width := duration / float64(n)
	for _, st := range stamps {
		idx := int(st.at / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		switch st.kind {
		case types.Created:
			out[idx].Created++
		case types.Modified:
			out[idx].Modified++
		case types.Deleted:
			out[idx].Deleted++
		}
	}
	return out
}

func topExtensions(counts map[string]int, n int) []ExtCount {
	var out []ExtCount
	for ext, c := range counts {
		if c > 0 {
			out = append(out, ExtCount{Ext: ext, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Ext < out[j].Ext
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// FromRecording computes statistics over a whole recording.
func FromRecording(r *recording.Recording) Stats {
	t := NewTracker(r.Initial())
	t.Observe(r.Events...)
	return t.Snapshot(r.End())
}

// FormatDuration renders seconds as "1h 2m", "3m 4s" or "5s".
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
