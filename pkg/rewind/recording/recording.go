// Package recording defines the persisted form of a capture session and the
// Recorder that writes it incrementally.
//
// On disk a recording is JSON Lines: a header object holding the start time
// and initial state, followed by one event object per line. Earlier lines are
// never rewritten, so a session cut short leaves a readable prefix. The same
// data can also be stored as a single JSON document, which is what exports
// and share tokens use; Load accepts either.
package recording

import (
	"fmt"
	"math"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// FormatVersion tags JSON Lines headers.
const FormatVersion = "rewind/1"

// Source records how a recording was produced.
type Source string

const (
	SourceLive    Source = "live"
	SourceHistory Source = "history"
	SourceToken   Source = "token"
)

// Recording is a header plus an ordered event log.
type Recording struct {
	ID string `json:"id,omitempty"`

	// StartTime is the wall-clock start in Unix seconds, for display only.
	StartTime float64 `json:"start_time"`

	Source Source       `json:"source,omitempty"`
	Roots  []types.Root `json:"roots,omitempty"`

	InitialState []types.Entry `json:"initial_state"`
	Events       []types.Event `json:"events"`
}

// StartedAt converts StartTime to a time.Time.
func (r *Recording) StartedAt() time.Time {
	sec, frac := math.Modf(r.StartTime)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Duration is the timestamp of the last event.
func (r *Recording) Duration() time.Duration {
	if len(r.Events) == 0 {
		return 0
	}
	return time.Duration(r.Events[len(r.Events)-1].Timestamp * float64(time.Second))
}

// End is the timestamp of the last event in seconds, 0 without events.
func (r *Recording) End() float64 {
	if len(r.Events) == 0 {
		return 0
	}
	return r.Events[len(r.Events)-1].Timestamp
}

// Initial returns the initial state as a snapshot.
func (r *Recording) Initial() *snapshot.Snapshot {
	return snapshot.FromEntries(r.InitialState)
}

// HasContent reports whether any entry or event embeds content.
func (r *Recording) HasContent() bool {
	for _, e := range r.InitialState {
		if e.Content != nil {
			return true
		}
	}
	for _, ev := range r.Events {
		if ev.Content != nil {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with r.
func (r *Recording) Clone() *Recording {
	out := *r
	out.Roots = append([]types.Root(nil), r.Roots...)
	out.InitialState = append([]types.Entry(nil), r.InitialState...)
	out.Events = append([]types.Event(nil), r.Events...)
	if r.InitialState != nil && out.InitialState == nil {
		out.InitialState = []types.Entry{}
	}
	if r.Events != nil && out.Events == nil {
		out.Events = []types.Event{}
	}
	return &out
}

// WithoutContent returns a copy with all embedded content removed.
func (r *Recording) WithoutContent() *Recording {
	out := r.Clone()
	for i := range out.InitialState {
		out.InitialState[i].Content = nil
	}
	for i := range out.Events {
		out.Events[i].Content = nil
	}
	return out
}

// CheckOrder verifies that event timestamps never decrease.
func (r *Recording) CheckOrder() error {
	for i := 1; i < len(r.Events); i++ {
		if r.Events[i].Timestamp < r.Events[i-1].Timestamp || math.IsNaN(r.Events[i].Timestamp) {
			return &OrderingError{Last: r.Events[i-1].Timestamp, Got: r.Events[i].Timestamp, Path: r.Events[i].Path}
		}
	}
	return nil
}

// Validate checks ordering and that every path follows the lifecycle:
// modified and deleted only while the path exists, created only while it
// does not. Paths in the initial state exist from the start.
func (r *Recording) Validate() error {
	if err := r.CheckOrder(); err != nil {
		return err
	}
	alive := make(map[types.Key]bool, len(r.InitialState))
	for _, e := range r.InitialState {
		alive[e.Key()] = true
	}
	for i, ev := range r.Events {
		k := ev.Key()
		switch ev.Kind {
		case types.Created:
			if alive[k] {
				return fmt.Errorf("%w: event %d creates existing %s", ErrLifecycle, i, k)
			}
			alive[k] = true
		case types.Modified:
			if !alive[k] {
				return fmt.Errorf("%w: event %d modifies absent %s", ErrLifecycle, i, k)
			}
		case types.Deleted:
			if !alive[k] {
				return fmt.Errorf("%w: event %d deletes absent %s", ErrLifecycle, i, k)
			}
			delete(alive, k)
		default:
			return fmt.Errorf("%w: event %d has kind %v", ErrLifecycle, i, ev.Kind)
		}
	}
	return nil
}
