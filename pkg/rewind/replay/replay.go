// Package replay reconstructs tree states from a recording and plays its
// events back in scaled real time.
//
// State at any timestamp is a pure fold of the initial state with every
// event at or before it. Immutable checkpoints every CheckpointInterval
// events bound the work of a single fold. The Engine also keeps a cursor for
// interactive playback; the Recording itself is never modified.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// CheckpointInterval is the number of events between stored snapshots.
const CheckpointInterval = 256

var (
	// ErrInvalidSpeed is returned by Play for a speed that is not positive.
	ErrInvalidSpeed = errors.New("replay speed must be positive")

	// ErrEnd is returned by Play once every event has been emitted.
	ErrEnd = errors.New("end of recording")

	// ErrPlaying is returned by Play while another Play is running.
	ErrPlaying = errors.New("replay already playing")
)

// Direction selects which way Step moves.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Clock abstracts wall time for Play.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used by Play.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// Frame is the cursor state handed to a consumer.
type Frame struct {
	// Index is the number of events applied.
	Index int

	// Position is the playback time in seconds.
	Position float64

	Snapshot *snapshot.Snapshot

	// Event is the event that produced this frame, nil after a seek.
	Event *types.Event

	// Delta is Event's change relative to the prior state of its path.
	Delta types.Delta
}

// Engine replays one recording.
type Engine struct {
	rec         *recording.Recording
	events      []types.Event
	deltas      []types.Delta
	checkpoints []*snapshot.Snapshot
	clock       Clock

	mu       sync.Mutex
	cursor   int
	position float64
	gen      uint64
	playing  bool
	pause    chan struct{}
}

// New prepares rec for replay. It fails when event timestamps decrease.
func New(rec *recording.Recording, opts ...Option) (*Engine, error) {
	if rec == nil {
		return nil, fmt.Errorf("replay: nil recording")
	}
	if err := rec.CheckOrder(); err != nil {
		return nil, err
	}

	e := &Engine{
		rec:    rec,
		events: rec.Events,
		deltas: make([]types.Delta, len(rec.Events)),
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(e)
	}

	b := snapshot.NewBuilder()
	for _, entry := range rec.InitialState {
		b.Put(entry)
	}
	e.checkpoints = append(e.checkpoints, b.Build())
	for i, ev := range e.events {
		var prev *types.Entry
		if entry, ok := b.Get(ev.Key()); ok {
			prev = &entry
		}
		e.deltas[i] = types.DeltaOf(prev, ev)
		b.Apply(ev)
		if (i+1)%CheckpointInterval == 0 {
			e.checkpoints = append(e.checkpoints, b.Build())
		}
	}

	logging.Get("replay").Debug("engine ready", "events", len(e.events), "checkpoints", len(e.checkpoints))
	return e, nil
}

// Recording returns the recording being replayed.
func (e *Engine) Recording() *recording.Recording {
	return e.rec
}

// Len returns the number of events.
func (e *Engine) Len() int {
	return len(e.events)
}

// Duration is the timestamp of the last event.
func (e *Engine) Duration() float64 {
	return e.rec.End()
}

// count returns how many events have a timestamp at or before t.
func (e *Engine) count(t float64) int {
	return sort.Search(len(e.events), func(i int) bool {
		return e.events[i].Timestamp > t
	})
}

// stateAfter folds the first n events from the nearest checkpoint.
func (e *Engine) stateAfter(n int) *snapshot.Snapshot {
	c := n / CheckpointInterval
	base := e.checkpoints[c]
	start := c * CheckpointInterval
	if start == n {
		return base
	}
	return snapshot.Apply(base, e.events[start:n])
}

// At returns the tree at timestamp t. It depends only on the recording and t.
func (e *Engine) At(t float64) *snapshot.Snapshot {
	return e.stateAfter(e.count(t))
}

// DeltasAt returns, for every path changed at or before t, the delta of its
// most recent change.
func (e *Engine) DeltasAt(t float64) map[types.Key]types.Delta {
	n := e.count(t)
	out := make(map[types.Key]types.Delta)
	for i := 0; i < n; i++ {
		out[e.events[i].Key()] = e.deltas[i]
	}
	return out
}

// EventsAt returns the events at or before t.
func (e *Engine) EventsAt(t float64) []types.Event {
	n := e.count(t)
	return e.events[:n:n]
}

// Position returns the cursor time.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Index returns the number of events the cursor has applied.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Current returns the frame at the cursor.
func (e *Engine) Current() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameLocked(false)
}

func (e *Engine) frameLocked(withEvent bool) Frame {
	f := Frame{
		Index:    e.cursor,
		Position: e.position,
		Snapshot: e.stateAfter(e.cursor),
	}
	if withEvent && e.cursor > 0 {
		ev := e.events[e.cursor-1]
		f.Event = &ev
		f.Delta = e.deltas[e.cursor-1]
	}
	return f
}

// Recent returns up to n events before the cursor, oldest first.
func (e *Engine) Recent(n int) []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.cursor - n
	if start < 0 {
		start = 0
	}
	return append([]types.Event(nil), e.events[start:e.cursor]...)
}

// Seek moves the cursor to t, clamped to zero.
func (e *Engine) Seek(t float64) Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	e.cursor = e.count(t)
	e.position = t
	e.gen++
	return e.frameLocked(false)
}

// Reset rewinds to the initial state.
func (e *Engine) Reset() Frame {
	return e.Seek(0)
}

// Step moves the cursor over one group of events sharing a timestamp.
// Forward applies the next group, Backward undoes the last applied one. It
// returns the new position and false when there was nothing to step over.
func (e *Engine) Step(dir Direction) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch dir {
	case Forward:
		if e.cursor >= len(e.events) {
			return e.position, false
		}
		ts := e.events[e.cursor].Timestamp
		for e.cursor < len(e.events) && e.events[e.cursor].Timestamp == ts {
			e.cursor++
		}
		e.position = ts
	case Backward:
		if e.cursor == 0 {
			return e.position, false
		}
		ts := e.events[e.cursor-1].Timestamp
		for e.cursor > 0 && e.events[e.cursor-1].Timestamp == ts {
			e.cursor--
		}
		e.position = 0
		if e.cursor > 0 {
			e.position = e.events[e.cursor-1].Timestamp
		}
	}
	e.gen++
	return e.position, true
}

// Pause interrupts a running Play. It is a no-op otherwise.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing && e.pause != nil {
		close(e.pause)
		e.pause = nil
	}
}

// Playing reports whether Play is running.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Play emits the remaining events in real time scaled by speed, calling yield
// with each frame as its timestamp elapses. The cursor moves before yield
// runs, so an interrupted Play resumes at the following event.
//
// A cancelled context or Pause during a wait returns without emitting,
// leaving the position advanced by the scaled time that passed. Both are
// also checked after every yield, including between events that share a
// timestamp. Play returns ctx.Err() on cancellation, nil on Pause, ErrEnd
// once every event has been emitted, and any error yield returns.
func (e *Engine) Play(ctx context.Context, speed float64, yield func(Frame) error) error {
	if !(speed > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}

	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return ErrPlaying
	}
	e.playing = true
	pause := make(chan struct{})
	e.pause = pause
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.playing = false
		e.pause = nil
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		if e.cursor >= len(e.events) {
			e.mu.Unlock()
			return ErrEnd
		}
		gen := e.gen
		from := e.position
		next := e.events[e.cursor].Timestamp
		e.mu.Unlock()

		select {
		case <-pause:
			return nil
		default:
		}
		if wait := scaled(next-from, speed); wait > 0 {
			started := e.clock.Now()
			select {
			case <-e.clock.After(wait):
			case <-ctx.Done():
				e.advance(gen, from, next, e.clock.Now().Sub(started), speed)
				return ctx.Err()
			case <-pause:
				e.advance(gen, from, next, e.clock.Now().Sub(started), speed)
				return nil
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.Lock()
		if e.gen != gen {
			// The cursor moved while waiting; plan again from there.
			e.mu.Unlock()
			continue
		}
		e.position = next
		for e.cursor < len(e.events) && e.events[e.cursor].Timestamp == next {
			e.cursor++
			frame := e.frameLocked(true)
			e.mu.Unlock()
			if err := yield(frame); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-pause:
				return nil
			default:
			}
			e.mu.Lock()
			if e.gen != gen {
				break
			}
		}
		e.mu.Unlock()
	}
}

// advance moves the position forward by the scaled elapsed time without
// reaching the next event.
func (e *Engine) advance(gen uint64, from, next float64, elapsed time.Duration, speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	pos := from + elapsed.Seconds()*speed
	if limit := math.Nextafter(next, math.Inf(-1)); pos > limit {
		pos = limit
	}
	if pos > e.position {
		e.position = pos
	}
}

func scaled(seconds, speed float64) time.Duration {
	if seconds <= 0 || math.IsInf(speed, 1) {
		return 0
	}
	return time.Duration(math.Round(seconds / speed * float64(time.Second)))
}
