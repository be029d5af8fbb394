package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jamesainslie/rewind/pkg/rewind/capture"
	"github.com/jamesainslie/rewind/pkg/rewind/replay"
	"github.com/jamesainslie/rewind/pkg/rewind/session"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

const (
	// recentLimit bounds the events pane history.
	recentLimit = 200

	// DefaultHighlight is how long, in session seconds, a change stays
	// marked in the tree.
	DefaultHighlight = 10.0

	minSpeed = 1.0 / 16
	maxSpeed = 64.0
)

// Frame is what the view renders on one refresh tick.
type Frame struct {
	Snapshot *snapshot.Snapshot

	// Marks are the changes still highlighted, oldest first, with their
	// deltas by path.
	Marks  []types.Event
	Deltas map[types.Key]types.Delta

	// Recent are the latest events, oldest first.
	Recent   []types.Event
	Warnings []string

	Stats    stats.Stats
	Position float64
	Duration float64

	// Root names the main root; Labels name the others by ID.
	Root   string
	Labels map[string]string
	Status string
	Live   bool

	// Done is set once the source has nothing more to show.
	Done bool
}

// Source feeds the view. Poll is called on every refresh tick and must not
// block on capture or playback.
type Source interface {
	Poll() Frame
}

// Controller is implemented by sources that can be steered.
type Controller interface {
	Toggle()
	Step(dir replay.Direction)
	Faster()
	Slower()
	Rewind()
}

// changeLog derives per-event deltas from consecutive live frames and keeps
// the highlighted and recent events.
type changeLog struct {
	window float64
	prev   *snapshot.Snapshot
	marked []markedEvent
	recent []types.Event
}

type markedEvent struct {
	ev    types.Event
	delta types.Delta
}

// add records events that turned the previous snapshot into next.
func (c *changeLog) add(events []types.Event, next *snapshot.Snapshot) {
	seen := make(map[types.Key]*types.Entry)
	for _, ev := range events {
		k := ev.Key()
		prev, ok := seen[k]
		if !ok && c.prev != nil {
			if e, found := c.prev.Get(k); found {
				prev = &e
			}
		}
		c.marked = append(c.marked, markedEvent{ev: ev, delta: types.DeltaOf(prev, ev)})
		if ev.Kind == types.Deleted {
			seen[k] = nil
		} else {
			e := ev.Entry()
			seen[k] = &e
		}
	}
	c.recent = append(c.recent, events...)
	if n := len(c.recent); n > recentLimit {
		c.recent = append([]types.Event(nil), c.recent[n-recentLimit:]...)
	}
	if next != nil {
		c.prev = next
	}
}

// expire drops marks older than the window before now.
func (c *changeLog) expire(now float64) {
	i := 0
	for i < len(c.marked) && c.marked[i].ev.Timestamp < now-c.window {
		i++
	}
	c.marked = c.marked[i:]
}

func (c *changeLog) marks() ([]types.Event, map[types.Key]types.Delta) {
	events := make([]types.Event, len(c.marked))
	deltas := make(map[types.Key]types.Delta, len(c.marked))
	for i, m := range c.marked {
		events[i] = m.ev
		deltas[m.ev.Key()] = m.delta
	}
	return events, deltas
}

// Live adapts a running session.
type Live struct {
	s      *session.Session
	log    changeLog
	warns  []string
	root   string
	labels map[string]string
}

// NewLive returns a Source over s.
func NewLive(s *session.Session) *Live {
	l := &Live{s: s, log: changeLog{window: DefaultHighlight}, labels: map[string]string{}}
	for _, r := range s.Roots() {
		if r.ID == "" {
			l.root = r.Label
			continue
		}
		if r.Label != "" {
			l.labels[r.ID] = r.Label
		}
	}
	return l
}

// Poll implements Source.
func (l *Live) Poll() Frame {
	f := l.s.Frame()
	l.log.add(f.Events, f.Snapshot)
	l.log.expire(f.Elapsed)
	for _, w := range f.Warnings {
		l.warns = appendWarning(l.warns, w.Error())
	}

	marks, deltas := l.log.marks()
	frame := Frame{
		Snapshot: f.Snapshot,
		Marks:    marks,
		Deltas:   deltas,
		Recent:   l.log.recent,
		Warnings: l.warns,
		Stats:    f.Stats,
		Position: f.Elapsed,
		Duration: f.Elapsed,
		Root:     l.root,
		Labels:   l.labels,
		Status:   "LIVE",
		Live:     true,
	}
	switch f.State {
	case capture.Idle:
		frame.Status = "SCANNING"
	case capture.Draining, capture.Stopped:
		frame.Status = "STOPPING"
	}
	select {
	case <-l.s.Done():
		frame.Done = true
	default:
	}
	return frame
}

// maxWarnings bounds the warnings pane.
const maxWarnings = 5

func appendWarning(warns []string, w string) []string {
	warns = append(warns, w)
	if len(warns) > maxWarnings {
		warns = warns[len(warns)-maxWarnings:]
	}
	return warns
}

// Replay adapts a replay engine and drives its playback.
type Replay struct {
	e *replay.Engine

	mu      sync.Mutex
	speed   float64
	cancel  context.CancelFunc
	done    chan struct{}
	ended   bool
	warns   []string
	tracker *stats.Tracker
	tracked int
}

// NewReplay returns a Source over e that starts playing at speed.
func NewReplay(e *replay.Engine, speed float64) *Replay {
	if !(speed > 0) {
		speed = 1
	}
	r := &Replay{e: e, speed: speed}
	r.Toggle()
	return r
}

// Poll implements Source.
func (r *Replay) Poll() Frame {
	cur := r.e.Current()
	pos := cur.Position
	events := r.e.EventsAt(pos)

	lo := len(events)
	for lo > 0 && events[lo-1].Timestamp >= pos-DefaultHighlight {
		lo--
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	frame := Frame{
		Snapshot: cur.Snapshot,
		Marks:    events[lo:],
		Deltas:   r.e.DeltasAt(pos),
		Recent:   r.e.Recent(recentLimit),
		Warnings: r.warns,
		Stats:    r.statsLocked(pos, events),
		Position: pos,
		Duration: r.e.Duration(),
	}
	frame.Root, frame.Labels = labels(r.e)
	switch {
	case r.cancel != nil:
		frame.Status = fmt.Sprintf("PLAYING %s", formatSpeed(r.speed))
	case r.ended:
		frame.Status = "END"
	default:
		frame.Status = fmt.Sprintf("PAUSED %s", formatSpeed(r.speed))
	}
	return frame
}

// statsLocked folds events into a tracker, rebuilding it after a backward
// move.
func (r *Replay) statsLocked(pos float64, events []types.Event) stats.Stats {
	if r.tracker == nil || len(events) < r.tracked {
		r.tracker = stats.NewTracker(r.e.Recording().Initial())
		r.tracked = 0
	}
	r.tracker.Observe(events[r.tracked:]...)
	r.tracked = len(events)
	return r.tracker.Snapshot(pos)
}

func labels(e *replay.Engine) (string, map[string]string) {
	var main string
	out := map[string]string{}
	for _, root := range e.Recording().Roots {
		switch {
		case root.ID == "":
			main = root.Label
		case root.Label != "":
			out[root.ID] = root.Label
		}
	}
	return main, out
}

// Toggle pauses a running playback or starts one. Playback that reached the
// end restarts from the beginning.
func (r *Replay) Toggle() {
	r.mu.Lock()
	playing := r.cancel != nil
	r.mu.Unlock()
	if playing {
		r.stop()
		return
	}
	r.play()
}

func (r *Replay) play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	if r.ended {
		r.e.Reset()
		r.ended = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	speed := r.speed

	go func() {
		defer close(done)
		err := r.e.Play(ctx, speed, func(replay.Frame) error { return nil })

		r.mu.Lock()
		defer r.mu.Unlock()
		switch {
		case errors.Is(err, replay.ErrEnd):
			r.ended = true
		case err != nil && ctx.Err() == nil:
			r.warns = appendWarning(r.warns, err.Error())
		}
		if r.done == done {
			r.cancel, r.done = nil, nil
		}
		cancel()
	}()
}

// stop cancels playback and waits for it to return.
func (r *Replay) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	r.mu.Lock()
	if r.done == done {
		r.cancel, r.done = nil, nil
	}
	r.mu.Unlock()
}

// Step pauses and moves over one group of simultaneous events.
func (r *Replay) Step(dir replay.Direction) {
	r.stop()
	if _, ok := r.e.Step(dir); ok {
		r.mu.Lock()
		r.ended = false
		r.mu.Unlock()
	}
}

// Faster doubles the speed.
func (r *Replay) Faster() { r.setSpeed(2) }

// Slower halves the speed.
func (r *Replay) Slower() { r.setSpeed(0.5) }

func (r *Replay) setSpeed(factor float64) {
	r.mu.Lock()
	r.speed = math.Min(maxSpeed, math.Max(minSpeed, r.speed*factor))
	playing := r.cancel != nil
	r.mu.Unlock()
	if playing {
		r.stop()
		r.play()
	}
}

// Speed returns the playback speed.
func (r *Replay) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// Rewind pauses and returns to the initial state.
func (r *Replay) Rewind() {
	r.stop()
	r.e.Reset()
	r.mu.Lock()
	r.ended = false
	r.mu.Unlock()
}

// Close stops playback.
func (r *Replay) Close() {
	r.stop()
}

func formatSpeed(s float64) string {
	if math.IsInf(s, 1) {
		return "∞"
	}
	if s == math.Trunc(s) {
		return fmt.Sprintf("%.0f×", s)
	}
	return fmt.Sprintf("%g×", s)
}
