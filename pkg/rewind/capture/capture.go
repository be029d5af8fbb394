// Package capture turns raw filesystem notifications into ordered batches of
// semantic change events.
//
// A Loop owns the snapshot of its roots. Notifications are collected until
// the debounce window closes, the affected paths are re-read, and the diff
// against the held snapshot becomes the next batch. The held snapshot is
// mutated only by the loop; consumers receive immutable snapshots.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/scanner"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

const (
	// DefaultDebounce is the quiet period before pending notifications are read.
	DefaultDebounce = 100 * time.Millisecond

	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 200 * time.Millisecond
)

// ErrRunning is returned by Run when the loop has already been started.
var ErrRunning = errors.New("capture loop already started")

// State is the lifecycle stage of a Loop.
type State int32

const (
	Idle State = iota
	Watching
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Batch is the outcome of one debounce window.
type Batch struct {
	// Events transform the previous snapshot into Snapshot, all stamped with
	// Time. Empty for the initial batch.
	Events []types.Event

	Snapshot *snapshot.Snapshot

	// Time is the session-elapsed time in seconds.
	Time float64

	// Initial marks the first batch, carrying the initial snapshot.
	Initial bool
}

// Reader acquires snapshots and re-reads paths. *scanner.Scanner is the
// production implementation.
type Reader interface {
	Snapshot(ctx context.Context, roots []types.Root, matchers map[string]scanner.Matcher) (*snapshot.Snapshot, error)
	Read(ctx context.Context, root types.Root, rel string, m scanner.Matcher) ([]types.Entry, error)
}

// Options configures a Loop.
type Options struct {
	Debounce time.Duration

	// RetryAttempts is how often a path that fails to read is tried before
	// a warning is raised. RetryBackoff is the first delay between attempts;
	// it doubles each time.
	RetryAttempts int
	RetryBackoff  time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// OnWarning receives non-fatal problems. It is called from the loop
	// goroutine and must not block.
	OnWarning func(Warning)
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %v", o.Debounce)
	}
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// Loop is the capture state machine for one root set.
type Loop struct {
	roots    []types.Root
	byID     map[string]types.Root
	matchers map[string]scanner.Matcher
	src      Source
	scan     Reader
	opts     Options
	log      *logging.Logger

	state   atomic.Int32
	current atomic.Pointer[snapshot.Snapshot]

	held  *snapshot.Snapshot
	start time.Time
	last  float64

	// failures counts consecutive failed reads per path.
	failures map[types.Key]int
}

// New returns an idle loop over roots. Matchers are looked up by root ID.
func New(roots []types.Root, src Source, scan Reader, matchers map[string]scanner.Matcher, opts Options) (*Loop, error) {
	if len(roots) == 0 {
		return nil, errors.New("capture needs at least one root")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		roots:    roots,
		byID:     make(map[string]types.Root, len(roots)),
		matchers: matchers,
		src:      src,
		scan:     scan,
		opts:     opts,
		log:      logging.Get("capture"),
		failures: make(map[types.Key]int),
	}
	for _, r := range roots {
		if _, dup := l.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate root id %q", r.ID)
		}
		l.byID[r.ID] = r
	}
	return l, nil
}

// State returns the current lifecycle stage.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Snapshot returns the latest held snapshot, nil before the initial scan.
func (l *Loop) Snapshot() *snapshot.Snapshot {
	return l.current.Load()
}

func (l *Loop) matcher(root string) scanner.Matcher {
	if m := l.matchers[root]; m != nil {
		return m
	}
	return scanner.MatchAll
}

// Run takes the initial snapshot, hands it to handler, then turns
// notifications into batches until ctx is cancelled. Pending notifications
// are flushed before Run returns. A handler error wrapping
// recording.ErrOrderingViolation stops the loop and is returned; other
// handler errors are reported as warnings.
func (l *Loop) Run(ctx context.Context, handler func(Batch) error) error {
	if !l.state.CompareAndSwap(int32(Idle), int32(Watching)) {
		return ErrRunning
	}
	defer l.state.Store(int32(Stopped))

	l.start = l.opts.Clock()
	initial, err := l.scan.Snapshot(ctx, l.roots, l.matchers)
	if err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	l.held = initial
	l.current.Store(initial)
	files, dirs := initial.Counts()
	l.log.Info("capture started", "roots", len(l.roots), "files", files, "dirs", dirs)
	if err := handler(Batch{Snapshot: initial, Initial: true}); err != nil {
		return err
	}

	pending := make(map[types.Key]Op)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	events, errs := l.src.Events(), l.src.Errors()

	for {
		select {
		case <-ctx.Done():
			l.state.Store(int32(Draining))
			if timer != nil {
				timer.Stop()
			}
			l.drain(events, pending)
			retry, err := l.flush(context.WithoutCancel(ctx), pending, handler)
			for _, k := range retry {
				l.giveUp(k, errors.New("still unreadable when capture stopped"))
			}
			l.log.Info("capture stopped", "elapsed", l.last)
			return err

		case n, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !l.collect(n, pending) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.opts.Debounce)
				timerC = timer.C
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			var w Warning
			if !errors.As(err, &w) {
				w = Warning{Err: err}
			}
			l.warn(w)

		case <-timerC:
			timer, timerC = nil, nil
			retry, err := l.flush(ctx, pending, handler)
			if err != nil {
				return err
			}
			clear(pending)
			if len(retry) == 0 {
				continue
			}
			for _, k := range retry {
				pending[k] = OpWrite
			}
			timer = time.NewTimer(l.backoff(retry))
			timerC = timer.C
		}
	}
}

// drain collects notifications already queued without waiting for more.
func (l *Loop) drain(events <-chan Notification, pending map[types.Key]Op) {
	if events == nil {
		return
	}
	for {
		select {
		case n, ok := <-events:
			if !ok {
				return
			}
			l.collect(n, pending)
		default:
			return
		}
	}
}

// collect records n as pending. It reports false for notifications outside
// every root or on paths no matcher could observe.
func (l *Loop) collect(n Notification, pending map[types.Key]Op) bool {
	root, ok := l.byID[n.Root]
	if !ok {
		return false
	}
	rel, err := filepath.Rel(root.Path, n.Path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel != types.RootDir {
		m := l.matcher(root.ID)
		if !m.IsObservable(rel, false, root.Forced) && !m.IsObservable(rel, true, root.Forced) {
			return false
		}
	}
	pending[types.Key{Root: root.ID, Path: rel}] = n.Op
	return true
}

// scope reduces pending keys to the set that must be re-read: each key is
// widened to its outermost ancestor missing from the held snapshot, and keys
// under another key are dropped.
func (l *Loop) scope(pending map[types.Key]Op) []types.Key {
	var keys []types.Key
	for k := range pending {
		keys = append(keys, l.widen(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Root != keys[j].Root {
			return keys[i].Root < keys[j].Root
		}
		di, dj := keys[i].Depth(), keys[j].Depth()
		if di != dj {
			return di < dj
		}
		return keys[i].Path < keys[j].Path
	})

	var cover []types.Key
	for _, k := range keys {
		covered := false
		for _, c := range cover {
			if c.Contains(k) {
				covered = true
				break
			}
		}
		if !covered {
			cover = append(cover, k)
		}
	}
	return cover
}

func (l *Loop) widen(k types.Key) types.Key {
	top := k
	for p, ok := k.Parent(); ok; p, ok = p.Parent() {
		if e, exists := l.held.Get(p); exists && e.IsDir {
			break
		}
		top = p
	}
	return top
}

// flush re-reads the pending paths, diffs them against the held snapshot and
// hands the result to handler. Paths that failed to read and have attempts
// left are returned for another try; the held snapshot keeps their old state
// meanwhile.
func (l *Loop) flush(ctx context.Context, pending map[types.Key]Op, handler func(Batch) error) (retry []types.Key, err error) {
	if len(pending) == 0 {
		return nil, nil
	}
	scope := l.scope(pending)

	read := make([]types.Key, 0, len(scope))
	var fresh []types.Entry
	for _, k := range scope {
		root := l.byID[k.Root]
		entries, err := l.scan.Read(ctx, root, k.Path, l.matcher(k.Root))
		if err != nil {
			l.failures[k]++
			if l.failures[k] >= l.opts.RetryAttempts {
				l.giveUp(k, err)
				continue
			}
			l.log.Debug("read failed, retrying", "root", k.Root, "path", k.Path, "attempt", l.failures[k], "error", err)
			retry = append(retry, k)
			continue
		}
		delete(l.failures, k)
		read = append(read, k)
		fresh = append(fresh, entries...)
	}
	if len(read) == 0 {
		return retry, nil
	}

	before := l.held.Restrict(read)
	after := snapshot.FromEntries(fresh)
	events := snapshot.Diff(before, after)

	b := snapshot.From(l.held)
	for _, k := range before.Keys() {
		if !after.Has(k) {
			b.Delete(k)
		}
	}
	for _, e := range fresh {
		b.Put(e)
	}
	l.held = b.Build()
	l.current.Store(l.held)

	if len(events) == 0 {
		return retry, nil
	}

	ts := l.opts.Clock().Sub(l.start).Seconds()
	if ts < l.last {
		ts = l.last
	}
	l.last = ts
	for i := range events {
		events[i].Timestamp = ts
	}
	l.log.Debug("batch", "paths", len(scope), "events", len(events), "time", ts)

	if err := handler(Batch{Events: events, Snapshot: l.held, Time: ts}); err != nil {
		if errors.Is(err, recording.ErrOrderingViolation) {
			return nil, err
		}
		l.warn(Warning{Err: err})
	}
	return retry, nil
}

// backoff is the delay before the next attempt of the most-failed key.
func (l *Loop) backoff(keys []types.Key) time.Duration {
	most := 0
	for _, k := range keys {
		most = max(most, l.failures[k])
	}
	return l.opts.RetryBackoff << (most - 1)
}

func (l *Loop) giveUp(k types.Key, err error) {
	attempts := l.failures[k]
	delete(l.failures, k)
	if attempts > 1 {
		err = fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	l.warn(Warning{Root: k.Root, Path: k.Path, Err: err})
}

func (l *Loop) warn(w Warning) {
	l.log.Warn("capture warning", "root", w.Root, "path", w.Path, "error", w.Err)
	if l.opts.OnWarning != nil {
		l.opts.OnWarning(w)
	}
}
