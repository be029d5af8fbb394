// Package session owns one live capture: it locks the root set, discovers
// worktrees, wires the watcher into the capture loop and records what the
// loop reports until it is stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/rewind/pkg/rewind/broadcaster"
	"github.com/jamesainslie/rewind/pkg/rewind/capture"
	"github.com/jamesainslie/rewind/pkg/rewind/filter"
	"github.com/jamesainslie/rewind/pkg/rewind/lock"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/scanner"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
	"github.com/jamesainslie/rewind/pkg/rewind/vcs"
	"github.com/jamesainslie/rewind/pkg/rewind/watcher"
)

// warningQueue bounds warnings waiting for the pump.
const warningQueue = 256

var (
	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("session already started")
	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("session not started")
)

// Config describes a session.
type Config struct {
	// Root is the main directory to capture.
	Root string

	All       bool
	Gitignore bool
	Worktrees bool
	Ignore    []string
	Exclude   []string

	// SkipDirs are absolute directories never observed, such as the
	// recordings directory when it lives under Root.
	SkipDirs []string

	IncludeContent bool
	MaxContentSize int64
	Debounce       time.Duration

	// RecordPath is the JSON Lines file to write; empty keeps the recording
	// in memory.
	RecordPath    string
	FlushInterval time.Duration

	QueueSize     int
	RetryAttempts int
	RetryBackoff  time.Duration

	// LockDir holds the root-set lock.
	LockDir string

	// Runner runs git; nil uses the git binary.
	Runner vcs.Runner

	// Source replaces the fsnotify watcher.
	Source capture.Source

	Clock func() time.Time
}

// Frame is what a renderer receives once per refresh tick.
type Frame struct {
	Snapshot *snapshot.Snapshot

	// Events and Warnings are those since the previous Frame call.
	Events   []types.Event
	Warnings []capture.Warning

	Stats   stats.Stats
	Elapsed float64
	State   capture.State
}

// Session is a single capture of a root set.
type Session struct {
	cfg      Config
	roots    []types.Root
	matchers map[string]scanner.Matcher
	lock     *lock.Lock
	src      capture.Source
	watch    *watcher.Watcher
	loop     *capture.Loop
	bcast    *broadcaster.Broadcaster
	log      *logging.Logger

	warnCh chan capture.Warning

	mu       sync.Mutex
	rec      *recording.Recorder
	tracker  *stats.Tracker
	events   []types.Event
	warnings []capture.Warning
	start    time.Time
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
	result *recording.Recording
	err    error
}

// New prepares a session and takes the root-set lock. Nothing is watched
// until Start.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		bcast:  broadcaster.New(),
		log:    logging.Get("session"),
		warnCh: make(chan capture.Warning, warningQueue),
		done:   make(chan struct{}),
	}

	var forced []string
	s.roots = []types.Root{{Path: root, Label: filepath.Base(root)}}
	if cfg.Worktrees {
		extra, nested := s.discoverWorktrees(ctx, root)
		s.roots = append(s.roots, extra...)
		forced = nested
	}

	paths := make([]string, 0, len(s.roots))
	for _, r := range s.roots {
		paths = append(paths, r.Path)
	}
	if s.lock, err = lock.Acquire(cfg.LockDir, paths); err != nil {
		return nil, err
	}

	if err := s.build(forced); err != nil {
		_ = s.lock.Release()
		if s.watch != nil {
			_ = s.watch.Close()
		}
		return nil, err
	}
	return s, nil
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// discoverWorktrees returns worktrees outside root as extra forced roots and
// the relative paths of those nested inside it.
func (s *Session) discoverWorktrees(ctx context.Context, root string) ([]types.Root, []string) {
	wts, err := vcs.Worktrees(ctx, s.cfg.Runner, root)
	if err != nil {
		s.log.Debug("no worktrees", "root", root, "error", err)
		return nil, nil
	}

	var (
		extra  []types.Root
		nested []string
		used   = map[string]bool{"": true}
	)
	for _, wt := range wts {
		rel, err := filepath.Rel(root, wt.Path)
		if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			nested = append(nested, filepath.ToSlash(rel))
			continue
		}
		id := filepath.Base(wt.Path)
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", filepath.Base(wt.Path), n)
		}
		used[id] = true
		extra = append(extra, types.Root{ID: id, Path: wt.Path, Forced: true, Label: wt.Branch})
	}
	if len(extra)+len(nested) > 0 {
		s.log.Info("discovered worktrees", "external", len(extra), "nested", len(nested))
	}
	return extra, nested
}

func (s *Session) build(forced []string) error {
	s.matchers = make(map[string]scanner.Matcher, len(s.roots))
	for _, r := range s.roots {
		opts := []filter.Option{
			filter.WithAll(s.cfg.All),
			filter.WithIgnorePatterns(s.cfg.Ignore...),
			filter.WithExclude(s.cfg.Exclude...),
			filter.WithSkipPrefixes(relativeTo(r.Path, s.cfg.SkipDirs)...),
		}
		if r.ID == "" {
			opts = append(opts, filter.WithForcedRoots(forced...))
		}
		if s.cfg.Gitignore && !r.Forced {
			rules, err := filter.LoadGitignore(r.Path)
			if err != nil {
				return fmt.Errorf("loading .gitignore files: %w", err)
			}
			opts = append(opts, filter.WithGitignoreRules(rules))
		}
		f, err := filter.New(opts...)
		if err != nil {
			return err
		}
		s.matchers[r.ID] = f
	}

	s.src = s.cfg.Source
	if s.src == nil {
		w, err := watcher.New(watcher.Options{
			QueueSize:     s.cfg.QueueSize,
			RetryAttempts: s.cfg.RetryAttempts,
			RetryBackoff:  s.cfg.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		s.watch, s.src = w, w
	}

	scan := scanner.New(scanner.Options{
		IncludeContent: s.cfg.IncludeContent,
		MaxContentSize: s.cfg.MaxContentSize,
	})
	loop, err := capture.New(s.roots, s.src, scan, s.matchers, capture.Options{
		Debounce:      s.cfg.Debounce,
		RetryAttempts: s.cfg.RetryAttempts,
		RetryBackoff:  s.cfg.RetryBackoff,
		Clock:         s.cfg.Clock,
		OnWarning:     s.queueWarning,
	})
	if err != nil {
		return err
	}
	s.loop = loop
	return nil
}

// relativeTo returns the dirs that lie inside root, relative to it.
func relativeTo(root string, dirs []string) []string {
	var out []string
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// Roots returns the roots being captured, main root first.
func (s *Session) Roots() []types.Root {
	return append([]types.Root(nil), s.roots...)
}

// Start begins watching. The session runs until ctx is cancelled or Stop is
// called; Wait returns the sealed recording.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.start = s.cfg.Clock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.watch != nil {
		for _, r := range s.roots {
			// Failures are reported as warnings by the watcher itself.
			if err := s.watch.AddRoot(ctx, r, s.matchers[r.ID]); err != nil {
				s.log.Warn("root not watched", "root", r.Path, "error", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})
	g.Go(func() error {
		defer close(loopDone)
		return s.loop.Run(gctx, s.handle)
	})
	g.Go(func() error {
		s.pumpWarnings(loopDone)
		return nil
	})

	go func() {
		s.finish(g.Wait())
	}()
	return nil
}

// handle is the capture loop's batch handler.
func (s *Session) handle(b capture.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Initial {
		rec, err := recording.Start(b.Snapshot, recording.Options{
			Path:           s.cfg.RecordPath,
			IncludeContent: s.cfg.IncludeContent,
			FlushInterval:  s.cfg.FlushInterval,
			Roots:          s.roots,
			Source:         recording.SourceLive,
			Clock:          func() time.Time { return s.start },
		})
		if err != nil {
			return err
		}
		s.rec = rec
		s.tracker = stats.NewTracker(b.Snapshot)
		s.bcast.Publish(b)
		return nil
	}

	if err := s.rec.AppendAll(b.Events); err != nil {
		return err
	}
	s.tracker.Observe(b.Events...)
	s.events = append(s.events, b.Events...)
	s.bcast.Publish(b)
	return nil
}

func (s *Session) queueWarning(w capture.Warning) {
	select {
	case s.warnCh <- w:
	default:
		s.log.Debug("warning dropped", "error", w.Err)
	}
}

// pumpWarnings moves warnings into the next frame until the loop is done.
func (s *Session) pumpWarnings(loopDone <-chan struct{}) {
	add := func(w capture.Warning) {
		s.mu.Lock()
		s.warnings = append(s.warnings, w)
		s.mu.Unlock()
	}
	for {
		select {
		case w := <-s.warnCh:
			add(w)
		case <-loopDone:
			for {
				select {
				case w := <-s.warnCh:
					add(w)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) finish(runErr error) {
	if s.watch != nil {
		_ = s.watch.Close()
	} else if s.src != nil {
		_ = s.src.Close()
	}

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	var sealErr error
	if rec != nil {
		s.result, sealErr = rec.Seal()
	}
	s.bcast.Close()
	lockErr := s.lock.Release()

	s.err = errors.Join(runErr, sealErr, lockErr)
	if s.result != nil {
		s.log.Info("session ended", "events", len(s.result.Events), "path", s.cfg.RecordPath)
	}
	close(s.done)
}

// Stop ends the session; pending notifications are still flushed.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the recording is sealed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended and returns the sealed recording.
// The recording is returned even when sealing failed, together with the
// error.
func (s *Session) Wait() (*recording.Recording, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	<-s.done
	return s.result, s.err
}

// Close releases a session that was never started.
func (s *Session) Close() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		s.Stop()
		_, err := s.Wait()
		return err
	}
	if s.src != nil {
		_ = s.src.Close()
	}
	s.bcast.Close()
	return s.lock.Release()
}

// Frame returns the current snapshot plus everything since the last call.
func (s *Session) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := Frame{
		Snapshot: s.loop.Snapshot(),
		Events:   s.events,
		Warnings: s.warnings,
		State:    s.loop.State(),
	}
	s.events, s.warnings = nil, nil
	if s.started {
		f.Elapsed = s.cfg.Clock().Sub(s.start).Seconds()
	}
	if s.tracker != nil {
		f.Stats = s.tracker.Snapshot(f.Elapsed)
	}
	return f
}

// Subscribe returns a channel of per-window batches. The initial batch is
// delivered only when initial is set and the subscription precedes it.
func (s *Session) Subscribe(initial bool) *broadcaster.Subscriber {
	return s.bcast.Subscribe(initial)
}

// Unsubscribe ends a subscription.
func (s *Session) Unsubscribe(id string) {
	s.bcast.Unsubscribe(id)
}
