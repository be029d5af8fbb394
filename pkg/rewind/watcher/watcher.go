// Package watcher is the fsnotify-backed notification source for capture.
// It watches every observable directory under its roots, adds watches as
// directories appear and drops them as they go.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/rewind/pkg/rewind/capture"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/scanner"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

const (
	DefaultQueueSize     = 4096
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 200 * time.Millisecond

	errorQueueSize = 64
	rescanInterval = 50 * time.Millisecond
)

// ErrClosed is returned by AddRoot after Close.
var ErrClosed = errors.New("watcher closed")

// Options configures a Watcher.
type Options struct {
	// QueueSize bounds the notification queue. When it is full the
	// notification is dropped and a rescan of its root is queued instead.
	QueueSize int

	// RetryAttempts is how often AddRoot tries before giving up.
	RetryAttempts int

	// RetryBackoff is the first delay between attempts; it doubles each time.
	RetryBackoff time.Duration
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return nil
}

type watchedRoot struct {
	root    types.Root
	matcher scanner.Matcher
}

// Watcher implements capture.Source.
type Watcher struct {
	fsw  *fsnotify.Watcher
	opts Options
	log  *logging.Logger

	events chan capture.Notification
	errs   chan error

	mu      sync.RWMutex
	roots   map[string]watchedRoot
	paths   map[string]string // watched dir -> root ID
	rescans map[string]bool
	closed  bool

	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ capture.Source = (*Watcher)(nil)

// New starts a watcher with no roots.
func New(opts Options) (*Watcher, error) {
	_ = opts.Validate()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		opts:    opts,
		log:     logging.Get("watcher"),
		events:  make(chan capture.Notification, opts.QueueSize),
		errs:    make(chan error, errorQueueSize),
		roots:   make(map[string]watchedRoot),
		paths:   make(map[string]string),
		rescans: make(map[string]bool),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Events implements capture.Source.
func (w *Watcher) Events() <-chan capture.Notification { return w.events }

// Errors implements capture.Source.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Dropped returns the number of notifications lost to a full queue.
func (w *Watcher) Dropped() int64 { return w.dropped.Load() }

// AddRoot watches root and every directory below it that m observes. A
// failure is retried with exponential backoff; once the attempts are spent a
// capture.Warning is reported on Errors and the error returned. Other roots
// are unaffected.
func (w *Watcher) AddRoot(ctx context.Context, root types.Root, m scanner.Matcher) error {
	if m == nil {
		m = scanner.MatchAll
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.roots[root.ID] = watchedRoot{root: root, matcher: m}
	w.mu.Unlock()

	backoff := w.opts.RetryBackoff
	var err error
	for attempt := 1; attempt <= w.opts.RetryAttempts; attempt++ {
		if err = w.walk(root, m, root.Path); err == nil {
			w.log.Debug("watching root", "root", root.Path, "attempt", attempt)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		w.log.Debug("watch failed", "root", root.Path, "attempt", attempt, "error", err)
		if attempt == w.opts.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	err = fmt.Errorf("watching %s failed after %d attempts: %w", root.Path, w.opts.RetryAttempts, err)
	w.warn(capture.Warning{Root: root.ID, Path: root.Path, Err: err})
	return err
}

// walk adds watches for dir and its observable subdirectories. Only a
// failure on dir itself is returned.
func (w *Watcher) walk(root types.Root, m scanner.Matcher, dir string) error {
	info, err := os.Lstat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := w.addWatch(dir, root.ID); err != nil {
		return err
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || path == dir {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root.Path, path)
		if err != nil {
			return nil //nolint:nilerr // outside the root
		}
		if !m.IsObservable(filepath.ToSlash(rel), true, root.Forced) {
			return filepath.SkipDir
		}
		if err := w.addWatch(path, root.ID); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			w.warn(capture.Warning{Root: root.ID, Path: path, Err: err})
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Watcher) addWatch(path, rootID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if _, ok := w.paths[path]; ok {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.paths[path] = rootID
	return nil
}

// unwatch drops the watches at and below path.
func (w *Watcher) unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.fsw.Remove(p)
			delete(w.paths, p)
		}
	}
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.paths)
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.overflowAll()
			}
			w.warn(capture.Warning{Err: err})
		case <-ticker.C:
			w.flushRescans()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	wr, ok := w.rootFor(ev.Name)
	if !ok {
		return
	}

	var op capture.Op
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = capture.OpCreate
		w.handleCreate(wr, ev.Name)
	case ev.Op.Has(fsnotify.Write):
		op = capture.OpWrite
	case ev.Op.Has(fsnotify.Remove):
		op = capture.OpRemove
		w.unwatch(ev.Name)
	case ev.Op.Has(fsnotify.Rename):
		// The new name arrives as a separate create.
		op = capture.OpRename
		w.unwatch(ev.Name)
	case ev.Op.Has(fsnotify.Chmod):
		op = capture.OpChmod
	default:
		return
	}
	w.emit(capture.Notification{Root: wr.root.ID, Path: ev.Name, Op: op})
}

// handleCreate watches a new directory and everything created inside it
// before the watch was in place.
func (w *Watcher) handleCreate(wr watchedRoot, path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(wr.root.Path, path)
	if err != nil || !wr.matcher.IsObservable(filepath.ToSlash(rel), true, wr.root.Forced) {
		return
	}
	if err := w.walk(wr.root, wr.matcher, path); err != nil && !errors.Is(err, ErrClosed) {
		w.log.Debug("watch new directory", "path", path, "error", err)
	}
}

func (w *Watcher) rootFor(path string) (watchedRoot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var (
		best  watchedRoot
		found bool
	)
	for _, wr := range w.roots {
		if path != wr.root.Path && !isSubPath(path, wr.root.Path) {
			continue
		}
		if !found || len(wr.root.Path) > len(best.root.Path) {
			best, found = wr, true
		}
	}
	return best, found
}

// emit queues n, or a rescan of its root when the queue is full.
func (w *Watcher) emit(n capture.Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- n:
		return
	default:
	}
	w.dropped.Add(1)
	if !w.rescans[n.Root] {
		w.log.Warn("notification queue full, scheduling rescan", "root", n.Root)
	}
	w.rescans[n.Root] = true
}

func (w *Watcher) overflowAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.roots {
		w.rescans[id] = true
	}
}

// flushRescans queues pending root rescans while there is room.
func (w *Watcher) flushRescans() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for id := range w.rescans {
		wr, ok := w.roots[id]
		if !ok {
			delete(w.rescans, id)
			continue
		}
		select {
		case w.events <- capture.Notification{Root: id, Path: wr.root.Path, Op: capture.OpRescan}:
			delete(w.rescans, id)
		default:
			return
		}
	}
}

func (w *Watcher) warn(warning capture.Warning) {
	w.log.Warn("watch problem", "root", warning.Root, "path", warning.Path, "error", warning.Err)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.errs <- warning:
	default:
	}
}

// Close stops watching and closes the Events and Errors channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.paths = make(map[string]string)
	w.mu.Unlock()

	err := w.fsw.Close()
	close(w.done)
	w.wg.Wait()

	close(w.events)
	close(w.errs)
	if n := w.dropped.Load(); n > 0 {
		w.log.Info("watcher closed", "dropped", n)
	}
	return err
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
