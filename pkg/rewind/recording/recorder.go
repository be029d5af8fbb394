package recording

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// DefaultFlushInterval is how often buffered events are fsynced.
const DefaultFlushInterval = 500 * time.Millisecond

// Options configures a Recorder.
type Options struct {
	// Path of the JSON Lines file. Empty keeps the recording in memory only.
	Path string

	// IncludeContent keeps file content on entries and events.
	IncludeContent bool

	FlushInterval time.Duration

	Roots  []types.Root
	Source Source

	// ID defaults to a random UUID.
	ID string

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.Source == "" {
		o.Source = SourceLive
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// Recorder accumulates a Recording and streams it to disk. Append never
// waits on I/O: events are queued and written by a background flusher.
// Seal drains the queue, fsyncs and closes the file.
type Recorder struct {
	opts Options

	mu      sync.Mutex
	rec     Recording
	pending []types.Event
	sealed  *Recording
	ioErr   error

	// ioMu serialises file access between the flusher and Seal.
	ioMu sync.Mutex
	file *os.File
	w    *bufio.Writer

	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	sealOnce sync.Once
	sealErr  error
}

// Start begins a recording from initial. When a path is configured the
// header is written synchronously; a failure there is returned wrapping
// ErrIO.
func Start(initial *snapshot.Snapshot, opts Options) (*Recorder, error) {
	_ = opts.Validate()

	entries := initial.Entries()
	for i := range entries {
		entries[i].Fingerprint = ""
		if !opts.IncludeContent {
			entries[i].Content = nil
		}
	}
	now := opts.Clock()
	r := &Recorder{
		opts: opts,
		rec: Recording{
			ID:           opts.ID,
			StartTime:    float64(now.UnixNano()) / 1e9,
			Source:       opts.Source,
			Roots:        append([]types.Root(nil), opts.Roots...),
			InitialState: entries,
			Events:       []types.Event{},
		},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if opts.Path == "" {
		close(r.stopped)
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	r.file = f
	r.w = bufio.NewWriterSize(f, 64*1024)

	line, err := json.Marshal(headerOf(&r.rec))
	if err == nil {
		_, err = r.w.Write(append(line, '\n'))
	}
	if err == nil {
		err = r.w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: writing header: %w", ErrIO, err)
	}

	go r.run()
	logging.Get("recorder").Info("recording started", "path", opts.Path, "entries", len(entries))
	return r, nil
}

// Path returns the file being written, or "" for in-memory recordings.
func (r *Recorder) Path() string {
	return r.opts.Path
}

// Append adds ev to the log. It fails with *OrderingError if ev is earlier
// than the previous event, and with ErrSealed after Seal.
func (r *Recorder) Append(ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed != nil {
		return ErrSealed
	}
	if math.IsNaN(ev.Timestamp) {
		return &OrderingError{Last: r.lastLocked(), Got: ev.Timestamp, Path: ev.Path}
	}
	if n := len(r.rec.Events); n > 0 && ev.Timestamp < r.rec.Events[n-1].Timestamp {
		return &OrderingError{Last: r.rec.Events[n-1].Timestamp, Got: ev.Timestamp, Path: ev.Path}
	}
	if !r.opts.IncludeContent {
		ev.Content = nil
	}
	r.rec.Events = append(r.rec.Events, ev)
	if r.file != nil && r.ioErr == nil {
		r.pending = append(r.pending, ev)
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// AppendAll appends events in order, stopping at the first failure.
func (r *Recorder) AppendAll(events []types.Event) error {
	for _, ev := range events {
		if err := r.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) lastLocked() float64 {
	if n := len(r.rec.Events); n > 0 {
		return r.rec.Events[n-1].Timestamp
	}
	return 0
}

// Len returns the number of events appended so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rec.Events)
}

// Err returns the first storage error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ioErr
}

func (r *Recorder) run() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.wake:
			r.flush(false)
		case <-ticker.C:
			r.flush(true)
		case <-r.done:
			return
		}
	}
}

// flush writes queued events and, when durable is set, fsyncs the file.
func (r *Recorder) flush(durable bool) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	failed := r.ioErr != nil
	r.mu.Unlock()
	if failed {
		return
	}

	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if r.file == nil {
		return
	}

	var err error
	for _, ev := range batch {
		var line []byte
		if line, err = json.Marshal(ev); err != nil {
			break
		}
		if _, err = r.w.Write(append(line, '\n')); err != nil {
			break
		}
	}
	if err == nil && (len(batch) > 0 || durable) {
		err = r.w.Flush()
	}
	if err == nil && durable {
		err = r.file.Sync()
	}
	if err != nil {
		r.mu.Lock()
		if r.ioErr == nil {
			r.ioErr = fmt.Errorf("%w: %s: %w", ErrIO, r.opts.Path, err)
		}
		r.pending = nil
		r.mu.Unlock()
		logging.Get("recorder").Error("write failed; events kept in memory", "path", r.opts.Path, "error", err)
	}
}

// Seal stops recording, durably writes every buffered event and returns the
// finished Recording. On a storage failure the Recording is still returned,
// complete, together with an error wrapping ErrIO; WriteFile can retry the
// write. Later calls return the same result.
func (r *Recorder) Seal() (*Recording, error) {
	r.sealOnce.Do(func() {
		r.mu.Lock()
		r.sealed = r.rec.Clone()
		r.mu.Unlock()

		close(r.done)
		<-r.stopped

		if r.file != nil {
			r.flush(true)
			r.ioMu.Lock()
			if err := r.file.Close(); err != nil {
				r.mu.Lock()
				if r.ioErr == nil {
					r.ioErr = fmt.Errorf("%w: closing %s: %w", ErrIO, r.opts.Path, err)
				}
				r.mu.Unlock()
			}
			r.file = nil
			r.ioMu.Unlock()
		}

		r.mu.Lock()
		r.sealErr = r.ioErr
		r.mu.Unlock()
		logging.Get("recorder").Info("recording sealed", "path", r.opts.Path, "events", len(r.sealed.Events))
	})
	return r.sealed, r.sealErr
}
