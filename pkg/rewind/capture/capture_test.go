package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/scanner"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

type chanSource struct {
	events chan Notification
	errs   chan error
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan Notification, 64), errs: make(chan error, 8)}
}

func (s *chanSource) Events() <-chan Notification { return s.events }
func (s *chanSource) Errors() <-chan error        { return s.errs }
func (s *chanSource) Close() error                { return nil }

type harness struct {
	t       *testing.T
	dir     string
	src     *chanSource
	loop    *Loop
	batches chan Batch
	cancel  context.CancelFunc
	done    chan error

	mu       sync.Mutex
	warnings []Warning
}

func start(t *testing.T, setup func(dir string), opts Options, handlerErr func(Batch) error) *harness {
	t.Helper()
	return startWith(t, scanner.New(scanner.Options{}), setup, opts, handlerErr)
}

func startWith(t *testing.T, reader Reader, setup func(dir string), opts Options, handlerErr func(Batch) error) *harness {
	t.Helper()
	dir := t.TempDir()
	if setup != nil {
		setup(dir)
	}
	h := &harness{t: t, dir: dir, src: newChanSource(), batches: make(chan Batch, 16), done: make(chan error, 1)}
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	opts.OnWarning = func(w Warning) {
		h.mu.Lock()
		h.warnings = append(h.warnings, w)
		h.mu.Unlock()
	}
	loop, err := New([]types.Root{{Path: dir}}, h.src, reader, nil, opts)
	require.NoError(t, err)
	h.loop = loop

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- loop.Run(ctx, func(b Batch) error {
			h.batches <- b
			if handlerErr != nil {
				return handlerErr(b)
			}
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	initial := h.next()
	require.True(t, initial.Initial)
	return h
}

func (h *harness) next() Batch {
	h.t.Helper()
	select {
	case b := <-h.batches:
		return b
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}

func (h *harness) write(rel, data string) {
	h.t.Helper()
	abs := filepath.Join(h.dir, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(h.t, os.WriteFile(abs, []byte(data), 0o644))
}

func (h *harness) notify(rel string, op Op) {
	h.src.events <- Notification{Path: filepath.Join(h.dir, filepath.FromSlash(rel)), Op: op}
}

// flakyReader fails reads of one path a fixed number of times.
type flakyReader struct {
	*scanner.Scanner
	path string

	mu    sync.Mutex
	fails int
	calls int
}

func (r *flakyReader) Read(ctx context.Context, root types.Root, rel string, m scanner.Matcher) ([]types.Entry, error) {
	if rel == r.path {
		r.mu.Lock()
		r.calls++
		fail := r.fails > 0
		if fail {
			r.fails--
		}
		r.mu.Unlock()
		if fail {
			return nil, os.ErrPermission
		}
	}
	return r.Scanner.Read(ctx, root, rel, m)
}

func (r *flakyReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (h *harness) warningCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.warnings)
}

func describe(events []types.Event) []string {
	var out []string
	for _, ev := range events {
		out = append(out, ev.Kind.String()+" "+ev.Path)
	}
	return out
}

func TestInitialBatch(t *testing.T) {
	t.Parallel()
	h := start(t, func(dir string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	}, Options{}, nil)

	snap := h.loop.Snapshot()
	require.NotNil(t, snap)
	assert.True(t, snap.Has(types.Key{Path: "a.txt"}))
	assert.True(t, snap.Has(types.Key{Path: "."}))
	assert.Equal(t, Watching, h.loop.State())
}

func TestCreateModifyDelete(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{}, nil)

	h.write("f.txt", "0123456789")
	h.notify("f.txt", OpCreate)
	b := h.next()
	assert.Equal(t, []string{"created f.txt"}, describe(b.Events))
	assert.Equal(t, int64(10), b.Events[0].Size)

	h.write("f.txt", "0123456789abcdefghijklmno")
	h.notify("f.txt", OpWrite)
	b = h.next()
	assert.Equal(t, []string{"modified f.txt"}, describe(b.Events))
	assert.Equal(t, int64(25), b.Events[0].Size)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "f.txt")))
	h.notify("f.txt", OpRemove)
	b = h.next()
	assert.Equal(t, []string{"deleted f.txt"}, describe(b.Events))
	assert.False(t, b.Snapshot.Has(types.Key{Path: "f.txt"}))
}

func TestDebounceCoalesces(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{Debounce: 100 * time.Millisecond}, nil)

	for i := 0; i < 5; i++ {
		h.write("burst.txt", string(make([]byte, i+1)))
		h.notify("burst.txt", OpWrite)
	}
	h.write("other.txt", "x")
	h.notify("other.txt", OpCreate)

	b := h.next()
	assert.Equal(t, []string{"created burst.txt", "created other.txt"}, describe(b.Events))
	assert.Equal(t, int64(5), b.Events[0].Size)
}

func TestMissingAncestorsAreAdded(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{}, nil)

	h.write("a/b/c.txt", "c")
	h.notify("a/b/c.txt", OpCreate)

	b := h.next()
	assert.Equal(t, []string{"created a", "created a/b", "created a/b/c.txt"}, describe(b.Events))
	require.NoError(t, snapshot.Validate(b.Snapshot))
}

func TestDeleteSubtreeDeepestFirst(t *testing.T) {
	t.Parallel()
	h := start(t, func(dir string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "d", "e"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "d", "e", "f.go"), []byte("package e\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.md"), []byte("k"), 0o644))
	}, Options{}, nil)

	require.NoError(t, os.RemoveAll(filepath.Join(h.dir, "d")))
	h.notify("d/e/f.go", OpRemove)
	h.notify("d", OpRemove)

	b := h.next()
	assert.Equal(t, []string{"deleted d/e/f.go", "deleted d/e", "deleted d"}, describe(b.Events))
	assert.True(t, b.Snapshot.Has(types.Key{Path: "keep.md"}))
	require.NoError(t, snapshot.Validate(b.Snapshot))
}

func TestKindChange(t *testing.T) {
	t.Parallel()
	h := start(t, func(dir string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("file"), 0o644))
	}, Options{}, nil)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "x")))
	h.write("x/inner.txt", "i")
	h.notify("x", OpCreate)

	b := h.next()
	assert.Equal(t, []string{"deleted x", "created x", "created x/inner.txt"}, describe(b.Events))
}

func TestUnchangedPathProducesNoBatch(t *testing.T) {
	t.Parallel()
	h := start(t, func(dir string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "same.txt"), []byte("s"), 0o644))
	}, Options{}, nil)

	h.notify("same.txt", OpChmod)
	h.notify("../outside.txt", OpCreate)
	h.write("later.txt", "l")
	h.notify("later.txt", OpCreate)

	b := h.next()
	assert.Equal(t, []string{"created later.txt"}, describe(b.Events))
}

func TestTimestampsNeverDecrease(t *testing.T) {
	t.Parallel()
	base := time.Unix(1000, 0)
	var (
		mu    sync.Mutex
		ticks = []time.Time{base, base.Add(2 * time.Second), base.Add(time.Second)}
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return now
	}
	h := start(t, nil, Options{Clock: clock}, nil)

	h.write("a", "1")
	h.notify("a", OpCreate)
	first := h.next()
	assert.Equal(t, 2.0, first.Time)

	h.write("b", "1")
	h.notify("b", OpCreate)
	second := h.next()
	assert.Equal(t, 2.0, second.Time, "clamped to the previous batch")
	assert.Equal(t, 2.0, second.Events[0].Timestamp)
}

func TestCancelDrainsPending(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{Debounce: time.Hour}, nil)

	h.write("late.txt", "bye")
	h.notify("late.txt", OpCreate)
	h.cancel()

	b := h.next()
	assert.Equal(t, []string{"created late.txt"}, describe(b.Events))
	require.NoError(t, <-h.done)
	h.done <- nil
	assert.Equal(t, Stopped, h.loop.State())
}

func TestOrderingViolationIsFatal(t *testing.T) {
	t.Parallel()
	violation := &recording.OrderingError{Last: 2, Got: 1}
	h := start(t, nil, Options{}, func(b Batch) error {
		if b.Initial {
			return nil
		}
		return violation
	})

	h.write("x.txt", "x")
	h.notify("x.txt", OpCreate)
	h.next()

	err := <-h.done
	h.done <- err
	assert.ErrorIs(t, err, recording.ErrOrderingViolation)
	assert.Equal(t, Stopped, h.loop.State())
}

func TestSourceErrorsAreWarnings(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{}, func(b Batch) error {
		if b.Initial {
			return nil
		}
		return errors.New("renderer hiccup")
	})

	h.src.errs <- Warning{Root: "", Err: errors.New("watch limit reached")}
	h.src.errs <- errors.New("queue overflow")
	h.write("y.txt", "y")
	h.notify("y.txt", OpCreate)
	h.next()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.warnings) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Watching, h.loop.State())

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.EqualError(t, h.warnings[0], "watch limit reached")
	assert.EqualError(t, h.warnings[1], "queue overflow")
}

func TestTransientReadFailureIsRetried(t *testing.T) {
	t.Parallel()
	reader := &flakyReader{Scanner: scanner.New(scanner.Options{}), path: "locked.txt", fails: 2}
	h := startWith(t, reader, nil, Options{RetryAttempts: 4, RetryBackoff: 5 * time.Millisecond}, nil)

	h.write("locked.txt", "secret")
	h.notify("locked.txt", OpCreate)

	b := h.next()
	assert.Equal(t, []string{"created locked.txt"}, describe(b.Events))
	assert.Equal(t, 3, reader.Calls())
	assert.Zero(t, h.warningCount(), "recovered reads raise no warning")
	assert.True(t, h.loop.Snapshot().Has(types.Key{Path: "locked.txt"}))
}

func TestPersistentReadFailureWarnsOnce(t *testing.T) {
	t.Parallel()
	reader := &flakyReader{Scanner: scanner.New(scanner.Options{}), path: "locked.txt", fails: 100}
	h := startWith(t, reader, nil, Options{RetryAttempts: 3, RetryBackoff: 5 * time.Millisecond}, nil)

	h.write("locked.txt", "secret")
	h.notify("locked.txt", OpCreate)
	require.Eventually(t, func() bool { return h.warningCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, reader.Calls())

	h.mu.Lock()
	w := h.warnings[0]
	h.mu.Unlock()
	assert.Equal(t, "locked.txt", w.Path)
	assert.ErrorIs(t, w, os.ErrPermission)

	// Other paths keep flowing.
	h.write("open.txt", "o")
	h.notify("open.txt", OpCreate)
	assert.Equal(t, []string{"created open.txt"}, describe(h.next().Events))
	assert.Equal(t, 3, reader.Calls(), "no retries after giving up")
	assert.Equal(t, 1, h.warningCount())
}

func TestRunTwice(t *testing.T) {
	t.Parallel()
	h := start(t, nil, Options{}, nil)
	assert.ErrorIs(t, h.loop.Run(context.Background(), func(Batch) error { return nil }), ErrRunning)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	sc := scanner.New(scanner.Options{})
	_, err := New(nil, newChanSource(), sc, nil, Options{})
	assert.Error(t, err)
	_, err = New([]types.Root{{Path: "/a"}, {Path: "/b"}}, newChanSource(), sc, nil, Options{})
	assert.Error(t, err)
	_, err = New([]types.Root{{Path: "/a"}}, newChanSource(), sc, nil, Options{Debounce: -time.Second})
	assert.Error(t, err)
}
