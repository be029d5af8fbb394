package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// ErrRootMissing is returned when a root directory cannot be walked.
var ErrRootMissing = errors.New("root directory missing")

type lineCount struct {
	fingerprint string
	lines       int
}

// Scanner is safe for concurrent use. It caches line counts by path and
// fingerprint so unchanged files are not re-read.
type Scanner struct {
	opts Options

	mu    sync.Mutex
	lines map[string]lineCount
}

// New returns a scanner with opts.
func New(opts Options) *Scanner {
	_ = opts.Validate()
	return &Scanner{opts: opts, lines: make(map[string]lineCount)}
}

// Snapshot walks every root and returns their combined state. Matchers are
// looked up by root ID; a root without one observes everything.
func (s *Scanner) Snapshot(ctx context.Context, roots []types.Root, matchers map[string]Matcher) (*snapshot.Snapshot, error) {
	b := snapshot.NewBuilder()
	for _, root := range roots {
		m := matchers[root.ID]
		if m == nil {
			m = MatchAll
		}
		entries, err := s.Walk(ctx, root, types.RootDir, m)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrRootMissing, root.Path)
		}
		for _, e := range entries {
			b.Put(e)
		}
	}
	return b.Build(), nil
}

// Read returns the current entries at rel: nothing when it is missing, not
// observable or a symlink, one entry for a file, and the directory with its
// observable subtree otherwise.
func (s *Scanner) Read(ctx context.Context, root types.Root, rel string, m Matcher) ([]types.Entry, error) {
	abs := filepath.Join(root.Path, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, nil
	}
	if !m.IsObservable(rel, info.IsDir(), root.Forced) {
		return nil, nil
	}
	if info.IsDir() {
		return s.Walk(ctx, root, rel, m)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return []types.Entry{s.entry(root, rel, abs, info)}, nil
}

// Walk returns rel and everything observable below it, parents before
// children. A missing rel yields no entries.
func (s *Scanner) Walk(ctx context.Context, root types.Root, rel string, m Matcher) ([]types.Entry, error) {
	log := logging.Get("scanner")
	start := filepath.Join(root.Path, filepath.FromSlash(rel))

	var (
		mu      sync.Mutex
		entries []types.Entry
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, start, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == start {
				return err
			}
			log.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		r, relErr := filepath.Rel(root.Path, path)
		if relErr != nil {
			return relErr
		}
		r = filepath.ToSlash(r)

		if d.IsDir() {
			if r != types.RootDir && !m.IsObservable(r, true, root.Forced) {
				return fastwalk.SkipDir
			}
			mu.Lock()
			entries = append(entries, types.Entry{Root: root.ID, Path: r, IsDir: true})
			mu.Unlock()
			return nil
		}
		if !d.Type().IsRegular() || !m.IsObservable(r, false, root.Forced) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			log.Debug("stat failed", "path", path, "error", infoErr)
			return nil
		}
		e := s.entry(root, r, path, info)
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		di, dj := types.Depth(entries[i].Path), types.Depth(entries[j].Path)
		if di != dj {
			return di < dj
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func (s *Scanner) entry(root types.Root, rel, abs string, info fs.FileInfo) types.Entry {
	e := types.Entry{
		Root:        root.ID,
		Path:        rel,
		Size:        info.Size(),
		Fingerprint: fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size()),
	}
	if !types.IsTextFile(rel) {
		return e
	}

	wantContent := s.opts.IncludeContent && e.Size <= s.opts.MaxContentSize
	if !wantContent {
		if lines, ok := s.cachedLines(abs, e.Fingerprint); ok {
			e.Lines = lines
			return e
		}
		if e.Size > s.opts.MaxLinesSize {
			return e
		}
		lines, err := countFile(abs)
		if err != nil {
			return e
		}
		e.Lines = lines
		s.storeLines(abs, e.Fingerprint, lines)
		return e
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return e
	}
	e.Lines = types.CountLines(data)
	e.Content = types.DecodeContent(data)
	s.storeLines(abs, e.Fingerprint, e.Lines)
	return e
}

func (s *Scanner) cachedLines(abs, fingerprint string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lines[abs]
	if !ok || c.fingerprint != fingerprint {
		return 0, false
	}
	return c.lines, true
}

func (s *Scanner) storeLines(abs, fingerprint string, lines int) {
	s.mu.Lock()
	s.lines[abs] = lineCount{fingerprint: fingerprint, lines: lines}
	s.mu.Unlock()
}

// Forget drops cached line counts at or below abs.
func (s *Scanner) Forget(abs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := abs + string(filepath.Separator)
	for p := range s.lines {
		if p == abs || strings.HasPrefix(p, prefix) {
			delete(s.lines, p)
		}
	}
}

func countFile(abs string) (int, error) {
	f, err := os.Open(abs)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	var (
		n    int
		last byte
		read bool
	)
	for {
		k, err := f.Read(buf)
		if k > 0 {
			n += bytes.Count(buf[:k], []byte{'\n'})
			last = buf[k-1]
			read = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if read && last != '\n' {
		n++
	}
	return n, nil
}
