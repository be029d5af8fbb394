// Package history synthesizes a recording from version-control history. Each
// commit in a range becomes one batch of events: the diff between its tree
// and the tree of the commit before it.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/scanner"
	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// DefaultInterval is the synthetic time between commits, in seconds.
const DefaultInterval = 1.0

var (
	// ErrHistorySource wraps every failure of the underlying Source.
	ErrHistorySource = errors.New("history source failure")

	// ErrEmptyRange is returned when a range holds no commits after its base.
	ErrEmptyRange = errors.New("no commits in range")
)

// SourceError reports a failed Source call for a range.
type SourceError struct {
	Range string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrHistorySource, e.Range, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrHistorySource, e.Err}
}

// Commit identifies one commit. The zero Commit stands for the empty tree
// before a root commit.
type Commit struct {
	ID   string
	Time time.Time
}

// IsZero reports whether c is the empty-tree placeholder.
func (c Commit) IsZero() bool {
	return c.ID == ""
}

// TreeFile is one file in a commit's tree.
type TreeFile struct {
	Path string
	Size int64

	// Hash identifies the file's content; equal hashes mean equal content.
	Hash string

	// Open reads the file's content.
	Open func() ([]byte, error)
}

// Source reads commits and trees from a repository.
type Source interface {
	// Commits resolves rangeSpec to commits in chronological order. Element
	// 0 is the base the first real commit is compared against.
	Commits(ctx context.Context, rangeSpec string) ([]Commit, error)

	// Tree lists the files of a commit.
	Tree(ctx context.Context, commitID string) ([]TreeFile, error)
}

// Options configures Synthesize.
type Options struct {
	// Interval is the seconds between consecutive commits. Zero means
	// DefaultInterval.
	Interval float64

	// CommitTimes stamps events with the commit time relative to the base
	// instead of a fixed interval.
	CommitTimes bool

	// IncludeContent embeds file content up to MaxContentSize.
	IncludeContent bool

	// MaxContentSize caps embedded content. Zero means types.MaxContentSize.
	MaxContentSize int64
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.Interval < 0 {
		return fmt.Errorf("history interval must not be negative: %v", o.Interval)
	}
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxContentSize <= 0 {
		o.MaxContentSize = types.MaxContentSize
	}
	return nil
}

type blob struct {
	lines   int
	content *string
	read    bool
}

type synthesizer struct {
	src   Source
	spec  string
	opts  Options
	blobs map[string]blob
}

// Synthesize builds a recording of the commits in rangeSpec. The initial
// state is the base tree and each later commit contributes the events that
// turn the previous tree into its own. No partial recording is returned on
// failure.
func Synthesize(ctx context.Context, src Source, rangeSpec string, opts Options) (*recording.Recording, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logging.Get("history")

	commits, err := src.Commits(ctx, rangeSpec)
	if err != nil {
		return nil, &SourceError{Range: rangeSpec, Err: err}
	}
	if len(commits) < 2 {
		return nil, &SourceError{Range: rangeSpec, Err: ErrEmptyRange}
	}

	s := &synthesizer{src: src, spec: rangeSpec, opts: opts, blobs: make(map[string]blob)}
	prev, err := s.tree(ctx, commits[0])
	if err != nil {
		return nil, err
	}
	initial := prev

	origin := commits[0].Time
	if commits[0].IsZero() {
		origin = commits[1].Time
	}

	var (
		events []types.Event
		last   float64
	)
	for i := 1; i < len(commits); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := s.tree(ctx, commits[i])
		if err != nil {
			return nil, err
		}

		ts := float64(i) * opts.Interval
		if opts.CommitTimes {
			ts = commits[i].Time.Sub(origin).Seconds()
		}
		if ts < last {
			ts = last
		}
		last = ts

		for _, ev := range snapshot.Diff(prev, cur) {
			ev.Timestamp = ts
			events = append(events, ev)
		}
		log.Debug("commit replayed", "commit", commits[i].ID, "timestamp", ts)
		prev = cur
	}

	entries := initial.Entries()
	for i := range entries {
		entries[i].Fingerprint = ""
	}
	if events == nil {
		events = []types.Event{}
	}

	log.Info("history synthesized", "range", rangeSpec, "commits", len(commits)-1, "events", len(events))
	return &recording.Recording{
		ID:           uuid.NewString(),
		StartTime:    float64(origin.UnixNano()) / 1e9,
		Source:       recording.SourceHistory,
		InitialState: entries,
		Events:       events,
	}, nil
}

// tree converts a commit's file list into a snapshot with directories
// materialised from file paths.
func (s *synthesizer) tree(ctx context.Context, c Commit) (*snapshot.Snapshot, error) {
	b := snapshot.NewBuilder()
	b.Put(types.Entry{Path: types.RootDir, IsDir: true})
	if c.IsZero() {
		return b.Build(), nil
	}

	files, err := s.src.Tree(ctx, c.ID)
	if err != nil {
		return nil, &SourceError{Range: s.spec, Err: fmt.Errorf("tree %s: %w", c.ID, err)}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for _, f := range files {
		e := types.Entry{Path: f.Path, Size: f.Size, Fingerprint: f.Hash}
		text := types.IsTextFile(f.Path)
		info, err := s.blob(f, text)
		if err != nil {
			return nil, &SourceError{Range: s.spec, Err: fmt.Errorf("reading %s at %s: %w", f.Path, c.ID, err)}
		}
		if text {
			e.Lines = info.lines
		}
		e.Content = info.content
		k := e.Key()
		b.EnsureParents(k)
		b.Put(e)
	}
	return b.Build(), nil
}

// blob reads a file once per distinct hash. Lines are counted only for text
// files; content is embedded for any file within MaxContentSize.
func (s *synthesizer) blob(f TreeFile, text bool) (blob, error) {
	wantLines := text && f.Size <= scanner.DefaultMaxLinesSize
	wantContent := s.opts.IncludeContent && f.Size <= s.opts.MaxContentSize
	if !wantLines && !wantContent {
		return blob{}, nil
	}
	if info, ok := s.blobs[f.Hash]; ok && f.Hash != "" && info.read {
		return info, nil
	}
	if f.Open == nil {
		return blob{}, nil
	}
	data, err := f.Open()
	if err != nil {
		return blob{}, err
	}
	info := blob{lines: types.CountLines(data), read: true}
	if wantContent {
		info.content = types.DecodeContent(data)
	}
	if f.Hash != "" {
		s.blobs[f.Hash] = info
	}
	return info, nil
}
