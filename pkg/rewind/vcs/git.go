// Package vcs talks to git through its command line: it resolves commit
// ranges and reads trees for history synthesis, and discovers linked
// worktrees for live capture.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/history"
)

// ErrBadRange is returned for a range that cannot be parsed.
var ErrBadRange = errors.New("invalid commit range")

// Runner executes git with args in dir and returns its standard output.
// Tests substitute a fake.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// ExecRunner runs the git binary.
func ExecRunner(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Git reads history from the repository containing dir. It implements
// history.Source.
type Git struct {
	dir string
	run Runner
}

var _ history.Source = (*Git)(nil)

// NewGit returns a Git for dir. A nil runner uses ExecRunner.
func NewGit(dir string, run Runner) *Git {
	if run == nil {
		run = ExecRunner
	}
	return &Git{dir: dir, run: run}
}

// Commits resolves rangeSpec, which is "A..B", "A.." (meaning A..HEAD) or a
// single commit compared against its parent. Commits on the first-parent
// line are returned oldest first, preceded by the base commit; the base is
// the zero Commit when a single root commit is requested.
func (g *Git) Commits(ctx context.Context, rangeSpec string) ([]history.Commit, error) {
	spec := strings.TrimSpace(rangeSpec)
	if spec == "" || strings.HasPrefix(spec, "..") || strings.Contains(spec, "...") {
		return nil, fmt.Errorf("%w: %q", ErrBadRange, rangeSpec)
	}

	if from, to, ok := strings.Cut(spec, ".."); ok {
		if to == "" {
			to = "HEAD"
		}
		base, err := g.resolve(ctx, from)
		if err != nil {
			return nil, err
		}
		head, err := g.resolve(ctx, to)
		if err != nil {
			return nil, err
		}
		baseCommit, err := g.commit(ctx, base)
		if err != nil {
			return nil, err
		}
		out, err := g.run(ctx, g.dir, "log", "--first-parent", "--reverse", "--format=%H %ct", base+".."+head)
		if err != nil {
			return nil, err
		}
		commits, err := parseLog(out)
		if err != nil {
			return nil, err
		}
		return append([]history.Commit{baseCommit}, commits...), nil
	}

	id, err := g.resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	target, err := g.commit(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := g.resolve(ctx, id+"^")
	if err != nil {
		// A root commit has no parent; it is compared against the empty tree.
		return []history.Commit{{}, target}, nil
	}
	base, err := g.commit(ctx, parent)
	if err != nil {
		return nil, err
	}
	return []history.Commit{base, target}, nil
}

func (g *Git) resolve(ctx context.Context, rev string) (string, error) {
	out, err := g.run(ctx, g.dir, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q: %w", rev, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("cannot resolve %q", rev)
	}
	return id, nil
}

func (g *Git) commit(ctx context.Context, id string) (history.Commit, error) {
	out, err := g.run(ctx, g.dir, "log", "-1", "--format=%H %ct", id)
	if err != nil {
		return history.Commit{}, err
	}
	commits, err := parseLog(out)
	if err != nil {
		return history.Commit{}, err
	}
	if len(commits) != 1 {
		return history.Commit{}, fmt.Errorf("commit %s not found", id)
	}
	return commits[0], nil
}

// parseLog reads "<hash> <unix seconds>" lines.
func parseLog(out []byte) ([]history.Commit, error) {
	var commits []history.Commit
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hash, secs, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unexpected log line %q", line)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(secs), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected commit time in %q: %w", line, err)
		}
		commits = append(commits, history.Commit{ID: hash, Time: time.Unix(ts, 0)})
	}
	return commits, nil
}

// Tree lists the blobs of a commit. Submodules and symlinks are skipped.
func (g *Git) Tree(ctx context.Context, commitID string) ([]history.TreeFile, error) {
	out, err := g.run(ctx, g.dir, "ls-tree", "-r", "--long", "-z", commitID)
	if err != nil {
		return nil, err
	}
	return parseTree(out, func(hash string) func() ([]byte, error) {
		return func() ([]byte, error) {
			return g.run(ctx, g.dir, "cat-file", "blob", hash)
		}
	})
}

// parseTree reads NUL-terminated "<mode> <type> <hash> <size>\t<path>"
// records.
func parseTree(out []byte, open func(hash string) func() ([]byte, error)) ([]history.TreeFile, error) {
	var files []history.TreeFile
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		meta, path, ok := bytes.Cut(rec, []byte{'\t'})
		if !ok {
			return nil, fmt.Errorf("unexpected ls-tree record %q", rec)
		}
		fields := strings.Fields(string(meta))
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected ls-tree record %q", rec)
		}
		mode, kind, hash := fields[0], fields[1], fields[2]
		if kind != "blob" || mode == "120000" {
			continue
		}
		size, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected size in %q: %w", rec, err)
		}
		files = append(files, history.TreeFile{
			Path: string(path),
			Size: size,
			Hash: hash,
			Open: open(hash),
		})
	}
	return files, nil
}
