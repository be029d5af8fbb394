package vcs

import (
	"context"
	"path/filepath"
	"strings"
)

// Detached labels a worktree without a branch.
const Detached = "(detached)"

// Worktree is a linked working tree of a repository.
type Worktree struct {
	Path   string
	Head   string
	Branch string
}

// TopLevel returns the root of the working tree containing dir.
func TopLevel(ctx context.Context, run Runner, dir string) (string, error) {
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Worktrees lists the worktrees of the repository containing dir, except the
// one dir belongs to and bare entries.
func Worktrees(ctx context.Context, run Runner, dir string) ([]Worktree, error) {
	if run == nil {
		run = ExecRunner
	}
	top, err := TopLevel(ctx, run, dir)
	if err != nil {
		return nil, err
	}
	out, err := run(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktrees(string(out), top), nil
}

// ParseWorktrees reads `git worktree list --porcelain` output, dropping the
// worktree at main and bare entries.
func ParseWorktrees(out, main string) []Worktree {
	mainPath := canonical(main)
	var (
		result []Worktree
		cur    *Worktree
		bare   bool
	)
	flush := func() {
		if cur != nil && !bare && cur.Path != mainPath {
			if cur.Branch == "" {
				cur.Branch = Detached
			}
			result = append(result, *cur)
		}
		cur, bare = nil, false
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &Worktree{Path: canonical(strings.TrimPrefix(line, "worktree "))}
		case cur == nil:
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			bare = true
		case line == "detached":
			cur.Branch = ""
		}
	}
	flush()
	return result
}

func canonical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
