// Package filter decides which paths under a watched root are observable.
//
// Rules are applied in a fixed order: hidden paths are suppressed unless the
// "all" override is set; gitignore-style rules and exclude globs then prune
// what remains; paths under a forced root skip the ignore rules entirely but
// still honour the hidden-path policy.
package filter

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Filter is immutable after New and safe for concurrent use.
type Filter struct {
	all       bool
	rules     []Rule
	excludes  []glob.Glob
	forced    []string
	skip      []string
	patterns  []string
	exclPats  []string
	gitignore []Rule
}

// Option configures a Filter.
type Option func(*Filter)

// WithAll disables hidden-path suppression.
func WithAll(all bool) Option {
	return func(f *Filter) {
		f.all = all
	}
}

// WithIgnorePatterns adds gitignore-syntax patterns anchored at the root.
// They are evaluated before any rules from .gitignore files.
func WithIgnorePatterns(patterns ...string) Option {
	return func(f *Filter) {
		f.patterns = append(f.patterns, patterns...)
	}
}

// WithGitignoreRules adds rules loaded from .gitignore files.
func WithGitignoreRules(rules []Rule) Option {
	return func(f *Filter) {
		f.gitignore = append(f.gitignore, rules...)
	}
}

// WithExclude adds glob patterns matched against the relative path and every
// ancestor directory.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) {
		f.exclPats = append(f.exclPats, patterns...)
	}
}

// WithForcedRoots marks relative directories whose contents bypass ignore
// rules, such as worktrees checked out inside an ignored directory.
func WithForcedRoots(prefixes ...string) Option {
	return func(f *Filter) {
		for _, p := range prefixes {
			if p = clean(p); p != "" && p != "." {
				f.forced = append(f.forced, p)
			}
		}
	}
}

// WithSkipPrefixes marks relative directories that are never observable,
// regardless of any other setting.
func WithSkipPrefixes(prefixes ...string) Option {
	return func(f *Filter) {
		for _, p := range prefixes {
			if p = clean(p); p != "" && p != "." {
				f.skip = append(f.skip, p)
			}
		}
	}
}

// New builds a Filter. Malformed patterns yield a *PatternError.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}

	for i, p := range f.patterns {
		rule, ok, err := ParseRule("", p)
		if err != nil {
			var pe *PatternError
			if errors.As(err, &pe) {
				pe.Source, pe.Line = "config", i+1
			}
			return nil, err
		}
		if ok {
			f.rules = append(f.rules, rule)
		}
	}
	f.rules = append(f.rules, f.gitignore...)

	for i, p := range f.exclPats {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, &PatternError{Source: "exclude", Line: i + 1, Pattern: p, Err: err}
		}
		f.excludes = append(f.excludes, g)
	}
	return f, nil
}

// All reports whether hidden paths are observable.
func (f *Filter) All() bool {
	return f.all
}

// IsObservable reports whether the relative path should be captured.
// forcedRoot is true when the path belongs to a root that is itself an
// auxiliary worktree; such paths skip ignore rules.
func (f *Filter) IsObservable(path string, isDir, forcedRoot bool) bool {
	path = clean(path)
	if path == "" || path == "." {
		return true
	}
	if underAny(path, f.skip) {
		return false
	}
	if isDir && f.leadsToForced(path) {
		return true
	}

	forced := forcedRoot
	scope := path
	if !forced {
		if prefix, ok := f.forcedPrefix(path); ok {
			forced = true
			scope = strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
		}
	}

	if !f.all && hidden(scope) {
		return false
	}
	if forced {
		return true
	}
	if f.excluded(path) {
		return false
	}
	return !f.ignored(path, isDir)
}

// ignored reports whether path or one of its ancestor directories is
// ignored. A negation cannot re-include a path below an ignored directory.
func (f *Filter) ignored(path string, isDir bool) bool {
	if len(f.rules) == 0 {
		return false
	}
	for i := strings.IndexByte(path, '/'); i >= 0; {
		if f.lastMatch(path[:i], true) {
			return true
		}
		next := strings.IndexByte(path[i+1:], '/')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return f.lastMatch(path, isDir)
}

// lastMatch applies the rules in order; the last match wins.
func (f *Filter) lastMatch(path string, isDir bool) bool {
	ignored := false
	for _, r := range f.rules {
		if r.matches(path, isDir) {
			ignored = !r.Negate
		}
	}
	return ignored
}

func (f *Filter) excluded(path string) bool {
	if len(f.excludes) == 0 {
		return false
	}
	for p := path; ; {
		for _, g := range f.excludes {
			if g.Match(p) {
				return true
			}
		}
		i := strings.LastIndexByte(p, '/')
		if i < 0 {
			return false
		}
		p = p[:i]
	}
}

func (f *Filter) forcedPrefix(path string) (string, bool) {
	for _, p := range f.forced {
		if path == p || strings.HasPrefix(path, p+"/") {
			return p, true
		}
	}
	return "", false
}

// leadsToForced reports whether path is a proper ancestor of a forced root.
// Such directories stay observable so the forced root keeps its parents.
func (f *Filter) leadsToForced(path string) bool {
	for _, p := range f.forced {
		if strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return false
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func hidden(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

func clean(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.Trim(p, "/")
}
