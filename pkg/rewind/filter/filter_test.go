package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, opts ...Option) *Filter {
	t.Helper()
	f, err := New(opts...)
	require.NoError(t, err)
	return f
}

func TestHiddenPaths(t *testing.T) {
	f := mustNew(t)

	assert.False(t, f.IsObservable(".env", false, false))
	assert.False(t, f.IsObservable("src/.cache/x", false, false))
	assert.True(t, f.IsObservable("src/main.go", false, false))
	assert.True(t, f.IsObservable(".", true, false))

	all := mustNew(t, WithAll(true))
	assert.True(t, all.IsObservable("src/.cache/x", false, false))
}

func TestIgnoreRules(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		isDir    bool
		want     bool
	}{
		{name: "unanchored matches at depth", patterns: []string{"*.log"}, path: "a/b/debug.log", want: false},
		{name: "unanchored leaves others", patterns: []string{"*.log"}, path: "a/b/debug.txt", want: true},
		{name: "anchored only at root", patterns: []string{"/build"}, path: "sub/build", isDir: true, want: true},
		{name: "anchored at root", patterns: []string{"/build"}, path: "build", isDir: true, want: false},
		{name: "inner slash anchors", patterns: []string{"docs/*.md"}, path: "x/docs/a.md", want: true},
		{name: "dir pattern prunes subtree", patterns: []string{"node_modules/"}, path: "web/node_modules/pkg/index.js", want: false},
		{name: "dir pattern ignores files of that name", patterns: []string{"out/"}, path: "out", isDir: false, want: true},
		{name: "negation re-includes", patterns: []string{"*.log", "!keep.log"}, path: "keep.log", want: true},
		{name: "later rule wins", patterns: []string{"!keep.log", "*.log"}, path: "keep.log", want: false},
		{name: "negation cannot reach into ignored dir", patterns: []string{"build/", "!build/keep.txt"}, path: "build/keep.txt", want: false},
		{name: "negation under ignored ancestor", patterns: []string{"logs/", "!*.txt"}, path: "logs/a/notes.txt", want: false},
		{name: "negated dir re-includes its files", patterns: []string{"build/", "!build/"}, path: "build/keep.txt", want: true},
		{name: "comments and blanks skipped", patterns: []string{"# *.go", "", "*.tmp"}, path: "main.go", want: true},
		{name: "double star", patterns: []string{"**/gen/**"}, path: "a/gen/b/c.go", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustNew(t, WithIgnorePatterns(tt.patterns...))
			if got := f.IsObservable(tt.path, tt.isDir, false); got != tt.want {
				t.Errorf("IsObservable(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestForcedRootUnderIgnoredParent(t *testing.T) {
	f := mustNew(t,
		WithIgnorePatterns("*.log", "build/"),
		WithForcedRoots("build/wt"),
	)

	assert.True(t, f.IsObservable("build/wt/trace.log", false, false), "forced root keeps ignored names")
	assert.True(t, f.IsObservable("build/wt", true, false))
	assert.True(t, f.IsObservable("build", true, false), "ancestors of a forced root stay visible")
	assert.False(t, f.IsObservable("build/other.o", false, false))
	assert.False(t, f.IsObservable("trace.log", false, false))
	assert.False(t, f.IsObservable("src/trace.log", false, false))
}

func TestForcedRootFlag(t *testing.T) {
	f := mustNew(t, WithIgnorePatterns("*.log"))

	assert.True(t, f.IsObservable("trace.log", false, true))
	assert.False(t, f.IsObservable(".hidden/trace.log", false, true), "forced does not bypass hidden")

	all := mustNew(t, WithIgnorePatterns("*.log"), WithAll(true))
	assert.True(t, all.IsObservable(".hidden/trace.log", false, true))
}

func TestHiddenForcedRootPrefix(t *testing.T) {
	f := mustNew(t, WithForcedRoots(".worktrees/feature"))

	assert.True(t, f.IsObservable(".worktrees/feature/main.go", false, false))
	assert.False(t, f.IsObservable(".worktrees/feature/.env", false, false))
	assert.False(t, f.IsObservable(".worktrees/other/main.go", false, false))
}

func TestSkipPrefixes(t *testing.T) {
	f := mustNew(t, WithAll(true), WithSkipPrefixes("recordings"))

	assert.False(t, f.IsObservable("recordings", true, false))
	assert.False(t, f.IsObservable("recordings/a.jsonl", false, true))
	assert.True(t, f.IsObservable("recordings2/a", false, false))
}

func TestExcludeGlobs(t *testing.T) {
	f := mustNew(t, WithExclude("vendor", "*.min.js"))

	assert.False(t, f.IsObservable("vendor/lib/a.go", false, false))
	assert.False(t, f.IsObservable("app.min.js", false, false))
	assert.True(t, f.IsObservable("app.js", false, false))
}

func TestMalformedPatterns(t *testing.T) {
	_, err := New(WithIgnorePatterns("ok", "[unclosed"))
	require.ErrorIs(t, err, ErrInvalidPattern)

	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "config", pe.Source)
	assert.Equal(t, 2, pe.Line)

	_, err = New(WithExclude("[z-a"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	write := func(rel, data string) {
		t.Helper()
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
	write(".gitignore", "*.log\n# comment\n\ntmp/\n")
	write("svc/.gitignore", "!keep.log\n")
	write(".git/info/.gitignore", "*\n")

	rules, err := LoadGitignore(root)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "", rules[0].Base)
	assert.Equal(t, "svc", rules[2].Base)

	f := mustNew(t, WithGitignoreRules(rules))
	assert.False(t, f.IsObservable("a.log", false, false))
	assert.True(t, f.IsObservable("svc/keep.log", false, false))
	assert.False(t, f.IsObservable("keep.log", false, false), "nested rules only apply below their directory")
	assert.False(t, f.IsObservable("tmp/x", false, false))
}

func TestLoadGitignoreReportsLocation(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("ok\n[bad\n"), 0o644))

	_, err := LoadGitignore(root)
	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, filepath.Join(root, ".gitignore"), pe.Source)
}
