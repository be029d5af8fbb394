package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rewind/pkg/rewind/history"
)

// fakeGit answers commands from a table keyed by the joined arguments.
type fakeGit struct {
	responses map[string]string
	calls     []string
}

func (f *fakeGit) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	out, ok := f.responses[key]
	if !ok {
		return nil, fmt.Errorf("git %s: exit status 128", key)
	}
	return []byte(out), nil
}

func repo() *fakeGit {
	return &fakeGit{responses: map[string]string{
		"rev-parse --verify --quiet v1^{commit}":   "aaa\n",
		"rev-parse --verify --quiet HEAD^{commit}": "ccc\n",
		"rev-parse --verify --quiet bbb^{commit}":  "bbb\n",
		"rev-parse --verify --quiet bbb^^{commit}": "aaa\n",
		"rev-parse --verify --quiet aaa^{commit}":  "aaa\n",
		"log -1 --format=%H %ct aaa":               "aaa 1700000000\n",
		"log -1 --format=%H %ct bbb":               "bbb 1700000100\n",
		"log --first-parent --reverse --format=%H %ct aaa..ccc": "bbb 1700000100\nccc 1700000200\n",
	}}
}

func ids(commits []history.Commit) []string {
	var out []string
	for _, c := range commits {
		out = append(out, c.ID)
	}
	return out
}

func TestCommitsRangeForms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec string
		want []string
	}{
		{spec: "v1..HEAD", want: []string{"aaa", "bbb", "ccc"}},
		{spec: "v1..", want: []string{"aaa", "bbb", "ccc"}},
		{spec: "bbb", want: []string{"aaa", "bbb"}},
		{spec: "aaa", want: []string{"", "aaa"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			g := NewGit("/repo", repo().run)
			commits, err := g.Commits(context.Background(), tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(commits))
		})
	}
}

func TestCommitsTimes(t *testing.T) {
	t.Parallel()
	g := NewGit("/repo", repo().run)
	commits, err := g.Commits(context.Background(), "v1..")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), commits[0].Time)
	assert.Equal(t, time.Unix(1700000200, 0), commits[2].Time)
}

func TestCommitsErrors(t *testing.T) {
	t.Parallel()
	g := NewGit("/repo", repo().run)
	for _, spec := range []string{"", "..HEAD", "a...b"} {
		_, err := g.Commits(context.Background(), spec)
		assert.ErrorIs(t, err, ErrBadRange, spec)
	}
	_, err := g.Commits(context.Background(), "nope..HEAD")
	assert.ErrorContains(t, err, `cannot resolve "nope"`)
}

func TestTree(t *testing.T) {
	t.Parallel()
	f := &fakeGit{responses: map[string]string{
		"ls-tree -r --long -z ccc": "100644 blob 1111111     12\tREADME.md\x00" +
			"100755 blob 2222222   2048\tbin/run me.sh\x00" +
			"120000 blob 3333333      7\tlink\x00" +
			"160000 commit 4444444       -\tvendor/sub\x00",
		"cat-file blob 1111111": "hello world\n",
	}}
	g := NewGit("/repo", f.run)

	files, err := g.Tree(context.Background(), "ccc")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "README.md", files[0].Path)
	assert.Equal(t, int64(12), files[0].Size)
	assert.Equal(t, "1111111", files[0].Hash)
	assert.Equal(t, "bin/run me.sh", files[1].Path)

	data, err := files[0].Open()
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))

	_, err = parseTree([]byte("garbage\x00"), nil)
	assert.Error(t, err)
}

func TestSynthesizeThroughGit(t *testing.T) {
	t.Parallel()
	f := repo()
	f.responses["ls-tree -r --long -z aaa"] = "100644 blob h1 2\ta.txt\x00"
	f.responses["ls-tree -r --long -z bbb"] = "100644 blob h2 4\ta.txt\x00"
	f.responses["ls-tree -r --long -z ccc"] = "100644 blob h2 4\ta.txt\x00100644 blob h3 2\tdir/b.go\x00"
	f.responses["cat-file blob h1"] = "a\n"
	f.responses["cat-file blob h2"] = "a\nb\n"
	f.responses["cat-file blob h3"] = "b\n"

	rec, err := history.Synthesize(context.Background(), NewGit("/repo", f.run), "v1..", history.Options{})
	require.NoError(t, err)
	require.Len(t, rec.Events, 3)
	assert.Equal(t, "1.000 modified a.txt", rec.Events[0].String())
	assert.Equal(t, "2.000 created dir", rec.Events[1].String())
	assert.Equal(t, "2.000 created dir/b.go", rec.Events[2].String())
	assert.Equal(t, 2, rec.Events[0].Lines)
}

func TestSynthesizeReportsGitFailure(t *testing.T) {
	t.Parallel()
	f := repo()
	f.responses["ls-tree -r --long -z aaa"] = "100644 blob h1 2\ta.txt\x00"
	rec, err := history.Synthesize(context.Background(), NewGit("/repo", f.run), "v1..", history.Options{})
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, history.ErrHistorySource)
	assert.False(t, errors.Is(err, ErrBadRange))
}
