package snapshot_test

import (
	"strings"
	"testing"

	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func dir(p string) types.Entry { return types.Entry{Path: p, IsDir: true} }

func file(p string, size int64) types.Entry { return types.Entry{Path: p, Size: size} }

func paths(events []types.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind.String() + " " + ev.Path
	}
	return out
}

func TestDiffOrdering(t *testing.T) {
	t.Run("deletes children before their directory", func(t *testing.T) {
		old := snapshot.FromEntries([]types.Entry{dir("d"), file("d/a", 1), file("d/b", 2)})

		events := snapshot.Diff(old, snapshot.Empty())

		assert.Equal(t, []string{"deleted d/a", "deleted d/b", "deleted d"}, paths(events))
	})

	t.Run("creates directories before their contents", func(t *testing.T) {
		next := snapshot.FromEntries([]types.Entry{dir("z"), file("z/y/x.go", 3), dir("z/y"), file("a.txt", 1)})

		events := snapshot.Diff(snapshot.Empty(), next)

		assert.Equal(t, []string{"created a.txt", "created z", "created z/y", "created z/y/x.go"}, paths(events))
	})

	t.Run("kind change is delete then create", func(t *testing.T) {
		old := snapshot.FromEntries([]types.Entry{file("p", 4)})
		next := snapshot.FromEntries([]types.Entry{dir("p"), file("p/q", 1)})

		events := snapshot.Diff(old, next)

		assert.Equal(t, []string{"deleted p", "created p", "created p/q"}, paths(events))
		for _, ev := range events {
			assert.NotEqual(t, types.Modified, ev.Kind)
		}
	})

	t.Run("modified on size or content change only", func(t *testing.T) {
		old := snapshot.FromEntries([]types.Entry{
			file("same", 5),
			file("grown", 5),
			{Path: "edited", Size: 1, Content: types.StringPtr("a")},
			dir("dir"),
		})
		next := snapshot.FromEntries([]types.Entry{
			file("same", 5),
			file("grown", 9),
			{Path: "edited", Size: 1, Content: types.StringPtr("b")},
			dir("dir"),
		})

		events := snapshot.Diff(old, next)

		assert.Equal(t, []string{"modified edited", "modified grown"}, paths(events))
	})

	t.Run("fingerprint catches same-size rewrites", func(t *testing.T) {
		old := snapshot.FromEntries([]types.Entry{{Path: "f", Size: 3, Fingerprint: "1"}})
		next := snapshot.FromEntries([]types.Entry{{Path: "f", Size: 3, Fingerprint: "2"}})

		assert.Len(t, snapshot.Diff(old, next), 1)
		assert.Empty(t, snapshot.Diff(old, snapshot.FromEntries([]types.Entry{{Path: "f", Size: 3}})))
	})

	t.Run("roots are separate namespaces", func(t *testing.T) {
		old := snapshot.FromEntries([]types.Entry{{Root: "wt", Path: "a", Size: 1}})
		next := snapshot.FromEntries([]types.Entry{{Path: "a", Size: 1}})

		events := snapshot.Diff(old, next)

		require.Len(t, events, 2)
		assert.Equal(t, types.Deleted, events[0].Kind)
		assert.Equal(t, "wt", events[0].Root)
		assert.Equal(t, types.Created, events[1].Kind)
		assert.Equal(t, "", events[1].Root)
	})
}

func TestApplyLenient(t *testing.T) {
	t.Run("materialises missing parents", func(t *testing.T) {
		s := snapshot.Apply(snapshot.Empty(), []types.Event{
			{Kind: types.Created, Path: "a/b/c.txt", Size: 2},
		})

		require.NoError(t, snapshot.Validate(s))
		assert.Equal(t, 3, s.Len())
		e, ok := s.Get(types.Key{Path: "a/b"})
		require.True(t, ok)
		assert.True(t, e.IsDir)
	})

	t.Run("deleting a directory drops its subtree", func(t *testing.T) {
		s := snapshot.FromEntries([]types.Entry{dir("d"), dir("d/e"), file("d/e/f", 1), file("g", 1)})

		s = snapshot.Apply(s, []types.Event{{Kind: types.Deleted, Path: "d", IsDir: true}})

		assert.Equal(t, []types.Key{{Path: "g"}}, s.Keys())
	})

	t.Run("does not touch its input", func(t *testing.T) {
		s := snapshot.FromEntries([]types.Entry{file("f", 1)})

		_ = snapshot.Apply(s, []types.Event{{Kind: types.Modified, Path: "f", Size: 9}})

		e, _ := s.Get(types.Key{Path: "f"})
		assert.Equal(t, int64(1), e.Size)
	})
}

func TestRestrictAndCounts(t *testing.T) {
	s := snapshot.FromEntries([]types.Entry{
		dir(types.RootDir), dir("src"), file("src/a.go", 1), file("src/b.go", 1), file("top", 1),
	})

	files, dirs := s.Counts()
	assert.Equal(t, 3, files)
	assert.Equal(t, 1, dirs)

	sub := s.Restrict([]types.Key{{Path: "src"}})
	assert.Equal(t, []types.Key{{Path: "src"}, {Path: "src/a.go"}, {Path: "src/b.go"}}, sub.Keys())
}

func TestValidate(t *testing.T) {
	err := snapshot.Validate(snapshot.FromEntries([]types.Entry{file("a/b", 1)}))
	assert.ErrorIs(t, err, snapshot.ErrOrphan)

	err = snapshot.Validate(snapshot.FromEntries([]types.Entry{file("a/b", 1), dir("a")}))
	assert.ErrorIs(t, err, snapshot.ErrOrphan, "parent must precede child")

	assert.NoError(t, snapshot.Validate(snapshot.FromEntries([]types.Entry{dir("a"), file("a/b", 1)})))
}

// genSnapshot draws a valid snapshot over a small namespace so that pairs of
// draws overlap heavily.
func genSnapshot(t *rapid.T, label string) *snapshot.Snapshot {
	b := snapshot.NewBuilder()
	n := rapid.IntRange(0, 12).Draw(t, label+"_n")
	for i := 0; i < n; i++ {
		depth := rapid.IntRange(1, 3).Draw(t, label+"_depth")
		parts := make([]string, depth)
		for j := range parts {
			parts[j] = rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, label+"_part")
		}
		e := types.Entry{
			Root:  rapid.SampledFrom([]string{"", "wt"}).Draw(t, label+"_root"),
			Path:  strings.Join(parts, "/"),
			IsDir: rapid.Bool().Draw(t, label+"_dir"),
		}
		if !e.IsDir {
			e.Size = rapid.Int64Range(0, 50).Draw(t, label+"_size")
			e.Lines = rapid.IntRange(0, 5).Draw(t, label+"_lines")
			if rapid.Bool().Draw(t, label+"_hascontent") {
				e.Content = types.StringPtr(rapid.SampledFrom([]string{"", "x", "y\n"}).Draw(t, label+"_content"))
			}
		}
		b.Apply(types.NewEvent(types.Created, e))
	}
	return b.Build()
}

func TestDiffApplyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genSnapshot(t, "a")
		b := genSnapshot(t, "b")

		events := snapshot.Diff(a, b)
		got := snapshot.Apply(a, events)

		if !snapshot.Equal(got, b) {
			t.Fatalf("Apply(A, Diff(A, B)) != B\nA=%v\nB=%v\nevents=%v", a.Keys(), b.Keys(), events)
		}
	})
}

func TestDiffPrefixesKeepParents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genSnapshot(t, "a")
		b := genSnapshot(t, "b")

		cur := a
		for _, ev := range snapshot.Diff(a, b) {
			cur = snapshot.Apply(cur, []types.Event{ev})
			if err := snapshot.Validate(cur); err != nil {
				t.Fatalf("after %v: %v", ev, err)
			}
		}
	})
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genSnapshot(t, "a")
		if events := snapshot.Diff(a, a); len(events) != 0 {
			t.Fatalf("Diff(A, A) = %v, want none", events)
		}
	})
}
