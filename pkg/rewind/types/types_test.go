package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "kilobytes", input: "100K", want: 100 * KiB},
		{name: "kibibytes", input: "100KiB", want: 100 * KiB},
		{name: "decimal megabytes", input: "1.5M", want: MiB + MiB/2},
		{name: "gigabytes with B", input: "2GB", want: 2 * GiB},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDelta(t *testing.T) {
	assert.Equal(t, "+15 B", FormatDelta(15))
	assert.Equal(t, "-1.0 KiB", FormatDelta(-1024))
	assert.Equal(t, "0 B", FormatDelta(0))
}

func TestKeyRelations(t *testing.T) {
	k := Key{Path: "a/b/c.txt"}
	assert.Equal(t, 3, k.Depth())

	parent, ok := k.Parent()
	require.True(t, ok)
	assert.Equal(t, Key{Path: "a/b"}, parent)

	_, ok = Key{Path: "a"}.Parent()
	assert.False(t, ok)

	assert.True(t, Key{Path: "a"}.Contains(k))
	assert.True(t, Key{Path: RootDir}.Contains(k))
	assert.False(t, Key{Path: "a/b/c"}.Contains(k))
	assert.False(t, Key{Root: "wt", Path: "a"}.Contains(k))
	assert.False(t, Key{Path: "a/bb"}.Contains(Key{Path: "a/b"}))
}

func TestEventKindText(t *testing.T) {
	for _, k := range []EventKind{Created, Modified, Deleted} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got EventKind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}

	var k EventKind
	err := k.UnmarshalText([]byte("renamed"))
	assert.ErrorIs(t, err, ErrUnknownEventKind)

	_, err = EventKind(0).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestEventJSONShape(t *testing.T) {
	ev := NewEvent(Modified, Entry{Path: "src/main.go", Size: 25, Lines: 3, Content: StringPtr("a\nb\nc")})
	ev.Timestamp = 0.5

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"timestamp":0.5,"event_type":"modified","path":"src/main.go","size":25,"is_dir":false,"loc":3,"content":"a\nb\nc"}`,
		string(b))

	noContent := NewEvent(Deleted, Entry{Path: "x", Content: StringPtr("gone")})
	assert.Nil(t, noContent.Content, "deletions never carry content")
}

func TestEmptyContentSurvivesJSON(t *testing.T) {
	e := Entry{Path: "empty.txt", Content: StringPtr("")}
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(b, &got))
	require.NotNil(t, got.Content)
	assert.True(t, e.SameState(got))
}

func TestDeltaOf(t *testing.T) {
	prev := &Entry{Path: "f.txt", Size: 10, Lines: 1}

	assert.Equal(t, Delta{Size: 10, Lines: 1}, DeltaOf(nil, Event{Kind: Created, Path: "f.txt", Size: 10, Lines: 1}))
	assert.Equal(t, Delta{Size: 15, Lines: 2}, DeltaOf(prev, Event{Kind: Modified, Path: "f.txt", Size: 25, Lines: 3}))
	assert.Equal(t, Delta{Size: -10, Lines: -1}, DeltaOf(prev, Event{Kind: Deleted, Path: "f.txt"}))
	assert.True(t, DeltaOf(nil, Event{Kind: Created, Path: "d", IsDir: true}).IsZero())
}

func TestTextFiles(t *testing.T) {
	assert.True(t, IsTextFile("cmd/main.go"))
	assert.True(t, IsTextFile("README.MD"))
	assert.True(t, IsTextFile("build/Makefile"))
	assert.True(t, IsTextFile("makefile"))
	assert.True(t, IsTextFile("deploy/DOCKERFILE"))
	assert.False(t, IsTextFile("logo.png"))
	assert.False(t, IsTextFile("LICENSE"))

	assert.Equal(t, 0, CountLines(nil))
	assert.Equal(t, 1, CountLines([]byte("one")))
	assert.Equal(t, 1, CountLines([]byte("one\n")))
	assert.Equal(t, 3, CountLines([]byte("a\nb\nc")))
}

func TestDecodeContent(t *testing.T) {
	assert.Equal(t, "plain", *DecodeContent([]byte("plain")))
	assert.Equal(t, "caf\uFFFD", *DecodeContent([]byte("caf\xe9")))
	assert.Equal(t, "", *DecodeContent(nil))
}
