package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/rewind/pkg/rewind/catalog"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

func sampleRecording() *recording.Recording {
	return &recording.Recording{
		ID:        "rec-1",
		StartTime: float64(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC).Unix()),
		Source:    recording.SourceLive,
		Roots:     []types.Root{{Path: "/work/proj"}},
		InitialState: []types.Entry{
			{Path: ".", IsDir: true},
			{Path: "main.go", Size: 100, Lines: 10},
		},
		Events: []types.Event{
			{Timestamp: 1, Kind: types.Created, Path: "util.go", Size: 50, Lines: 5},
			{Timestamp: 2, Kind: types.Modified, Path: "main.go", Size: 120, Lines: 12},
			{Timestamp: 65, Kind: types.Deleted, Path: "util.go"},
		},
	}
}

func sampleResult() *Result {
	return &Result{
		Recordings: []Summary{Summarize("/tmp/rec.jsonl", sampleRecording())},
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "plain", "pretty", "yaml"}, Available())

	_, err := Get("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pretty")

	r := NewRegistry()
	r.Register("x", func() Formatter { return &PlainFormatter{} })
	f, err := r.Get("x")
	require.NoError(t, err)
	assert.IsType(t, &PlainFormatter{}, f)
}

func TestSummarize(t *testing.T) {
	s := Summarize("/tmp/rec.jsonl", sampleRecording())
	assert.Equal(t, "rec-1", s.ID)
	assert.Equal(t, "live", s.Source)
	assert.Equal(t, []string{"/work/proj"}, s.Roots)
	assert.Equal(t, 1, s.Stats.Created)
	assert.Equal(t, 1, s.Stats.Modified)
	assert.Equal(t, 1, s.Stats.Deleted)
	assert.Equal(t, 1, s.Stats.Files)
	assert.Equal(t, 2, s.Stats.PeakFiles)
	assert.InDelta(t, 65, s.Stats.Duration, 1e-9)
	assert.True(t, s.Detailed)
}

func TestFromMeta(t *testing.T) {
	s := FromMeta(catalog.Meta{ID: "01J", Path: "/r.jsonl", Source: recording.SourceHistory, Duration: 3, Created: 2, Deleted: 1})
	assert.Equal(t, "history", s.Source)
	assert.Equal(t, 3, s.Stats.Events())
	assert.False(t, s.Detailed)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleResult()))

	var decoded struct {
		Recordings []struct {
			Path  string      `json:"path"`
			Stats stats.Stats `json:"stats"`
		} `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Recordings, 1)
	assert.Equal(t, "/tmp/rec.jsonl", decoded.Recordings[0].Path)
	assert.Equal(t, 1, decoded.Recordings[0].Stats.Created)

	buf.Reset()
	require.NoError(t, (&JSONFormatter{}).Format(&buf, &Result{}))
	assert.Contains(t, buf.String(), `"recordings": []`)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, sampleResult()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	recs, ok := decoded["recordings"].([]any)
	require.True(t, ok)
	require.Len(t, recs, 1)
	rec := recs[0].(map[string]any)
	assert.Equal(t, "live", rec["source"])
	assert.Equal(t, 1, rec["stats"].(map[string]any)["deleted"])
}

func TestPlainFormatter(t *testing.T) {
	res := sampleResult()
	res.Recordings[0].Problems = []string{"event 2 out of order"}
	res.Warnings = []string{"catalog unavailable"}

	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "rec-1")
	assert.Contains(t, out, "1m 5s")
	assert.Contains(t, out, "/tmp/rec.jsonl")
	assert.Contains(t, out, "problem: /tmp/rec.jsonl: event 2 out of order")
	assert.Contains(t, out, "warning: catalog unavailable")
}

func TestPrettyFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, sampleResult()))
	out := buf.String()
	assert.Contains(t, out, "/tmp/rec.jsonl")
	assert.Contains(t, out, "1m 5s")
	assert.Contains(t, out, "+1")
	assert.Contains(t, out, "go 1")

	buf.Reset()
	table := &Result{Recordings: []Summary{
		FromMeta(catalog.Meta{ID: "a", Path: "/a.jsonl"}),
		FromMeta(catalog.Meta{ID: "b", Path: "/b.jsonl"}),
	}}
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, table))
	assert.Contains(t, buf.String(), "PATH")
	assert.Contains(t, buf.String(), "/b.jsonl")

	buf.Reset()
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Result{}))
	assert.Contains(t, buf.String(), "No recordings found")
}

func TestSparkline(t *testing.T) {
	buckets := []stats.Bucket{{}, {Created: 1}, {Created: 2, Deleted: 2}, {Modified: 8}}
	assert.Equal(t, "▁▂▄█", Sparkline(buckets))
	assert.Empty(t, Sparkline(make([]stats.Bucket, 4)))
}
