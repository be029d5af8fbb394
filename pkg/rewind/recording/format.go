package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// Format selects the on-disk layout.
type Format int

const (
	// FormatLines is a header line followed by one event per line.
	FormatLines Format = iota
	// FormatDocument is a single JSON object with an events array.
	FormatDocument
)

// header is the first line of a JSON Lines recording.
type header struct {
	Format       string        `json:"format"`
	ID           string        `json:"id,omitempty"`
	StartTime    float64       `json:"start_time"`
	Source       Source        `json:"source,omitempty"`
	Roots        []types.Root  `json:"roots,omitempty"`
	InitialState []types.Entry `json:"initial_state"`
}

// sniff distinguishes the two layouts by the keys present in the first value.
type sniff struct {
	StartTime *float64        `json:"start_time"`
	Events    json.RawMessage `json:"events"`
}

func headerOf(r *Recording) header {
	initial := r.InitialState
	if initial == nil {
		initial = []types.Entry{}
	}
	return header{
		Format:       FormatVersion,
		ID:           r.ID,
		StartTime:    r.StartTime,
		Source:       r.Source,
		Roots:        r.Roots,
		InitialState: initial,
	}
}

// WriteLines writes r as JSON Lines.
func WriteLines(w io.Writer, r *Recording) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(headerOf(r)); err != nil {
		return err
	}
	for _, ev := range r.Events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteDocument writes r as one indented JSON object.
func WriteDocument(w io.Writer, r *Recording) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile atomically replaces path with r in the given format. It is the
// retry path after a Recorder reports ErrIO.
func WriteFile(path string, r *Recording, format Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".rewind-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	switch format {
	case FormatDocument:
		err = WriteDocument(tmp, r)
	default:
		err = WriteLines(tmp, r)
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("%w: writing %s: %w", ErrIO, path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: closing %s: %w", ErrIO, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming to %s: %w", ErrIO, path, err)
	}
	return nil
}

// LoadFile reads a recording from path.
func LoadFile(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return Parse(data)
}

// Load reads a recording in either layout from r.
func Load(r io.Reader) (*Recording, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return Parse(data)
}

// Parse decodes a recording in either layout. A JSON Lines recording whose
// final line was cut off mid-write loses only that line. Any other defect
// fails the whole decode with a *CorruptError.
func Parse(data []byte) (*Recording, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var first json.RawMessage
	if err := dec.Decode(&first); err != nil {
		return nil, &CorruptError{Line: 1, Err: fmt.Errorf("missing header: %w", err)}
	}
	var p sniff
	if err := json.Unmarshal(first, &p); err != nil {
		return nil, &CorruptError{Line: 1, Err: err}
	}
	if p.StartTime == nil {
		return nil, &CorruptError{Line: 1, Err: errors.New("header has no start_time")}
	}

	if p.Events != nil {
		return parseDocument(first, data[dec.InputOffset():])
	}
	return parseLines(first, data)
}

func parseDocument(doc json.RawMessage, rest []byte) (*Recording, error) {
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, &CorruptError{Err: errors.New("trailing data after document")}
	}
	var rec Recording
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, &CorruptError{Err: err}
	}
	for i, ev := range rec.Events {
		if ev.Kind == 0 {
			return nil, &CorruptError{Err: fmt.Errorf("event %d: %w", i, types.ErrUnknownEventKind)}
		}
	}
	if err := rec.CheckOrder(); err != nil {
		return nil, &CorruptError{Err: err}
	}
	return &rec, nil
}

func parseLines(first json.RawMessage, data []byte) (*Recording, error) {
	var h header
	if err := json.Unmarshal(first, &h); err != nil {
		return nil, &CorruptError{Line: 1, Err: err}
	}
	rec := &Recording{
		ID:           h.ID,
		StartTime:    h.StartTime,
		Source:       h.Source,
		Roots:        h.Roots,
		InitialState: h.InitialState,
		Events:       []types.Event{},
	}
	if rec.InitialState == nil {
		rec.InitialState = []types.Entry{}
	}

	lines := bytes.Split(data, []byte{'\n'})
	complete := len(data) > 0 && data[len(data)-1] == '\n'
	headerSeen := false
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			if i == len(lines)-1 && !complete {
				logging.Get("recorder").Warn("dropping truncated final event", "line", i+1)
				break
			}
			return nil, &CorruptError{Line: i + 1, Err: err}
		}
		if ev.Kind == 0 {
			return nil, &CorruptError{Line: i + 1, Err: types.ErrUnknownEventKind}
		}
		if n := len(rec.Events); n > 0 && ev.Timestamp < rec.Events[n-1].Timestamp {
			return nil, &CorruptError{Line: i + 1, Err: &OrderingError{
				Last: rec.Events[n-1].Timestamp, Got: ev.Timestamp, Path: ev.Path,
			}}
		}
		rec.Events = append(rec.Events, ev)
	}
	return rec, nil
}
