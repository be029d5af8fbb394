package types

import (
	"errors"
	"fmt"
)

// ErrUnknownEventKind is returned when decoding an unrecognised event_type.
var ErrUnknownEventKind = errors.New("unknown event type")

// EventKind tags what happened to a path.
type EventKind uint8

const (
	Created EventKind = iota + 1
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	switch k {
	case Created, Modified, Deleted:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventKind, uint8(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	kind, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseEventKind parses "created", "modified" or "deleted".
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "created":
		return Created, nil
	case "modified":
		return Modified, nil
	case "deleted":
		return Deleted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
	}
}

// Event is one created/modified/deleted transition of a path.
type Event struct {
	// Timestamp is seconds elapsed since the start of the session.
	Timestamp float64   `json:"timestamp"`
	Kind      EventKind `json:"event_type"`
	Root      string    `json:"root,omitempty"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	IsDir     bool      `json:"is_dir"`
	Lines     int       `json:"loc,omitempty"`
	Content   *string   `json:"content,omitempty"`
}

// Key returns the address of the path the event touches.
func (e Event) Key() Key {
	return Key{Root: e.Root, Path: e.Path}
}

// Entry returns the state the event leaves behind. Meaningless for deletions.
func (e Event) Entry() Entry {
	return Entry{
		Root:    e.Root,
		Path:    e.Path,
		Size:    e.Size,
		IsDir:   e.IsDir,
		Lines:   e.Lines,
		Content: e.Content,
	}
}

// WithoutContent returns a copy with Content cleared.
func (e Event) WithoutContent() Event {
	e.Content = nil
	return e
}

func (e Event) String() string {
	return fmt.Sprintf("%.3f %s %s", e.Timestamp, e.Kind, e.Key())
}

// NewEvent builds an event of the given kind carrying the state of entry.
func NewEvent(kind EventKind, entry Entry) Event {
	ev := Event{
		Kind:  kind,
		Root:  entry.Root,
		Path:  entry.Path,
		Size:  entry.Size,
		IsDir: entry.IsDir,
		Lines: entry.Lines,
	}
	if kind != Deleted {
		ev.Content = entry.Content
	}
	return ev
}

// Delta is the size and line-count change an event causes relative to the
// prior state of its path.
type Delta struct {
	Size  int64 `json:"size"`
	Lines int   `json:"loc"`
}

// IsZero reports whether nothing changed.
func (d Delta) IsZero() bool {
	return d.Size == 0 && d.Lines == 0
}

// DeltaOf derives the change ev makes to prev. prev is nil when the path did
// not exist. Directories never carry deltas.
func DeltaOf(prev *Entry, ev Event) Delta {
	if ev.IsDir || (prev != nil && prev.IsDir) {
		return Delta{}
	}
	var before Delta
	if prev != nil {
		before = Delta{Size: prev.Size, Lines: prev.Lines}
	}
	switch ev.Kind {
	case Created, Modified:
		return Delta{Size: ev.Size - before.Size, Lines: ev.Lines - before.Lines}
	case Deleted:
		return Delta{Size: -before.Size, Lines: -before.Lines}
	default:
		return Delta{}
	}
}
