// Package snapshot holds immutable tree states and the diff engine that turns
// one state into the next as an ordered list of events.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// ErrOrphan is returned by Validate when an entry's parent directory is absent
// or appears after it.
var ErrOrphan = errors.New("entry without parent directory")

// Snapshot is an immutable, insertion-ordered mapping from key to entry.
// The zero value is not usable; obtain snapshots from Empty, a Builder or
// FromEntries.
type Snapshot struct {
	order   []types.Key
	entries map[types.Key]types.Entry
}

var empty = &Snapshot{entries: map[types.Key]types.Entry{}}

// Empty returns the snapshot with no entries.
func Empty() *Snapshot {
	return empty
}

// FromEntries builds a snapshot from entries in order. Later duplicates
// replace earlier ones.
func FromEntries(entries []types.Entry) *Snapshot {
	b := NewBuilder()
	for _, e := range entries {
		b.Put(e)
	}
	return b.Build()
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Get returns the entry for k.
func (s *Snapshot) Get(k types.Key) (types.Entry, bool) {
	e, ok := s.entries[k]
	return e, ok
}

// Has reports whether k is present.
func (s *Snapshot) Has(k types.Key) bool {
	_, ok := s.entries[k]
	return ok
}

// Entries returns a copy of all entries in insertion order.
func (s *Snapshot) Entries() []types.Entry {
	out := make([]types.Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k])
	}
	return out
}

// Keys returns a copy of all keys in insertion order.
func (s *Snapshot) Keys() []types.Key {
	return append([]types.Key(nil), s.order...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (s *Snapshot) Range(fn func(types.Entry) bool) {
	for _, k := range s.order {
		if !fn(s.entries[k]) {
			return
		}
	}
}

// Counts returns the number of files and directories. Root entries are not
// counted as directories.
func (s *Snapshot) Counts() (files, dirs int) {
	for _, e := range s.entries {
		switch {
		case !e.IsDir:
			files++
		case e.Path != types.RootDir:
			dirs++
		}
	}
	return files, dirs
}

// Restrict returns the entries covered by any of keys (the key itself or
// anything below it), in insertion order.
func (s *Snapshot) Restrict(keys []types.Key) *Snapshot {
	if len(keys) == 0 {
		return Empty()
	}
	b := NewBuilder()
	for _, k := range s.order {
		for _, scope := range keys {
			if scope.Contains(k) {
				b.Put(s.entries[k])
				break
			}
		}
	}
	return b.Build()
}

// Roots returns the distinct root identifiers in order of first appearance.
func (s *Snapshot) Roots() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, k := range s.order {
		if !seen[k.Root] {
			seen[k.Root] = true
			roots = append(roots, k.Root)
		}
	}
	return roots
}

// Equal reports whether a and b hold the same persisted state, ignoring
// insertion order and fingerprints.
func Equal(a, b *Snapshot) bool {
	if a.Len() != b.Len() {
		return false
	}
	for k, ea := range a.entries {
		eb, ok := b.entries[k]
		if !ok || !ea.SameState(eb) {
			return false
		}
	}
	return true
}

// Validate checks that every entry's parent is a directory inserted before it.
func Validate(s *Snapshot) error {
	pos := make(map[types.Key]int, len(s.order))
	for i, k := range s.order {
		pos[k] = i
	}
	for i, k := range s.order {
		parent, ok := k.Parent()
		if !ok {
			continue
		}
		p, exists := s.entries[parent]
		if !exists || !p.IsDir || pos[parent] > i {
			return fmt.Errorf("%w: %s", ErrOrphan, k)
		}
	}
	return nil
}
