package snapshot

import (
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// Builder accumulates entries for a new Snapshot. It is not safe for
// concurrent use.
type Builder struct {
	order   []types.Key
	pos     map[types.Key]int
	entries map[types.Key]types.Entry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		pos:     make(map[types.Key]int),
		entries: make(map[types.Key]types.Entry),
	}
}

// From returns a builder seeded with the contents of s.
func From(s *Snapshot) *Builder {
	b := &Builder{
		order:   make([]types.Key, 0, len(s.order)),
		pos:     make(map[types.Key]int, len(s.order)),
		entries: make(map[types.Key]types.Entry, len(s.entries)),
	}
	for _, k := range s.order {
		b.pos[k] = len(b.order)
		b.order = append(b.order, k)
		b.entries[k] = s.entries[k]
	}
	return b
}

// Len returns the current number of entries.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Get returns the current entry for k.
func (b *Builder) Get(k types.Key) (types.Entry, bool) {
	e, ok := b.entries[k]
	return e, ok
}

// Put inserts e, or replaces the entry with the same key in place.
func (b *Builder) Put(e types.Entry) {
	k := e.Key()
	if _, ok := b.entries[k]; !ok {
		b.pos[k] = len(b.order)
		b.order = append(b.order, k)
	}
	b.entries[k] = e
}

// Delete removes k. It reports whether k was present.
func (b *Builder) Delete(k types.Key) bool {
	if _, ok := b.entries[k]; !ok {
		return false
	}
	delete(b.entries, k)
	delete(b.pos, k)
	return true
}

// DeleteTree removes k and, when k is a directory, everything below it.
// It returns the number of entries removed.
func (b *Builder) DeleteTree(k types.Key) int {
	e, ok := b.entries[k]
	if !ok {
		return 0
	}
	n := 0
	if e.IsDir {
		for child := range b.entries {
			if child != k && k.Contains(child) {
				b.Delete(child)
				n++
			}
		}
	}
	b.Delete(k)
	return n + 1
}

// EnsureParents inserts directory entries for any missing ancestors of k,
// outermost first. A file standing where a directory is needed is replaced.
func (b *Builder) EnsureParents(k types.Key) {
	var missing []types.Key
	for p, ok := k.Parent(); ok; p, ok = p.Parent() {
		if e, exists := b.entries[p]; exists && e.IsDir {
			break
		}
		missing = append(missing, p)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		b.Put(types.Entry{Root: missing[i].Root, Path: missing[i].Path, IsDir: true})
	}
}

// Apply folds one event into the builder. Creations and modifications upsert
// the event's state, materialising missing ancestors; a kind change drops the
// old subtree first. Deletions remove the path and its subtree.
func (b *Builder) Apply(ev types.Event) {
	k := ev.Key()
	switch ev.Kind {
	case types.Created, types.Modified:
		if cur, ok := b.entries[k]; ok && cur.IsDir != ev.IsDir {
			b.DeleteTree(k)
		}
		b.EnsureParents(k)
		b.Put(ev.Entry())
	case types.Deleted:
		b.DeleteTree(k)
	}
}

// Build returns the accumulated Snapshot. The builder may keep being used.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		order:   make([]types.Key, 0, len(b.entries)),
		entries: make(map[types.Key]types.Entry, len(b.entries)),
	}
	for i, k := range b.order {
		if p, ok := b.pos[k]; !ok || p != i {
			continue
		}
		s.order = append(s.order, k)
		s.entries[k] = b.entries[k]
	}
	return s
}

// Apply folds events into s and returns the resulting snapshot. s is not
// modified.
func Apply(s *Snapshot, events []types.Event) *Snapshot {
	if len(events) == 0 {
		return s
	}
	b := From(s)
	for _, ev := range events {
		b.Apply(ev)
	}
	return b.Build()
}
