package logging

import "sync"

// DefaultRingSize is the number of records a Ring keeps.
const DefaultRingSize = 50

// Ring keeps the most recent records, overwriting the oldest.
type Ring struct {
	mu      sync.RWMutex
	records []Record
	start   int
	count   int
}

// NewRing returns a ring holding up to size records.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{records: make([]Record, size)}
}

// Add appends r, evicting the oldest record when full.
func (b *Ring) Add(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[(b.start+b.count)%len(b.records)] = r
	if b.count < len(b.records) {
		b.count++
		return
	}
	b.start = (b.start + 1) % len(b.records)
}

// Last returns up to n most recent records, oldest first.
func (b *Ring) Last(n int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.count {
		n = b.count
	}
	out := make([]Record, n)
	offset := b.count - n
	for i := range out {
		out[i] = b.records[(b.start+offset+i)%len(b.records)]
	}
	return out
}

// Len returns the number of retained records.
func (b *Ring) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
