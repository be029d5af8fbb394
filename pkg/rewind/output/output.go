// Package output formats recording summaries for the info and list
// commands.
//
// Formatters are looked up by name from a registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/catalog"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
)

// Summary describes one recording.
type Summary struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Path      string    `json:"path,omitempty" yaml:"path,omitempty"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Roots     []string  `json:"roots,omitempty" yaml:"roots,omitempty"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	Content   bool      `json:"content" yaml:"content"`

	// Size is the recording file size in bytes.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	Stats stats.Stats `json:"stats" yaml:"stats"`

	// Problems lists lifecycle violations found by a check.
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`

	// Detailed summaries carry full statistics; catalog listings only have
	// the event counts.
	Detailed bool `json:"-" yaml:"-"`
}

// Result is the input to every formatter.
type Result struct {
	Recordings []Summary `json:"recordings" yaml:"recordings"`
	Warnings   []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Summarize computes the detailed summary of rec stored at path.
func Summarize(path string, rec *recording.Recording) Summary {
	s := Summary{
		ID:        rec.ID,
		Path:      path,
		Source:    string(rec.Source),
		StartTime: rec.StartedAt(),
		Content:   rec.HasContent(),
		Stats:     stats.FromRecording(rec),
		Detailed:  true,
	}
	for _, r := range rec.Roots {
		s.Roots = append(s.Roots, r.Path)
	}
	return s
}

// FromMeta converts a catalog entry.
func FromMeta(m catalog.Meta) Summary {
	return Summary{
		ID:        m.ID,
		Path:      m.Path,
		Source:    string(m.Source),
		Roots:     m.Roots,
		StartTime: m.StartTime,
		Content:   m.Content,
		Size:      m.Size,
		Stats: stats.Stats{
			Duration: m.Duration,
			Created:  m.Created,
			Modified: m.Modified,
			Deleted:  m.Deleted,
		},
	}
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown format %q (available: %v)", name, r.availableLocked())
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
