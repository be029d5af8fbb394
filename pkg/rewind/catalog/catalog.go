// Package catalog indexes recordings in a Badger database so they can be
// listed and found again by path.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
)

// Key prefixes
const (
	prefixRecording = "r:" // r:<id> -> Meta JSON
	prefixPath      = "p:" // p:<abs path> -> id
	schemaKey       = "m:schema"
)

// SchemaVersion is written on open.
const SchemaVersion = 1

// ErrNotFound is returned when no recording matches.
var ErrNotFound = errors.New("recording not found in catalog")

// Meta describes one catalogued recording.
type Meta struct {
	ID        string           `json:"id" yaml:"id"`
	Path      string           `json:"path" yaml:"path"`
	Source    recording.Source `json:"source" yaml:"source"`
	Roots     []string         `json:"roots,omitempty" yaml:"roots,omitempty"`
	StartTime time.Time        `json:"start_time" yaml:"start_time"`
	Duration  float64          `json:"duration" yaml:"duration"`
	Events    int              `json:"events" yaml:"events"`
	Created   int              `json:"created" yaml:"created"`
	Modified  int              `json:"modified" yaml:"modified"`
	Deleted   int              `json:"deleted" yaml:"deleted"`
	Content   bool             `json:"content" yaml:"content"`
	Size      int64            `json:"size" yaml:"size"`
	Added     time.Time        `json:"added" yaml:"added"`
}

// MetaFor summarises rec stored at path.
func MetaFor(path string, rec *recording.Recording) Meta {
	st := stats.FromRecording(rec)
	m := Meta{
		Path:      path,
		Source:    rec.Source,
		StartTime: rec.StartedAt(),
		Duration:  rec.End(),
		Events:    len(rec.Events),
		Created:   st.Created,
		Modified:  st.Modified,
		Deleted:   st.Deleted,
		Content:   rec.HasContent(),
	}
	for _, r := range rec.Roots {
		m.Roots = append(m.Roots, r.Path)
	}
	if info, err := os.Stat(path); err == nil {
		m.Size = info.Size()
	}
	return m
}

// Catalog is the recording index.
type Catalog struct {
	db  *badger.DB
	log *logging.Logger
}

// Open opens or creates a catalog at the given directory.
func Open(path string) (*Catalog, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a catalog that lives only as long as the process.
func OpenInMemory() (*Catalog, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Catalog, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	c := &Catalog{db: db, log: logging.Get("catalog")}
	if err := c.writeSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) writeSchema() error {
	return c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(schemaKey))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(schemaKey), []byte(fmt.Sprint(SchemaVersion)))
	})
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Put stores m, assigning a new ulid when m.ID is empty, and returns the id.
// A recording already catalogued at the same path is replaced.
func (c *Catalog) Put(m Meta) (string, error) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.Added.IsZero() {
		m.Added = time.Now()
	}
	if m.Path != "" {
		abs, err := filepath.Abs(m.Path)
		if err != nil {
			return "", err
		}
		m.Path = abs
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		if m.Path == "" {
			return txn.Set(recordingKey(m.ID), data)
		}
		if prev, err := lookupPath(txn, m.Path); err == nil && prev != m.ID {
			if err := txn.Delete(recordingKey(prev)); err != nil {
				return err
			}
		}
		if err := txn.Set(recordingKey(m.ID), data); err != nil {
			return err
		}
		return txn.Set(pathKey(m.Path), []byte(m.ID))
	})
	if err != nil {
		return "", err
	}
	c.log.Debug("catalogued recording", "id", m.ID, "path", m.Path, "events", m.Events)
	return m.ID, nil
}

// Get returns the recording with the given id.
func (c *Catalog) Get(id string) (*Meta, error) {
	var m *Meta
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindByPath returns the recording catalogued at path.
func (c *Catalog) FindByPath(path string) (*Meta, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var m *Meta
	err = c.db.View(func(txn *badger.Txn) error {
		id, err := lookupPath(txn, abs)
		if err != nil {
			return err
		}
		m, err = get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns every recording, newest first.
func (c *Catalog) List() ([]Meta, error) {
	var out []Meta
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecording)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Meta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b Meta) int {
		if n := b.StartTime.Compare(a.StartTime); n != 0 {
			return n
		}
		return b.Added.Compare(a.Added)
	})
	return out, nil
}

// Delete removes a recording from the catalog. The file itself is kept.
func (c *Catalog) Delete(id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		m, err := get(txn, id)
		if err != nil {
			return err
		}
		if m.Path != "" {
			if owner, err := lookupPath(txn, m.Path); err == nil && owner == id {
				if err := txn.Delete(pathKey(m.Path)); err != nil {
					return err
				}
			}
		}
		return txn.Delete(recordingKey(id))
	})
}

// Prune drops entries whose file no longer exists and returns how many.
func (c *Catalog) Prune() (int, error) {
	all, err := c.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range all {
		if m.Path == "" {
			continue
		}
		if _, err := os.Stat(m.Path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := c.Delete(m.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		c.log.Info("pruned catalog", "removed", removed)
	}
	return removed, nil
}

func get(txn *badger.Txn, id string) (*Meta, error) {
	item, err := txn.Get(recordingKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

func lookupPath(txn *badger.Txn, path string) (string, error) {
	item, err := txn.Get(pathKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func recordingKey(id string) []byte { return []byte(prefixRecording + id) }
func pathKey(path string) []byte    { return []byte(prefixPath + path) }
