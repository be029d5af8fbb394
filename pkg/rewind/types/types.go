// Package types defines the data model shared by capture, recording and replay:
// entries describing filesystem objects, keys that address them across roots,
// and the created/modified/deleted events that move a tree from one state to
// the next.
package types

import (
	"path"
	"strings"
)

// RootDir is the path of a root's own directory entry.
const RootDir = "."

// Kind distinguishes files from directories.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	default:
		return "unknown"
	}
}

// KindOf maps an is_dir flag to a Kind.
func KindOf(isDir bool) Kind {
	if isDir {
		return KindDir
	}
	return KindFile
}

// Key addresses an entry across every watched root.
type Key struct {
	Root string
	Path string
}

func (k Key) String() string {
	if k.Root == "" {
		return k.Path
	}
	return k.Root + ":" + k.Path
}

// Less orders keys by root, then path.
func (k Key) Less(o Key) bool {
	if k.Root != o.Root {
		return k.Root < o.Root
	}
	return k.Path < o.Path
}

// Depth is the number of path components below the root. The root itself is 0.
func (k Key) Depth() int {
	return Depth(k.Path)
}

// Parent returns the key of the enclosing directory. Top-level paths and the
// root report ok == false.
func (k Key) Parent() (Key, bool) {
	p, ok := Parent(k.Path)
	if !ok {
		return Key{}, false
	}
	return Key{Root: k.Root, Path: p}, true
}

// Contains reports whether o is k itself or lies below it in the same root.
func (k Key) Contains(o Key) bool {
	if k.Root != o.Root {
		return false
	}
	if k.Path == RootDir || k.Path == o.Path {
		return true
	}
	return strings.HasPrefix(o.Path, k.Path+"/")
}

// Entry is the metadata of one filesystem object at one instant.
type Entry struct {
	// Root identifies the tree the entry belongs to. Empty for the main root.
	Root string `json:"root,omitempty"`

	// Path is relative to the root, forward-slash separated.
	Path string `json:"path"`

	// Size in bytes; always 0 for directories.
	Size int64 `json:"size"`

	IsDir bool `json:"is_dir"`

	// Lines is the line count of a recognised text file; 0 when unknown.
	Lines int `json:"loc,omitempty"`

	// Content is only set when content capture is enabled.
	Content *string `json:"content,omitempty"`

	// Fingerprint is an opaque change token (mtime and size for live capture,
	// blob hash for history). It is never persisted.
	Fingerprint string `json:"-"`
}

// Key returns the entry's address.
func (e Entry) Key() Key {
	return Key{Root: e.Root, Path: e.Path}
}

// Kind returns the entry's kind.
func (e Entry) Kind() Kind {
	return KindOf(e.IsDir)
}

// Name is the final path component.
func (e Entry) Name() string {
	if e.Path == RootDir {
		return RootDir
	}
	return path.Base(e.Path)
}

// Ext returns the lower-cased extension without the dot, or "" when absent.
func (e Entry) Ext() string {
	return Ext(e.Path)
}

// WithoutContent returns a copy with Content cleared.
func (e Entry) WithoutContent() Entry {
	e.Content = nil
	return e
}

// SameState reports whether two entries carry identical persisted state.
// Fingerprints are ignored.
func (e Entry) SameState(o Entry) bool {
	if e.Root != o.Root || e.Path != o.Path || e.IsDir != o.IsDir ||
		e.Size != o.Size || e.Lines != o.Lines {
		return false
	}
	return equalContent(e.Content, o.Content)
}

func equalContent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Depth returns the number of components in a relative path. "." and "" are 0.
func Depth(p string) int {
	if p == "" || p == RootDir {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// Parent returns the parent of a relative path. Top-level paths have no
// parent entry other than the root itself.
func Parent(p string) (string, bool) {
	if p == "" || p == RootDir {
		return "", false
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", false
	}
	return p[:i], true
}

// Ext returns the lower-cased extension of p without the dot.
func Ext(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Root is one watched directory tree. The main root has an empty ID; auxiliary
// roots such as worktrees are Forced, which exempts them from ignore rules.
type Root struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Forced bool   `json:"forced,omitempty"`
	Label  string `json:"label,omitempty"`
}
