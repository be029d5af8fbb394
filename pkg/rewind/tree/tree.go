// Package tree turns a snapshot into a hierarchical display tree shared by
// the terminal UI and plain-text output.
package tree

import (
	"slices"
	"strings"

	"github.com/jamesainslie/rewind/pkg/rewind/snapshot"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// Mark flags a node changed by the latest events.
type Mark uint8

const (
	Unchanged Mark = iota
	Created
	Modified
	Deleted
)

// Badge is the short status label shown next to a marked node.
func (m Mark) Badge() string {
	switch m {
	case Created:
		return "NEW"
	case Modified:
		return "MOD"
	case Deleted:
		return "DEL"
	default:
		return ""
	}
}

// Node represents a directory or file in the tree.
type Node struct {
	Key   types.Key
	Name  string
	IsDir bool

	// Size and Lines are aggregated over all files below a directory.
	Size  int64
	Lines int
	Files int

	Mark  Mark
	Delta types.Delta

	// Ghost nodes stand in for deleted paths so they can still be shown.
	Ghost bool

	Children []*Node
	Parent   *Node
}

// Options controls Build and Flatten.
type Options struct {
	// MaxDepth limits how many levels below the root are listed. 0 is
	// unlimited.
	MaxDepth int

	// MaxFiles limits how many children of one directory are listed. 0 is
	// unlimited.
	MaxFiles int

	// Root labels the top node.
	Root string

	// Labels names secondary roots by ID.
	Labels map[string]string
}

// AddChild adds a child node and sets this node as the child's parent.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Depth returns the depth of this node from the root (root = 0).
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// Find returns the node for k, or nil.
func (n *Node) Find(k types.Key) *Node {
	if n.Key == k {
		return n
	}
	for _, c := range n.Children {
		if c.Key == k || (c.IsDir && c.Key.Contains(k)) {
			if found := c.Find(k); found != nil {
				return found
			}
		}
	}
	return nil
}

// Build constructs the display tree for snap. With a single root the top
// node is that root's directory; with several, each root hangs below a
// synthetic top node.
func Build(snap *snapshot.Snapshot, opts Options) *Node {
	top := &Node{Name: opts.Root, IsDir: true}
	roots := snap.Roots()

	nodes := make(map[types.Key]*Node)
	for _, root := range roots {
		k := types.Key{Root: root, Path: types.RootDir}
		if len(roots) == 1 {
			top.Key = k
			nodes[k] = top
			continue
		}
		name := opts.Labels[root]
		if name == "" {
			name = rootName(root, opts.Root)
		}
		rn := &Node{Key: k, Name: name, IsDir: true}
		top.AddChild(rn)
		nodes[k] = rn
	}

	// Entries are sorted so parents are always created first.
	entries := snap.Entries()
	slices.SortFunc(entries, func(a, b types.Entry) int {
		if da, db := types.Depth(a.Path), types.Depth(b.Path); da != db {
			return da - db
		}
		return strings.Compare(a.Path, b.Path)
	})
	for _, e := range entries {
		if e.Path == types.RootDir {
			continue
		}
		parent := ensureParent(nodes, e.Key())
		n := &Node{Key: e.Key(), Name: e.Name(), IsDir: e.IsDir, Size: e.Size, Lines: e.Lines}
		parent.AddChild(n)
		nodes[n.Key] = n
	}

	aggregate(top)
	sortChildren(top)
	return top
}

func parentKey(k types.Key) types.Key {
	if pk, ok := k.Parent(); ok {
		return pk
	}
	return types.Key{Root: k.Root, Path: types.RootDir}
}

func ensureParent(nodes map[types.Key]*Node, k types.Key) *Node {
	pk := parentKey(k)
	if p, ok := nodes[pk]; ok {
		return p
	}
	p := &Node{Key: pk, Name: lastElem(pk.Path), IsDir: true}
	ensureParent(nodes, pk).AddChild(p)
	nodes[pk] = p
	return p
}

func rootName(root, main string) string {
	if root == "" {
		if main != "" {
			return main
		}
		return types.RootDir
	}
	return lastElem(root)
}

func lastElem(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func aggregate(n *Node) {
	if !n.IsDir {
		if !n.Ghost {
			n.Files = 1
		}
		return
	}
	n.Size, n.Lines, n.Files = 0, 0, 0
	for _, c := range n.Children {
		aggregate(c)
		if c.Ghost {
			continue
		}
		n.Size += c.Size
		n.Lines += c.Lines
		n.Files += c.Files
	}
}

// sortChildren orders directories before files, then by case-insensitive
// name.
func sortChildren(n *Node) {
	slices.SortStableFunc(n.Children, func(a, b *Node) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	for _, c := range n.Children {
		if c.IsDir {
			sortChildren(c)
		}
	}
}

// ApplyEvents flags the nodes touched by events, which are in stored order so the
// last event per path wins. deltas may be nil. Deleted paths whose parent is
// still present are added back as ghost nodes.
func (n *Node) ApplyEvents(events []types.Event, deltas map[types.Key]types.Delta) {
	last := make(map[types.Key]types.Event, len(events))
	for _, ev := range events {
		last[ev.Key()] = ev
	}

	keys := make([]types.Key, 0, len(last))
	for k := range last {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b types.Key) int {
		if da, db := a.Depth(), b.Depth(); da != db {
			return da - db
		}
		return strings.Compare(a.Path, b.Path)
	})

	added := false
	for _, k := range keys {
		ev := last[k]
		node := n.Find(k)
		if ev.Kind == types.Deleted && node == nil {
			parent := n.Find(parentKey(k))
			if parent == nil || !parent.IsDir {
				continue
			}
			node = &Node{Key: k, Name: lastElem(k.Path), IsDir: ev.IsDir, Ghost: true}
			parent.AddChild(node)
			added = true
		}
		if node == nil {
			continue
		}
		switch ev.Kind {
		case types.Created:
			node.Mark = Created
		case types.Modified:
			node.Mark = Modified
		case types.Deleted:
			node.Mark = Deleted
		}
		if d, ok := deltas[k]; ok {
			node.Delta = d
		}
	}
	if added {
		aggregate(n)
		sortChildren(n)
	}
}
