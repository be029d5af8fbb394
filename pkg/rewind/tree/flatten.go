package tree

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Row is one rendered line of the tree.
type Row struct {
	// Node is nil for placeholder rows.
	Node *Node

	// Prefix holds the box-drawing indentation including the connector.
	Prefix string

	// More counts siblings hidden by MaxFiles; Elided marks a directory whose
	// children lie beyond MaxDepth.
	More   int
	Elided bool
}

// Flatten lists the tree below n in display order, applying MaxDepth and
// MaxFiles. The top node itself is not included.
func (n *Node) Flatten(opts Options) []Row {
	var rows []Row
	flatten(n, "", 1, opts, &rows)
	return rows
}

func flatten(n *Node, prefix string, depth int, opts Options, rows *[]Row) {
	if len(n.Children) == 0 {
		return
	}
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		*rows = append(*rows, Row{Prefix: prefix + "└── ", Elided: true})
		return
	}

	total := len(n.Children)
	shown := total
	if opts.MaxFiles > 0 && opts.MaxFiles < total {
		shown = opts.MaxFiles
	}
	for i, c := range n.Children[:shown] {
		last := i == total-1
		connector, indent := "├── ", "│   "
		if last {
			connector, indent = "└── ", "    "
		}
		*rows = append(*rows, Row{Node: c, Prefix: prefix + connector})
		if c.IsDir {
			flatten(c, prefix+indent, depth+1, opts, rows)
		}
	}
	if shown < total {
		*rows = append(*rows, Row{Prefix: prefix + "└── ", More: total - shown})
	}
}

// Label is the row text without styling: name, badge, size, size delta,
// lines and line delta.
func (r Row) Label() string {
	switch {
	case r.Elided:
		return "..."
	case r.More > 0:
		return fmt.Sprintf("... and %d more", r.More)
	case r.Node == nil:
		return ""
	}

	n := r.Node
	var b strings.Builder
	b.WriteString(n.Name)
	if n.IsDir {
		b.WriteString("/")
	}
	if badge := n.Mark.Badge(); badge != "" {
		b.WriteString(" [" + badge + "]")
	}
	if n.IsDir || n.Ghost {
		if d := FormatDelta(n.Delta.Size, true); d != "" {
			b.WriteString(" " + d)
		}
		return b.String()
	}
	b.WriteString(" " + FormatSize(n.Size))
	if d := FormatDelta(n.Delta.Size, true); d != "" {
		b.WriteString(" " + d)
	}
	if n.Lines > 0 {
		b.WriteString(" " + humanize.Comma(int64(n.Lines)) + " loc")
	}
	if d := FormatDelta(int64(n.Delta.Lines), false); d != "" {
		b.WriteString(" " + d)
	}
	return b.String()
}

// String is the full plain line.
func (r Row) String() string {
	return r.Prefix + r.Label()
}

// Render returns the plain-text lines for the tree below n.
func (n *Node) Render(opts Options) []string {
	rows := n.Flatten(opts)
	out := make([]string, 0, len(rows)+1)
	if n.Name != "" {
		out = append(out, n.Name+"/")
	}
	for _, r := range rows {
		out = append(out, r.String())
	}
	return out
}

// FormatSize renders a byte count in IEC units.
func FormatSize(size int64) string {
	if size < 0 {
		return "-" + humanize.IBytes(uint64(-size))
	}
	return humanize.IBytes(uint64(size))
}

// FormatDelta renders a signed change, empty for zero. bytes selects size
// units.
func FormatDelta(d int64, bytes bool) string {
	if d == 0 {
		return ""
	}
	sign := "+"
	abs := d
	if d < 0 {
		sign, abs = "-", -d
	}
	if bytes {
		return sign + humanize.IBytes(uint64(abs))
	}
	return sign + humanize.Comma(abs)
}
