package capture

import (
	"fmt"
)

// Op is the kind of raw notification. Capture treats every Op the same way:
// the path is re-read and diffed; Op is kept for logging.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpWrite
	OpRemove
	OpRename
	OpChmod
	// OpRescan asks for the whole subtree at Path to be re-read, for example
	// after the source dropped notifications.
	OpRescan
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpChmod:
		return "chmod"
	case OpRescan:
		return "rescan"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Notification is a raw change report for an absolute path under a root.
type Notification struct {
	Root string
	Path string
	Op   Op
}

// Source delivers raw notifications. Errors are reported as warnings and
// never stop capture.
type Source interface {
	Events() <-chan Notification
	Errors() <-chan error
	Close() error
}

// Warning is a non-fatal problem surfaced to the user.
type Warning struct {
	Root string
	Path string
	Err  error
}

func (w Warning) Error() string {
	switch {
	case w.Path != "":
		return fmt.Sprintf("%s: %v", w.Path, w.Err)
	case w.Root != "":
		return fmt.Sprintf("root %s: %v", w.Root, w.Err)
	default:
		return w.Err.Error()
	}
}

func (w Warning) Unwrap() error { return w.Err }
