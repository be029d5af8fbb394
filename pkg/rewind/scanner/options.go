// Package scanner reads the state of watched roots into snapshot entries. It
// walks trees in parallel with fastwalk for the initial snapshot and re-reads
// individual paths after change notifications.
package scanner

import (
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// DefaultMaxLinesSize bounds the files whose lines are counted.
const DefaultMaxLinesSize = 8 * types.MiB

// Options configures what the scanner reads besides sizes.
type Options struct {
	// IncludeContent captures the content of text files up to MaxContentSize.
	IncludeContent bool

	// MaxContentSize caps captured content. Zero means types.MaxContentSize.
	MaxContentSize int64

	// MaxLinesSize caps the files whose lines are counted. Zero means
	// DefaultMaxLinesSize.
	MaxLinesSize int64
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.MaxContentSize <= 0 {
		o.MaxContentSize = types.MaxContentSize
	}
	if o.MaxLinesSize <= 0 {
		o.MaxLinesSize = DefaultMaxLinesSize
	}
	return nil
}

// Matcher decides whether a relative path is observable. *filter.Filter
// implements it.
type Matcher interface {
	IsObservable(path string, isDir, forcedRoot bool) bool
}

type matchAll struct{}

func (matchAll) IsObservable(string, bool, bool) bool { return true }

// MatchAll observes every path.
var MatchAll Matcher = matchAll{}
