package filter

import (
	"errors"
	"fmt"
)

// ErrInvalidPattern indicates a malformed ignore or exclude pattern.
var ErrInvalidPattern = errors.New("invalid pattern")

// PatternError reports which pattern failed to compile and where it came from.
type PatternError struct {
	// Source is the .gitignore file or "config" for user-supplied patterns.
	Source  string
	Line    int
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid pattern %q: %v", loc, e.Pattern, e.Err)
	}
	return fmt.Sprintf("%s: invalid pattern %q", loc, e.Pattern)
}

func (e *PatternError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidPattern}
	}
	return []error{ErrInvalidPattern, e.Err}
}
