package recording

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderingViolation means an event was appended with a timestamp earlier
	// than its predecessor.
	ErrOrderingViolation = errors.New("event timestamp decreased")

	// ErrCorruptRecording means persisted input could not be decoded.
	ErrCorruptRecording = errors.New("corrupt recording")

	// ErrIO means the recording could not be written to storage. The
	// in-memory events are still intact.
	ErrIO = errors.New("recording storage failure")

	// ErrSealed is returned by Append after Seal.
	ErrSealed = errors.New("recording is sealed")

	// ErrLifecycle is reported by Validate for events that do not follow the
	// created, modified, deleted lifecycle of their path.
	ErrLifecycle = errors.New("event lifecycle violation")
)

// OrderingError carries the offending timestamps.
type OrderingError struct {
	Last float64
	Got  float64
	Path string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%v: %s at %.6f after %.6f", ErrOrderingViolation, e.Path, e.Got, e.Last)
}

func (e *OrderingError) Unwrap() error { return ErrOrderingViolation }

// CorruptError locates a decoding failure. Line is 1-based, 0 when unknown.
type CorruptError struct {
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v: line %d: %v", ErrCorruptRecording, e.Line, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrCorruptRecording, e.Err)
}

func (e *CorruptError) Unwrap() []error {
	return []error{ErrCorruptRecording, e.Err}
}
