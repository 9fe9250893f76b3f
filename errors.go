package flume

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by drivers whose backend cannot be reached.
	ErrUnavailable = errors.New("flume: backend unavailable")

	// ErrCorrupt wraps record level decode failures. A driver iterator hitting a
	// corrupt record stays usable: calling Next again resumes past the bad record,
	// which is what makes the skip-and-log policy possible.
	ErrCorrupt = errors.New("flume: corrupt record")

	// ErrRestart is returned when a pipeline built on a single-pass driver is
	// iterated a second time.
	ErrRestart = errors.New("flume: single-pass source already consumed")

	// ErrConfig is returned at iteration time when a stage configuration is invalid.
	ErrConfig = errors.New("flume: invalid stage configuration")
)

// TransformError reports a failure inside a user supplied transform, either a
// returned error or a recovered panic. The original cause is available through
// Unwrap.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string { return fmt.Sprintf("flume: transform failed: %v", e.Err) }

func (e *TransformError) Unwrap() error { return e.Err }

// BufferAbortedError is surfaced by a prefetch or shuffle stage when its
// upstream failed while items were in flight. The underlying cause is available
// through Unwrap.
type BufferAbortedError struct {
	Err error
}

func (e *BufferAbortedError) Error() string {
	return fmt.Sprintf("flume: buffered stage aborted: %v", e.Err)
}

func (e *BufferAbortedError) Unwrap() error { return e.Err }
