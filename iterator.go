package flume

import "io"

// Iterator is the pull contract spoken by every pipeline stage and every
// driver. Next returns the next item, or io.EOF once the sequence is cleanly
// exhausted. Exhaustion is not an error condition: Next keeps returning io.EOF
// afterwards. Any other error is a failure, terminal except for record level
// corruption (see ErrCorrupt).
//
// Close releases whatever the iterator holds. It must be idempotent and safe
// to call while another goroutine is blocked in Next, in which case that Next
// must unblock.
type Iterator[T any] interface {
	Next() (T, error)
	Close() error
}

// SliceIterator returns a restartable-by-construction iterator over items.
// Mostly useful to driver authors and tests.
func SliceIterator[T any](items []T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

type sliceIterator[T any] struct {
	items []T
	pos   int
}

func (it *sliceIterator[T]) Next() (T, error) {
	if it.pos >= len(it.items) {
		var zero T
		return zero, io.EOF
	}
	v := it.items[it.pos]
	it.pos++
	return v, nil
}

func (it *sliceIterator[T]) Close() error {
	it.pos = len(it.items)
	return nil
}
