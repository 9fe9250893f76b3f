package flume

import (
	"errors"
	"fmt"
	"io"
)

// elemFunc is the internal shape of every elementwise transform: map emits one
// item, filter zero or one, flat-map any number. Errors are already wrapped as
// TransformError by the guard helpers below.
type elemFunc[T any] func(T) ([]T, error)

// guardPanic turns a panic inside a user transform into a TransformError.
func guardPanic(err *error) {
	if r := recover(); r != nil {
		*err = &TransformError{Err: fmt.Errorf("panic: %v", r)}
	}
}

func wrapTransformErr(err error) error {
	var te *TransformError
	if errors.As(err, &te) {
		return err
	}
	return &TransformError{Err: err}
}

func mapElem[T any](f func(T) (T, error)) elemFunc[T] {
	return func(v T) (out []T, err error) {
		defer guardPanic(&err)
		r, ferr := f(v)
		if ferr != nil {
			return nil, wrapTransformErr(ferr)
		}
		return []T{r}, nil
	}
}

func filterElem[T any](f func(T) (bool, error)) elemFunc[T] {
	return func(v T) (out []T, err error) {
		defer guardPanic(&err)
		keep, ferr := f(v)
		if ferr != nil {
			return nil, wrapTransformErr(ferr)
		}
		if !keep {
			return nil, nil
		}
		return []T{v}, nil
	}
}

func flatMapElem[T any](f func(T) ([]T, error)) elemFunc[T] {
	return func(v T) (out []T, err error) {
		defer guardPanic(&err)
		r, ferr := f(v)
		if ferr != nil {
			return nil, wrapTransformErr(ferr)
		}
		return r, nil
	}
}

// composeChain folds consecutive elementwise transforms into a single
// elemFunc. Fan-outs concatenate in order, so the result is equivalent to
// applying the transforms one by one, sequentially.
func composeChain[T any](chain []elemFunc[T]) elemFunc[T] {
	if len(chain) == 1 {
		return chain[0]
	}
	return func(v T) ([]T, error) {
		out := []T{v}
		for _, f := range chain {
			next := make([]T, 0, len(out))
			for _, item := range out {
				r, err := f(item)
				if err != nil {
					return nil, err
				}
				next = append(next, r...)
			}
			out = next
		}
		return out, nil
	}
}

// elemIterator applies a composed elementwise chain inline, pulling exactly one
// upstream item per output item except where a fan-out queued several results.
type elemIterator[T any] struct {
	up    Iterator[T]
	apply elemFunc[T]
	queue []T
}

func newElemIterator[T any](up Iterator[T], chain []elemFunc[T]) Iterator[T] {
	return &elemIterator[T]{up: up, apply: composeChain(chain)}
}

func (it *elemIterator[T]) Next() (T, error) {
	var zero T
	for {
		if len(it.queue) > 0 {
			v := it.queue[0]
			it.queue = it.queue[1:]
			return v, nil
		}
		v, err := it.up.Next()
		if err != nil {
			return zero, err
		}
		out, err := it.apply(v)
		if err != nil {
			return zero, err
		}
		it.queue = out
	}
}

func (it *elemIterator[T]) Close() error { return it.up.Close() }

// takeIterator emits the first n upstream items, then closes its upstream
// right away instead of leaving it idle until the consumer finishes.
type takeIterator[T any] struct {
	up     Iterator[T]
	n      int
	seen   int
	closed bool
}

func newTakeIterator[T any](up Iterator[T], n int) Iterator[T] {
	return &takeIterator[T]{up: up, n: n}
}

func (it *takeIterator[T]) Next() (T, error) {
	var zero T
	if it.seen >= it.n {
		it.release()
		return zero, io.EOF
	}
	v, err := it.up.Next()
	if err != nil {
		return zero, err
	}
	it.seen++
	if it.seen >= it.n {
		it.release()
	}
	return v, nil
}

func (it *takeIterator[T]) release() {
	if !it.closed {
		it.closed = true
		_ = it.up.Close()
	}
}

func (it *takeIterator[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.up.Close()
}

// skipIterator discards the first n upstream items on the first pull.
type skipIterator[T any] struct {
	up      Iterator[T]
	n       int
	skipped bool
}

func newSkipIterator[T any](up Iterator[T], n int) Iterator[T] {
	return &skipIterator[T]{up: up, n: n}
}

func (it *skipIterator[T]) Next() (T, error) {
	var zero T
	if !it.skipped {
		it.skipped = true
		for i := 0; i < it.n; i++ {
			if _, err := it.up.Next(); err != nil {
				return zero, err
			}
		}
	}
	return it.up.Next()
}

func (it *skipIterator[T]) Close() error { return it.up.Close() }

// batchIterator groups upstream items in slices of at most size elements. At
// exhaustion the final partial batch is emitted unless dropPartial is set.
type batchIterator[T any] struct {
	up          Iterator[T]
	size        int
	dropPartial bool
	done        bool
}

func newBatchIterator[T any](up Iterator[T], size int, dropPartial bool) Iterator[[]T] {
	return &batchIterator[T]{up: up, size: size, dropPartial: dropPartial}
}

func (it *batchIterator[T]) Next() ([]T, error) {
	if it.done {
		return nil, io.EOF
	}
	batch := make([]T, 0, it.size)
	for len(batch) < it.size {
		v, err := it.up.Next()
		if errors.Is(err, io.EOF) {
			it.done = true
			if len(batch) == 0 || it.dropPartial {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, v)
	}
	return batch, nil
}

func (it *batchIterator[T]) Close() error { return it.up.Close() }

// castIterator backs the type-changing free functions Map and MapErr.
type castIterator[T, U any] struct {
	up Iterator[T]
	f  func(T) (U, error)
}

func (it *castIterator[T, U]) Next() (U, error) {
	var zero U
	v, err := it.up.Next()
	if err != nil {
		return zero, err
	}
	return it.f(v)
}

func (it *castIterator[T, U]) Close() error { return it.up.Close() }
