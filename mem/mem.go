// Package mem serves items straight from memory. It is the simplest driver:
// restartable by default, handy for tests and for feeding small fixture
// stores through the same pipeline as real backends.
package mem

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/fogfactory/flume"
)

type config struct {
	singlePass   bool
	corruptEvery int
}

// Option tunes the driver.
type Option func(*config)

// SinglePass declares the driver non restartable, like a backend whose
// sequence can only be consumed once. The pipeline then refuses a second
// iteration with ErrRestart.
func SinglePass() Option { return func(c *config) { c.singlePass = true } }

// CorruptEvery makes every nth record undecodable. The bad record surfaces as
// an ErrCorrupt and is skipped over on the next pull, which is exactly the
// behavior corrupt-record policies are written against.
func CorruptEvery(n int) Option { return func(c *config) { c.corruptEvery = n } }

// Driver iterates over an in-memory slice.
type Driver[T any] struct {
	items []T
	cfg   config
}

// New builds a driver over items. The slice is not copied.
func New[T any](items []T, opts ...Option) *Driver[T] {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Driver[T]{items: items, cfg: cfg}
}

func (d *Driver[T]) Restartable() bool { return !d.cfg.singlePass }

func (d *Driver[T]) Open(_ context.Context) (flume.Iterator[T], error) {
	return &iterator[T]{items: d.items, corruptEvery: d.cfg.corruptEvery}, nil
}

type iterator[T any] struct {
	items        []T
	pos          int
	corruptEvery int
}

func (it *iterator[T]) Next() (T, error) {
	var zero T
	if it.pos >= len(it.items) {
		return zero, io.EOF
	}
	idx := it.pos
	it.pos++
	if it.corruptEvery > 0 && (idx+1)%it.corruptEvery == 0 {
		return zero, errors.Wrapf(flume.ErrCorrupt, "record %d", idx)
	}
	return it.items[idx], nil
}

func (it *iterator[T]) Close() error {
	it.pos = len(it.items)
	return nil
}

// Register adds the "mem" backend to a registry. Config keys: "items"
// ([]any), "single_pass" (bool).
func Register(r *flume.Registry) error {
	return r.Register("mem", func(cfg flume.Config) (flume.Driver[any], error) {
		items, _ := cfg["items"].([]any)
		var opts []Option
		if sp, _ := cfg["single_pass"].(bool); sp {
			opts = append(opts, SinglePass())
		}
		return New(items, opts...), nil
	})
}
