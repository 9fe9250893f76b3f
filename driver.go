package flume

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Config is the opaque backend configuration handed to a driver factory. The
// core never interprets its contents.
type Config map[string]any

// Driver abstracts access to a storage or format backend. Open yields a lazy
// sequence of items in the driver's natural order; the underlying resource is
// acquired on first pull at the latest and released when the iterator is
// exhausted, closed or aborted.
//
// Open must be callable repeatedly when Restartable reports true, each call
// producing an independent fresh sequence. A single-pass driver reports false
// and the pipeline refuses the second iteration with ErrRestart.
//
// A backend that cannot be reached fails with an error wrapping
// ErrUnavailable. A record that cannot be decoded surfaces from Next wrapped
// around ErrCorrupt and must leave the iterator usable for the next record.
type Driver[T any] interface {
	Open(ctx context.Context) (Iterator[T], error)
	Restartable() bool
}

// Factory builds a driver from an opaque backend configuration.
type Factory func(cfg Config) (Driver[any], error)

// Registry maps backend names to driver factories. It replaces runtime plugin
// discovery: populate it explicitly at process start, then resolve drivers by
// name (for instance through a catalog source).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under name. Registering an empty name, a nil factory
// or a name twice is a programming error and fails.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: driver registration needs a name and a factory", ErrConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("%w: driver %q already registered", ErrConfig, name)
	}
	r.factories[name] = f
	return nil
}

// New builds a driver for the named backend.
func (r *Registry) New(name string, cfg Config) (Driver[any], error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown driver %q", ErrConfig, name)
	}
	return f(cfg)
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	sort.Strings(names)
	return names
}

// Erase adapts a typed driver to the Driver[any] shape used by registries and
// catalogs.
func Erase[T any](d Driver[T]) Driver[any] {
	return eraseDriver[T]{d: d}
}

type eraseDriver[T any] struct {
	d Driver[T]
}

func (e eraseDriver[T]) Open(ctx context.Context) (Iterator[any], error) {
	it, err := e.d.Open(ctx)
	if err != nil {
		return nil, err
	}
	return eraseIterator[T]{it: it}, nil
}

func (e eraseDriver[T]) Restartable() bool { return e.d.Restartable() }

type eraseIterator[T any] struct {
	it Iterator[T]
}

func (e eraseIterator[T]) Next() (any, error) {
	v, err := e.it.Next()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e eraseIterator[T]) Close() error { return e.it.Close() }
