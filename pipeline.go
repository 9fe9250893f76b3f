package flume

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// CorruptPolicy decides what the pipeline does with records a driver cannot
// decode.
type CorruptPolicy int

const (
	// AbortOnCorrupt surfaces the first corrupt record to the consumer. Default.
	AbortOnCorrupt CorruptPolicy = iota
	// SkipCorrupt drops corrupt records, logging each one.
	SkipCorrupt
)

type pipelineOptions struct {
	logger  zerolog.Logger
	corrupt CorruptPolicy
}

func defaultOptions() pipelineOptions {
	return pipelineOptions{logger: zerolog.Nop()}
}

// Option tunes a pipeline at construction.
type Option func(*pipelineOptions)

// WithLogger sets the logger used for corrupt record skips and stage lifecycle
// events. Disabled by default.
func WithLogger(l zerolog.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// OnCorrupt sets the corrupt record policy.
func OnCorrupt(p CorruptPolicy) Option {
	return func(o *pipelineOptions) { o.corrupt = p }
}

type opKind int

const (
	opElem opKind = iota
	opTake
	opSkip
	opStage
)

type op[T any] struct {
	kind  opKind
	elem  elemFunc[T]
	n     int
	stage stageConfig
}

// Pipeline is a persistent, lazily evaluated chain of transforms over one
// driver. Chaining methods return a new pipeline and never mutate the
// receiver, so one definition can spawn any number of independent iterations.
// Construction does no I/O: the driver opens on Iterate.
//
// Elementwise transforms queued between two stage boundaries (Take, Skip,
// Batch, Prefetch, Shuffle) form one chain. Without a buffered stage the chain
// runs inline on the consumer's goroutine; a Prefetch or Shuffle stage runs
// the chain queued before it on its workers instead.
type Pipeline[T any] struct {
	base func(ctx context.Context) (Iterator[T], error)
	ops  []op[T]
	opts pipelineOptions
}

// From roots a pipeline at a driver. A single-pass driver allows exactly one
// iteration; the second Iterate fails with ErrRestart.
func From[T any](d Driver[T], opts ...Option) *Pipeline[T] {
	po := defaultOptions()
	for _, o := range opts {
		o(&po)
	}
	opens := atomic.NewInt64(0)
	restartable := d.Restartable()
	base := func(ctx context.Context) (Iterator[T], error) {
		if opens.Inc() > 1 && !restartable {
			return nil, ErrRestart
		}
		it, err := d.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &sourceIterator[T]{it: it, policy: po.corrupt, log: po.logger}, nil
	}
	return &Pipeline[T]{base: base, opts: po}
}

// sourceIterator wraps a driver iterator and applies the corrupt record
// policy. Driver errors otherwise propagate unchanged.
type sourceIterator[T any] struct {
	it     Iterator[T]
	policy CorruptPolicy
	log    zerolog.Logger
}

func (s *sourceIterator[T]) Next() (T, error) {
	for {
		v, err := s.it.Next()
		if err == nil || errors.Is(err, io.EOF) {
			return v, err
		}
		if s.policy == SkipCorrupt && errors.Is(err, ErrCorrupt) {
			s.log.Warn().Err(err).Msg("skipping corrupt record")
			continue
		}
		var zero T
		return zero, err
	}
}

func (s *sourceIterator[T]) Close() error { return s.it.Close() }

func (p *Pipeline[T]) with(o op[T]) *Pipeline[T] {
	ops := make([]op[T], len(p.ops), len(p.ops)+1)
	copy(ops, p.ops)
	return &Pipeline[T]{base: p.base, ops: append(ops, o), opts: p.opts}
}

// Map transforms each item. A panic in f surfaces as a TransformError.
func (p *Pipeline[T]) Map(f func(T) T) *Pipeline[T] {
	return p.MapErr(func(v T) (T, error) { return f(v), nil })
}

// MapErr transforms each item with a fallible transform.
func (p *Pipeline[T]) MapErr(f func(T) (T, error)) *Pipeline[T] {
	return p.with(op[T]{kind: opElem, elem: mapElem(f)})
}

// Filter keeps the items matching the predicate.
func (p *Pipeline[T]) Filter(f func(T) bool) *Pipeline[T] {
	return p.FilterErr(func(v T) (bool, error) { return f(v), nil })
}

// FilterErr keeps the items matching a fallible predicate.
func (p *Pipeline[T]) FilterErr(f func(T) (bool, error)) *Pipeline[T] {
	return p.with(op[T]{kind: opElem, elem: filterElem(f)})
}

// FlatMap expands each item into zero or more items, concatenated in order.
func (p *Pipeline[T]) FlatMap(f func(T) []T) *Pipeline[T] {
	return p.FlatMapErr(func(v T) ([]T, error) { return f(v), nil })
}

// FlatMapErr expands each item with a fallible transform.
func (p *Pipeline[T]) FlatMapErr(f func(T) ([]T, error)) *Pipeline[T] {
	return p.with(op[T]{kind: opElem, elem: flatMapElem(f)})
}

// Take keeps the first n items and releases the upstream as soon as the quota
// is met, so an infinite source terminates without over-pulling.
func (p *Pipeline[T]) Take(n int) *Pipeline[T] {
	return p.with(op[T]{kind: opTake, n: n})
}

// Skip drops the first n items.
func (p *Pipeline[T]) Skip(n int) *Pipeline[T] {
	return p.with(op[T]{kind: opSkip, n: n})
}

// Prefetch inserts a bounded staging buffer of the given capacity, decoupling
// production from consumption. The transforms queued since the previous stage
// boundary run on the stage workers (see Workers), with only the upstream pull
// serialized. Order is first-completed-first-emitted unless Ordered is set.
func (p *Pipeline[T]) Prefetch(capacity int, opts ...StageOption) *Pipeline[T] {
	cfg := defaultStageConfig(capacity, 0)
	for _, o := range opts {
		o(&cfg)
	}
	return p.with(op[T]{kind: opStage, stage: cfg})
}

// Shuffle inserts a buffer that randomizes emission within a sliding window,
// trading shuffle quality for bounded memory: no item moves more than
// window-1 positions. A window of 0 disables shuffling and behaves as a plain
// FIFO prefetch. The buffer capacity defaults to the window (see Capacity).
func (p *Pipeline[T]) Shuffle(window int, opts ...StageOption) *Pipeline[T] {
	capacity := window
	if capacity < 1 {
		capacity = 1
	}
	cfg := defaultStageConfig(capacity, window)
	for _, o := range opts {
		o(&cfg)
	}
	return p.with(op[T]{kind: opStage, stage: cfg})
}

// Batch groups the items of p in slices of at most size elements, deriving a
// pipeline of type []T. Like Map it is a free function, the item type changes.
// The final partial batch is emitted unless DropPartial is set.
func Batch[T any](p *Pipeline[T], size int, opts ...BatchOption) *Pipeline[[]T] {
	cfg := batchConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	base := func(ctx context.Context) (Iterator[[]T], error) {
		if size <= 0 {
			return nil, fmt.Errorf("%w: batch size must be positive", ErrConfig)
		}
		it, err := p.Iterate(ctx)
		if err != nil {
			return nil, err
		}
		return newBatchIterator(it, size, cfg.dropPartial), nil
	}
	return &Pipeline[[]T]{base: base, opts: p.opts}
}

type batchConfig struct {
	dropPartial bool
}

// BatchOption tunes a Batch segment.
type BatchOption func(*batchConfig)

// DropPartial discards the final batch when it is smaller than the batch size.
func DropPartial() BatchOption {
	return func(c *batchConfig) { c.dropPartial = true }
}

// Map derives a pipeline producing a different item type. It starts a new
// segment: the transform runs inline on the consumer side of any upstream
// stage.
func Map[T, U any](p *Pipeline[T], f func(T) U) *Pipeline[U] {
	return MapErr(p, func(v T) (U, error) { return f(v), nil })
}

// MapErr is Map with a fallible transform.
func MapErr[T, U any](p *Pipeline[T], f func(T) (U, error)) *Pipeline[U] {
	g := func(v T) (out U, err error) {
		defer guardPanic(&err)
		r, ferr := f(v)
		if ferr != nil {
			var zero U
			return zero, wrapTransformErr(ferr)
		}
		return r, nil
	}
	base := func(ctx context.Context) (Iterator[U], error) {
		it, err := p.Iterate(ctx)
		if err != nil {
			return nil, err
		}
		return &castIterator[T, U]{up: it, f: g}, nil
	}
	return &Pipeline[U]{base: base, opts: p.opts}
}

// Iterate opens a fresh iteration of the pipeline. The caller owns the
// returned iterator and must Close it; Close is what tears down stage workers
// and releases the driver's resource on early termination.
func (p *Pipeline[T]) Iterate(ctx context.Context) (Iterator[T], error) {
	log := p.opts.logger.With().Str("iteration", uuid.NewString()).Logger()
	cur, err := p.base(ctx)
	if err != nil {
		return nil, err
	}
	var pending []elemFunc[T]
	flush := func() {
		if len(pending) > 0 {
			cur = newElemIterator(cur, pending)
			pending = nil
		}
	}
	for _, o := range p.ops {
		switch o.kind {
		case opElem:
			pending = append(pending, o.elem)
		case opTake:
			flush()
			cur = newTakeIterator(cur, o.n)
		case opSkip:
			flush()
			cur = newSkipIterator(cur, o.n)
		case opStage:
			st, serr := newStage(ctx, cur, pending, o.stage, log)
			if serr != nil {
				_ = cur.Close()
				return nil, serr
			}
			pending = nil
			cur = st
		}
	}
	flush()
	log.Debug().Msg("iteration started")
	return cur, nil
}

// Each iterates the pipeline, calling fn for every item. It always closes the
// iteration, including when fn or the pipeline fails.
func (p *Pipeline[T]) Each(ctx context.Context, fn func(T) error) error {
	it, err := p.Iterate(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for {
		v, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Collect iterates the pipeline and returns every item. Not transactional: on
// failure the items already produced are discarded.
func (p *Pipeline[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	if err := p.Each(ctx, func(v T) error {
		out = append(out, v)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
