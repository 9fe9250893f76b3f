package flume

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"
)

type bufferSlot[T any] struct {
	in   uint64
	item T
}

// buffer is the bounded staging area between the executor's workers and the
// consumer. Producers block when the buffer is full, the consumer blocks when
// it is empty and upstream is not exhausted.
//
// With a shuffle window w > 1, emission picks uniformly at random among the
// oldest w ready items, except that the head is forced out once its lateness
// reaches w-1 emissions. With in-order deposits this bounds the displacement
// of any item to w-1 positions. This is a windowed approximation, not a full
// shuffle: items further than w slots apart can never swap.
//
// A deposit is admitted whole as soon as any slot is free, briefly
// overshooting capacity by the deposit's tail. Splitting a multi-item deposit
// instead would let a fan-out producer and the consumer's window-fill wait
// block on each other with the capacity exactly full.
//
// In ordered mode deposits carry the upstream pull tag and are held back until
// all lower tags arrived. Held items count against capacity; the deposit
// carrying the next tag to release is exempt even from the any-slot wait,
// which keeps ordered stages deadlock free.
type buffer[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	cfg      stageConfig
	rng      *rand.Rand

	ready       []bufferSlot[T]
	held        map[uint64][]T
	heldCount   int
	nextRelease uint64
	inCount     uint64
	outCount    uint64

	producers int
	draining  bool
	closed    bool
	err       error
	maxLive   int

	stop     chan struct{}
	stopOnce sync.Once
}

func newBuffer[T any](cfg stageConfig) *buffer[T] {
	seed := cfg.seed
	if !cfg.hasSeed {
		seed = time.Now().UnixNano()
	}
	b := &buffer[T]{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		producers: cfg.workers,
		stop:      make(chan struct{}),
	}
	if cfg.ordered {
		b.held = map[uint64][]T{}
	}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

func (b *buffer[T]) live() int { return len(b.ready) + b.heldCount }

// put deposits the results of one upstream pull. It blocks while the buffer is
// full and reports false once the stage is shutting down or failed.
func (b *buffer[T]) put(tag uint64, items []T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.live() >= b.cfg.capacity &&
		!b.closed && b.err == nil && !(b.cfg.ordered && tag == b.nextRelease) {
		b.notFull.Wait()
	}
	if b.closed || b.err != nil {
		return false
	}
	if b.cfg.ordered {
		b.held[tag] = items
		b.heldCount += len(items)
		for {
			next, ok := b.held[b.nextRelease]
			if !ok {
				break
			}
			delete(b.held, b.nextRelease)
			b.heldCount -= len(next)
			for _, v := range next {
				b.ready = append(b.ready, bufferSlot[T]{in: b.inCount, item: v})
				b.inCount++
			}
			b.nextRelease++
		}
	} else {
		for _, v := range items {
			b.ready = append(b.ready, bufferSlot[T]{in: b.inCount, item: v})
			b.inCount++
		}
	}
	if l := b.live(); l > b.maxLive {
		b.maxLive = l
	}
	b.notEmpty.Broadcast()
	return true
}

// get emits the next item to the consumer, honoring the shuffle window and the
// configured failure policy (drain-then-fail by default, fail-fast otherwise).
func (b *buffer[T]) get() (T, error) {
	var zero T
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return zero, io.EOF
		}
		if b.err != nil && b.cfg.failFast {
			return zero, b.surface()
		}
		if len(b.ready) > 0 {
			// with shuffling enabled, wait for a full window unless upstream is winding down
			if b.cfg.window > 1 && len(b.ready) < b.cfg.window && !b.draining && b.err == nil {
				b.notEmpty.Wait()
				continue
			}
			idx := 0
			if w := b.cfg.window; w > 1 {
				span := w
				if len(b.ready) < span {
					span = len(b.ready)
				}
				// force the head out once its lateness hits the window bound
				if b.outCount < b.ready[0].in+uint64(w-1) {
					idx = b.rng.Intn(span)
				}
			}
			v := b.ready[idx].item
			b.ready = append(b.ready[:idx], b.ready[idx+1:]...)
			b.outCount++
			b.notFull.Broadcast()
			return v, nil
		}
		if b.err != nil {
			return zero, b.surface()
		}
		if b.draining {
			return zero, io.EOF
		}
		b.notEmpty.Wait()
	}
}

// surface re-raises the recorded failure. Transform failures keep their type,
// anything else is wrapped so the consumer can tell the stage boundary apart.
func (b *buffer[T]) surface() error {
	var te *TransformError
	if errors.As(b.err, &te) {
		return b.err
	}
	return &BufferAbortedError{Err: b.err}
}

// fail records the first failure and signals every producer and the consumer.
func (b *buffer[T]) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.stopOnce.Do(func() { close(b.stop) })
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// close is the consumer side teardown signal.
func (b *buffer[T]) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.stopOnce.Do(func() { close(b.stop) })
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

func (b *buffer[T]) stopped() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// producerDone is called by each worker on exit. Once the last producer is
// gone the buffer drains and then reports exhaustion.
func (b *buffer[T]) producerDone() {
	b.mu.Lock()
	b.producers--
	if b.producers <= 0 {
		b.draining = true
	}
	b.mu.Unlock()
	b.notEmpty.Broadcast()
}

func (b *buffer[T]) liveHighWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxLive
}
