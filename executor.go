package flume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// stageConfig gathers everything a prefetch or shuffle stage needs: buffer
// sizing, worker pool sizing and the failure/teardown knobs.
type stageConfig struct {
	capacity int
	window   int
	workers  int
	ordered  bool
	failFast bool
	seed     int64
	hasSeed  bool
	grace    time.Duration
}

func defaultStageConfig(capacity, window int) stageConfig {
	return stageConfig{capacity: capacity, window: window, workers: 1, grace: 5 * time.Second}
}

func (c stageConfig) validate() error {
	if c.capacity <= 0 {
		return fmt.Errorf("%w: buffer capacity must be positive", ErrConfig)
	}
	if c.window < 0 || c.window > c.capacity {
		return fmt.Errorf("%w: shuffle window %d must stay within capacity %d", ErrConfig, c.window, c.capacity)
	}
	if c.workers <= 0 {
		return fmt.Errorf("%w: worker count must be positive", ErrConfig)
	}
	if c.ordered && c.window > 1 {
		return fmt.Errorf("%w: ordered output and shuffling are mutually exclusive", ErrConfig)
	}
	if c.grace <= 0 {
		return fmt.Errorf("%w: teardown grace must be positive", ErrConfig)
	}
	return nil
}

// StageOption tunes a Prefetch or Shuffle stage.
type StageOption func(*stageConfig)

// Workers sets how many workers pull and transform concurrently. Default 1.
func Workers(n int) StageOption { return func(c *stageConfig) { c.workers = n } }

// Ordered makes the stage re-sequence concurrent results so the output order
// matches the upstream order. Incompatible with a shuffle window above 1.
func Ordered() StageOption { return func(c *stageConfig) { c.ordered = true } }

// FailFast makes an upstream failure surface immediately, discarding buffered
// items. The default drains buffered items first.
func FailFast() StageOption { return func(c *stageConfig) { c.failFast = true } }

// Seed fixes the shuffle randomness, making emission order reproducible.
func Seed(seed int64) StageOption {
	return func(c *stageConfig) { c.seed = seed; c.hasSeed = true }
}

// Capacity overrides the buffer capacity, for a Shuffle stage whose staging
// area should be larger than its window.
func Capacity(n int) StageOption { return func(c *stageConfig) { c.capacity = n } }

// Grace bounds how long teardown waits for in-flight work. Default 5s.
func Grace(d time.Duration) StageOption { return func(c *stageConfig) { c.grace = d } }

// lockedSource serializes concurrent pulls on the single upstream iterator,
// which is not safe for concurrent use, and tags each item with a monotone
// sequence number. Only the pull is serialized: transforms overlap freely.
type lockedSource[T any] struct {
	mu  sync.Mutex
	it  Iterator[T]
	tag uint64
	eof bool
}

func (s *lockedSource[T]) pull() (T, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if s.eof {
		return zero, 0, io.EOF
	}
	v, err := s.it.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
		}
		return zero, 0, err
	}
	tag := s.tag
	s.tag++
	return v, tag, nil
}

// close does not take the pull lock: the iterator contract requires Close to
// unblock a Next stuck on I/O.
func (s *lockedSource[T]) close() error { return s.it.Close() }

// stage runs a pool of workers pulling from one upstream and feeding one
// buffer. It is itself an Iterator, consumed single-threaded downstream.
type stage[T any] struct {
	cfg   stageConfig
	buf   *buffer[T]
	src   *lockedSource[T]
	xform elemFunc[T]
	pool  *ants.Pool
	wg    sync.WaitGroup
	log   zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newStage[T any](ctx context.Context, up Iterator[T], chain []elemFunc[T], cfg stageConfig, log zerolog.Logger) (Iterator[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(cfg.workers)
	if err != nil {
		return nil, err
	}
	st := &stage[T]{
		cfg:   cfg,
		buf:   newBuffer[T](cfg),
		src:   &lockedSource[T]{it: up},
		xform: composeChain(chain),
		pool:  pool,
		log:   log,
	}
	st.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		if serr := pool.Submit(st.runWorker); serr != nil {
			st.buf.fail(serr)
			for j := i; j < cfg.workers; j++ {
				st.buf.producerDone()
				st.wg.Done()
			}
			break
		}
	}
	go st.watch(ctx)
	st.log.Debug().
		Int("workers", cfg.workers).
		Int("capacity", cfg.capacity).
		Int("window", cfg.window).
		Bool("ordered", cfg.ordered).
		Msg("stage started")
	return st, nil
}

// watch aborts the stage when the iteration context is cancelled.
func (st *stage[T]) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		st.buf.fail(ctx.Err())
	case <-st.buf.stop:
	}
}

func (st *stage[T]) runWorker() {
	defer st.wg.Done()
	defer st.buf.producerDone()
	for {
		if st.buf.stopped() {
			return
		}
		v, tag, err := st.src.pull()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			st.buf.fail(err)
			return
		}
		out, err := st.xform(v)
		if err != nil {
			st.buf.fail(err)
			return
		}
		if !st.buf.put(tag, out) {
			return
		}
	}
}

func (st *stage[T]) Next() (T, error) { return st.buf.get() }

// Close tears the stage down: workers stop pulling new work, in-flight work
// gets a bounded grace to finish, then the pool and the upstream are released.
func (st *stage[T]) Close() error {
	st.closeOnce.Do(func() {
		st.buf.close()
		done := make(chan struct{})
		go func() {
			st.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(st.cfg.grace):
			st.log.Warn().Dur("grace", st.cfg.grace).Msg("workers still busy after grace period")
		}
		st.pool.Release()
		st.closeErr = st.src.close()
	})
	return st.closeErr
}
