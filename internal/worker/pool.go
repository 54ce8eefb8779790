// Package worker runs independent jobs, such as one engine run per input
// file, on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("job queue full")
	ErrJobTimeout = errors.New("job execution timeout")
)

// JobFunc processes one item
type JobFunc[T any] func(ctx context.Context, item T) error

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	Name       string
	NumWorkers int
	QueueSize  int
	JobTimeout time.Duration // 0 disables the per-job deadline
}

func (c *PoolConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.NumWorkers * 4
	}
}

// Pool is a fixed set of workers consuming a shared queue
type Pool[T any] struct {
	config  PoolConfig
	fn      JobFunc[T]
	queue   chan *job[T]
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	started bool

	jobsProcessed atomic.Uint64
	jobsFailed    atomic.Uint64
	jobsTimeout   atomic.Uint64
	workersActive atomic.Int64
}

type job[T any] struct {
	ctx      context.Context
	item     T
	resultCh chan error
}

// NewPool creates a pool; call Start before submitting
func NewPool[T any](config PoolConfig, fn JobFunc[T], m *metrics.Collector) *Pool[T] {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		config:  config,
		fn:      fn,
		queue:   make(chan *job[T], config.QueueSize),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	if p.metrics != nil {
		p.metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(float64(p.config.NumWorkers))
	}
}

// Submit queues item and waits for its result
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	j := &job[T]{ctx: ctx, item: item, resultCh: make(chan error, 1)}
	if err := p.enqueue(ctx, j, true); err != nil {
		return err
	}

	select {
	case err := <-j.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync queues item without waiting. It fails with ErrQueueFull
// rather than blocking.
func (p *Pool[T]) SubmitAsync(ctx context.Context, item T) error {
	j := &job[T]{ctx: ctx, item: item, resultCh: make(chan error, 1)}
	return p.enqueue(ctx, j, false)
}

func (p *Pool[T]) enqueue(ctx context.Context, j *job[T], block bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolClosed
	}

	if !block {
		select {
		case p.queue <- j:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Stop drains queued jobs and waits for the workers
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	if p.metrics != nil {
		p.metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(0)
	}
}

func (p *Pool[T]) run() {
	defer p.wg.Done()
	for j := range p.queue {
		p.process(j)
	}
}

func (p *Pool[T]) process(j *job[T]) {
	p.workersActive.Add(1)
	defer p.workersActive.Add(-1)

	ctx := j.ctx
	var cancel context.CancelFunc = func() {}
	if p.config.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
	}
	defer cancel()

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = p.fn(ctx, j.item)
	}
	if errors.Is(err, context.DeadlineExceeded) && j.ctx.Err() == nil {
		p.jobsTimeout.Add(1)
		err = errors.Join(ErrJobTimeout, err)
	}

	p.jobsProcessed.Add(1)
	status := "ok"
	if err != nil {
		p.jobsFailed.Add(1)
		status = "failed"
	}
	if p.metrics != nil {
		p.metrics.WorkerPoolJobs.WithLabelValues(p.config.Name, status).Inc()
		p.metrics.WorkerJobDuration.WithLabelValues(p.config.Name).Observe(time.Since(start).Seconds())
	}

	j.resultCh <- err
}

// Metrics returns worker pool statistics
func (p *Pool[T]) Metrics() PoolMetrics {
	return PoolMetrics{
		NumWorkers:    p.config.NumWorkers,
		JobsProcessed: p.jobsProcessed.Load(),
		JobsFailed:    p.jobsFailed.Load(),
		JobsTimeout:   p.jobsTimeout.Load(),
		WorkersActive: p.workersActive.Load(),
		QueueSize:     len(p.queue),
		QueueCapacity: cap(p.queue),
	}
}

// PoolMetrics holds worker pool statistics
type PoolMetrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	JobsTimeout   uint64
	WorkersActive int64
	QueueSize     int
	QueueCapacity int
}

// Utilization returns the queue utilization percentage (0-100)
func (m PoolMetrics) Utilization() float64 {
	if m.QueueCapacity == 0 {
		return 0
	}
	return float64(m.QueueSize) / float64(m.QueueCapacity) * 100.0
}

// SuccessRate returns the job success rate percentage (0-100)
func (m PoolMetrics) SuccessRate() float64 {
	if m.JobsProcessed == 0 {
		return 100.0
	}
	return float64(m.JobsProcessed-m.JobsFailed) / float64(m.JobsProcessed) * 100.0
}

// Map runs fn over items on a temporary pool and returns results and errors
// in input order. Every item is attempted; a failing item does not cancel
// the others.
func Map[T, R any](ctx context.Context, config PoolConfig, items []T, fn func(context.Context, T) (R, error), m *metrics.Collector) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}
	if config.NumWorkers <= 0 || config.NumWorkers > len(items) {
		config.NumWorkers = min(len(items), runtime.NumCPU())
	}

	pool := NewPool(config, func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		results[i] = r
		return err
	}, m)
	pool.Start()

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = pool.Submit(ctx, i)
		}()
	}
	wg.Wait()
	pool.Stop()
	return results, errs
}
