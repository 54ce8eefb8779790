package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
)

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(PoolConfig{}, func(ctx context.Context, s string) error { return nil }, nil)
	defer p.Stop()

	if p.config.NumWorkers <= 0 {
		t.Errorf("Expected default worker count, got %d", p.config.NumWorkers)
	}
	if p.config.QueueSize != p.config.NumWorkers*4 {
		t.Errorf("Expected queue size %d, got %d", p.config.NumWorkers*4, p.config.QueueSize)
	}
	if p.config.Name != "default" {
		t.Errorf("Expected default name, got %q", p.config.Name)
	}
}

func TestPoolSubmit(t *testing.T) {
	var processed atomic.Uint64
	p := NewPool(PoolConfig{NumWorkers: 2, QueueSize: 10}, func(ctx context.Context, path string) error {
		processed.Add(1)
		if path == "bad.log" {
			return errors.New("unreadable")
		}
		return nil
	}, nil)
	p.Start()
	defer p.Stop()

	if err := p.Submit(context.Background(), "apply.log"); err != nil {
		t.Errorf("Submit() error = %v", err)
	}
	if err := p.Submit(context.Background(), "bad.log"); err == nil {
		t.Error("Expected job error to be returned")
	}

	m := p.Metrics()
	if m.JobsProcessed != 2 || m.JobsFailed != 1 {
		t.Errorf("Expected 2 processed 1 failed, got %+v", m)
	}
	if m.SuccessRate() != 50 {
		t.Errorf("Expected 50%% success, got %v", m.SuccessRate())
	}
	if processed.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", processed.Load())
	}
}

func TestPoolJobTimeout(t *testing.T) {
	p := NewPool(PoolConfig{NumWorkers: 1, JobTimeout: 20 * time.Millisecond}, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	p.Start()
	defer p.Stop()

	err := p.Submit(context.Background(), 1)
	if !errors.Is(err, ErrJobTimeout) {
		t.Errorf("Expected ErrJobTimeout, got %v", err)
	}
	if p.Metrics().JobsTimeout != 1 {
		t.Errorf("Expected 1 timeout, got %d", p.Metrics().JobsTimeout)
	}
}

func TestPoolSubmitCancelled(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(PoolConfig{NumWorkers: 1, QueueSize: 1}, func(ctx context.Context, _ int) error {
		<-release
		return nil
	}, nil)
	p.Start()
	defer p.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.Submit(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestPoolSubmitAsyncQueueFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(PoolConfig{NumWorkers: 1, QueueSize: 1}, func(ctx context.Context, _ int) error {
		<-release
		return nil
	}, nil)
	p.Start()

	ctx := context.Background()
	var full bool
	for i := 0; i < 5; i++ {
		if err := p.SubmitAsync(ctx, i); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("Expected ErrQueueFull once the queue is saturated")
	}

	close(release)
	p.Stop()
}

func TestPoolStop(t *testing.T) {
	var processed atomic.Uint64
	p := NewPool(PoolConfig{NumWorkers: 2, QueueSize: 10}, func(ctx context.Context, _ int) error {
		processed.Add(1)
		return nil
	}, nil)
	p.Start()

	for i := 0; i < 5; i++ {
		if err := p.SubmitAsync(context.Background(), i); err != nil {
			t.Fatalf("SubmitAsync() error = %v", err)
		}
	}
	p.Stop()
	p.Stop()

	if processed.Load() != 5 {
		t.Errorf("Expected queued jobs to drain, got %d", processed.Load())
	}
	if err := p.Submit(context.Background(), 6); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolMetricsCollector(t *testing.T) {
	m := metrics.NewCollector()
	p := NewPool(PoolConfig{Name: "parse", NumWorkers: 3}, func(ctx context.Context, _ int) error { return nil }, m)
	p.Start()

	if got := testutil.ToFloat64(m.WorkerPoolSize.WithLabelValues("parse")); got != 3 {
		t.Errorf("Expected size gauge 3, got %v", got)
	}
	p.Submit(context.Background(), 1)
	p.Stop()

	if got := testutil.ToFloat64(m.WorkerPoolJobs.WithLabelValues("parse", "ok")); got != 1 {
		t.Errorf("Expected 1 ok job, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerPoolSize.WithLabelValues("parse")); got != 0 {
		t.Errorf("Expected size gauge reset, got %v", got)
	}
}

func TestMapPreservesOrder(t *testing.T) {
	items := []string{"a.log", "b.log", "c.log", "d.log", "e.log"}

	results, errs := Map(context.Background(), PoolConfig{NumWorkers: 3}, items, func(ctx context.Context, s string) (string, error) {
		if s == "c.log" {
			return "", fmt.Errorf("%s: unreadable", s)
		}
		return "run:" + s, nil
	}, nil)

	for i, item := range items {
		if item == "c.log" {
			if errs[i] == nil {
				t.Errorf("Expected error for %s", item)
			}
			continue
		}
		if errs[i] != nil {
			t.Errorf("Unexpected error for %s: %v", item, errs[i])
		}
		if results[i] != "run:"+item {
			t.Errorf("results[%d] = %q, want %q", i, results[i], "run:"+item)
		}
	}
}

func TestMapEmpty(t *testing.T) {
	results, errs := Map(context.Background(), PoolConfig{}, []int{}, func(ctx context.Context, i int) (int, error) {
		return i, nil
	}, nil)
	if len(results) != 0 || len(errs) != 0 {
		t.Errorf("Expected empty results, got %v %v", results, errs)
	}
}
