package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/tflog/internal/reliability"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Failure strategies
const (
	FailureContinue = "continue"
	FailureStop     = "stop"
)

// RouterConfig contains configuration for the multi-output router
type RouterConfig struct {
	// FailureStrategy defines how to handle output failures (continue, stop)
	FailureStrategy string `yaml:"failure_strategy,omitempty"`

	// Parallel enables parallel sending to all outputs
	Parallel bool `yaml:"parallel,omitempty"`

	// Retry applies to each output independently
	Retry reliability.RetryConfig `yaml:"retry,omitempty"`

	// CircuitBreaker is instantiated once per output
	CircuitBreaker reliability.CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// DefaultRouterConfig returns default router configuration
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		FailureStrategy: FailureContinue,
		Parallel:        true,
		Retry: reliability.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
			Jitter:         true,
		},
		CircuitBreaker: reliability.CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
	}
}

// DeadLetter receives batches an output could not deliver
type DeadLetter interface {
	Enqueue(output string, records []types.Record, cause error) error
	Size() int
}

// Delivery is the outcome of one batch on one output
type Delivery struct {
	Output       string `json:"output"`
	Type         string `json:"type"`
	Records      int    `json:"records"`
	Error        string `json:"error,omitempty"`
	DeadLettered bool   `json:"dead_lettered,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`

	err error
}

// Report collects the deliveries of one routed batch
type Report struct {
	Deliveries []Delivery `json:"deliveries"`
}

// Failed returns the deliveries that did not succeed
func (r Report) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Err joins the delivery errors
func (r Report) Err() error {
	var errs []error
	for _, d := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", d.Output, d.err))
	}
	return errors.Join(errs...)
}

type route struct {
	out     Output
	breaker *reliability.CircuitBreaker
}

// Router fans batches out to several outputs. Each output is guarded by its
// own circuit breaker and retried independently; batches that still fail are
// handed to the dead letter queue.
type Router struct {
	config  RouterConfig
	routes  []route
	dlq     DeadLetter
	metrics *metrics.Collector
	logger  *logging.Logger
	tracer  trace.Tracer
	mu      sync.RWMutex
	closed  atomic.Bool
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithDeadLetter sets the dead letter queue
func WithDeadLetter(dlq DeadLetter) RouterOption {
	return func(r *Router) { r.dlq = dlq }
}

// WithRouterLogger sets the logger
func WithRouterLogger(l *logging.Logger) RouterOption {
	return func(r *Router) { r.logger = l.WithComponent("output-router") }
}

// WithRouterMetrics sets the metrics collector
func WithRouterMetrics(m *metrics.Collector) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRouterTracer sets the tracer
func WithRouterTracer(t trace.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// NewRouter creates a router with no outputs
func NewRouter(config RouterConfig, opts ...RouterOption) *Router {
	if config.FailureStrategy == "" {
		config.FailureStrategy = FailureContinue
	}
	r := &Router{
		config: config,
		logger: logging.Nop(),
		tracer: tracing.NoopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddOutput registers an output with a fresh circuit breaker
func (r *Router) AddOutput(out Output) {
	cbConfig := r.config.CircuitBreaker
	cbConfig.Name = "output:" + out.Name()
	if r.metrics != nil {
		m := r.metrics
		cbConfig.OnStateChange = func(name string, from, to reliability.State) {
			m.SetCircuitBreakerState(name, int(to))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{out: out, breaker: reliability.NewCircuitBreaker(cbConfig)})
}

// Len returns the number of outputs
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Route delivers records to every output and reports per-output outcomes
func (r *Router) Route(ctx context.Context, records []types.Record) (Report, error) {
	if r.closed.Load() {
		return Report{}, fmt.Errorf("router is closed")
	}

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	if len(routes) == 0 {
		return Report{}, fmt.Errorf("no outputs available")
	}

	report := Report{Deliveries: make([]Delivery, len(routes))}
	if r.config.Parallel {
		var wg sync.WaitGroup
		for i, rt := range routes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report.Deliveries[i] = r.deliver(ctx, rt, records)
			}()
		}
		wg.Wait()
		return report, nil
	}

	stopped := false
	for i, rt := range routes {
		if stopped {
			report.Deliveries[i] = Delivery{Output: rt.out.Name(), Type: rt.out.Type(), Records: len(records), Skipped: true}
			continue
		}
		report.Deliveries[i] = r.deliver(ctx, rt, records)
		if report.Deliveries[i].err != nil && r.config.FailureStrategy == FailureStop {
			stopped = true
		}
	}
	return report, nil
}

// Write routes the batch. With the stop strategy any failed output is an
// error; with continue, failures are only logged and dead-lettered.
func (r *Router) Write(ctx context.Context, records []types.Record) error {
	report, err := r.Route(ctx, records)
	if err != nil {
		return err
	}
	if r.config.FailureStrategy == FailureStop {
		return report.Err()
	}
	return nil
}

func (r *Router) deliver(ctx context.Context, rt route, records []types.Record) Delivery {
	name, kind := rt.out.Name(), rt.out.Type()
	d := Delivery{Output: name, Type: kind, Records: len(records)}

	ctx, span := tracing.TraceOutput(ctx, r.tracer, name, kind, len(records))
	defer span.End()

	start := time.Now()
	err := reliability.Retry(ctx, r.config.Retry, func(ctx context.Context) error {
		return rt.breaker.Execute(func() error {
			return rt.out.Write(ctx, records)
		})
	})
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.OutputDuration.WithLabelValues(name, kind).Observe(elapsed.Seconds())
	}

	if err == nil {
		if r.metrics != nil {
			r.metrics.OutputRecordsSent.WithLabelValues(name, kind).Add(float64(len(records)))
		}
		return d
	}

	tracing.RecordError(span, err)
	d.err = err
	d.Error = err.Error()
	if r.metrics != nil {
		r.metrics.OutputRecordsFailed.WithLabelValues(name, kind).Add(float64(len(records)))
	}
	r.logger.Error().Err(err).
		Str("output", name).
		Str("type", kind).
		Int("records", len(records)).
		Msg("Failed to deliver records")

	if r.dlq != nil {
		if dlqErr := r.dlq.Enqueue(name, records, err); dlqErr != nil {
			r.logger.Error().Err(dlqErr).Str("output", name).Msg("Failed to dead-letter records")
		} else {
			d.DeadLettered = true
			if r.metrics != nil {
				r.metrics.DLQRecordsWritten.Add(float64(len(records)))
				r.metrics.DLQSize.Set(float64(r.dlq.Size()))
			}
		}
	}
	return d
}

// Close closes all outputs
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	var errs []error
	for _, rt := range routes {
		if err := rt.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.out.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns the router name
func (r *Router) Name() string { return "router" }

// Type returns the router kind
func (r *Router) Type() string { return "router" }

// Metrics aggregates the metrics of all outputs
func (r *Router) Metrics() OutputMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var agg OutputMetrics
	var totalLatency time.Duration
	for _, rt := range r.routes {
		m := rt.out.Metrics()
		agg.RecordsSent += m.RecordsSent
		agg.RecordsFailed += m.RecordsFailed
		agg.BytesSent += m.BytesSent
		agg.BatchesSent += m.BatchesSent
		totalLatency += m.AvgLatency

		if m.LastSendTime.After(agg.LastSendTime) {
			agg.LastSendTime = m.LastSendTime
		}
		if m.LastErrorTime.After(agg.LastErrorTime) {
			agg.LastErrorTime = m.LastErrorTime
			agg.LastError = m.LastError
		}
	}

	if len(r.routes) > 0 {
		agg.AvgLatency = totalLatency / time.Duration(len(r.routes))
	}
	if agg.BatchesSent > 0 {
		agg.AvgBatchSize = float64(agg.RecordsSent) / float64(agg.BatchesSent)
	}
	return agg
}

// Outputs returns the registered outputs
func (r *Router) Outputs() []Output {
	r.mu.RLock()
	defer r.mu.RUnlock()

	outputs := make([]Output, len(r.routes))
	for i, rt := range r.routes {
		outputs[i] = rt.out
	}
	return outputs
}
