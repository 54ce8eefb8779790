package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/reliability"
	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// ErrDisabled is returned by Check when no collaborator is configured
var ErrDisabled = errors.New("aggregation plugin disabled")

// DefaultTimeout bounds one Process call
const DefaultTimeout = 5 * time.Second

// Config holds aggregation plugin client configuration
type Config struct {
	Enabled        bool                             `yaml:"enabled"`
	Address        string                           `yaml:"address"`
	Timeout        time.Duration                    `yaml:"timeout,omitempty"`
	CircuitBreaker reliability.CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	TLS            security.TLSConfig               `yaml:"tls,omitempty"`
}

// Result is the outcome of an enrichment call. Records is always usable:
// when Degraded is set it holds the input records unchanged.
type Result struct {
	Records  []types.Record
	Applied  bool
	Degraded bool
	Reason   string
	Summary  map[string]any
}

// Client calls the remote LogProcessor
type Client struct {
	cfg     Config
	conn    *grpc.ClientConn
	breaker *reliability.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	dial    []grpc.DialOption
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent("plugin-client") }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithDialOptions appends gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dial = append(c.dial, opts...) }
}

// NewClient creates a client. A disabled config yields a client whose calls
// are skipped. Connections are established lazily on first use.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: logging.Nop(),
		tracer: tracing.NoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if !cfg.Enabled {
		return c, nil
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("plugin address is required when the plugin is enabled")
	}

	breakerCfg := cfg.CircuitBreaker
	breakerCfg.Name = "plugin"
	if c.metrics != nil {
		m := c.metrics
		breakerCfg.OnStateChange = func(name string, from, to reliability.State) {
			m.SetCircuitBreakerState(name, int(to))
		}
	}
	c.breaker = reliability.NewCircuitBreaker(breakerCfg)

	creds := insecure.NewCredentials()
	tlsConfig, err := security.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("plugin tls: %w", err)
	}
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}

	dial := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, c.dial...)
	conn, err := grpc.NewClient(cfg.Address, dial...)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin client: %w", err)
	}
	c.conn = conn

	return c, nil
}

// Enabled reports whether calls reach a collaborator
func (c *Client) Enabled() bool {
	return c != nil && c.conn != nil
}

// Enrich sends records through the collaborator. It never fails: transport
// errors, timeouts, an open circuit or a malformed reply return the input
// records with Degraded set and the cause in Reason.
func (c *Client) Enrich(ctx context.Context, records []types.Record) Result {
	if !c.Enabled() {
		c.observe("skipped", 0)
		return Result{Records: records}
	}

	ctx, span := tracing.TracePlugin(ctx, c.tracer, c.cfg.Address, len(records))
	defer span.End()

	start := time.Now()
	reply, err := c.call(ctx, records)
	if err == nil && len(reply.Entries) != len(records) {
		err = fmt.Errorf("plugin returned %d entries for %d records", len(reply.Entries), len(records))
	}
	if err != nil {
		tracing.RecordError(span, err)
		c.observe("degraded", time.Since(start))
		c.logger.Warn().Err(err).Int("records", len(records)).Msg("Aggregation plugin unavailable, returning records unchanged")
		return Result{Records: records, Degraded: true, Reason: err.Error()}
	}

	c.observe("ok", time.Since(start))
	return Result{
		Records: merge(records, reply.Entries),
		Applied: true,
		Summary: reply.Summary,
	}
}

func (c *Client) call(ctx context.Context, records []types.Record) (Batch, error) {
	batch := Batch{Entries: make([]Entry, len(records))}
	for i, r := range records {
		batch.Entries[i] = EntryFromRecord(r)
	}
	req, err := batch.Encode()
	if err != nil {
		return Batch{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reply := new(structpb.Struct)
	err = c.breaker.Execute(func() error {
		return c.conn.Invoke(ctx, processMethod, req, reply)
	})
	if err != nil {
		return Batch{}, err
	}
	return DecodeBatch(reply)
}

// merge applies the collaborator's level and correlation labels. Phase and
// every other engine field stay as produced.
func merge(records []types.Record, entries []Entry) []types.Record {
	out := make([]types.Record, len(records))
	for i, r := range records {
		e := entries[i]
		if parser.IsLevel(e.Level) {
			r.Level = e.Level
		}
		if e.RequestID != "" {
			r.RequestID = e.RequestID
		}
		if e.ResourceType != "" {
			r.ResourceType = e.ResourceType
		}
		out[i] = r
	}
	return out
}

// Check queries the collaborator's health service
func (c *Client) Check(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("plugin status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.PluginCalls.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		c.metrics.PluginDuration.Observe(elapsed.Seconds())
	}
}
