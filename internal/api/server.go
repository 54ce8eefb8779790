// Package api serves the engine, the run store and the viewer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/tflog/internal/config"
	"github.com/therealutkarshpriyadarshi/tflog/internal/health"
	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/tflog/internal/output"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/profiling"
	"github.com/therealutkarshpriyadarshi/tflog/internal/store"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// RunStore persists runs
type RunStore interface {
	SaveRun(ctx context.Context, run store.Run, records []types.Record) (store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error)
	Records(ctx context.Context, id string) ([]types.Record, error)
	Record(ctx context.Context, id string, lineno int) (types.Record, error)
}

// Enricher passes records through the aggregation plugin
type Enricher interface {
	Enabled() bool
	Enrich(ctx context.Context, records []types.Record) plugin.Result
}

// Exporter routes records to the configured outputs
type Exporter interface {
	Route(ctx context.Context, records []types.Record) (output.Report, error)
	Len() int
}

// Server is the HTTP API
type Server struct {
	cfg      config.ServerConfig
	engine   *parser.Engine
	runs     RunStore
	plugin   Enricher
	exporter Exporter
	health   *health.Checker
	metrics  *metrics.Collector
	logger   *logging.Logger
	tracer   trace.Tracer
	limiter  *clientLimiter
	router   *chi.Mux
}

// Option configures a Server
type Option func(*Server)

// WithPlugin enables upload enrichment
func WithPlugin(p Enricher) Option {
	return func(s *Server) { s.plugin = p }
}

// WithExporter enables the export route
func WithExporter(e Exporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithHealth sets the checker behind the health routes
func WithHealth(h *health.Checker) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the collector served on /metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New builds the API around an engine and a run store
func New(cfg config.ServerConfig, engine *parser.Engine, runs RunStore, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = config.DefaultAllowedExtensions
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		runs:   runs,
		logger: logging.Nop(),
		tracer: tracing.NoopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.health == nil {
		s.health = health.NewChecker(0)
	}
	s.logger = s.logger.WithComponent("api")
	s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst, time.Now)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.health.HTTPHandler())
	r.Get("/health/live", s.health.LivenessHandler())
	r.Get("/health/ready", s.health.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/upload", s.upload)

		if s.cfg.Profiling {
			r.Mount("/debug", profiling.Handler())
		}

		r.Route("/api", func(r chi.Router) {
			r.Post("/gantt", s.gantt)
			r.Post("/export", s.export)

			r.Get("/runs", s.listRuns)
			r.Route("/runs/{id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/records", s.runRecords)
				r.Get("/records.msgpack", s.runRecordsMsgpack)
				r.Get("/records/{lineno}/bodies/{kind}", s.recordBody)
				r.Get("/groups", s.runGroups)
				r.Get("/gantt", s.runGantt)
			})
		})
	})

	s.router = r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
