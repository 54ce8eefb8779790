package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/tflog/internal/dlq"
	"github.com/therealutkarshpriyadarshi/tflog/internal/output"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
)

// Config represents the main configuration
type Config struct {
	Logging    LoggingConfig       `yaml:"logging"`
	Engine     parser.Config       `yaml:"engine"`
	Plugin     plugin.Config       `yaml:"plugin"`
	Server     ServerConfig        `yaml:"server"`
	Store      StoreConfig         `yaml:"store"`
	Outputs    []output.Config     `yaml:"outputs,omitempty"`
	Router     output.RouterConfig `yaml:"router"`
	DeadLetter dlq.Config          `yaml:"dead_letter"`
	WorkerPool WorkerPoolConfig    `yaml:"worker_pool"`
	Watch      WatchConfig         `yaml:"watch"`
	Metrics    MetricsConfig       `yaml:"metrics"`
	Health     HealthConfig        `yaml:"health"`
	Tracing    tracing.Config      `yaml:"tracing"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`           // json or console
	Output string `yaml:"output,omitempty"` // stdout, stderr or a file path
}

// ServerConfig defines the HTTP API
type ServerConfig struct {
	Address           string        `yaml:"address"`
	APIKeys           []string      `yaml:"api_keys,omitempty"` // Plain values or env:/file: references
	RateLimit         float64       `yaml:"rate_limit,omitempty"` // Requests per second per client, 0 disables
	RateBurst         int           `yaml:"rate_burst,omitempty"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes,omitempty"`
	AllowedExtensions []string      `yaml:"allowed_extensions,omitempty"`
	EnrichUploads     *bool         `yaml:"enrich_uploads,omitempty"` // Default for the upload plugin flag
	ReadTimeout       time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout      time.Duration `yaml:"write_timeout,omitempty"`
	IdleTimeout       time.Duration `yaml:"idle_timeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`
	Profiling         bool          `yaml:"profiling,omitempty"` // Mount /debug endpoints behind auth

	TLS security.TLSConfig `yaml:"tls,omitempty"`
}

// Enrich reports whether uploads go through the plugin unless the request says otherwise
func (s ServerConfig) Enrich() bool {
	return s.EnrichUploads == nil || *s.EnrichUploads
}

// StoreConfig locates the run database
type StoreConfig struct {
	Path string `yaml:"path"` // sqlite file, ":memory:" for a private in-memory database
}

// WorkerPoolConfig holds worker pool configuration
type WorkerPoolConfig struct {
	NumWorkers int           `yaml:"num_workers"`
	QueueSize  int           `yaml:"queue_size,omitempty"`
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`
}

// WatchConfig tunes follow mode
type WatchConfig struct {
	FromStart     bool          `yaml:"from_start"`
	BatchSize     int           `yaml:"batch_size,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
	PollInterval  time.Duration `yaml:"poll_interval,omitempty"`
	CheckpointDir string        `yaml:"checkpoint_dir,omitempty"` // empty disables resume
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default values
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultServerAddress   = ":8080"
	DefaultMaxUploadBytes  = 50 << 20
	DefaultStorePath       = "tflog.db"
	DefaultDeadLetterDir   = "dlq"
	DefaultMetricsPath     = "/metrics"
	DefaultHealthTimeout   = 5 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// DefaultAllowedExtensions lists upload file extensions accepted by the API
var DefaultAllowedExtensions = []string{".json", ".jsonl", ".log", ".txt"}

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	cfg := Config{Router: output.DefaultRouterConfig()}
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from path, or returns the default
// configuration when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// resolveSecrets replaces env: and file: references with their values
func (c *Config) resolveSecrets() error {
	for i, key := range c.Server.APIKeys {
		v, err := security.ResolveSecret(key)
		if err != nil {
			return fmt.Errorf("server: api_keys[%d]: %w", i, err)
		}
		c.Server.APIKeys[i] = v
	}
	for i := range c.Outputs {
		k := c.Outputs[i].Kafka
		if k == nil || k.SASLPassword == "" {
			continue
		}
		v, err := security.ResolveSecret(k.SASLPassword)
		if err != nil {
			return fmt.Errorf("outputs[%d]: sasl password: %w", i, err)
		}
		k.SASLPassword = v
	}
	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Engine: parser.DefaultConfig(),
		Router: output.DefaultRouterConfig(),
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}

	c.Engine.ApplyDefaults()

	if c.Plugin.Timeout <= 0 {
		c.Plugin.Timeout = plugin.DefaultTimeout
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(c.Server.AllowedExtensions) == 0 {
		c.Server.AllowedExtensions = DefaultAllowedExtensions
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = max(1, int(2*c.Server.RateLimit))
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}

	if c.Router.FailureStrategy == "" {
		c.Router.FailureStrategy = output.FailureContinue
	}
	if c.DeadLetter.Dir == "" {
		c.DeadLetter.Dir = DefaultDeadLetterDir
	}

	if c.WorkerPool.NumWorkers <= 0 {
		c.WorkerPool.NumWorkers = runtime.NumCPU()
	}
	if c.WorkerPool.QueueSize <= 0 {
		c.WorkerPool.QueueSize = c.WorkerPool.NumWorkers * 4
	}

	if c.Watch.BatchSize <= 0 {
		c.Watch.BatchSize = 100
	}
	if c.Watch.FlushInterval <= 0 {
		c.Watch.FlushInterval = time.Second
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = 250 * time.Millisecond
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}
	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s", c.Logging.Format))
	}

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}

	if c.Plugin.Enabled && c.Plugin.Address == "" {
		errs = append(errs, fmt.Errorf("plugin: address is required when enabled"))
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server: rate_limit must not be negative"))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: tls: %w", err))
	}
	if c.Server.TLS.Enabled && c.Server.TLS.CertFile == "" {
		errs = append(errs, fmt.Errorf("server: tls: cert_file is required"))
	}
	if err := c.Plugin.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plugin: tls: %w", err))
	}

	names := make(map[string]bool, len(c.Outputs))
	for i, o := range c.Outputs {
		if err := o.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("outputs[%d]: %w", i, err))
			continue
		}
		if names[o.Name] {
			errs = append(errs, fmt.Errorf("outputs[%d]: duplicate name %q", i, o.Name))
		}
		names[o.Name] = true
	}

	switch c.Router.FailureStrategy {
	case output.FailureContinue, output.FailureStop:
	default:
		errs = append(errs, fmt.Errorf("router: invalid failure_strategy %q", c.Router.FailureStrategy))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing: sample_rate must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
