package parser

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// DefaultTimestampPattern matches ISO-8601-like timestamps embedded in text
const DefaultTimestampPattern = `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}(?::?\d{2})?)?`

// DefaultMaxLineBytes bounds a single input line
const DefaultMaxLineBytes = 4 * 1024 * 1024

// Config holds the tables that drive field extraction and classification
type Config struct {
	TimestampKeys    []string `yaml:"timestamp_keys,omitempty"`
	LevelKeys        []string `yaml:"level_keys,omitempty"`
	MessageKeys      []string `yaml:"message_keys,omitempty"`
	RequestIDKeys    []string `yaml:"request_id_keys,omitempty"`
	ResourceTypeKeys []string `yaml:"resource_type_keys,omitempty"`
	RequestBodyKeys  []string `yaml:"request_body_keys,omitempty"`
	ResponseBodyKeys []string `yaml:"response_body_keys,omitempty"`

	TimestampPattern string         `yaml:"timestamp_pattern,omitempty"`
	LevelKeywords    []LevelKeyword `yaml:"level_keywords,omitempty"` // Scanned in order
	DefaultLevel     string         `yaml:"default_level,omitempty"`  // Used when nothing matches
	Phases           PhaseConfig    `yaml:"phases"`
	MaxLineBytes     int            `yaml:"max_line_bytes,omitempty"`
}

// LevelKeyword maps a message keyword to a level
type LevelKeyword struct {
	Keyword string `yaml:"keyword"`
	Level   string `yaml:"level"`
}

// PhaseConfig holds the phrases recognized by the phase tracker.
// Matching is case-insensitive.
type PhaseConfig struct {
	CLIMarkers []string `yaml:"cli_markers,omitempty"`
	PlanStart  []string `yaml:"plan_start,omitempty"`
	PlanEnd    []string `yaml:"plan_end,omitempty"`
	ApplyStart []string `yaml:"apply_start,omitempty"`
	ApplyEnd   []string `yaml:"apply_end,omitempty"`
}

// DefaultConfig returns the tables for Terraform's JSON and text logs
func DefaultConfig() Config {
	return Config{
		TimestampKeys:    []string{"@timestamp", "timestamp", "time"},
		LevelKeys:        []string{"@level", "level", "log.level"},
		MessageKeys:      []string{"@message", "message"},
		RequestIDKeys:    []string{"tf_req_id", "tf_http_trans_id", "request_id"},
		ResourceTypeKeys: []string{"tf_resource_type", "resource_type"},
		RequestBodyKeys:  []string{"tf_http_req_body", "http_req_body"},
		ResponseBodyKeys: []string{"tf_http_res_body", "http_res_body"},
		TimestampPattern: DefaultTimestampPattern,
		LevelKeywords: []LevelKeyword{
			{Keyword: "fatal", Level: types.LevelFatal},
			{Keyword: "error", Level: types.LevelError},
			{Keyword: "err", Level: types.LevelError},
			{Keyword: "warn", Level: types.LevelWarning},
			{Keyword: "warning", Level: types.LevelWarning},
			{Keyword: "info", Level: types.LevelInfo},
			{Keyword: "debug", Level: types.LevelDebug},
			{Keyword: "trace", Level: types.LevelTrace},
		},
		DefaultLevel: types.LevelUnknown,
		Phases: PhaseConfig{
			CLIMarkers: []string{"cli args", "cli command args"},
			PlanStart:  []string{`"plan"`, "plan is starting", `"terraform plan"`, "starting plan operation"},
			PlanEnd:    []string{"plan is complete", "plan is not applyable", "operation completed"},
			ApplyStart: []string{`"apply"`, "apply is starting", "starting apply operation", `"terraform apply"`},
			ApplyEnd:   []string{"apply operation completed", "apply operation finished", "apply finished", "apply complete!"},
		},
		MaxLineBytes: DefaultMaxLineBytes,
	}
}

// ApplyDefaults fills empty tables from DefaultConfig
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&c.TimestampKeys, d.TimestampKeys)
	fill(&c.LevelKeys, d.LevelKeys)
	fill(&c.MessageKeys, d.MessageKeys)
	fill(&c.RequestIDKeys, d.RequestIDKeys)
	fill(&c.ResourceTypeKeys, d.ResourceTypeKeys)
	fill(&c.RequestBodyKeys, d.RequestBodyKeys)
	fill(&c.ResponseBodyKeys, d.ResponseBodyKeys)
	fill(&c.Phases.CLIMarkers, d.Phases.CLIMarkers)
	fill(&c.Phases.PlanStart, d.Phases.PlanStart)
	fill(&c.Phases.PlanEnd, d.Phases.PlanEnd)
	fill(&c.Phases.ApplyStart, d.Phases.ApplyStart)
	fill(&c.Phases.ApplyEnd, d.Phases.ApplyEnd)
	if c.TimestampPattern == "" {
		c.TimestampPattern = d.TimestampPattern
	}
	if len(c.LevelKeywords) == 0 {
		c.LevelKeywords = d.LevelKeywords
	}
	if c.DefaultLevel == "" {
		c.DefaultLevel = d.DefaultLevel
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error
	if _, err := regexp.Compile(c.TimestampPattern); err != nil {
		errs = append(errs, fmt.Errorf("timestamp_pattern: %w", err))
	}
	if !IsLevel(c.DefaultLevel) {
		errs = append(errs, fmt.Errorf("default_level %q is not a known level", c.DefaultLevel))
	}
	for i, kw := range c.LevelKeywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("level_keywords[%d]: keyword is required", i))
		}
		if !IsLevel(kw.Level) {
			errs = append(errs, fmt.Errorf("level_keywords[%d]: unknown level %q", i, kw.Level))
		}
	}
	if c.MaxLineBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_line_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// ParseTimestamp attempts to parse a timestamp from a string using multiple formats
func ParseTimestamp(ts string, formats ...string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultTimeFormats()
	}
	// Terraform writes a comma before fractional seconds in some builds
	ts = strings.Replace(ts, ",", ".", 1)

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp: %s", ts)
}

// DefaultTimeFormats returns the layouts accepted for timestamp instants
func DefaultTimeFormats() []string {
	return []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02T15:04:05.999999999Z07",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}
}

// NormalizeLogLevel maps a level string onto the canonical level set
func NormalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return types.LevelTrace
	case "debug":
		return types.LevelDebug
	case "info", "information", "notice":
		return types.LevelInfo
	case "warn", "warning":
		return types.LevelWarning
	case "error", "err":
		return types.LevelError
	case "fatal", "critical", "crit", "panic":
		return types.LevelFatal
	default:
		return types.LevelUnknown
	}
}

// IsLevel reports whether level is one of the canonical levels
func IsLevel(level string) bool {
	return slices.Contains(types.Levels, level)
}
