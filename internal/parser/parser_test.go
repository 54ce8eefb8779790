package parser

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "bad timestamp pattern",
			mutate:  func(c *Config) { c.TimestampPattern = "(" },
			wantErr: true,
		},
		{
			name:    "unknown default level",
			mutate:  func(c *Config) { c.DefaultLevel = "loud" },
			wantErr: true,
		},
		{
			name: "keyword without text",
			mutate: func(c *Config) {
				c.LevelKeywords = []LevelKeyword{{Keyword: "", Level: "error"}}
			},
			wantErr: true,
		},
		{
			name: "keyword with unknown level",
			mutate: func(c *Config) {
				c.LevelKeywords = []LevelKeyword{{Keyword: "oops", Level: "bad"}}
			},
			wantErr: true,
		},
		{
			name:    "non-positive line limit",
			mutate:  func(c *Config) { c.MaxLineBytes = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{DefaultLevel: "info", RequestIDKeys: []string{"req"}}
	cfg.ApplyDefaults()

	if cfg.DefaultLevel != "info" {
		t.Errorf("DefaultLevel = %s, want info", cfg.DefaultLevel)
	}
	if len(cfg.RequestIDKeys) != 1 || cfg.RequestIDKeys[0] != "req" {
		t.Errorf("RequestIDKeys overwritten: %v", cfg.RequestIDKeys)
	}
	if len(cfg.TimestampKeys) == 0 || len(cfg.Phases.PlanStart) == 0 {
		t.Error("empty tables should be filled from defaults")
	}
	if cfg.MaxLineBytes != DefaultMaxLineBytes {
		t.Errorf("MaxLineBytes = %d, want %d", cfg.MaxLineBytes, DefaultMaxLineBytes)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "RFC3339",
			input: "2024-01-15T10:30:00Z",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "fractional seconds with offset",
			input: "2024-01-15T10:30:00.250+00:00",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 250_000_000, time.UTC),
		},
		{
			name:  "compact offset",
			input: "2024-01-15T12:30:00.000+0200",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "comma fraction",
			input: "2024-01-15T10:30:00,5Z",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 500_000_000, time.UTC),
		},
		{
			name:  "no zone",
			input: "2024-01-15T10:30:00",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:    "invalid timestamp",
			input:   "yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"TRACE", "trace"},
		{"debug", "debug"},
		{"INFO", "info"},
		{"information", "info"},
		{"WARN", "warning"},
		{"warning", "warning"},
		{"ERR", "error"},
		{"error", "error"},
		{"FATAL", "fatal"},
		{"critical", "fatal"},
		{"panic", "fatal"},
		{" Info ", "info"},
		{"verbose", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeLogLevel(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"object", `{"@message":"hi"}`, true},
		{"empty object", `{}`, true},
		{"array", `[1,2]`, false},
		{"string", `"text"`, false},
		{"null", `null`, false},
		{"trailing data", `{"a":1} tail`, false},
		{"two objects", `{"a":1}{"b":2}`, false},
		{"free text", `Terraform has been successfully initialized!`, false},
		{"truncated", `{"@message":"cut`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := Extract(tt.line)
			if ok != tt.want {
				t.Fatalf("Extract(%q) ok = %v, want %v", tt.line, ok, tt.want)
			}
			if !ok {
				if !entry.ParseError() {
					t.Error("malformed entry should carry the parse error marker")
				}
				if entry["message"] != tt.line {
					t.Errorf("malformed entry message = %v, want the raw line", entry["message"])
				}
			}
		})
	}
}

func TestEntryString(t *testing.T) {
	entry, ok := Extract(`{"a":"","b":42,"c":"x","d":{"k":1},"e":true}`)
	if !ok {
		t.Fatal("expected well-formed entry")
	}

	tests := []struct {
		name   string
		keys   []string
		want   string
		wantOK bool
	}{
		{"skips empty string", []string{"a", "c"}, "x", true},
		{"number", []string{"b"}, "42", true},
		{"bool", []string{"e"}, "true", true},
		{"object is not a scalar", []string{"d"}, "", false},
		{"missing", []string{"zzz"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entry.String(tt.keys...)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("String(%v) = %q, %v; want %q, %v", tt.keys, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
