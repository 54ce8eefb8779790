package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// JSONLConfig configures a newline-delimited JSON writer
type JSONLConfig struct {
	// Path is the destination file; "-" or empty writes to stdout
	Path string `yaml:"path"`

	// Short writes the compact form instead of full records
	Short bool `yaml:"short,omitempty"`

	// Append keeps existing file content instead of truncating
	Append bool `yaml:"append,omitempty"`

	// Compression wraps the file in a streaming compressor
	Compression CompressionType `yaml:"compression,omitempty"`
}

// JSONLOutput writes records as JSON lines to a file or stream
type JSONLOutput struct {
	name    string
	short   bool
	mu      sync.Mutex
	w       io.WriteCloser
	file    *os.File
	metrics counters
	closed  atomic.Bool
}

// NewJSONLOutput opens the configured destination
func NewJSONLOutput(name string, cfg JSONLConfig) (*JSONLOutput, error) {
	if cfg.Path == "" || cfg.Path == "-" {
		return NewJSONLWriter(name, os.Stdout, cfg.Short), nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cfg.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(cfg.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	w, err := NewWriter(cfg.Compression, file)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &JSONLOutput{name: name, short: cfg.Short, w: w, file: file}, nil
}

// NewJSONLWriter writes to an existing stream. Close does not close w.
func NewJSONLWriter(name string, w io.Writer, short bool) *JSONLOutput {
	return &JSONLOutput{name: name, short: short, w: nopCloser{w}}
}

// Write appends the batch
func (j *JSONLOutput) Write(ctx context.Context, records []types.Record) error {
	if j.closed.Load() {
		return fmt.Errorf("jsonl output is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	n, err := EncodeJSONL(j.w, records, j.short)
	if err != nil {
		j.metrics.failed(len(records), err)
		return fmt.Errorf("failed to write records: %w", err)
	}
	j.metrics.sent(len(records), n, time.Since(start))
	return nil
}

// Close flushes the compressor and closes the file
func (j *JSONLOutput) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.w.Close(); err != nil {
		return err
	}
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// Name returns the output name
func (j *JSONLOutput) Name() string {
	if j.name != "" {
		return j.name
	}
	return TypeJSONL
}

// Type returns TypeJSONL
func (j *JSONLOutput) Type() string { return TypeJSONL }

// Metrics returns the current metrics
func (j *JSONLOutput) Metrics() OutputMetrics {
	return j.metrics.snapshot()
}
