// Package dlq keeps record batches that an output failed to deliver so they
// can be inspected or replayed later.
package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

var (
	ErrDLQClosed = errors.New("DLQ is closed")
	ErrDLQFull   = errors.New("DLQ is full")
)

const fileName = "dlq.jsonl"

// Config holds configuration for the dead letter queue
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	MaxSize       int64         `yaml:"max_size,omitempty"` // Maximum number of batches
	MaxAge        time.Duration `yaml:"max_age,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// Entry is one undelivered batch
type Entry struct {
	Output    string         `json:"output"`
	Records   []types.Record `json:"records"`
	Error     string         `json:"error"`
	Timestamp time.Time      `json:"timestamp"`
	Retries   int            `json:"retries"`
}

// DeadLetterQueue stores failed batches in memory and persists them as JSON
// lines under Dir.
type DeadLetterQueue struct {
	config Config

	mu      sync.RWMutex
	entries []*Entry
	closed  bool
	closeCh chan struct{}
	now     func() time.Time

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64
}

// NewDeadLetterQueue opens the queue, loading any batches persisted by a
// previous process.
func NewDeadLetterQueue(config Config) (*DeadLetterQueue, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("DLQ directory is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10000
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
	}

	dlq := &DeadLetterQueue{
		config:  config,
		closeCh: make(chan struct{}),
		now:     time.Now,
	}

	if err := dlq.load(); err != nil {
		return nil, fmt.Errorf("failed to load DLQ: %w", err)
	}

	go dlq.flushLoop()
	go dlq.cleanupLoop()

	return dlq, nil
}

// Enqueue records a batch that output could not deliver
func (dlq *DeadLetterQueue) Enqueue(output string, records []types.Record, cause error) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}
	if int64(len(dlq.entries)) >= dlq.config.MaxSize {
		dlq.dropped.Add(1)
		return ErrDLQFull
	}

	entry := &Entry{
		Output:    output,
		Records:   records,
		Timestamp: dlq.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	dlq.entries = append(dlq.entries, entry)
	dlq.enqueued.Add(1)
	return nil
}

// Dequeue removes and returns the oldest entry, or nil when empty
func (dlq *DeadLetterQueue) Dequeue() (*Entry, error) {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return nil, ErrDLQClosed
	}
	if len(dlq.entries) == 0 {
		return nil, nil
	}

	entry := dlq.entries[0]
	dlq.entries = dlq.entries[1:]
	dlq.dequeued.Add(1)
	return entry, nil
}

// Peek returns the oldest entry without removing it
func (dlq *DeadLetterQueue) Peek() (*Entry, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	if dlq.closed {
		return nil, ErrDLQClosed
	}
	if len(dlq.entries) == 0 {
		return nil, nil
	}
	return dlq.entries[0], nil
}

// GetAll returns a snapshot of all entries
func (dlq *DeadLetterQueue) GetAll() ([]*Entry, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	if dlq.closed {
		return nil, ErrDLQClosed
	}

	entries := make([]*Entry, len(dlq.entries))
	copy(entries, dlq.entries)
	return entries, nil
}

// Size returns the number of queued batches
func (dlq *DeadLetterQueue) Size() int {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()
	return len(dlq.entries)
}

// RecordCount returns the number of records across all queued batches
func (dlq *DeadLetterQueue) RecordCount() int {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	n := 0
	for _, e := range dlq.entries {
		n += len(e.Records)
	}
	return n
}

// Retry puts an entry back at the tail with its retry count incremented
func (dlq *DeadLetterQueue) Retry(entry *Entry) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	entry.Retries++
	entry.Timestamp = dlq.now()
	dlq.entries = append(dlq.entries, entry)
	return nil
}

// Clear removes all entries
func (dlq *DeadLetterQueue) Clear() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	dlq.entries = nil
	return dlq.flush()
}

// Flush persists all entries to disk
func (dlq *DeadLetterQueue) Flush() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	return dlq.flush()
}

// Close flushes remaining entries and stops background work
func (dlq *DeadLetterQueue) Close() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	dlq.closed = true
	close(dlq.closeCh)
	return dlq.flush()
}

// Metrics returns queue statistics
func (dlq *DeadLetterQueue) Metrics() DLQMetrics {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	return DLQMetrics{
		Enqueued:    dlq.enqueued.Load(),
		Dequeued:    dlq.dequeued.Load(),
		Dropped:     dlq.dropped.Load(),
		CurrentSize: len(dlq.entries),
		MaxSize:     dlq.config.MaxSize,
	}
}

// flush writes entries to a temp file and renames it into place. Caller holds the lock.
func (dlq *DeadLetterQueue) flush() error {
	filename := filepath.Join(dlq.config.Dir, fileName)
	tempFile := filename + ".tmp"

	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(file)
	for _, entry := range dlq.entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (dlq *DeadLetterQueue) load() error {
	file, err := os.Open(filepath.Join(dlq.config.Dir, fileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		dlq.entries = append(dlq.entries, &entry)
	}
	return nil
}

func (dlq *DeadLetterQueue) flushLoop() {
	ticker := time.NewTicker(dlq.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dlq.mu.Lock()
			if !dlq.closed {
				_ = dlq.flush()
			}
			dlq.mu.Unlock()
		case <-dlq.closeCh:
			return
		}
	}
}

func (dlq *DeadLetterQueue) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dlq.cleanup()
		case <-dlq.closeCh:
			return
		}
	}
}

// cleanup drops entries older than MaxAge
func (dlq *DeadLetterQueue) cleanup() {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return
	}

	cutoff := dlq.now().Add(-dlq.config.MaxAge)
	remaining := dlq.entries[:0]
	for _, entry := range dlq.entries {
		if entry.Timestamp.After(cutoff) {
			remaining = append(remaining, entry)
		}
	}
	dlq.entries = remaining
}

// DLQMetrics holds queue statistics
type DLQMetrics struct {
	Enqueued    uint64
	Dequeued    uint64
	Dropped     uint64
	CurrentSize int
	MaxSize     int64
}

// Utilization returns the fill percentage (0-100)
func (m DLQMetrics) Utilization() float64 {
	if m.MaxSize == 0 {
		return 0
	}
	return (float64(m.CurrentSize) / float64(m.MaxSize)) * 100.0
}
