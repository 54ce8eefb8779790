// Package output delivers normalized records to external sinks.
package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Output is a destination for batches of records
type Output interface {
	// Write delivers a batch. A batch is delivered whole or reported as failed.
	Write(ctx context.Context, records []types.Record) error

	// Close flushes and releases resources
	Close() error

	// Name returns the configured name of the output
	Name() string

	// Type returns the output kind (jsonl, kafka, elasticsearch, s3)
	Type() string

	// Metrics returns a snapshot of delivery counters
	Metrics() OutputMetrics
}

// Output kinds
const (
	TypeJSONL         = "jsonl"
	TypeKafka         = "kafka"
	TypeElasticsearch = "elasticsearch"
	TypeS3            = "s3"
)

// OutputMetrics tracks delivery counters for an output
type OutputMetrics struct {
	RecordsSent   int64         `json:"records_sent"`
	RecordsFailed int64         `json:"records_failed"`
	BytesSent     int64         `json:"bytes_sent"`
	BatchesSent   int64         `json:"batches_sent"`
	LastSendTime  time.Time     `json:"last_send_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time,omitempty"`
	AvgBatchSize  float64       `json:"avg_batch_size"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// counters is the mutex-guarded OutputMetrics shared by the outputs
type counters struct {
	mu sync.Mutex
	m  OutputMetrics
}

func (c *counters) sent(records int, bytes int64, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m.RecordsSent += int64(records)
	c.m.BytesSent += bytes
	c.m.BatchesSent++
	c.m.LastSendTime = time.Now()
	c.m.AvgBatchSize = float64(c.m.RecordsSent) / float64(c.m.BatchesSent)
	if c.m.AvgLatency == 0 {
		c.m.AvgLatency = latency
	} else {
		c.m.AvgLatency = (c.m.AvgLatency + latency) / 2
	}
}

func (c *counters) failed(records int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m.RecordsFailed += int64(records)
	c.m.LastError = err.Error()
	c.m.LastErrorTime = time.Now()
}

func (c *counters) snapshot() OutputMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

// Config describes one configured output. Exactly the sub-config matching
// Type is used.
type Config struct {
	Name          string               `yaml:"name"`
	Type          string               `yaml:"type"`
	JSONL         *JSONLConfig         `yaml:"jsonl,omitempty"`
	Kafka         *KafkaConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchConfig `yaml:"elasticsearch,omitempty"`
	S3            *S3Config            `yaml:"s3,omitempty"`
}

// Validate checks that the sub-config for Type is present
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("output name is required")
	}
	missing := func() error {
		return fmt.Errorf("output %s: %s section is required", c.Name, c.Type)
	}
	switch c.Type {
	case TypeJSONL:
		if c.JSONL == nil {
			return missing()
		}
		return c.JSONL.Compression.Validate()
	case TypeKafka:
		if c.Kafka == nil {
			return missing()
		}
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("output %s: brokers and topic are required", c.Name)
		}
		if err := c.Kafka.TLS.Validate(); err != nil {
			return fmt.Errorf("output %s: tls: %w", c.Name, err)
		}
	case TypeElasticsearch:
		if c.Elasticsearch == nil {
			return missing()
		}
		if len(c.Elasticsearch.Addresses) == 0 && c.Elasticsearch.CloudID == "" {
			return fmt.Errorf("output %s: addresses or cloud_id is required", c.Name)
		}
	case TypeS3:
		if c.S3 == nil {
			return missing()
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("output %s: bucket is required", c.Name)
		}
		return c.S3.Compression.Validate()
	default:
		return fmt.Errorf("output %s: unsupported type %q", c.Name, c.Type)
	}
	return nil
}

// New builds the output described by cfg
func New(ctx context.Context, cfg Config) (Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeJSONL:
		return NewJSONLOutput(cfg.Name, *cfg.JSONL)
	case TypeKafka:
		return NewKafkaOutput(cfg.Name, *cfg.Kafka)
	case TypeElasticsearch:
		return NewElasticsearchOutput(cfg.Name, *cfg.Elasticsearch)
	default:
		return NewS3Output(ctx, cfg.Name, *cfg.S3)
	}
}
