package output

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// KafkaConfig contains Kafka-specific configuration
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses
	Brokers []string `yaml:"brokers"`

	// Topic receives one message per record
	Topic string `yaml:"topic"`

	// PartitionStrategy defines how to partition messages (hash, random, round-robin).
	// With hash, records sharing a request id land on the same partition.
	PartitionStrategy string `yaml:"partition_strategy,omitempty"`

	// RequiredAcks specifies the number of acknowledgments required (0, 1, -1)
	RequiredAcks int16 `yaml:"required_acks,omitempty"`

	// CompressionCodec specifies the compression codec (none, gzip, snappy, lz4, zstd)
	CompressionCodec string `yaml:"compression_codec,omitempty"`

	// MaxMessageBytes is the maximum size of a single message
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty"`

	// Short sends the compact form instead of full records
	Short bool `yaml:"short,omitempty"`

	// TLS secures broker connections
	TLS security.TLSConfig `yaml:"tls,omitempty"`

	// SASL configuration
	SASLEnabled   bool   `yaml:"sasl_enabled,omitempty"`
	SASLMechanism string `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `yaml:"sasl_username,omitempty"`
	SASLPassword  string `yaml:"sasl_password,omitempty"` // Plain value or env:/file: reference

	// ClientID is the client identifier
	ClientID string `yaml:"client_id,omitempty"`

	// Version is the Kafka protocol version
	Version string `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns default Kafka configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:           []string{"localhost:9092"},
		Topic:             "terraform-logs",
		PartitionStrategy: "hash",
		RequiredAcks:      1,
		CompressionCodec:  "snappy",
		MaxMessageBytes:   1000000,
		ClientID:          "tflog",
		Version:           "3.0.0",
	}
}

// SaramaConfig translates the configuration for the producer
func (c KafkaConfig) SaramaConfig() (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	if c.ClientID != "" {
		saramaConfig.ClientID = c.ClientID
	}

	switch c.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	switch c.PartitionStrategy {
	case "random":
		saramaConfig.Producer.Partitioner = sarama.NewRandomPartitioner
	case "round-robin":
		saramaConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	default:
		saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	}

	if c.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = c.MaxMessageBytes
	}

	if c.Version != "" {
		version, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	if c.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = c.SASLUsername
		saramaConfig.Net.SASL.Password = c.SASLPassword

		switch c.SASLMechanism {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	tlsConfig, err := security.LoadTLSConfig(c.TLS)
	if err != nil {
		return nil, fmt.Errorf("kafka tls: %w", err)
	}
	if tlsConfig != nil {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = tlsConfig
	}

	return saramaConfig, nil
}

// KafkaOutput publishes one message per record
type KafkaOutput struct {
	name     string
	config   KafkaConfig
	producer sarama.SyncProducer
	metrics  counters
	closed   atomic.Bool
}

// NewKafkaOutput connects a synchronous producer to the brokers
func NewKafkaOutput(name string, config KafkaConfig) (*KafkaOutput, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}

	saramaConfig, err := config.SaramaConfig()
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewKafkaOutputWithProducer(name, config, producer), nil
}

// NewKafkaOutputWithProducer uses an existing producer
func NewKafkaOutputWithProducer(name string, config KafkaConfig, producer sarama.SyncProducer) *KafkaOutput {
	return &KafkaOutput{name: name, config: config, producer: producer}
}

// Write publishes the batch in one SendMessages call
func (k *KafkaOutput) Write(ctx context.Context, records []types.Record) error {
	if k.closed.Load() {
		return fmt.Errorf("kafka output is closed")
	}
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := make([]*sarama.ProducerMessage, len(records))
	var totalBytes int64
	for i, r := range records {
		msg, err := k.buildMessage(r)
		if err != nil {
			k.metrics.failed(len(records), err)
			return err
		}
		messages[i] = msg
		totalBytes += int64(msg.Value.Length())
	}

	start := time.Now()
	if err := k.producer.SendMessages(messages); err != nil {
		var perrs sarama.ProducerErrors
		failed := len(records)
		if errors.As(err, &perrs) {
			failed = len(perrs)
		}
		k.metrics.failed(failed, err)
		return fmt.Errorf("failed to send %d of %d messages to Kafka: %w", failed, len(records), err)
	}

	k.metrics.sent(len(records), totalBytes, time.Since(start))
	return nil
}

// buildMessage keys the message by request id so a request's records stay ordered
func (k *KafkaOutput) buildMessage(r types.Record) (*sarama.ProducerMessage, error) {
	value, err := EncodeRecord(r, k.config.Short)
	if err != nil {
		return nil, err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.config.Topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("level"), Value: []byte(r.Level)},
			{Key: []byte("section"), Value: []byte(r.Phase)},
			{Key: []byte("lineno"), Value: []byte(strconv.Itoa(r.LineNumber))},
		},
	}
	if r.RequestID != "" {
		msg.Key = sarama.StringEncoder(r.RequestID)
	}
	return msg, nil
}

// Close closes the producer
func (k *KafkaOutput) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// Name returns the output name
func (k *KafkaOutput) Name() string {
	if k.name != "" {
		return k.name
	}
	return TypeKafka
}

// Type returns TypeKafka
func (k *KafkaOutput) Type() string { return TypeKafka }

// Metrics returns the current metrics
func (k *KafkaOutput) Metrics() OutputMetrics {
	return k.metrics.snapshot()
}
