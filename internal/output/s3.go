package output

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// S3Config contains S3-specific configuration
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `yaml:"bucket"`

	// Region is the AWS region
	Region string `yaml:"region"`

	// Prefix is the key prefix for objects
	Prefix string `yaml:"prefix,omitempty"`

	// KeyTemplate is the template for object keys (supports time patterns)
	KeyTemplate string `yaml:"key_template,omitempty"`

	// StorageClass is the S3 storage class (STANDARD, GLACIER, etc.)
	StorageClass string `yaml:"storage_class,omitempty"`

	// ServerSideEncryption specifies encryption (AES256, aws:kms)
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`

	// Compression is applied to the whole object
	Compression CompressionType `yaml:"compression,omitempty"`

	// Short writes the compact form instead of full records
	Short bool `yaml:"short,omitempty"`

	// Endpoint for S3-compatible services (e.g., MinIO)
	Endpoint string `yaml:"endpoint,omitempty"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `yaml:"use_path_style,omitempty"`
}

// DefaultS3Config returns default S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		Prefix:       "terraform-logs/",
		KeyTemplate:  "{{.Year}}/{{.Month}}/{{.Day}}/{{.Hour}}/{{.UnixNano}}.jsonl",
		StorageClass: "STANDARD",
		Compression:  CompressionGzip,
	}
}

// PutObjectAPI is the subset of the S3 client used by S3Output
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Output writes each batch as one JSON-lines object
type S3Output struct {
	name       string
	config     S3Config
	client     PutObjectAPI
	compressor Compressor
	metrics    counters
	closed     atomic.Bool
	now        func() time.Time
}

// NewS3Output loads AWS credentials from the default chain and creates the client
func NewS3Output(ctx context.Context, name string, s3Config S3Config) (*S3Output, error) {
	if s3Config.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}
	if s3Config.Region == "" {
		s3Config.Region = DefaultS3Config().Region
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s3Config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if s3Config.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = s3Config.UsePathStyle
		})
	}

	return NewS3OutputWithClient(name, s3Config, s3.NewFromConfig(cfg, opts...))
}

// NewS3OutputWithClient uses an existing client
func NewS3OutputWithClient(name string, s3Config S3Config, client PutObjectAPI) (*S3Output, error) {
	compressor, err := GetCompressor(s3Config.Compression)
	if err != nil {
		return nil, err
	}
	return &S3Output{
		name:       name,
		config:     s3Config,
		client:     client,
		compressor: compressor,
		now:        time.Now,
	}, nil
}

// Write uploads the batch as a single object
func (s *S3Output) Write(ctx context.Context, records []types.Record) error {
	if s.closed.Load() {
		return fmt.Errorf("s3 output is closed")
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if _, err := EncodeJSONL(&buf, records, s.config.Short); err != nil {
		s.metrics.failed(len(records), err)
		return err
	}

	data, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		s.metrics.failed(len(records), err)
		return fmt.Errorf("failed to compress data: %w", err)
	}

	start := time.Now()
	key := s.generateKey(s.batchTime(records))
	if err := s.uploadObject(ctx, key, data); err != nil {
		s.metrics.failed(len(records), err)
		return err
	}

	s.metrics.sent(len(records), int64(len(data)), time.Since(start))
	return nil
}

// batchTime is the first parseable record timestamp, else the current time
func (s *S3Output) batchTime(records []types.Record) time.Time {
	for _, r := range records {
		if !r.HasTimestamp() {
			continue
		}
		if ts, err := parser.ParseTimestamp(r.Timestamp); err == nil {
			return ts.UTC()
		}
	}
	return s.now().UTC()
}

func (s *S3Output) uploadObject(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	}
	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}
	if s.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.config.ServerSideEncryption)
	}
	if s.config.Compression != "" && s.config.Compression != CompressionNone {
		input.ContentEncoding = aws.String(string(s.config.Compression))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// generateKey expands the key template for timestamp
func (s *S3Output) generateKey(timestamp time.Time) string {
	key := s.config.KeyTemplate
	if key == "" {
		key = "{{.UnixNano}}.jsonl"
	}

	replacements := []string{
		"{{.Year}}", fmt.Sprintf("%04d", timestamp.Year()),
		"{{.Month}}", fmt.Sprintf("%02d", timestamp.Month()),
		"{{.Day}}", fmt.Sprintf("%02d", timestamp.Day()),
		"{{.Hour}}", fmt.Sprintf("%02d", timestamp.Hour()),
		"{{.Minute}}", fmt.Sprintf("%02d", timestamp.Minute()),
		"{{.Second}}", fmt.Sprintf("%02d", timestamp.Second()),
		"{{.Timestamp}}", fmt.Sprintf("%d", timestamp.Unix()),
		"{{.UnixNano}}", fmt.Sprintf("%d", timestamp.UnixNano()),
	}
	key = strings.NewReplacer(replacements...).Replace(key)

	return s.config.Prefix + key + s.config.Compression.Extension()
}

// Close marks the output closed
func (s *S3Output) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the output name
func (s *S3Output) Name() string {
	if s.name != "" {
		return s.name
	}
	return TypeS3
}

// Type returns TypeS3
func (s *S3Output) Type() string { return TypeS3 }

// Metrics returns the current metrics
func (s *S3Output) Metrics() OutputMetrics {
	return s.metrics.snapshot()
}
