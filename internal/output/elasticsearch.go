package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/pool"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// ElasticsearchConfig contains Elasticsearch-specific configuration
type ElasticsearchConfig struct {
	// Addresses is the list of Elasticsearch node URLs
	Addresses []string `yaml:"addresses"`

	// Index is the index name or pattern (supports %{+YYYY.MM.dd} style patterns)
	Index string `yaml:"index"`

	// IndexRotation appends a date suffix taken from each record's timestamp
	// (daily, weekly, monthly, none)
	IndexRotation string `yaml:"index_rotation,omitempty"`

	// Pipeline is the ingest pipeline to use
	Pipeline string `yaml:"pipeline,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	CloudID  string `yaml:"cloud_id,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`

	// MaxRetries for failed requests inside the client
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Transport overrides the HTTP transport
	Transport http.RoundTripper `yaml:"-"`
}

// DefaultElasticsearchConfig returns default Elasticsearch configuration
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		Addresses:     []string{"http://localhost:9200"},
		Index:         "terraform-logs",
		IndexRotation: "daily",
		MaxRetries:    3,
	}
}

// ElasticsearchOutput indexes records with the Bulk API
type ElasticsearchOutput struct {
	name    string
	config  ElasticsearchConfig
	client  *elasticsearch.Client
	metrics counters
	closed  atomic.Bool
	now     func() time.Time
}

// NewElasticsearchOutput creates the client. No request is made until the
// first Write or Ping.
func NewElasticsearchOutput(name string, config ElasticsearchConfig) (*ElasticsearchOutput, error) {
	if len(config.Addresses) == 0 && config.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}
	if config.Index == "" {
		config.Index = DefaultElasticsearchConfig().Index
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  config.Addresses,
		CloudID:    config.CloudID,
		Username:   config.Username,
		Password:   config.Password,
		APIKey:     config.APIKey,
		MaxRetries: config.MaxRetries,
		Transport:  config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &ElasticsearchOutput{
		name:   name,
		config: config,
		client: client,
		now:    time.Now,
	}, nil
}

// Ping checks that the cluster answers
func (e *ElasticsearchOutput) Ping(ctx context.Context) error {
	res, err := e.client.Info(e.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// Write sends the batch as one bulk request
func (e *ElasticsearchOutput) Write(ctx context.Context, records []types.Record) error {
	if e.closed.Load() {
		return fmt.Errorf("elasticsearch output is closed")
	}
	if len(records) == 0 {
		return nil
	}

	body := pool.GetBuffer()
	defer pool.PutBuffer(body)
	if err := e.bulkBody(body, records); err != nil {
		e.metrics.failed(len(records), err)
		return err
	}
	size := int64(body.Len())

	start := time.Now()
	res, err := e.client.Bulk(bytes.NewReader(body.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		e.metrics.failed(len(records), err)
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("bulk request returned error: %s", res.Status())
		e.metrics.failed(len(records), err)
		return err
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		e.metrics.failed(len(records), err)
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}

	if bulkResp.Errors {
		failed := 0
		var first string
		for _, item := range bulkResp.Items {
			for _, doc := range item {
				if doc.Status >= 400 {
					failed++
					if first == "" {
						first = string(doc.Error)
					}
				}
			}
		}
		if failed > 0 {
			err := fmt.Errorf("%d out of %d records failed to index: %s", failed, len(records), first)
			e.metrics.failed(failed, err)
			return err
		}
	}

	e.metrics.sent(len(records), size, time.Since(start))
	return nil
}

func (e *ElasticsearchOutput) bulkBody(buf *bytes.Buffer, records []types.Record) error {
	for _, r := range records {
		action := map[string]any{"_index": e.indexName(r)}
		if e.config.Pipeline != "" {
			action["pipeline"] = e.config.Pipeline
		}
		meta, err := json.Marshal(map[string]any{"index": action})
		if err != nil {
			return err
		}
		doc, err := EncodeRecord(r, false)
		if err != nil {
			return err
		}

		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return nil
}

// indexName resolves the index for a record. Records without a parseable
// timestamp use the current time.
func (e *ElasticsearchOutput) indexName(r types.Record) string {
	index := e.config.Index
	if e.config.IndexRotation == "" || e.config.IndexRotation == "none" {
		if !strings.Contains(index, "%{") {
			return index
		}
	}

	ts := e.now().UTC()
	if r.HasTimestamp() {
		if parsed, err := parser.ParseTimestamp(r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	if strings.Contains(index, "%{") {
		index = strings.ReplaceAll(index, "%{+YYYY.MM.dd}", ts.Format("2006.01.02"))
		index = strings.ReplaceAll(index, "%{+YYYY.MM}", ts.Format("2006.01"))
		index = strings.ReplaceAll(index, "%{+YYYY}", ts.Format("2006"))
		return index
	}

	var suffix string
	switch e.config.IndexRotation {
	case "weekly":
		year, week := ts.ISOWeek()
		suffix = fmt.Sprintf("%d.%02d", year, week)
	case "monthly":
		suffix = ts.Format("2006.01")
	case "yearly":
		suffix = ts.Format("2006")
	default:
		suffix = ts.Format("2006.01.02")
	}
	return index + "-" + suffix
}

// Close marks the output closed. The client holds no persistent resources.
func (e *ElasticsearchOutput) Close() error {
	e.closed.Store(true)
	return nil
}

// Name returns the output name
func (e *ElasticsearchOutput) Name() string {
	if e.name != "" {
		return e.name
	}
	return TypeElasticsearch
}

// Type returns TypeElasticsearch
func (e *ElasticsearchOutput) Type() string { return TypeElasticsearch }

// Metrics returns the current metrics
func (e *ElasticsearchOutput) Metrics() OutputMetrics {
	return e.metrics.snapshot()
}
