package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

func sampleRecords() []types.Record {
	return []types.Record{
		{
			LineNumber: 1, Timestamp: "2024-01-15T10:00:00.000Z", Level: types.LevelInfo,
			Phase: types.PhasePlan, Transition: types.TransitionEntered,
			Message: "Terraform plan is starting", WellFormed: true,
			Raw: `{"@message":"Terraform plan is starting"}`,
		},
		{
			LineNumber: 2, Timestamp: "2024-01-15T10:00:01.000Z", Level: types.LevelDebug,
			Phase: types.PhasePlan, Transition: types.TransitionNone,
			Message: strings.Repeat("x", 400), RequestID: "req-1", ResourceType: "aws_vpc",
			RequestBody: types.NewBody([]byte(`{"a":1}`), func(raw json.RawMessage) any {
				var v any
				_ = json.Unmarshal(raw, &v)
				return v
			}),
			WellFormed: true, Raw: "{}",
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"jsonl", Config{Name: "file", Type: TypeJSONL, JSONL: &JSONLConfig{Path: "out.jsonl"}}, ""},
		{"missing name", Config{Type: TypeJSONL, JSONL: &JSONLConfig{}}, "name is required"},
		{"missing section", Config{Name: "k", Type: TypeKafka}, "kafka section is required"},
		{"kafka without topic", Config{Name: "k", Type: TypeKafka, Kafka: &KafkaConfig{Brokers: []string{"b:9092"}}}, "brokers and topic"},
		{"es without address", Config{Name: "e", Type: TypeElasticsearch, Elasticsearch: &ElasticsearchConfig{}}, "addresses or cloud_id"},
		{"s3 without bucket", Config{Name: "s", Type: TypeS3, S3: &S3Config{}}, "bucket is required"},
		{"bad compression", Config{Name: "s", Type: TypeS3, S3: &S3Config{Bucket: "b", Compression: "lz4"}}, "unsupported compression"},
		{"unknown type", Config{Name: "x", Type: "syslog"}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJSONLWriterFullForm(t *testing.T) {
	var buf bytes.Buffer
	out := NewJSONLWriter("stdout", &buf, false)

	require.NoError(t, out.Write(context.Background(), sampleRecords()))
	require.NoError(t, out.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, float64(1), first["lineno"])
	assert.Equal(t, "plan", first["section"])
	assert.Equal(t, true, first["section_start"])
	assert.Nil(t, first["request_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, map[string]any{"hidden": true, "value": map[string]any{"a": float64(1)}}, second["request_body"])

	m := out.Metrics()
	assert.Equal(t, int64(2), m.RecordsSent)
	assert.Equal(t, int64(1), m.BatchesSent)
	assert.Equal(t, int64(buf.Len()), m.BytesSent)
}

func TestJSONLWriterShortForm(t *testing.T) {
	var buf bytes.Buffer
	out := NewJSONLWriter("short", &buf, true)
	require.NoError(t, out.Write(context.Background(), sampleRecords()))

	scanner := bufio.NewScanner(&buf)
	var got []types.ShortRecord
	for scanner.Scan() {
		var s types.ShortRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		got = append(got, s)
	}

	require.Len(t, got, 2)
	assert.False(t, got[0].HasRequestBody)
	assert.True(t, got[1].HasRequestBody)
	assert.False(t, got[1].HasResponseBody)
	assert.Len(t, got[1].Message, types.ShortMessageLimit)
	require.NotNil(t, got[1].RequestID)
	assert.Equal(t, "req-1", *got[1].RequestID)
}

func TestJSONLOutputCompressedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl.gz")
	out, err := New(context.Background(), Config{
		Name: "archive", Type: TypeJSONL,
		JSONL: &JSONLConfig{Path: path, Compression: CompressionGzip},
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", out.Name())
	assert.Equal(t, TypeJSONL, out.Type())

	require.NoError(t, out.Write(context.Background(), sampleRecords()))
	require.NoError(t, out.Close())
	assert.Error(t, out.Write(context.Background(), sampleRecords()), "closed output must reject writes")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReader(CompressionGzip, f)
	require.NoError(t, err)

	var records []types.Record
	dec := json.NewDecoder(r)
	for dec.More() {
		var rec types.Record
		require.NoError(t, dec.Decode(&rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "req-1", records[1].RequestID)
	assert.Equal(t, types.PhasePlan, records[1].Phase)
}

func TestJSONLOutputAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	for i := 0; i < 2; i++ {
		out, err := NewJSONLOutput("file", JSONLConfig{Path: path, Append: true, Short: true})
		require.NoError(t, err)
		require.NoError(t, out.Write(context.Background(), sampleRecords()[:1]))
		require.NoError(t, out.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestJSONLWriterCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := NewJSONLWriter("", &buf, false).Write(ctx, sampleRecords())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}
