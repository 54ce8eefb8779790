package plugin

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/tflog/internal/reliability"
	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

type processorFunc func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func (f processorFunc) Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, in)
}

func startServer(t *testing.T, impl LogProcessorServer) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer("bufnet", impl, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return lis
}

func newClient(t *testing.T, lis *bufconn.Listener, cfg Config, opts ...Option) *Client {
	t.Helper()
	cfg.Enabled = true
	cfg.Address = "passthrough:///bufnet"
	opts = append(opts, WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleRecords() []types.Record {
	return []types.Record{
		{LineNumber: 1, Level: types.LevelUnknown, Phase: types.PhasePlan, Message: "Error: quota exceeded", RequestID: "r1"},
		{LineNumber: 2, Level: types.LevelInfo, Phase: types.PhaseNone, Message: "all good"},
	}
}

func TestEnrichWithErrorCounter(t *testing.T) {
	lis := startServer(t, NewErrorCounter(nil))
	m := metrics.NewCollector()
	c := newClient(t, lis, Config{Timeout: 2 * time.Second}, WithMetrics(m))

	in := sampleRecords()
	res := c.Enrich(context.Background(), in)

	require.True(t, res.Applied, res.Reason)
	assert.False(t, res.Degraded)
	require.Len(t, res.Records, 2)
	assert.Equal(t, types.LevelError, res.Records[0].Level)
	assert.Equal(t, types.PhasePlan, res.Records[0].Phase)
	assert.Equal(t, "r1", res.Records[0].RequestID)
	assert.Equal(t, types.LevelInfo, res.Records[1].Level)
	assert.Equal(t, types.LevelUnknown, in[0].Level, "input records must not be modified")
	assert.Equal(t, float64(1), res.Summary["error_count"])
	assert.Equal(t, float64(2), res.Summary["total"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PluginCalls.WithLabelValues("ok")))
}

func TestEnrichDisabled(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)

	in := sampleRecords()
	res := c.Enrich(context.Background(), in)

	assert.False(t, c.Enabled())
	assert.False(t, res.Applied)
	assert.False(t, res.Degraded)
	assert.Equal(t, in, res.Records)
	assert.ErrorIs(t, c.Check(context.Background()), ErrDisabled)
	assert.NoError(t, c.Close())
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(Config{Enabled: true})
	assert.Error(t, err)
}

func TestNewClientTLS(t *testing.T) {
	c, err := NewClient(Config{Enabled: true, Address: "bufnet", TLS: security.TLSConfig{Enabled: true}})
	require.NoError(t, err)
	assert.True(t, c.Enabled())
	require.NoError(t, c.Close())

	_, err = NewClient(Config{
		Enabled: true,
		Address: "bufnet",
		TLS:     security.TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"},
	})
	assert.Error(t, err)
}

func TestEnrichFallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		impl   processorFunc
		reason string
	}{
		{
			name: "unavailable",
			impl: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(codes.Unavailable, "backend down")
			},
			reason: "backend down",
		},
		{
			name: "wrong entry count",
			impl: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return Batch{}.Encode()
			},
			reason: "0 entries for 2 records",
		},
		{
			name: "malformed reply",
			impl: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return structpb.NewStruct(map[string]any{"entries": "nope"})
			},
			reason: "not a list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lis := startServer(t, tt.impl)
			c := newClient(t, lis, Config{Timeout: 2 * time.Second})

			in := sampleRecords()
			res := c.Enrich(context.Background(), in)

			assert.True(t, res.Degraded)
			assert.False(t, res.Applied)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Equal(t, in, res.Records)
		})
	}
}

func TestEnrichTimeout(t *testing.T) {
	lis := startServer(t, processorFunc(func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	c := newClient(t, lis, Config{Timeout: 50 * time.Millisecond})

	res := c.Enrich(context.Background(), sampleRecords())

	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, "DeadlineExceeded")
}

func TestEnrichOpensCircuit(t *testing.T) {
	var calls atomic.Int32
	lis := startServer(t, processorFunc(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		calls.Add(1)
		return nil, status.Error(codes.Internal, "boom")
	}))
	c := newClient(t, lis, Config{
		Timeout:        2 * time.Second,
		CircuitBreaker: reliability.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute},
	})

	first := c.Enrich(context.Background(), sampleRecords())
	second := c.Enrich(context.Background(), sampleRecords())

	assert.True(t, first.Degraded)
	assert.True(t, second.Degraded)
	assert.Contains(t, second.Reason, reliability.ErrCircuitOpen.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientCheck(t *testing.T) {
	lis := startServer(t, NewErrorCounter(nil))
	c := newClient(t, lis, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, c.Check(ctx))
}

func TestBatchEncodeDecode(t *testing.T) {
	in := Batch{
		Entries: []Entry{EntryFromRecord(types.Record{
			Timestamp: "2024-01-15T10:00:00Z", Level: "warning", Message: "m",
			RequestID: "r", ResourceType: "aws_vpc", Phase: types.PhaseApply,
		})},
		Summary: map[string]any{"note": "x"},
	}

	msg, err := in.Encode()
	require.NoError(t, err)
	out, err := DecodeBatch(msg)
	require.NoError(t, err)

	assert.Equal(t, in.Entries, out.Entries)
	assert.Equal(t, "apply", out.Entries[0].Section)
	assert.Equal(t, map[string]any{"note": "x"}, out.Summary)

	_, err = DecodeBatch(nil)
	assert.Error(t, err)
}

func TestEntryFromRecordOmitsNonePhase(t *testing.T) {
	assert.Equal(t, "", EntryFromRecord(types.Record{Phase: types.PhaseNone}).Section)
}
