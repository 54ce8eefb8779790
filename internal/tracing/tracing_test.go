package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)

	_, span := TraceRun(context.Background(), p.Tracer(), "cli")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEnabledProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	p, err := NewProvider(context.Background(), Config{Enabled: true}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ctx, run := TraceRun(context.Background(), p.Tracer(), "upload")
	_, call := TracePlugin(ctx, p.Tracer(), "localhost:50051", 3)
	RecordError(call, errors.New("unavailable"))
	call.End()
	run.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plugin.process", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "engine.run", spans[1].Name())
}
