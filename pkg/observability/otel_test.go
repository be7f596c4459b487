package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracingDisabled(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracing(context.Background(), OTelConfig{Enabled: false},
		NewLogger(InfoLevel, &buf))
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestShutdownTracingNilProvider(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, ShutdownTracing(context.Background(), nil, NewLogger(InfoLevel, &buf)))
}

func TestUpdateLoggerWithTraceContextNoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	got := UpdateLoggerWithTraceContext(context.Background(), logger)
	assert.Same(t, logger, got, "no recording span, logger passes through unchanged")
}

func TestUpdateLoggerWithTraceContextWithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := UpdateLoggerWithTraceContext(ctx, NewLogger(InfoLevel, &buf))
	logger.Info("traced")

	entry := logLine(t, &buf)
	assert.NotEmpty(t, entry["trace_id"])
	assert.NotEmpty(t, entry["span_id"])
}
