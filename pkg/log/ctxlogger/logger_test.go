package ctxlogger

import (
	"context"
	"testing"

	"github.com/smallbiznis/tally/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func capturingLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestWithContextCarriesPipelineIdentity(t *testing.T) {
	SetServiceName("tally-test")

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-123")
	ctx = ContextWithBatchID(ctx, "batch-9")

	base, logs := capturingLogger()
	WithContext(ctx, base).Info("line")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "cid-123", fields["correlation_id"])
	assert.Equal(t, "batch-9", fields["batch_id"])
	assert.Equal(t, "tally-test", fields["service"])
	assert.NotContains(t, fields, "trace_id")
	assert.NotContains(t, fields, "span_id")
}

func TestWithContextMintsCorrelationWhenMissing(t *testing.T) {
	base, logs := capturingLogger()
	WithContext(context.Background(), base).Info("line")

	cid, ok := logs.All()[0].ContextMap()["correlation_id"].(string)
	assert.True(t, ok)
	assert.Len(t, cid, 26)
}

func TestWithContextIncludesResumedTrace(t *testing.T) {
	ctx := correlation.ContextWithRemoteSpan(context.Background(),
		"4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	base, logs := capturingLogger()
	WithContext(ctx, base).Info("line")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
}

func TestWithContextNilContextReturnsBase(t *testing.T) {
	base, _ := capturingLogger()
	assert.Same(t, base, WithContext(nil, base))
}

func TestExtractTraceWithoutSpan(t *testing.T) {
	assert.Empty(t, ExtractTrace(context.Background()))
}

func TestContextWithBatchIDEmptyIsNoop(t *testing.T) {
	base := context.Background()
	assert.Equal(t, base, ContextWithBatchID(base, ""))
}
