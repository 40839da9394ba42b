// Package ctxlogger enriches zap loggers with the identity that follows a
// statement through the system: the emitting service, the request's
// correlation ID, the active span, and the batch being worked. The API and
// the queue worker run in separate processes, and these fields are what
// makes their log lines join up.
package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/tally/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type batchKey struct{}

var serviceName atomic.Pointer[string]

// SetServiceName sets the service field stamped on every enriched logger.
func SetServiceName(name string) {
	serviceName.Store(&name)
}

// ContextWithBatchID pins the batch being worked onto the context, so every
// line logged under it carries the batch without threading fields by hand.
func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	if batchID == "" {
		return ctx
	}
	return context.WithValue(ctx, batchKey{}, batchID)
}

// FromContext enriches the global logger. Callers holding a named logger
// should prefer WithContext to keep the name.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext returns base with the service, correlation, trace, and batch
// fields found on ctx. Absent fields are omitted rather than logged empty.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields, ExtractCorrelation(ctx))
	fields = append(fields, ExtractTrace(ctx)...)
	if name := serviceName.Load(); name != nil && *name != "" {
		fields = append(fields, zap.String("service", *name))
	}
	if batchID, ok := ctx.Value(batchKey{}).(string); ok && batchID != "" {
		fields = append(fields, zap.String("batch_id", batchID))
	}

	return base.With(fields...)
}

// ExtractCorrelation returns the correlation field, minting an ID when the
// context carries none so no line goes out without one.
func ExtractCorrelation(ctx context.Context) zap.Field {
	cid := correlation.ExtractCorrelationID(ctx)
	if cid == "" {
		_, cid = correlation.EnsureCorrelationID(ctx)
	}
	return zap.String("correlation_id", cid)
}

// ExtractTrace returns trace and span fields when ctx carries a valid span
// context, and nothing otherwise.
func ExtractTrace(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
