package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// exportInterval is how often the periodic reader pushes to the collector.
const exportInterval = 10 * time.Second

// Config selects the OTLP metrics exporter. With Enabled false every
// instrument becomes a no-op, which is how tests and collector-less
// deployments run.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the reconciliation intake counters: what arrived at the
// upload endpoint, what the parser did with it, and what the rate limiter
// turned away.
type Metrics struct {
	uploadsAccepted  metric.Int64Counter
	uploadsRejected  metric.Int64Counter
	rowsParsed       metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider builds the meter provider and installs it globally. A disabled
// config still installs a no-op provider, so instrument construction never
// has to care whether export is on.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	exporter, err := newExporter(ctx, cfg.ExporterProtocol, cfg.ExporterEndpoint)
	cancel()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})

	log.Info("metrics exporter configured",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New registers the intake instruments on the provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tally"
	}
	meter := provider.Meter(name)

	var err error
	counter := func(instrument string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(instrument)
		return c
	}

	m := &Metrics{
		uploadsAccepted:  counter("tally_uploads_accepted_total"),
		uploadsRejected:  counter("tally_uploads_rejected_total"),
		rowsParsed:       counter("tally_csv_rows_parsed_total"),
		rateLimitAllowed: counter("tally_rate_limit_allowed_total"),
		rateLimitDenied:  counter("tally_rate_limit_denied_total"),
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordUploadAccepted counts an upload that opened a batch.
func (m *Metrics) RecordUploadAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.uploadsAccepted.Add(ctx, 1)
}

// RecordUploadRejected counts an upload turned away before a batch existed.
func (m *Metrics) RecordUploadRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", reason))
	m.uploadsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRowsParsed adds parsed row counts by disposition, imported or
// skipped.
func (m *Metrics) RecordRowsParsed(ctx context.Context, disposition string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("disposition", disposition))
	m.rowsParsed.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed counts a request the limiter let through.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", endpoint))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts a request the limiter refused.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(ctx context.Context, protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Labels instruments may carry. Anything else is dropped before it reaches
// the exporter, so a stray high-cardinality attribute cannot blow up the
// series count.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
	"disposition": {},
	"outcome":     {},
	"job":         {},
	"resource":    {},
}

// FilterAttributes keeps only allowlisted labels with non-empty values.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING && strings.TrimSpace(attr.Value.AsString()) == "" {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
