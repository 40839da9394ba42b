// Package cloudmetrics ships the engine's Prometheus metrics to an
// external sink on a fixed cadence, for deployments where nothing
// scrapes the /metrics endpoint.
package cloudmetrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"

	"github.com/smallbiznis/tally/internal/config"
	obstracing "github.com/smallbiznis/tally/internal/observability/tracing"
	"github.com/smallbiznis/tally/pkg/masking"
)

const (
	exporterPrometheusRemoteWrite = "prometheus_remote_write"
	exporterPrometheusPushgateway = "prometheus_pushgateway"
	defaultPushTimeout            = 5 * time.Second
)

// Pusher sends the current metric values somewhere external.
// Implementations push on demand and never expose a scrape endpoint of
// their own.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher builds a pusher from config. A misconfigured exporter logs a
// warning and returns nil: metric shipping must never stop the engine.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Cloud.Metrics.Enabled {
		return nil
	}

	exporter := strings.ToLower(strings.TrimSpace(cfg.Cloud.Metrics.Exporter))
	endpoint := strings.TrimSpace(cfg.Cloud.Metrics.Endpoint)
	authToken := strings.TrimSpace(cfg.Cloud.Metrics.AuthToken)

	if exporter == "" {
		logger.Warn("cloud metrics disabled", zap.Error(errors.New("CLOUD_METRICS_EXPORTER is required")))
		return nil
	}
	if endpoint == "" {
		logger.Warn("cloud metrics disabled", zap.Error(errors.New("CLOUD_METRICS_ENDPOINT is required")))
		return nil
	}

	switch exporter {
	case exporterPrometheusRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			logger.Warn("cloud metrics disabled", zap.Error(fmt.Errorf("invalid CLOUD_METRICS_ENDPOINT: %w", err)))
			return nil
		}
		logger.Info("cloud metrics push enabled",
			zap.String("exporter", exporter),
			zap.String("endpoint", endpoint),
			zap.String("auth_token", masking.MaskSecret(authToken)),
		)
		return NewRemoteWritePusher(endpoint, authToken)
	case exporterPrometheusPushgateway:
		logger.Info("cloud metrics push enabled",
			zap.String("exporter", exporter),
			zap.String("endpoint", endpoint),
		)
		return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
			"instance":    strings.TrimSpace(cfg.InstanceID),
		})
	default:
		logger.Warn("cloud metrics disabled", zap.String("exporter", exporter))
		return nil
	}
}

// RemoteWritePusher sends metrics to a Prometheus remote_write endpoint.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: defaultPushTimeout,
		}),
	}
}

// Push gathers the current values and sends them via remote_write.
func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}

	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	series := buildRemoteWriteSeries(families, time.Now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	payload, err := proto.Marshal(protoadapt.MessageV2Of(req))
	if err != nil {
		return err
	}

	compressed := snappy.Encode(nil, payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

// PushgatewayPusher sends metrics to a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: endpoint,
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	if strings.TrimSpace(p.endpoint) == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(gatherer)
	for key, value := range p.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	return pusher.PushContext(ctx)
}

func buildRemoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	for _, family := range families {
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				if c := metric.GetCounter(); c != nil {
					series = append(series, newSeries(name, metric.GetLabel(), nil, c.GetValue(), timestampMs))
				}
			case dto.MetricType_GAUGE:
				if g := metric.GetGauge(); g != nil {
					series = append(series, newSeries(name, metric.GetLabel(), nil, g.GetValue(), timestampMs))
				}
			case dto.MetricType_HISTOGRAM:
				series = append(series, histogramSeries(name, metric, timestampMs)...)
			}
		}
	}
	return series
}

// histogramSeries expands one histogram into the _bucket/_sum/_count
// series remote_write expects. Gathered families may omit the +Inf
// bucket, which the sample count stands in for.
func histogramSeries(name string, metric *dto.Metric, timestampMs int64) []prompb.TimeSeries {
	h := metric.GetHistogram()
	if h == nil {
		return nil
	}

	labels := metric.GetLabel()
	out := make([]prompb.TimeSeries, 0, len(h.GetBucket())+3)
	infSeen := false
	for _, bucket := range h.GetBucket() {
		bound := bucket.GetUpperBound()
		if math.IsInf(bound, +1) {
			infSeen = true
		}
		le := prompb.Label{Name: "le", Value: formatBucketBound(bound)}
		out = append(out, newSeries(name+"_bucket", labels, &le, float64(bucket.GetCumulativeCount()), timestampMs))
	}
	if !infSeen {
		le := prompb.Label{Name: "le", Value: "+Inf"}
		out = append(out, newSeries(name+"_bucket", labels, &le, float64(h.GetSampleCount()), timestampMs))
	}
	out = append(out, newSeries(name+"_sum", labels, nil, h.GetSampleSum(), timestampMs))
	out = append(out, newSeries(name+"_count", labels, nil, float64(h.GetSampleCount()), timestampMs))
	return out
}

func newSeries(name string, labelPairs []*dto.LabelPair, extra *prompb.Label, value float64, timestampMs int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(labelPairs)+2)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	for _, pair := range labelPairs {
		labels = append(labels, prompb.Label{Name: pair.GetName(), Value: pair.GetValue()})
	}
	if extra != nil {
		labels = append(labels, *extra)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Name < labels[j].Name
	})

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
	}
}

func formatBucketBound(bound float64) string {
	if math.IsInf(bound, +1) {
		return "+Inf"
	}
	return strconv.FormatFloat(bound, 'g', -1, 64)
}
