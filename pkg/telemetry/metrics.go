package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the reconciliation engine.
type Metrics struct {
	uploads          *prometheus.CounterVec
	uploadBytes      prometheus.Histogram
	batches          *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	rowsSkipped      prometheus.Counter
	classifications  *prometheus.CounterVec
	matchScore       prometheus.Histogram
	queueJobs        *prometheus.CounterVec
	queueDepthGauge  prometheus.Gauge
	reviewDecisions  *prometheus.CounterVec
	mirrorFailures   prometheus.Counter
	candidateLookups prometheus.Histogram
}

// NewMetrics registers and returns Prometheus metrics for telemetry.
func NewMetrics() *Metrics {
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_uploads_total",
		Help: "CSV uploads accepted or rejected.",
	}, []string{"status"})

	uploadBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_upload_bytes",
		Help:    "Accepted upload size distribution.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_batches_total",
		Help: "Reconciliation batches by terminal status.",
	}, []string{"status"})

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_batch_duration_seconds",
		Help:    "End to end batch processing durations.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"status"})

	rowsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_rows_skipped_total",
		Help: "CSV rows skipped during parsing.",
	})

	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_transactions_classified_total",
		Help: "Transactions classified by match outcome.",
	}, []string{"outcome"})

	matchScore := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_match_confidence",
		Help:    "Confidence score distribution for matched transactions.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
	})

	queueJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_queue_jobs_total",
		Help: "Queue job outcomes.",
	}, []string{"status"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_queue_depth",
		Help: "Jobs waiting in the ready queue.",
	})

	reviewDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_review_decisions_total",
		Help: "Manual review decisions by action.",
	}, []string{"action"})

	mirrorFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_progress_mirror_failures_total",
		Help: "Progress mirror writes that failed and were skipped.",
	})

	candidateLookups := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_candidate_lookup_seconds",
		Help:    "Invoice candidate lookup latency per chunk.",
		Buckets: prometheus.DefBuckets,
	})

	prometheus.MustRegister(
		uploads,
		uploadBytes,
		batches,
		batchDuration,
		rowsSkipped,
		classifications,
		matchScore,
		queueJobs,
		queueDepth,
		reviewDecisions,
		mirrorFailures,
		candidateLookups,
	)

	return &Metrics{
		uploads:          uploads,
		uploadBytes:      uploadBytes,
		batches:          batches,
		batchDuration:    batchDuration,
		rowsSkipped:      rowsSkipped,
		classifications:  classifications,
		matchScore:       matchScore,
		queueJobs:        queueJobs,
		queueDepthGauge:  queueDepth,
		reviewDecisions:  reviewDecisions,
		mirrorFailures:   mirrorFailures,
		candidateLookups: candidateLookups,
	}
}

// ObserveUpload records an upload attempt and, when accepted, its size.
func (m *Metrics) ObserveUpload(status string, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(sanitizeLabel(status)).Inc()
	if status == "accepted" && bytes > 0 {
		m.uploadBytes.Observe(float64(bytes))
	}
}

// ObserveBatch records a finished batch with its processing duration.
func (m *Metrics) ObserveBatch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := sanitizeLabel(status)
	m.batches.WithLabelValues(statusLabel).Inc()
	m.batchDuration.WithLabelValues(statusLabel).Observe(duration.Seconds())
}

// AddRowsSkipped increments the skipped row counter.
func (m *Metrics) AddRowsSkipped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rowsSkipped.Add(float64(count))
}

// ObserveClassification records a match outcome and its confidence score.
func (m *Metrics) ObserveClassification(outcome string, score float64) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(sanitizeLabel(outcome)).Inc()
	m.matchScore.Observe(score)
}

// ObserveQueueJob records a queue job outcome.
func (m *Metrics) ObserveQueueJob(status string) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(sanitizeLabel(status)).Inc()
}

// SetQueueDepth updates the ready queue depth gauge.
func (m *Metrics) SetQueueDepth(value float64) {
	if m == nil {
		return
	}
	m.queueDepthGauge.Set(value)
}

// ObserveReviewDecision counts a manual confirm or reject.
func (m *Metrics) ObserveReviewDecision(action string) {
	if m == nil {
		return
	}
	m.reviewDecisions.WithLabelValues(sanitizeLabel(action)).Inc()
}

// AddMirrorFailure counts a progress mirror write that was skipped after an error.
func (m *Metrics) AddMirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

// ObserveCandidateLookup records candidate lookup latency for one chunk.
func (m *Metrics) ObserveCandidateLookup(duration time.Duration) {
	if m == nil {
		return
	}
	m.candidateLookups.Observe(duration.Seconds())
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
