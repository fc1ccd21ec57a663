package services

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for the upload pipeline.
type Observer interface {
	RecordStage(stage string, duration time.Duration, err error)
	RecordOutcome(mimeType string, sanitized bool, kind ErrorKind)
	RecordCleanupFailure()
}

// NopObserver drops all telemetry.
type NopObserver struct{}

func (NopObserver) RecordStage(string, time.Duration, error) {}

func (NopObserver) RecordOutcome(string, bool, ErrorKind) {}

func (NopObserver) RecordCleanupFailure() {}

// PrometheusObserver exports pipeline metrics to Prometheus.
type PrometheusObserver struct {
	stageDuration   *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	cleanupFailures prometheus.Counter
}

// NewPrometheusObserver registers the pipeline collectors on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "upload_sanitizer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each upload pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Count of failed upload pipeline stages.",
		}, []string{"stage"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Completed uploads by detected type, sanitization and error kind.",
		}, []string{"mime_type", "sanitized", "error_kind"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Working files that could not be deleted at request end.",
		}),
	}

	collectors := []prometheus.Collector{o.stageDuration, o.stageErrors, o.uploads, o.cleanupFailures}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, fmt.Errorf("register pipeline metric: %w", err)
			}
			collectors[i] = are.ExistingCollector
		}
	}
	o.stageDuration = collectors[0].(*prometheus.HistogramVec)
	o.stageErrors = collectors[1].(*prometheus.CounterVec)
	o.uploads = collectors[2].(*prometheus.CounterVec)
	o.cleanupFailures = collectors[3].(prometheus.Counter)
	return o, nil
}

func (o *PrometheusObserver) RecordStage(stage string, duration time.Duration, err error) {
	o.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		o.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (o *PrometheusObserver) RecordOutcome(mimeType string, sanitized bool, kind ErrorKind) {
	if mimeType == "" {
		mimeType = "unknown"
	}
	o.uploads.WithLabelValues(mimeType, fmt.Sprint(sanitized), string(kind)).Inc()
}

func (o *PrometheusObserver) RecordCleanupFailure() {
	o.cleanupFailures.Inc()
}
