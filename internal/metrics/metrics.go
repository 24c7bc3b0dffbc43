package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	previewsTotal     *prometheus.CounterVec
	previewDuration   *prometheus.HistogramVec
	cryptoOperations  *prometheus.CounterVec
	cryptoDuration    *prometheus.HistogramVec
	cryptoBytes       *prometheus.CounterVec
	classifierResults *prometheus.CounterVec
	liveHandles       prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates a metrics instance on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a metrics instance on a custom registry
// (used by tests to avoid duplicate registration).
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		previewsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_previews_total",
				Help: "Total number of preview operations",
			},
			[]string{"outcome"},
		),
		previewDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_preview_duration_seconds",
				Help:    "Preview pipeline duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		cryptoOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_crypto_operations_total",
				Help: "Total number of encryption and decryption operations",
			},
			[]string{"operation", "algorithm"},
		),
		cryptoDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_crypto_duration_seconds",
				Help:    "Encryption and decryption duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "algorithm"},
		),
		cryptoBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_crypto_bytes_total",
				Help: "Total plaintext bytes encrypted or decrypted",
			},
			[]string{"operation"},
		),
		classifierResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_classifier_results_total",
				Help: "Content classification results by detected kind",
			},
			[]string{"kind"},
		),
		liveHandles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_live_preview_handles",
				Help: "Number of live ephemeral preview handles",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordPreview records one preview operation outcome.
func (m *Metrics) RecordPreview(outcome string, duration time.Duration) {
	m.previewsTotal.WithLabelValues(outcome).Inc()
	m.previewDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCrypto records one encrypt or decrypt operation.
func (m *Metrics) RecordCrypto(operation, algorithm string, plaintextBytes int, duration time.Duration) {
	m.cryptoOperations.WithLabelValues(operation, algorithm).Inc()
	m.cryptoDuration.WithLabelValues(operation, algorithm).Observe(duration.Seconds())
	m.cryptoBytes.WithLabelValues(operation).Add(float64(plaintextBytes))
}

// RecordClassification records a classifier result.
func (m *Metrics) RecordClassification(kind string) {
	m.classifierResults.WithLabelValues(kind).Inc()
}

// HandleOpened and HandleReleased track the live ephemeral handle gauge.
func (m *Metrics) HandleOpened()   { m.liveHandles.Inc() }
func (m *Metrics) HandleReleased() { m.liveHandles.Dec() }

// RecordHTTPRequest records an HTTP request for the API surface.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
