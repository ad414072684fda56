// Package metrics provides Prometheus metrics for the scoring server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespaceDefault = "riskscore"

// Metrics holds all Prometheus metrics of the server on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Scoring metrics
	PredictionsTotal *prometheus.CounterVec
	Probability      prometheus.Histogram
	ScoringErrors    *prometheus.CounterVec
	ChartsRendered   *prometheus.CounterVec

	// Journal metrics
	JournalWrites *prometheus.CounterVec

	// Artifact metrics
	Threshold prometheus.Gauge
	Columns   prometheus.Gauge
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = namespaceDefault
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "predictions_total",
			Help:      "Total number of predictions by decision",
		}, []string{"result"}),
		Probability: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "probability",
			Help:      "Distribution of predicted reject probabilities",
			Buckets:   prometheus.LinearBuckets(0.05, 0.05, 19),
		}),
		ScoringErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "errors_total",
			Help:      "Total number of failed scoring requests by operation and kind",
		}, []string{"operation", "kind"}),
		ChartsRendered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "charts_rendered_total",
			Help:      "Total number of attribution charts rendered by style",
		}, []string{"style"}),

		JournalWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Total number of journal writes by outcome",
		}, []string{"outcome"}),

		Threshold: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "threshold",
			Help:      "Decision threshold in use",
		}),
		Columns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "columns",
			Help:      "Number of model input columns",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObservePrediction records a served decision.
func (m *Metrics) ObservePrediction(result int, probability float64) {
	m.PredictionsTotal.WithLabelValues(strconv.Itoa(result)).Inc()
	m.Probability.Observe(probability)
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, seconds float64) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}
