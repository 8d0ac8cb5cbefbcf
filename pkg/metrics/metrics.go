package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation kinds recorded per frame.
const (
	KindObjective   = "objective"
	KindGradient    = "gradient"
	KindHessian     = "hessian"
	KindSensitivity = "sensitivity"
)

// Metrics holds the reconstruction metrics
type Metrics struct {
	// Iteration tracking
	Iteration       atomic.Uint64
	SubsetsComputed atomic.Uint64

	// Error counters
	ConfigErrors atomic.Uint64
	FatalErrors  atomic.Uint64

	frameEvaluations *prometheus.CounterVec
	evaluationTime   *prometheus.HistogramVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frameEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynrecon_frame_evaluations_total",
				Help: "Single-frame objective evaluations by kind",
			},
			[]string{"kind"},
		),
		evaluationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dynrecon_evaluation_seconds",
				Help:    "Duration of parametric evaluations by kind",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.frameEvaluations, m.evaluationTime)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dynrecon_iteration",
			Help: "Current reconstruction iteration",
		},
		func() float64 { return float64(m.Iteration.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dynrecon_subsets_computed_total",
			Help: "Total subset updates applied",
		},
		func() float64 { return float64(m.SubsetsComputed.Load()) },
	))

	// Error metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dynrecon_config_errors_total",
			Help: "Total recoverable configuration failures",
		},
		func() float64 { return float64(m.ConfigErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dynrecon_fatal_errors_total",
			Help: "Total fatal invariant violations",
		},
		func() float64 { return float64(m.FatalErrors.Load()) },
	))
}

// FrameEvaluated counts one single-frame evaluation of the given kind.
// A nil receiver is a no-op so callers need not check.
func (m *Metrics) FrameEvaluated(kind string) {
	if m == nil {
		return
	}
	m.frameEvaluations.WithLabelValues(kind).Inc()
}

// ObserveEvaluation records how long an evaluation that began at start took.
func (m *Metrics) ObserveEvaluation(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.evaluationTime.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Fatal counts a fatal invariant violation.
func (m *Metrics) Fatal() {
	if m == nil {
		return
	}
	m.FatalErrors.Add(1)
}

// ConfigFailure counts a recoverable configuration failure.
func (m *Metrics) ConfigFailure() {
	if m == nil {
		return
	}
	m.ConfigErrors.Add(1)
}

// StartIteration records the reconstruction iteration in progress.
func (m *Metrics) StartIteration(it int) {
	if m == nil {
		return
	}
	m.Iteration.Store(uint64(it))
}

// SubsetDone counts one completed subset update.
func (m *Metrics) SubsetDone() {
	if m == nil {
		return
	}
	m.SubsetsComputed.Add(1)
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
