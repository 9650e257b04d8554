package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for four engine operations
// (InstantiateWorkflow latency; CheckoutWork, SubmitWork and ReportFailure
// counts; Heartbeat and GetMemory are not instrumented), namespaced "chameleon_" following the teacher's "langgraph_"
// convention (graph/metrics.go).
type Metrics struct {
	instantiateLatency prometheus.Histogram
	checkouts          *prometheus.CounterVec
	submits            prometheus.Counter
	failures           *prometheus.CounterVec
}

// NewMetrics registers all engine metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		instantiateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chameleon",
			Subsystem: "engine",
			Name:      "instantiate_latency_ms",
			Help:      "Duration of instantiate_workflow calls in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chameleon",
			Subsystem: "engine",
			Name:      "checkouts_total",
			Help:      "Total successful checkout_work calls, labeled by role type.",
		}, []string{"role_type"}),
		submits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chameleon",
			Subsystem: "engine",
			Name:      "submits_total",
			Help:      "Total successful submit_work calls.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chameleon",
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Total report_failure calls, labeled by error code.",
		}, []string{"error_code"}),
	}
}

func (m *Metrics) ObserveInstantiate(d time.Duration) {
	m.instantiateLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncCheckout(roleType string) {
	m.checkouts.WithLabelValues(roleType).Inc()
}

func (m *Metrics) IncSubmit() {
	m.submits.Inc()
}

func (m *Metrics) IncFailure(errorCode string) {
	m.failures.WithLabelValues(errorCode).Inc()
}
