package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics aggregates the operation counters recorded by the protocol
// orchestrator.
type CoreMetrics struct {
	operations *prometheus.CounterVec
	sweeps     prometheus.Counter
	rangeMiss  prometheus.Counter
}

var (
	coreMetricsOnce sync.Once
	coreRegistry    *CoreMetrics
)

// Metrics returns the lazily-initialised protocol metrics registry.
func Metrics() *CoreMetrics {
	coreMetricsOnce.Do(func() {
		coreRegistry = &CoreMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualstake",
				Subsystem: "core",
				Name:      "operations_total",
				Help:      "Total protocol operations segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dualstake",
				Subsystem: "vault",
				Name:      "sweeps_total",
				Help:      "Total inbound transfers redirected to the bucket reserve.",
			}),
			rangeMiss: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dualstake",
				Subsystem: "oracle",
				Name:      "range_misses_total",
				Help:      "Total historical price lookups rejected by the round bracket check.",
			}),
		}
		prometheus.MustRegister(coreRegistry.operations, coreRegistry.sweeps, coreRegistry.rangeMiss)
	})
	return coreRegistry
}

// RecordOperation counts one protocol operation outcome.
func (m *CoreMetrics) RecordOperation(module, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(module, op, outcome).Inc()
}

// RecordSweep counts one threshold sweep.
func (m *CoreMetrics) RecordSweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

// RecordRangeMiss counts one oracle round bracket rejection.
func (m *CoreMetrics) RecordRangeMiss() {
	if m == nil {
		return
	}
	m.rangeMiss.Inc()
}
