package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records vault operation activity for the daemon's /metrics
// endpoint.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rejections *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Metrics returns the lazily-initialised vault metrics registry.
func Metrics() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "perpvault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "perpvault",
				Subsystem: "engine",
				Name:      "operation_seconds",
				Help:      "Vault operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "perpvault",
				Subsystem: "engine",
				Name:      "rejections_total",
				Help:      "Rejected vault operations segmented by failure reason.",
			}, []string{"op", "reason"}),
		}
		prometheus.MustRegister(vaultRegistry.operations, vaultRegistry.latency, vaultRegistry.rejections)
	})
	return vaultRegistry
}

// ObserveOperation records a completed operation and its latency.
func (m *VaultMetrics) ObserveOperation(op string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.rejections.WithLabelValues(op, reasonLabel(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func reasonLabel(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		msg = msg[idx+2:]
	}
	return strings.ReplaceAll(strings.TrimSpace(msg), " ", "_")
}
