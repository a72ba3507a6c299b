package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records ledger operation activity.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	totalDebt  prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lpvault",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lpvault",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lpvault",
				Subsystem: "ledger",
				Name:      "total_debt",
				Help:      "Outstanding debt across all collateral sources, in whole debt-token units.",
			}),
		}
		prometheus.MustRegister(vaultRegistry.operations, vaultRegistry.latency, vaultRegistry.totalDebt)
	})
	return vaultRegistry
}

// ObserveOperation records one ledger operation's outcome and latency.
func (m *VaultMetrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetTotalDebt publishes the current global debt, truncated to whole
// 18-decimal token units.
func (m *VaultMetrics) SetTotalDebt(totalDebt *big.Int) {
	if m == nil || totalDebt == nil {
		return
	}
	units := new(big.Int).Quo(totalDebt, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	value, _ := new(big.Float).SetInt(units).Float64()
	m.totalDebt.Set(value)
}
