package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	borrowRate   *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	liquidations *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pairlend",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of outermost lending operations by name and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pairlend",
				Subsystem: "lending",
				Name:      "operation_seconds",
				Help:      "Wall-clock duration of outermost lending operations.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"op"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pairlend",
				Subsystem: "lending",
				Name:      "borrow_rate",
				Help:      "Current annualised borrow rate per borrowable pool.",
			}, []string{"pool"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pairlend",
				Subsystem: "lending",
				Name:      "utilization",
				Help:      "Current utilization ratio per borrowable pool.",
			}, []string{"pool"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pairlend",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of settled liquidations per borrowable pool.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.borrowRate,
			lendingRegistry.utilization,
			lendingRegistry.liquidations,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *LendingMetrics) SetBorrowRate(pool string, annualRate float64) {
	if m == nil {
		return
	}
	m.borrowRate.WithLabelValues(pool).Set(annualRate)
}

func (m *LendingMetrics) SetUtilization(pool string, ratio float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(pool).Set(ratio)
}

func (m *LendingMetrics) IncLiquidation(pool string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(pool).Inc()
}
