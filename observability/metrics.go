package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type settlementMetrics struct {
	settled    *prometheus.CounterVec
	rejections *prometheus.CounterVec
	bounces    prometheus.Counter
	withdrawn  prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *settlementMetrics
)

// Settlement returns the lazily-initialised metrics registry tracking
// settlement engine activity.
func Settlement() *settlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &settlementMetrics{
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "telemart",
				Subsystem: "settlement",
				Name:      "messages_settled_total",
				Help:      "Count of accepted messages segmented by entry path.",
			}, []string{"path"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "telemart",
				Subsystem: "settlement",
				Name:      "rejections_total",
				Help:      "Count of rejected messages segmented by stable rejection code.",
			}, []string{"code"}),
			bounces: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "telemart",
				Subsystem: "settlement",
				Name:      "bounces_total",
				Help:      "Count of outgoing transfers returned by the ledger.",
			}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "telemart",
				Subsystem: "settlement",
				Name:      "admin_withdrawals_total",
				Help:      "Count of admin commission withdrawals.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.settled,
			settlementRegistry.rejections,
			settlementRegistry.bounces,
			settlementRegistry.withdrawn,
		)
	})
	return settlementRegistry
}

// RecordSettled increments the settlement counter for the supplied entry path.
func (m *settlementMetrics) RecordSettled(path string) {
	if m == nil {
		return
	}
	if path == "" {
		path = "unknown"
	}
	m.settled.WithLabelValues(path).Inc()
}

// RecordRejection increments the rejection counter for the supplied code.
func (m *settlementMetrics) RecordRejection(code uint16) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

// RecordBounce increments the bounce counter.
func (m *settlementMetrics) RecordBounce() {
	if m == nil {
		return
	}
	m.bounces.Inc()
}

// RecordWithdrawal increments the admin withdrawal counter.
func (m *settlementMetrics) RecordWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawn.Inc()
}
