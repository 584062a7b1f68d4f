package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrderCreations      *prometheus.CounterVec
	OrderCreateLatency  *prometheus.HistogramVec
	OrderCancellations  *prometheus.CounterVec
	SweepOrders         *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	StorageRetries      prometheus.Counter
	InvariantViolations prometheus.Counter
	DepositsApplied     *prometheus.CounterVec
	LoginAttempts       *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrderCreations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_order_creations_total",
				Help: "Order creation attempts by side and outcome.",
			},
			[]string{"side", "status"},
		),
		OrderCreateLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_order_create_latency_seconds",
				Help:    "Order creation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_order_cancellations_total",
				Help: "Order cancellation attempts by outcome.",
			},
			[]string{"status"},
		),
		SweepOrders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_sweep_orders_total",
				Help: "Orders visited by settlement sweeps by result.",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "broker_sweep_duration_seconds",
				Help:    "Settlement sweep duration in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_storage_retries_total",
			Help: "Units of work replayed after transient contention.",
		}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_ledger_invariant_violations_total",
			Help: "Ledger adjustments rejected for breaking 0 <= usable <= size.",
		}),
		DepositsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_deposits_total",
				Help: "Deposit events handled by outcome.",
			},
			[]string{"status"},
		),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_login_attempts_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.OrderCreations,
		m.OrderCreateLatency,
		m.OrderCancellations,
		m.SweepOrders,
		m.SweepDuration,
		m.StorageRetries,
		m.InvariantViolations,
		m.DepositsApplied,
		m.LoginAttempts,
	)
	return m
}

func (m *Metrics) ObserveCreate(side, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OrderCreations.WithLabelValues(side, status).Inc()
	m.OrderCreateLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCancel(status string) {
	if m == nil {
		return
	}
	m.OrderCancellations.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweepOrder(result string) {
	if m == nil {
		return
	}
	m.SweepOrders.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncStorageRetry() {
	if m == nil {
		return
	}
	m.StorageRetries.Inc()
}

func (m *Metrics) IncInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolations.Inc()
}

func (m *Metrics) ObserveDeposit(status string) {
	if m == nil {
		return
	}
	m.DepositsApplied.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveLogin(status string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(status).Inc()
}
