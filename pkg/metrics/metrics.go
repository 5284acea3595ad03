// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCyclesTotal counts completed poll cycles per chain and result
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_poll_cycles_total",
		Help: "Number of deposit poll cycles executed, by chain and result",
	}, []string{"chain", "result"})

	// PollCycleDuration observes poll cycle duration per chain
	PollCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_poll_cycle_duration_seconds",
		Help:    "Duration of deposit poll cycles, by chain",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain"})

	// DepositsCreditedTotal counts deposits credited to user balances
	DepositsCreditedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_deposits_credited_total",
		Help: "Number of deposits credited, by chain and currency",
	}, []string{"chain", "currency"})

	// DuplicateDepositsTotal counts duplicate detections swallowed by dedup
	DuplicateDepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_duplicate_deposits_total",
		Help: "Number of duplicate transaction detections discarded, by chain",
	}, []string{"chain"})

	// SweepsTotal counts sweep executions by chain and result
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_sweeps_total",
		Help: "Number of sweep attempts, by chain and result",
	}, []string{"chain", "result"})

	// WithdrawalsTotal counts withdrawal submissions by currency and result
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_withdrawals_total",
		Help: "Number of withdrawal submissions, by currency and result",
	}, []string{"currency", "result"})

	// OracleFailuresTotal counts rate lookups that degraded to a null rate
	OracleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_oracle_failures_total",
		Help: "Number of price oracle lookups that failed and degraded to a null rate",
	})

	// DatabaseConnectionsGauge tracks database pool connection states
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_database_connections",
		Help: "Database connection pool states",
	}, []string{"state"})
)
