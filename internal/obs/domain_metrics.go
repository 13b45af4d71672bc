package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutCommitTotal counts commit outcomes: success, rejected, failed, partial.
	CheckoutCommitTotal *prometheus.CounterVec
	// CheckoutCommitDuration records end-to-end commit latency in milliseconds.
	CheckoutCommitDuration *prometheus.HistogramVec
	// BackendRequestTotal counts order backend calls by operation and result.
	BackendRequestTotal *prometheus.CounterVec
	// LedgerRowsMerged counts payment legs folded into merged ledger rows.
	LedgerRowsMerged prometheus.Counter
	// LedgerCacheTotal counts ledger cache lookups by result (hit, miss, error).
	LedgerCacheTotal *prometheus.CounterVec
	// ReconcileTaskTotal counts reconciliation task outcomes.
	ReconcileTaskTotal *prometheus.CounterVec
	// ActiveSessions tracks checkout sessions held in memory.
	ActiveSessions prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutCommitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_commit_total",
			Help:      "Count of checkout commit outcomes.",
		}, []string{"result"})
		CheckoutCommitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_commit_duration_ms",
			Help:      "Latency of the three-step order commit in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})
		BackendRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_request_total",
			Help:      "Count of order backend requests by operation and result.",
		}, []string{"operation", "result"})
		LedgerRowsMerged = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rows_merged_total",
			Help:      "Number of payment ledger rows folded into per-order rows.",
		})
		LedgerCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_cache_total",
			Help:      "Ledger cache lookups by result.",
		}, []string{"result"})
		ReconcileTaskTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_task_total",
			Help:      "Count of partial-commit reconciliation outcomes.",
		}, []string{"result"})
		ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_active",
			Help:      "Checkout sessions currently held in memory.",
		})

		mustRegisterCollector(reg, CheckoutCommitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutCommitTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutCommitDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CheckoutCommitDuration = v
			}
		})
		mustRegisterCollector(reg, BackendRequestTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BackendRequestTotal = v
			}
		})
		mustRegisterCollector(reg, LedgerRowsMerged, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				LedgerRowsMerged = v
			}
		})
		mustRegisterCollector(reg, LedgerCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LedgerCacheTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTaskTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTaskTotal = v
			}
		})
		mustRegisterCollector(reg, ActiveSessions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ActiveSessions = v
			}
		})
	})
}

// ObserveCommit records a commit outcome when domain metrics are registered.
func ObserveCommit(result string, durationMs float64) {
	if CheckoutCommitTotal != nil {
		CheckoutCommitTotal.WithLabelValues(result).Inc()
	}
	if CheckoutCommitDuration != nil {
		CheckoutCommitDuration.WithLabelValues(result).Observe(durationMs)
	}
}

// ObserveBackendRequest records one order backend call.
func ObserveBackendRequest(operation, result string) {
	if BackendRequestTotal != nil {
		BackendRequestTotal.WithLabelValues(operation, result).Inc()
	}
}

// ObserveLedgerCache records a ledger cache lookup.
func ObserveLedgerCache(result string) {
	if LedgerCacheTotal != nil {
		LedgerCacheTotal.WithLabelValues(result).Inc()
	}
}

// AddLedgerRowsMerged adds n merged rows.
func AddLedgerRowsMerged(n int) {
	if LedgerRowsMerged != nil && n > 0 {
		LedgerRowsMerged.Add(float64(n))
	}
}

// ObserveReconcile records a reconciliation task outcome.
func ObserveReconcile(result string) {
	if ReconcileTaskTotal != nil {
		ReconcileTaskTotal.WithLabelValues(result).Inc()
	}
}

// SetActiveSessions updates the in-memory session gauge.
func SetActiveSessions(n int) {
	if ActiveSessions != nil {
		ActiveSessions.Set(float64(n))
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
