package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		dbPoolStats,
		legacyReconciledTotal,
		mirrorQueueDroppedTotal,
		staleVersionRetriesTotal,
	)
}

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_db_pool_stats",
			Help: "Current state of the relational store's connection pool.",
		},
		[]string{"state"}, // total|idle|in_use
	)

	legacyReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_legacy_reconciled_total",
			Help: "Records hydrated from the legacy document store into the relational store.",
		},
	)

	mirrorQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_mirror_queue_dropped_total",
			Help: "Best-effort legacy mirror writes dropped because the queue was saturated.",
		},
	)

	staleVersionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_stale_version_retries_total",
			Help: "Updates that hit a stale-version conflict and were retried as an insert.",
		},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncLegacyReconciled() {
	legacyReconciledTotal.Inc()
}

func IncMirrorQueueDropped() {
	mirrorQueueDroppedTotal.Inc()
}

func IncStaleVersionRetry() {
	staleVersionRetriesTotal.Inc()
}
