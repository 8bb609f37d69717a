package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		actorsResident,
		jobsCompletedTotal,
		jobCostCappedTotal,
		grantsAppliedTotal,
		expirationsAppliedTotal,
	)
}

var (
	actorsResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_actors_resident",
			Help: "Number of per-user actors currently resident on this node.",
		},
	)

	jobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_jobs_completed_total",
			Help: "Completed jobs processed by the actor layer, labeled by job type and outcome.",
		},
		[]string{"type", "outcome"}, // outcome: charged|uncharged|insufficient|rejected
	)

	jobCostCappedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_job_cost_capped_total",
			Help: "Count of job completions whose cost was reduced by the per-type cap.",
		},
		[]string{"type"},
	)

	grantsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_grants_applied_total",
			Help: "Grants applied to a user's balance, labeled by bucket.",
		},
		[]string{"bucket"}, // trial|permanent|expiring
	)

	expirationsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_expirations_applied_total",
			Help: "Number of actor expiration sweeps that removed at least one stale tranche.",
		},
	)
)

func SetActorsResident(n int) {
	actorsResident.Set(float64(n))
}

func IncJobCompleted(jobType, outcome string) {
	jobsCompletedTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
}

func IncJobCostCapped(jobType string) {
	jobCostCappedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncGrantApplied(bucket string) {
	grantsAppliedTotal.WithLabelValues(norm(bucket)).Inc()
}

func IncExpirationApplied() {
	expirationsAppliedTotal.Inc()
}
