package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		ringNodes,
		routingForwardedTotal,
		routingConflictsTotal,
	)
}

var (
	ringNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_ring_nodes",
			Help: "Number of nodes currently present in the consistent-hash ring.",
		},
	)

	routingForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_routing_forwarded_total",
			Help: "Requests forwarded to a remote node, labeled by outcome.",
		},
		[]string{"outcome"}, // ok|timeout|error
	)

	routingConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_routing_conflicts_total",
			Help: "Name-conflict resolutions observed by this node.",
		},
	)
)

func SetRingNodes(n int) {
	ringNodes.Set(float64(n))
}

func IncRoutingForwarded(outcome string) {
	routingForwardedTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncRoutingConflict() {
	routingConflictsTotal.Inc()
}
