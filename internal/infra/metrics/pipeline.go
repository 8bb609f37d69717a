package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		messagesProcessedTotal,
		idempotencyReplaysTotal,
		processorLatencyMs,
	)
}

var (
	messagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_messages_processed_total",
			Help: "Bus messages processed, labeled by topic and result.",
		},
		[]string{"topic", "result"}, // result: acked|nacked|dropped|ignored
	)

	idempotencyReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_idempotency_replays_total",
			Help: "Messages skipped because their idempotency key was already claimed.",
		},
	)

	processorLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_processor_latency_ms",
			Help:    "Time spent inside a topic handler, in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"topic"},
	)
)

func IncMessageProcessed(topic, result string) {
	messagesProcessedTotal.WithLabelValues(norm(topic), norm(result)).Inc()
}

func IncIdempotencyReplay() {
	idempotencyReplaysTotal.Inc()
}

func ObserveProcessorLatency(topic string, ms float64) {
	processorLatencyMs.WithLabelValues(norm(topic)).Observe(ms)
}
