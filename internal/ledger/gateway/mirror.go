package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
)

// mirrorQueue drains best-effort writes to the legacy store off the hot
// path. Grounded on the writeQueue/background-worker idiom in the
// consonant-engine ledger package: the relational store is authoritative,
// so a mirror failure is logged and retried a bounded number of times,
// never surfaced to the caller.
//
// Open question (spec §9) resolved: asynchronous with a bounded retry
// queue, trading a window of relational/legacy disagreement for actor
// latency, acceptable because relational is authoritative.
type mirrorQueue struct {
	store   LegacyStore
	jobs    chan model.UserCredits
	done    chan struct{}
	log     zerolog.Logger
	retries int
}

func newMirrorQueue(store LegacyStore, depth int, log zerolog.Logger) *mirrorQueue {
	if depth <= 0 {
		depth = 256
	}
	q := &mirrorQueue{
		store:   store,
		jobs:    make(chan model.UserCredits, depth),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "gateway.mirror").Logger(),
		retries: 3,
	}
	go q.run()
	return q
}

func (q *mirrorQueue) enqueue(state model.UserCredits) {
	select {
	case q.jobs <- state:
	default:
		metrics.IncMirrorQueueDropped()
		q.log.Warn().Str("user_id", string(state.UserID)).Msg("mirror queue saturated, dropping write")
	}
}

func (q *mirrorQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case state := <-q.jobs:
			q.writeWithRetry(state)
		}
	}
}

func (q *mirrorQueue) writeWithRetry(state model.UserCredits) {
	backoff := 50 * time.Millisecond
	for attempt := 1; attempt <= q.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := q.store.MirrorUpdate(ctx, state)
		cancel()
		if err == nil {
			return
		}
		q.log.Warn().Err(err).Str("user_id", string(state.UserID)).Int("attempt", attempt).Msg("legacy mirror write failed")
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (q *mirrorQueue) stop() {
	close(q.done)
}
