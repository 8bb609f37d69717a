package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/infra/logging"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// Handler processes one decoded message for a topic and returns an
// error classified by ledgererr.Classify to decide ack vs nack.
type Handler func(ctx context.Context, msg Message) error

// Processor is a bounded worker pool pulling from a Producer and
// dispatching by topic, specialized from the teacher's fixed-worker
// internal/infra/worker.Pool (ticker-driven Start loop feeding
// pool.Submit) down to a poll loop feeding a topic-routed handler
// table, per spec §4.4.
type Processor struct {
	producer *Producer
	handlers map[string]Handler
	workers  int
	pollEvery time.Duration
	batchSize int64
	log      zerolog.Logger

	jobs chan Message
	wg   sync.WaitGroup
}

type ProcessorConfig struct {
	Workers   int
	PollEvery time.Duration
	BatchSize int64
}

func NewProcessor(producer *Producer, cfg ProcessorConfig, log zerolog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Processor{
		producer:  producer,
		handlers:  make(map[string]Handler),
		workers:   cfg.Workers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		log:       log,
		jobs:      make(chan Message, cfg.Workers*4),
	}
}

// On registers the handler responsible for a topic. Must be called
// before Start.
func (p *Processor) On(topic string, h Handler) {
	p.handlers[topic] = h
}

// Start launches the poll loop and the worker pool, returning once ctx
// is cancelled and every in-flight job has drained.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(p.jobs)
			p.wg.Wait()
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Processor) pollOnce(ctx context.Context) {
	msgs, err := p.producer.Pull(ctx, p.batchSize, 0)
	if err != nil {
		p.log.Warn().Err(err).Msg("pipeline: pull failed")
		return
	}
	for _, m := range msgs {
		select {
		case p.jobs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for msg := range p.jobs {
		p.handle(ctx, msg)
	}
	_ = id
}

// handle puts a per-message trace id into ctx (logging.WithTraceID)
// before dispatching to the topic handler. The id lives only in ctx:
// cluster.Router does not send it to a remote node, and the loggers of
// this package, the router and the actor do not read it.
func (p *Processor) handle(ctx context.Context, msg Message) {
	ctx = logging.WithTraceID(ctx, ulid.Make().String())

	handler, ok := p.handlers[msg.Topic]
	if !ok {
		// spec §4.4 step 3: other topics are acked and ignored, not
		// redelivered -- there is no handler that will ever claim them.
		p.log.Debug().Str("topic", msg.Topic).Str("id", msg.ID).Msg("pipeline: no handler registered for topic, acking to ignore")
		if err := p.producer.Ack(ctx, msg.ID); err != nil {
			p.log.Error().Err(err).Str("id", msg.ID).Msg("pipeline: ack failed")
		}
		metrics.IncMessageProcessed(msg.Topic, "ignored")
		return
	}

	start := time.Now()
	err := handler(ctx, msg)
	metrics.ObserveProcessorLatency(msg.Topic, float64(time.Since(start).Milliseconds()))

	if err == nil {
		if ackErr := p.producer.Ack(ctx, msg.ID); ackErr != nil {
			p.log.Error().Err(ackErr).Str("id", msg.ID).Msg("pipeline: ack failed")
		}
		metrics.IncMessageProcessed(msg.Topic, "acked")
		return
	}

	switch ledgererr.Classify(err) {
	case ledgererr.CategoryTerminalMessage:
		p.log.Error().Err(err).Str("id", msg.ID).Msg("pipeline: terminal message error, acking to drop")
		_ = p.producer.Ack(ctx, msg.ID)
		metrics.IncMessageProcessed(msg.Topic, "dropped")
	default:
		p.log.Warn().Err(err).Str("id", msg.ID).Msg("pipeline: transient processing error, leaving unacked for redelivery")
		_ = p.producer.Nack(ctx, msg.ID)
		metrics.IncMessageProcessed(msg.Topic, "nacked")
	}
}

// DecodeError is returned by topic handlers when a message body cannot
// be parsed into the expected shape; Classify maps it to a terminal
// ack-and-drop instead of a redelivery loop.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pipeline: decode %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
