package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Message is one unit of delivery from the bus: a stream entry id (for
// acking) and its decoded field map.
type Message struct {
	ID     string
	Topic  string
	Fields map[string]interface{}
}

// Producer pulls messages off a Redis Streams consumer group with
// at-least-once semantics: XREADGROUP delivers, the caller acks via Ack
// after successful processing, and anything left unacked past
// claimAfter is reclaimed by XAUTOCLAIM and redelivered. Grounded on the
// teacher's Redis client wrapper (internal/infra/redis/redis_client.go)
// generalized from cache/lock operations to stream consumption; the
// at-least-once contract itself is grounded on the producer/processor
// split spec §4.4 specifies.
type Producer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	claimAfter time.Duration
	log      zerolog.Logger
}

type ProducerConfig struct {
	Stream     string
	Group      string
	Consumer   string
	ClaimAfter time.Duration
}

func NewProducer(client *redis.Client, cfg ProducerConfig, log zerolog.Logger) *Producer {
	if cfg.ClaimAfter <= 0 {
		cfg.ClaimAfter = 30 * time.Second
	}
	return &Producer{
		client:     client,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		claimAfter: cfg.ClaimAfter,
		log:        log,
	}
}

// EnsureGroup creates the consumer group starting at the beginning of
// the stream if it doesn't already exist.
func (p *Producer) EnsureGroup(ctx context.Context) error {
	err := p.client.XGroupCreateMkStream(ctx, p.stream, p.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Pull blocks up to block waiting for new messages, first attempting to
// reclaim any entries idle longer than claimAfter (redelivery for
// consumers that crashed mid-processing), then reading fresh entries.
func (p *Producer) Pull(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	if reclaimed, err := p.reclaim(ctx, count); err != nil {
		p.log.Warn().Err(err).Msg("pipeline: claim-stale-entries failed")
	} else if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	res, err := p.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    p.group,
		Consumer: p.consumer,
		Streams:  []string{p.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return flatten(res), nil
}

func (p *Producer) reclaim(ctx context.Context, count int64) ([]Message, error) {
	msgs, _, err := p.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   p.stream,
		Group:    p.group,
		Consumer: p.consumer,
		MinIdle:  p.claimAfter,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{ID: m.ID, Topic: p.stream, Fields: m.Values})
	}
	return out, nil
}

func flatten(streams []redis.XStream) []Message {
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, Message{ID: m.ID, Topic: s.Stream, Fields: m.Values})
		}
	}
	return out
}

// Ack acknowledges successful processing, removing the entry from the
// group's pending-entries list.
func (p *Producer) Ack(ctx context.Context, id string) error {
	return p.client.XAck(ctx, p.stream, p.group, id).Err()
}

// Nack is a no-op: leaving the entry unacked is what lets reclaim()
// redeliver it once claimAfter elapses. Kept as an explicit method so
// call sites document intent instead of silently dropping the error.
func (p *Producer) Nack(context.Context, string) error {
	return nil
}
