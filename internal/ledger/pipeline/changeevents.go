package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
)

// ChangePublisher emits an optional outbound change event after every
// successful mutation, so downstream consumers (analytics, support
// tooling) can observe balance changes without reading the relational
// store directly. Disabled by leaving Stream empty.
type ChangePublisher struct {
	client *redis.Client
	stream string
	log    zerolog.Logger
}

func NewChangePublisher(client *redis.Client, stream string, log zerolog.Logger) *ChangePublisher {
	return &ChangePublisher{client: client, stream: stream, log: log}
}

func (c *ChangePublisher) Publish(ctx context.Context, state model.UserCredits, reason string) {
	if c == nil || c.stream == "" {
		return
	}
	values := map[string]interface{}{
		"event_id":  ulid.Make().String(),
		"user_id":   string(state.UserID),
		"trial":     strconv.FormatInt(state.Trial, 10),
		"permanent": strconv.FormatInt(state.Permanent, 10),
		"total":     strconv.FormatInt(state.Total(), 10),
		"reason":    reason,
		"emitted_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.stream, Values: values}).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", string(state.UserID)).Msg("pipeline: change event publish failed")
	}
}
