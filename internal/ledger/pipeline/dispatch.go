package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/actor"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

const (
	TopicEntitlementCredits = "entitlements.credits"
	TopicJobComplete        = "jobs.complete"
)

// Dispatcher is the actor-facing surface the pipeline mutates through --
// satisfied by both *actor.Supervisor (single-node) and *cluster.Router
// (clustered), so the pipeline never needs to know which one it's
// wired to.
type Dispatcher interface {
	Grant(ctx context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error)
	CompleteJob(ctx context.Context, job actor.CompleteJobInput) (model.UserCredits, error)
}

// Router wires the two topic handlers spec §4.4 requires onto a
// Processor, converting entitlement messages into grants and
// jobs.complete messages into actor CompleteJob calls, guarded by an
// optional idempotency claim and followed by an optional change-event
// publish.
type Router struct {
	dispatcher Dispatcher
	guard      *IdempotencyGuard // nil disables idempotency checking
	publisher  *ChangePublisher  // nil disables change events
}

func NewRouter(dispatcher Dispatcher, guard *IdempotencyGuard, publisher *ChangePublisher) *Router {
	return &Router{dispatcher: dispatcher, guard: guard, publisher: publisher}
}

// Register attaches this router's handlers to a Processor.
func (r *Router) Register(p *Processor) {
	p.On(TopicEntitlementCredits, r.handleEntitlement)
	p.On(TopicJobComplete, r.handleJobComplete)
}

func (r *Router) handleEntitlement(ctx context.Context, msg Message) error {
	userID, entitlementsRaw, idempotencyKey, err := decodeEntitlementMessage(msg)
	if err != nil {
		return &DecodeError{Topic: msg.Topic, Err: err}
	}

	if r.guard != nil {
		fresh, err := r.guard.Claim(ctx, idempotencyKey, string(userID))
		if err != nil {
			return fmt.Errorf("idempotency claim: %w", ledgererr.ErrPersistenceFailed)
		}
		if !fresh {
			metrics.IncIdempotencyReplay()
			return nil // replay: already applied, ack without re-granting
		}
	}

	entitlements, err := DecodeEntitlements(entitlementsRaw)
	if err != nil {
		return &DecodeError{Topic: msg.Topic, Err: fmt.Errorf("%w: %v", ledgererr.ErrMalformedMessage, err)}
	}

	grant := ToGrant(entitlements, userID, time.Now().UTC())

	state, err := r.dispatcher.Grant(ctx, userID, grant)
	if err != nil {
		return err
	}
	r.publisher.Publish(ctx, state, "entitlement_granted")
	return nil
}

func (r *Router) handleJobComplete(ctx context.Context, msg Message) error {
	job, err := decodeJobComplete(msg)
	if err != nil {
		return &DecodeError{Topic: msg.Topic, Err: err}
	}

	state, err := r.dispatcher.CompleteJob(ctx, job)
	if err != nil {
		return err
	}
	r.publisher.Publish(ctx, state, "job_completed")
	return nil
}

// decodeEntitlementMessage extracts the fields spec §6 requires for an
// entitlements.credits message: user_id and the JSON-encoded
// entitlements list (each Redis Streams field is a flat string, so the
// list travels as a single JSON-array-valued field).
func decodeEntitlementMessage(msg Message) (model.UserID, string, string, error) {
	userID, ok := msg.Fields["user_id"].(string)
	if !ok || userID == "" {
		return "", "", "", ledgererr.ErrMissingUserID
	}

	entitlementsRaw := stringField(msg.Fields, "entitlements")
	if entitlementsRaw == "" {
		return "", "", "", ledgererr.ErrMalformedMessage
	}

	return model.UserID(userID), entitlementsRaw, stringField(msg.Fields, "idempotency_key"), nil
}

func decodeJobComplete(msg Message) (actor.CompleteJobInput, error) {
	userID := stringField(msg.Fields, "user_id")
	if userID == "" {
		return actor.CompleteJobInput{}, ledgererr.ErrMissingUserID
	}

	charge := stringField(msg.Fields, "charge_credits") == "true"
	cost, err := int64Field(msg.Fields, "cost")
	if err != nil {
		return actor.CompleteJobInput{}, ledgererr.ErrMalformedMessage
	}

	return actor.CompleteJobInput{
		JobID:         stringField(msg.Fields, "job_id"),
		UserID:        model.UserID(userID),
		Type:          stringField(msg.Fields, "type"),
		ChargeCredits: charge,
		Cost:          cost,
	}, nil
}

func stringField(fields map[string]interface{}, key string) string {
	v, _ := fields[key].(string)
	return v
}

func int64Field(fields map[string]interface{}, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return 0, nil
		}
		return strconv.ParseInt(v, 10, 64)
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected type for field %q", key)
	}
}
