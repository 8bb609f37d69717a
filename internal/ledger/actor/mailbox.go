// Package actor implements the per-user actor from spec §4.2: one
// single-threaded-per-user worker holding the cached balance, scheduling
// expiration timers, and serializing every mutation. Built as a sharded
// map of user_id -> mailbox channel, one goroutine per live actor,
// specializing the teacher's fixed-size worker pool
// (internal/infra/worker.Pool) down to exactly one worker per key, per
// the design note in spec §9.
package actor

import (
	"context"
	"time"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

type opKind int

const (
	opGet opKind = iota
	opGrant
	opCompleteJob
	opConflictSignal
)

// CompleteJobInput is the decoded body of a jobs.complete message.
type CompleteJobInput struct {
	JobID         string
	UserID        model.UserID
	Type          string
	ChargeCredits bool
	Cost          int64
}

type request struct {
	op    opKind
	grant model.GrantMap
	job   CompleteJobInput
	reply chan response
}

type response struct {
	state model.UserCredits
	err   error
}

// Mailbox is the external handle other goroutines use to talk to one
// user's actor. It is safe for concurrent use by many callers; every
// request still serializes inside the actor's single goroutine.
type Mailbox struct {
	requests chan request
}

// send delivers a request and waits for either a reply or ctx
// cancellation. An exited actor never closes its requests channel;
// instead the supervisor removes the stale Mailbox from its directory so
// the next Get spawns a fresh actor. A send racing a torn-down actor
// gives up when ctx ends, or after defaultRequestTimeout when ctx has no
// deadline, instead of blocking forever.
func (m *Mailbox) send(ctx context.Context, req request) (model.UserCredits, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return model.UserCredits{}, ledgererr.ErrRoutingTimeout
	}

	select {
	case resp := <-req.reply:
		return resp.state, resp.err
	case <-ctx.Done():
		return model.UserCredits{}, ledgererr.ErrRoutingTimeout
	}
}

// GetCredits is the synchronous, read-only operation from spec §4.2.
func (m *Mailbox) GetCredits(ctx context.Context) (model.UserCredits, error) {
	return m.send(ctx, request{op: opGet, reply: make(chan response, 1)})
}

// Grant is synchronous and awaits persistence, per spec §4.2.
func (m *Mailbox) Grant(ctx context.Context, grant model.GrantMap) (model.UserCredits, error) {
	return m.send(ctx, request{op: opGrant, grant: grant, reply: make(chan response, 1)})
}

// CompleteJob is fire-and-forget at the bus level, but the caller here
// still blocks until persistence completes, since the pipeline only acks
// after that happens (spec §4.2 contract 2).
func (m *Mailbox) CompleteJob(ctx context.Context, job CompleteJobInput) (model.UserCredits, error) {
	return m.send(ctx, request{op: opCompleteJob, job: job, reply: make(chan response, 1)})
}

// defaultRequestTimeout bounds how long a send waits when the caller's
// context has no deadline.
const defaultRequestTimeout = 5 * time.Second
