package actor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/arithmetic"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// Persister is the subset of the gateway the actor depends on. Kept as a
// narrow interface so tests can fake it without standing up Postgres.
type Persister interface {
	Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, error)
	Update(ctx context.Context, state model.UserCredits) (model.UserCredits, error)
}

// Caps resolves the millisecond ceiling for a job type. Default is
// 300_000ms per spec §4.2 unless overridden by configuration.
type Caps struct {
	ByType  map[string]int64
	Default int64
}

func (c Caps) capFor(jobType string) int64 {
	if c.ByType != nil {
		if v, ok := c.ByType[jobType]; ok {
			return v
		}
	}
	if c.Default > 0 {
		return c.Default
	}
	return 300_000
}

// Config bundles the per-actor tunables the supervisor passes down.
type Config struct {
	IdleTimeout time.Duration
	Caps        Caps
	Now         func() time.Time // injectable for tests
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// actor is the internal, single-goroutine worker. Mailbox is the handle
// external callers hold; actor is never referenced outside this package.
type actor struct {
	userID    model.UserID
	persister Persister
	cfg       Config
	log       zerolog.Logger

	mailbox   chan request
	stopped   chan struct{}
	onStopped func(model.UserID) // supervisor callback to deregister

	state          model.UserCredits
	nextExpiration time.Time
	hasTimer       bool
	timer          *time.Timer
}

func spawn(userID model.UserID, persister Persister, cfg Config, log zerolog.Logger, onStopped func(model.UserID)) *Mailbox {
	a := &actor{
		userID:    userID,
		persister: persister,
		cfg:       cfg,
		log:       log.With().Str("user_id", string(userID)).Logger(),
		mailbox:   make(chan request, 16),
		stopped:   make(chan struct{}),
		onStopped: onStopped,
	}
	go a.run()
	return &Mailbox{requests: a.mailbox}
}

func (a *actor) run() {
	defer a.shutdown()

	ctx := context.Background()
	state, err := a.persister.Fetch(ctx, a.userID)
	if err != nil {
		a.log.Error().Err(err).Msg("actor: initial fetch failed, starting from zero balance")
		state = model.ZeroBalance(a.userID)
	}
	a.state = state
	a.rescheduleExpiration()

	idle := time.NewTimer(a.idleTimeout())
	defer idle.Stop()

	for {
		var timerC <-chan time.Time
		if a.timer != nil {
			timerC = a.timer.C
		}

		select {
		case <-timerC:
			a.handleExpire(ctx)
			a.resetIdle(idle)

		case <-idle.C:
			a.log.Debug().Msg("actor: idle timeout reached, terminating")
			return

		case req, ok := <-a.mailbox:
			if !ok {
				return
			}
			if req.op == opConflictSignal {
				a.log.Warn().Msg("actor: lost cluster name-conflict resolution, terminating without writing")
				return
			}
			a.resetIdle(idle)
			a.handleRequest(ctx, req)
		}
	}
}

func (a *actor) idleTimeout() time.Duration {
	if a.cfg.IdleTimeout > 0 {
		return a.cfg.IdleTimeout
	}
	return time.Hour
}

func (a *actor) resetIdle(idle *time.Timer) {
	if !idle.Stop() {
		select {
		case <-idle.C:
		default:
		}
	}
	idle.Reset(a.idleTimeout())
}

func (a *actor) shutdown() {
	if a.timer != nil {
		a.timer.Stop()
	}
	close(a.stopped)
	if a.onStopped != nil {
		a.onStopped(a.userID)
	}
}

func (a *actor) handleRequest(ctx context.Context, req request) {
	switch req.op {
	case opGet:
		req.reply <- response{state: a.state}

	case opGrant:
		newState := arithmetic.Grant(a.state, req.grant)
		if err := a.persistAndApply(ctx, newState); err != nil {
			req.reply <- response{err: err}
			return
		}
		recordGrantMetrics(req.grant)
		req.reply <- response{state: a.state}

	case opCompleteJob:
		state, err := a.completeJob(ctx, req.job)
		req.reply <- response{state: state, err: err}
	}
}

// completeJob implements spec §4.2 contract 6.
func (a *actor) completeJob(ctx context.Context, job CompleteJobInput) (model.UserCredits, error) {
	if job.UserID != a.userID {
		a.log.Warn().Str("job_id", job.JobID).Str("job_user_id", string(job.UserID)).Msg("completeJob: user mismatch, dropping")
		metrics.IncJobCompleted(job.Type, "rejected")
		return a.state, ledgererr.ErrUserMismatch
	}
	if !job.ChargeCredits {
		metrics.IncJobCompleted(job.Type, "uncharged")
		return a.state, nil
	}

	cap := a.cfg.Caps.capFor(job.Type)
	cost := job.Cost
	capped := cost
	if capped > cap {
		capped = cap
	}
	if cost > capped {
		metrics.IncJobCostCapped(job.Type)
		a.log.Warn().Str("job_id", job.JobID).Int64("cost", cost).Int64("capped", capped).Msg("completeJob: cost capped by job type ceiling")
	}

	newState, remainder, changed := arithmetic.Deduct(a.state, capped)
	if !changed {
		metrics.IncJobCompleted(job.Type, "uncharged")
		return a.state, nil
	}
	outcome := "charged"
	if remainder > 0 {
		outcome = "insufficient"
		a.log.Warn().Str("job_id", job.JobID).Int64("remainder", remainder).Msg("completeJob: insufficient balance, charging partial amount")
	}

	if err := a.persistAndApply(ctx, newState); err != nil {
		return a.state, err
	}
	metrics.IncJobCompleted(job.Type, outcome)
	return a.state, nil
}

func recordGrantMetrics(grant model.GrantMap) {
	if grant.Trial != 0 {
		metrics.IncGrantApplied("trial")
	}
	if grant.Permanent != 0 {
		metrics.IncGrantApplied("permanent")
	}
	if len(grant.Expiring) > 0 {
		metrics.IncGrantApplied("expiring")
	}
}

// handleExpire implements spec §4.2 contract 4.
func (a *actor) handleExpire(ctx context.Context) {
	newState, changed := arithmetic.Expire(a.state, a.cfg.now(), false)
	if !changed {
		a.rescheduleExpiration()
		return
	}
	if err := a.persistAndApply(ctx, newState); err != nil {
		a.log.Error().Err(err).Msg("actor: expire write-through failed, will retry on next activity")
		// The fired timer is spent; let the next reschedule arm a new one.
		a.hasTimer = false
		return
	}
	metrics.IncExpirationApplied()
}

// persistAndApply implements spec §4.2 contract 2: apply arithmetic
// already done by the caller, write through, then update the in-memory
// cache and reschedule. On failure the cache is left untouched.
func (a *actor) persistAndApply(ctx context.Context, newState model.UserCredits) error {
	saved, err := a.persister.Update(ctx, newState)
	if err != nil {
		return ledgererr.ErrPersistenceFailed
	}
	a.state = saved
	a.rescheduleExpiration()
	return nil
}

// rescheduleExpiration implements spec §4.2 contract 3.
func (a *actor) rescheduleExpiration() {
	if len(a.state.Expiring) == 0 {
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
			a.hasTimer = false
		}
		return
	}

	next := a.state.Expiring[0].ExpiresAt
	if a.hasTimer && next.Equal(a.nextExpiration) {
		return
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	delay := next.Sub(a.cfg.now())
	if delay < 0 {
		delay = 0
	}
	a.timer = time.NewTimer(delay)
	a.nextExpiration = next
	a.hasTimer = true
}
