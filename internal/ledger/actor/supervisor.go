package actor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
)

// Supervisor owns the directory of live per-user actors, spawning one on
// first reference and deregistering it once its goroutine exits (idle
// timeout, conflict loss, or process shutdown). Grounded on the
// teacher's internal/infra/worker.Pool lifecycle (Start/Submit/Stop),
// specialized from "N fixed workers sharing one job queue" to "one
// worker per user_id, created lazily."
type Supervisor struct {
	persister Persister
	cfg       Config
	log       zerolog.Logger

	mu        sync.Mutex
	mailboxes map[model.UserID]*Mailbox
}

func NewSupervisor(persister Persister, cfg Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		persister: persister,
		cfg:       cfg,
		log:       log,
		mailboxes: make(map[model.UserID]*Mailbox),
	}
}

// Get returns the live mailbox for userID, spawning an actor if none is
// currently running. Safe for concurrent use.
func (s *Supervisor) Get(userID model.UserID) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mb, ok := s.mailboxes[userID]; ok {
		return mb
	}
	mb := spawn(userID, s.persister, s.cfg, s.log, s.deregister)
	s.mailboxes[userID] = mb
	metrics.SetActorsResident(len(s.mailboxes))
	return mb
}

// Conflict signals the live actor for userID, if any, that it lost a
// cluster name-conflict and must terminate without a final write. A
// no-op if the actor isn't running locally.
func (s *Supervisor) Conflict(userID model.UserID) {
	s.mu.Lock()
	mb, ok := s.mailboxes[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case mb.requests <- request{op: opConflictSignal}:
	default:
	}
}

func (s *Supervisor) deregister(userID model.UserID) {
	s.mu.Lock()
	delete(s.mailboxes, userID)
	n := len(s.mailboxes)
	s.mu.Unlock()
	metrics.SetActorsResident(n)
}

// Count reports the number of actors currently resident on this node.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mailboxes)
}

// GetCredits, Grant, and CompleteJob are convenience pass-throughs so
// callers outside this package never need to hold onto a *Mailbox
// directly; they route through the supervisor by user_id instead.

func (s *Supervisor) GetCredits(ctx context.Context, userID model.UserID) (model.UserCredits, error) {
	return s.Get(userID).GetCredits(ctx)
}

func (s *Supervisor) Grant(ctx context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error) {
	return s.Get(userID).Grant(ctx, grant)
}

func (s *Supervisor) CompleteJob(ctx context.Context, job CompleteJobInput) (model.UserCredits, error) {
	return s.Get(job.UserID).CompleteJob(ctx, job)
}
