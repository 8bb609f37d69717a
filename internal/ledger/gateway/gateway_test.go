package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// fakeRelational is an in-memory RelationalStore used to test Gateway's
// fetch/reconcile/update orchestration without a real database.
type fakeRelational struct {
	rows map[model.UserID]model.UserCredits
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{rows: map[model.UserID]model.UserCredits{}}
}

func (f *fakeRelational) Fetch(_ context.Context, userID model.UserID) (model.UserCredits, bool, error) {
	s, ok := f.rows[userID]
	return s, ok, nil
}

func (f *fakeRelational) Upsert(_ context.Context, state model.UserCredits) (model.UserCredits, error) {
	if _, ok := f.rows[state.UserID]; !ok {
		return model.UserCredits{}, ledgererr.ErrStaleVersion
	}
	f.rows[state.UserID] = state
	return state, nil
}

func (f *fakeRelational) Insert(_ context.Context, state model.UserCredits) (model.UserCredits, error) {
	f.rows[state.UserID] = state
	return state, nil
}

func (f *fakeRelational) InsertIfAbsent(_ context.Context, state model.UserCredits) error {
	if _, ok := f.rows[state.UserID]; ok {
		return nil
	}
	f.rows[state.UserID] = state
	return nil
}

type fakeLegacy struct {
	rows map[model.UserID]model.UserCredits
}

func (f *fakeLegacy) Fetch(_ context.Context, userID model.UserID) (model.UserCredits, bool, error) {
	s, ok := f.rows[userID]
	return s, ok, nil
}

func (f *fakeLegacy) MirrorUpdate(_ context.Context, state model.UserCredits) error {
	f.rows[state.UserID] = state
	return nil
}

func TestGateway_FetchZeroBalanceOnDoubleMiss(t *testing.T) {
	rel := newFakeRelational()
	g := New(rel, zerolog.Nop())
	got, err := g.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Trial != 0 || got.Permanent != 0 || len(got.Expiring) != 0 {
		t.Fatalf("expected zero balance, got %+v", got)
	}
	if _, ok := rel.rows["u1"]; ok {
		t.Fatalf("double-miss must not insert")
	}
}

func TestGateway_FetchReconcilesFromLegacy(t *testing.T) {
	rel := newFakeRelational()
	leg := &fakeLegacy{rows: map[model.UserID]model.UserCredits{
		"u1": {UserID: "u1", Trial: 500, Permanent: 10},
	}}
	g := New(rel, zerolog.Nop(), WithLegacyStore(leg, 4))
	defer g.Close()

	got, err := g.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Trial != 500 || got.Permanent != 10 {
		t.Fatalf("unexpected reconciled state: %+v", got)
	}
	if _, ok := rel.rows["u1"]; !ok {
		t.Fatalf("expected relational store to be reconciled")
	}
}

// Property 7: round-trip through persistence.
func TestGateway_RoundTrip(t *testing.T) {
	rel := newFakeRelational()
	g := New(rel, zerolog.Nop())
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0).UTC()
	state := model.UserCredits{
		UserID:    "u1",
		Trial:     42,
		Permanent: 7,
		Expiring: []model.ExpiringCredit{
			{UserID: "u1", Initial: 100, Amount: 30, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)},
		},
	}

	if _, err := g.Update(ctx, state); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := g.Fetch(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Trial != state.Trial || got.Permanent != state.Permanent {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, state)
	}
	if len(got.Expiring) != 1 || got.Expiring[0].Amount != 30 {
		t.Fatalf("round trip expiring mismatch: %+v", got.Expiring)
	}
}

func TestGateway_UpdateRetriesAsInsertOnStaleVersion(t *testing.T) {
	rel := newFakeRelational() // empty: first Upsert always misses -> ErrStaleVersion
	g := New(rel, zerolog.Nop())

	state := model.UserCredits{UserID: "u2", Trial: 10}
	got, err := g.Update(context.Background(), state)
	if err != nil {
		t.Fatalf("expected retry-as-insert to succeed, got %v", err)
	}
	if got.Trial != 10 {
		t.Fatalf("unexpected state: %+v", got)
	}
}
