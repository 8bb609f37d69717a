package cluster

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/ledger/actor"
)

type fakeLocalActor struct {
	state model.UserCredits
}

func (f *fakeLocalActor) GetCredits(context.Context, model.UserID) (model.UserCredits, error) {
	return f.state, nil
}

func (f *fakeLocalActor) Grant(_ context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error) {
	f.state.UserID = userID
	f.state.Trial += grant.Trial
	f.state.Permanent += grant.Permanent
	return f.state, nil
}

func (f *fakeLocalActor) CompleteJob(context.Context, actor.CompleteJobInput) (model.UserCredits, error) {
	return f.state, nil
}

func (f *fakeLocalActor) Conflict(model.UserID) {}

func TestRouter_DispatchesLocallyWhenOwnerIsSelf(t *testing.T) {
	ring := NewRing(10)
	ring.SetNodes([]string{"self"})
	local := &fakeLocalActor{}
	r := NewRouter("self", ring, local, zerolog.Nop())

	got, err := r.Grant(context.Background(), "u1", model.GrantMap{Trial: 5})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if got.Trial != 5 {
		t.Fatalf("expected local dispatch to apply grant, got %+v", got)
	}
}

func TestRouter_ForwardsToRemoteOwner(t *testing.T) {
	remoteLocal := &fakeLocalActor{}
	remoteRing := NewRing(10)
	remoteRing.SetNodes([]string{"remote"})

	mux := chi.NewRouter()
	NewHandler(remoteLocal, zerolog.Nop()).Mount(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remoteAddr := strings.TrimPrefix(srv.URL, "http://")

	clientRing := NewRing(10)
	clientRing.SetNodes([]string{remoteAddr})
	clientRouter := NewRouter("self-node-that-owns-nothing", clientRing, &fakeLocalActor{}, zerolog.Nop())

	got, err := clientRouter.Grant(context.Background(), "u1", model.GrantMap{Permanent: 9})
	if err != nil {
		t.Fatalf("forward grant: %v", err)
	}
	if got.Permanent != 9 {
		t.Fatalf("expected forwarded grant to apply remotely, got %+v", got)
	}
}
