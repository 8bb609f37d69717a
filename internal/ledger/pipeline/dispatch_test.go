package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/ledger/actor"
	"telegram-ai-subscription/internal/ledger/arithmetic"
)

type fakeDispatcher struct {
	states map[model.UserID]model.UserCredits
	calls  int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{states: map[model.UserID]model.UserCredits{}}
}

func (f *fakeDispatcher) Grant(_ context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error) {
	f.calls++
	cur, ok := f.states[userID]
	if !ok {
		cur = model.ZeroBalance(userID)
	}
	next := arithmetic.Grant(cur, grant)
	f.states[userID] = next
	return next, nil
}

func (f *fakeDispatcher) CompleteJob(_ context.Context, job actor.CompleteJobInput) (model.UserCredits, error) {
	f.calls++
	cur := f.states[job.UserID]
	next, _, _ := arithmetic.Deduct(cur, job.Cost)
	f.states[job.UserID] = next
	return next, nil
}

func TestRouter_HandleEntitlement_AppliesGrant(t *testing.T) {
	d := newFakeDispatcher()
	r := NewRouter(d, nil, nil)

	msg := Message{Topic: TopicEntitlementCredits, Fields: map[string]interface{}{
		"user_id":      "u1",
		"entitlements": `[{"kind":"credits","bucket":"permanent","amount":{"seconds":25}}]`,
	}}
	err := r.handleEntitlement(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), d.states["u1"].Permanent)
}

func TestRouter_HandleEntitlement_MissingUserIDIsDecodeError(t *testing.T) {
	d := newFakeDispatcher()
	r := NewRouter(d, nil, nil)

	msg := Message{Topic: TopicEntitlementCredits, Fields: map[string]interface{}{
		"entitlements": `[{"kind":"credits","bucket":"trial","amount":{"seconds":5}}]`,
	}}
	err := r.handleEntitlement(context.Background(), msg)
	require.Error(t, err)

	var de *DecodeError
	require.True(t, asDecodeError(err, &de), "expected *DecodeError, got %T: %v", err, err)
}

func TestRouter_HandleEntitlement_MalformedEntitlementsListIsDecodeError(t *testing.T) {
	d := newFakeDispatcher()
	r := NewRouter(d, nil, nil)

	msg := Message{Topic: TopicEntitlementCredits, Fields: map[string]interface{}{
		"user_id":      "u1",
		"entitlements": `not json`,
	}}
	err := r.handleEntitlement(context.Background(), msg)
	require.Error(t, err)

	var de *DecodeError
	require.True(t, asDecodeError(err, &de), "expected *DecodeError, got %T: %v", err, err)
}

func TestRouter_HandleJobComplete_DeductsCost(t *testing.T) {
	d := newFakeDispatcher()
	d.states["u1"] = model.UserCredits{UserID: "u1", Permanent: 100}
	r := NewRouter(d, nil, nil)

	msg := Message{Topic: TopicJobComplete, Fields: map[string]interface{}{
		"job_id": "j1", "user_id": "u1", "type": "chat", "charge_credits": "true", "cost": "30",
	}}
	err := r.handleJobComplete(context.Background(), msg)
	require.NoError(t, err)
	if d.states["u1"].Permanent != 70 {
		t.Fatalf("expected permanent=70, got %+v", d.states["u1"])
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}
