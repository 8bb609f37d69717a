package arithmetic

import (
	"testing"
	"time"

	"telegram-ai-subscription/internal/domain/model"
)

func TestGrant_MonotonicNonNegative(t *testing.T) {
	s := model.UserCredits{Trial: 100, Permanent: 200}
	g := model.GrantMap{Trial: 50, Permanent: 75}
	got := Grant(s, g)
	if got.Trial < s.Trial {
		t.Fatalf("trial decreased: %d -> %d", s.Trial, got.Trial)
	}
	if got.Permanent < s.Permanent {
		t.Fatalf("permanent decreased: %d -> %d", s.Permanent, got.Permanent)
	}
}

func TestGrant_ClampsNegativeResult(t *testing.T) {
	s := model.UserCredits{Trial: 10, Permanent: 5}
	g := model.GrantMap{Trial: -100, Permanent: -100}
	got := Grant(s, g)
	if got.Trial != 0 || got.Permanent != 0 {
		t.Fatalf("expected clamp to zero, got trial=%d permanent=%d", got.Trial, got.Permanent)
	}
}

func TestGrant_EmptyIsNoOp(t *testing.T) {
	s := model.UserCredits{Trial: 10, Permanent: 5}
	got := Grant(s, model.GrantMap{})
	if got.Trial != s.Trial || got.Permanent != s.Permanent || len(got.Expiring) != len(s.Expiring) {
		t.Fatalf("empty grant mutated state")
	}
}

// S2 - Expiring ordering on grant.
func TestGrant_S2_ExpiringOrdering(t *testing.T) {
	day := func(n int) time.Time { return time.Unix(0, 0).Add(time.Duration(n) * 24 * time.Hour) }

	s := model.UserCredits{}
	s = Grant(s, model.GrantMap{Expiring: []model.ExpiringCredit{
		{Amount: 1000, Initial: 1000, ExpiresAt: day(3)},
		{Amount: 1000, Initial: 1000, ExpiresAt: day(1)},
	}})
	s = Grant(s, model.GrantMap{Expiring: []model.ExpiringCredit{
		{Amount: 1000, Initial: 1000, ExpiresAt: day(2)},
	}})

	if len(s.Expiring) != 3 {
		t.Fatalf("expected 3 tranches, got %d", len(s.Expiring))
	}
	want := []time.Time{day(1), day(2), day(3)}
	for i, w := range want {
		if !s.Expiring[i].ExpiresAt.Equal(w) {
			t.Fatalf("tranche %d: expected %v, got %v", i, w, s.Expiring[i].ExpiresAt)
		}
	}
}

func TestMergeExpiring_IsSortedPermutation(t *testing.T) {
	day := func(n int) time.Time { return time.Unix(0, 0).Add(time.Duration(n) * 24 * time.Hour) }
	a := []model.ExpiringCredit{{Amount: 1, ExpiresAt: day(1)}, {Amount: 2, ExpiresAt: day(4)}}
	b := []model.ExpiringCredit{{Amount: 3, ExpiresAt: day(2)}, {Amount: 4, ExpiresAt: day(3)}}

	merged := MergeExpiring(a, b)
	want := SortExpiring(append(append([]model.ExpiringCredit{}, a...), b...))

	if len(merged) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(merged), len(want))
	}
	for i := range want {
		if !merged[i].ExpiresAt.Equal(want[i].ExpiresAt) || merged[i].Amount != want[i].Amount {
			t.Fatalf("index %d: got %+v want %+v", i, merged[i], want[i])
		}
	}
}
