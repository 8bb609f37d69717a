package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-ai-subscription/internal/domain/model"
)

func TestDecodeEntitlements_TrialBucket(t *testing.T) {
	items, err := DecodeEntitlements(`[{"kind":"credits","bucket":"trial","amount":{"seconds":50}}]`)
	require.NoError(t, err)
	require.Len(t, items, 1)

	grant := ToGrant(items, "u1", time.Now())
	assert.Equal(t, int64(50_000), grant.Trial)
}

func TestToGrant_PermanentBucket(t *testing.T) {
	items := []Entitlement{{Kind: "credits", Bucket: "permanent", Amount: map[string]float64{"seconds": 10}}}
	grant := ToGrant(items, "u1", time.Now())
	assert.Equal(t, int64(10_000), grant.Permanent)
}

// Scenario S6: entitlement unit conversion and combination.
func TestToGrant_S6_EntitlementConversion(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items, err := DecodeEntitlements(`[
		{"kind":"credits","bucket":"trial","amount":{"hours":1}},
		{"kind":"credits","bucket":"expiring","amount":{"minutes":30},"expires":{"days":7}}
	]`)
	require.NoError(t, err)

	grant := ToGrant(items, "u1", t0)

	assert.Equal(t, int64(3_600_000), grant.Trial)
	require.Len(t, grant.Expiring, 1)
	tranche := grant.Expiring[0]
	assert.Equal(t, int64(1_800_000), tranche.Initial)
	assert.Equal(t, int64(1_800_000), tranche.Amount)
	assert.True(t, tranche.CreatedAt.Equal(t0))
	assert.True(t, tranche.ExpiresAt.Equal(t0.Add(7*24*time.Hour)))
}

func TestToGrant_ExpiringWithAbsoluteExpiresMs(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	explicit := t0.Add(3 * time.Hour)
	items := []Entitlement{{
		Kind:    "credits",
		Bucket:  "expiring",
		Amount:  map[string]float64{"seconds": 5},
		Expires: float64(explicit.UnixMilli()),
	}}

	grant := ToGrant(items, "u1", t0)

	require.Len(t, grant.Expiring, 1)
	assert.True(t, grant.Expiring[0].ExpiresAt.Equal(explicit))
}

func TestToGrant_ExpiringWithNoExpiresDefaultsTo30Days(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Entitlement{{Kind: "credits", Bucket: "expiring", Amount: map[string]float64{"seconds": 5}}}

	grant := ToGrant(items, "u1", t0)

	require.Len(t, grant.Expiring, 1)
	assert.True(t, grant.Expiring[0].ExpiresAt.Equal(t0.Add(30*24*time.Hour)))
}

func TestToGrant_UnknownBucketContributesNothing(t *testing.T) {
	items := []Entitlement{{Kind: "credits", Bucket: "bogus", Amount: map[string]float64{"seconds": 5}}}
	grant := ToGrant(items, "u1", time.Now())
	assert.Equal(t, model.GrantMap{}, grant)
}

func TestToGrant_NonCreditsKindContributesNothing(t *testing.T) {
	items := []Entitlement{{Kind: "debit", Bucket: "trial", Amount: map[string]float64{"seconds": 5}}}
	grant := ToGrant(items, "u1", time.Now())
	assert.Equal(t, model.GrantMap{}, grant)
}

func TestToGrant_MalformedAmountContributesNothing(t *testing.T) {
	items := []Entitlement{{Kind: "credits", Bucket: "trial", Amount: map[string]float64{"fortnights": 1}}}
	grant := ToGrant(items, "u1", time.Now())
	assert.Equal(t, model.GrantMap{}, grant)
}

func TestToGrant_AllUnitsConvertCorrectly(t *testing.T) {
	now := time.Unix(0, 0).UTC()
	cases := map[string]time.Duration{
		"seconds": time.Second,
		"minutes": time.Minute,
		"hours":   time.Hour,
		"days":    24 * time.Hour,
		"weeks":   7 * 24 * time.Hour,
	}
	for unit, perUnit := range cases {
		items := []Entitlement{{Kind: "credits", Bucket: "expiring", Amount: map[string]float64{"seconds": 5}, Expires: map[string]float64{unit: 3}}}
		grant := ToGrant(items, model.UserID("u"), now)
		require.Lenf(t, grant.Expiring, 1, "unit %s", unit)
		want := now.Add(3 * perUnit)
		assert.Truef(t, grant.Expiring[0].ExpiresAt.Equal(want), "unit %s: expected %v, got %v", unit, want, grant.Expiring[0].ExpiresAt)
	}
}

func TestToGrant_CombinesListByAddingDeltasAndConcatenatingTranches(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Entitlement{
		{Kind: "credits", Bucket: "trial", Amount: map[string]float64{"seconds": 1}},
		{Kind: "credits", Bucket: "trial", Amount: map[string]float64{"seconds": 2}},
		{Kind: "credits", Bucket: "expiring", Amount: map[string]float64{"seconds": 1}, Expires: map[string]float64{"days": 1}},
		{Kind: "credits", Bucket: "expiring", Amount: map[string]float64{"seconds": 1}, Expires: map[string]float64{"days": 2}},
	}

	grant := ToGrant(items, "u1", t0)

	assert.Equal(t, int64(3_000), grant.Trial)
	assert.Len(t, grant.Expiring, 2)
}
