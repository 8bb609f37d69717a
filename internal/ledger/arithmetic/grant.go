package arithmetic

import "telegram-ai-subscription/internal/domain/model"

// Grant applies a GrantMap to state and returns the new state. Trial and
// Permanent deltas are signed and clamped to >= 0 after application;
// Expiring tranches are merged in, keeping the list sorted ascending by
// ExpiresAt. An empty grant returns state unchanged (by value, so callers
// comparing before/after see no difference).
func Grant(state model.UserCredits, grant model.GrantMap) model.UserCredits {
	if grant.IsZero() {
		return state
	}

	out := state.Clone()
	out.Trial = clamp(out.Trial + grant.Trial)
	out.Permanent = clamp(out.Permanent + grant.Permanent)

	if len(grant.Expiring) > 0 {
		fresh := make([]model.ExpiringCredit, len(grant.Expiring))
		copy(fresh, grant.Expiring)
		for i := range fresh {
			fresh[i].Amount = clamp(fresh[i].Amount)
			fresh[i].Initial = clamp(fresh[i].Initial)
		}
		sortedFresh := SortExpiring(fresh)
		out.Expiring = MergeExpiring(out.Expiring, sortedFresh)
	}

	return out
}
