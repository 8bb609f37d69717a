package arithmetic

import (
	"time"

	"telegram-ai-subscription/internal/domain/model"
)

// Expire drops every tranche whose ExpiresAt is at or before now. Strict
// <=: a tranche expiring exactly at now is considered expired. Sort is
// optional (the caller usually already maintains sorted order, but a
// reader that bulk-loaded an unsorted legacy record passes sort=true).
//
// Expire is idempotent: Expire(Expire(s, now), now) == Expire(s, now).
func Expire(state model.UserCredits, now time.Time, sort bool) (model.UserCredits, bool) {
	list := state.Expiring
	if sort {
		list = SortExpiring(list)
	}

	cut := 0
	for cut < len(list) && !list[cut].ExpiresAt.After(now) {
		cut++
	}

	if cut == 0 {
		return state, false
	}

	out := state.Clone()
	remaining := make([]model.ExpiringCredit, len(list)-cut)
	copy(remaining, list[cut:])
	out.Expiring = remaining

	return out, true
}
