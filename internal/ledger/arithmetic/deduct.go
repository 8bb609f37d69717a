package arithmetic

import "telegram-ai-subscription/internal/domain/model"

// Deduct charges cost against state in bucket order trial -> expiring ->
// permanent. It returns the new state, the residual cost that could not
// be covered (remainder >= 0, remainder <= cost), and changed.
//
// cost <= 0 is a no-op: changed is false and callers must not write.
// Any positive cost reports changed as true, even when every bucket was
// already empty and the returned state equals the input.
func Deduct(state model.UserCredits, cost int64) (model.UserCredits, int64, bool) {
	if cost <= 0 {
		return state, 0, false
	}

	out := state.Clone()
	remaining := cost

	if out.Trial > 0 && remaining > 0 {
		take := min64(out.Trial, remaining)
		out.Trial -= take
		remaining -= take
	}

	if remaining > 0 && len(out.Expiring) > 0 {
		sorted := SortExpiring(out.Expiring)
		kept := sorted[:0:0]
		for _, tranche := range sorted {
			if tranche.Amount < 0 {
				// Negative tranches are dropped defensively, never used.
				continue
			}
			if remaining <= 0 {
				kept = append(kept, tranche)
				continue
			}
			take := min64(tranche.Amount, remaining)
			tranche.Amount -= take
			remaining -= take
			if tranche.Amount > 0 {
				kept = append(kept, tranche)
			}
			// Amount == 0: drained, dropped.
		}
		out.Expiring = kept
	}

	if remaining > 0 && out.Permanent > 0 {
		take := min64(out.Permanent, remaining)
		out.Permanent -= take
		remaining -= take
	}

	return out, remaining, true
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
