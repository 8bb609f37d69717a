package arithmetic

import (
	"sort"

	"telegram-ai-subscription/internal/domain/model"
)

// SortExpiring returns a new slice sorted ascending by ExpiresAt. The sort
// is stable: tranches with equal ExpiresAt keep their relative order.
func SortExpiring(in []model.ExpiringCredit) []model.ExpiringCredit {
	out := make([]model.ExpiringCredit, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// MergeExpiring stably merges two already-sorted lists, keeping a's
// entries first on a tie. The result equals SortExpiring(append(a, b...))
// and is a permutation of the concatenation of both inputs.
func MergeExpiring(a, b []model.ExpiringCredit) []model.ExpiringCredit {
	out := make([]model.ExpiringCredit, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].ExpiresAt.Before(a[i].ExpiresAt) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
