// Package pipeline implements the event pipeline from spec §4.4: a
// Producer pulling entitlement messages off a bus with at-least-once
// delivery, a bounded Processor pool converting entitlements into
// grants and dispatching them to the actor layer, and an idempotency
// hook guarding against duplicate delivery.
package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"telegram-ai-subscription/internal/domain/model"
)

const defaultExpiryDuration = 30 * 24 * time.Hour

// unitSeconds is the conversion table from spec §4.4.
var unitSeconds = map[string]float64{
	"seconds": 1,
	"minutes": 60,
	"hours":   3600,
	"days":    86400,
	"weeks":   604800,
}

// Entitlement is one decoded entry from an entitlements.credits
// message's `entitlements` list.
type Entitlement struct {
	Kind    string
	Bucket  string             // "trial" | "permanent" | "expiring"
	Amount  map[string]float64 // unit -> quantity, summed per spec §4.4
	Expires interface{}        // nil, float64 (absolute ms), or map[string]float64 (duration)
	Created *int64             // unix ms; nil means "now"
	Note    string
}

type rawEntitlement struct {
	Kind    string      `json:"kind"`
	Bucket  string      `json:"bucket"`
	Amount  map[string]float64 `json:"amount"`
	Expires interface{} `json:"expires"`
	Created *int64      `json:"created"`
	Note    string      `json:"note"`
}

// DecodeEntitlements parses the JSON-encoded `entitlements` list field
// of an entitlements.credits message body.
func DecodeEntitlements(raw string) ([]Entitlement, error) {
	var items []rawEntitlement
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode entitlements: %w", err)
	}

	out := make([]Entitlement, 0, len(items))
	for _, it := range items {
		e := Entitlement{Kind: it.Kind, Bucket: it.Bucket, Amount: it.Amount, Created: it.Created, Note: it.Note}
		switch v := it.Expires.(type) {
		case float64:
			e.Expires = v
		case map[string]interface{}:
			m := make(map[string]float64, len(v))
			for unit, raw := range v {
				if f, ok := raw.(float64); ok {
					m[unit] = f
				}
			}
			e.Expires = m
		default:
			// Any other JSON type is kept so resolveExpires rejects it.
			e.Expires = v
		}
		out = append(out, e)
	}
	return out, nil
}

// ToGrant implements spec §4.4's entitlement-conversion rules: each
// entry is converted individually and combined by adding trial/permanent
// deltas and concatenating expiring tranches. Non-credits kinds, unknown
// buckets, and malformed entries (unit-invalid amount, unresolvable
// expires) contribute nothing rather than failing the whole message.
func ToGrant(entitlements []Entitlement, userID model.UserID, now time.Time) model.GrantMap {
	var grant model.GrantMap
	for _, e := range entitlements {
		if e.Kind != "credits" {
			continue
		}
		amountMS, ok := millisFromUnitMap(e.Amount)
		if !ok {
			continue
		}
		created := now
		if e.Created != nil {
			created = time.UnixMilli(*e.Created)
		}

		switch e.Bucket {
		case "trial":
			grant.Trial += amountMS
		case "permanent":
			grant.Permanent += amountMS
		case "expiring":
			expiresAt, ok := resolveExpires(e.Expires, created)
			if !ok {
				continue
			}
			grant.Expiring = append(grant.Expiring, model.ExpiringCredit{
				UserID:    userID,
				Initial:   amountMS,
				Amount:    amountMS,
				CreatedAt: created,
				ExpiresAt: expiresAt,
				Note:      e.Note,
			})
		}
		// any other bucket: unknown, contributes nothing.
	}
	return grant
}

// millisFromUnitMap sums amount across units into floating-point
// seconds, then multiplies by 1000 and truncates to integer
// milliseconds, per spec §4.4. An empty map or one naming an unknown
// unit is malformed.
func millisFromUnitMap(amount map[string]float64) (int64, bool) {
	if len(amount) == 0 {
		return 0, false
	}
	var totalSeconds float64
	for unit, qty := range amount {
		perUnit, ok := unitSeconds[unit]
		if !ok {
			return 0, false
		}
		totalSeconds += qty * perUnit
	}
	return int64(math.Trunc(totalSeconds * 1000)), true
}

// resolveExpires implements the three forms spec §4.4 allows for the
// expiring bucket's `expires` field: an absolute ms-timestamp, a
// duration unit map added to created, or (when absent) created + 30
// days.
func resolveExpires(expires interface{}, created time.Time) (time.Time, bool) {
	switch v := expires.(type) {
	case nil:
		return created.Add(defaultExpiryDuration), true
	case float64:
		return time.UnixMilli(int64(v)), true
	case map[string]float64:
		ms, ok := millisFromUnitMap(v)
		if !ok {
			return time.Time{}, false
		}
		return created.Add(time.Duration(ms) * time.Millisecond), true
	default:
		return time.Time{}, false
	}
}
