// File: internal/ledger/gateway/legacy.go
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telegram-ai-subscription/internal/domain/model"
)

// MongoLegacyStore reads the legacy document store and mirrors updates
// to it on a best-effort basis. Grounded on the backend-discriminated
// storage adapter pattern in CedrosPay-server's internal/storage package
// (Postgres/MongoDB/file switched by config); generalized here from
// "which backend" to "which historical document shape", since the legacy
// store itself accumulated three different field sets for a tranche over
// its lifetime:
//
//	{initial, left, created, expires}
//	{initial, amount, created, expires}
//	{amount, left, expires}
type MongoLegacyStore struct {
	coll *mongo.Collection
}

func NewMongoLegacyStore(client *mongo.Client, database, collection string) *MongoLegacyStore {
	return &MongoLegacyStore{coll: client.Database(database).Collection(collection)}
}

// Connect dials Mongo with a bounded pool, mirroring the pool-sizing
// defaults the spec assigns to the legacy store (50 connections).
func Connect(ctx context.Context, uri string, maxPoolSize uint64) (*mongo.Client, error) {
	if maxPoolSize == 0 {
		maxPoolSize = 50
	}
	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize).SetConnectTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (s *MongoLegacyStore) Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, bool, error) {
	var doc bson.M
	err := s.coll.FindOne(ctx, bson.M{"user_id": string(userID)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.UserCredits{}, false, nil
	}
	if err != nil {
		return model.UserCredits{}, false, fmt.Errorf("legacy fetch: %w", err)
	}

	out := model.UserCredits{UserID: userID}
	out.Trial = bsonInt64(doc["trial"])
	out.Permanent = bsonInt64(doc["permanent"])

	tranches, _ := doc["expiring"].(bson.A)
	for _, raw := range tranches {
		t, ok := raw.(bson.M)
		if !ok {
			continue
		}
		out.Expiring = append(out.Expiring, decodeTranche(userID, t))
	}
	out.Expiring = dedupeSortTranches(out.Expiring)
	return out, true, nil
}

// decodeTranche discriminates between the three historical field sets by
// presence, mapping each onto the canonical ExpiringCredit.
func decodeTranche(userID model.UserID, t bson.M) model.ExpiringCredit {
	e := model.ExpiringCredit{UserID: userID}

	switch {
	case has(t, "initial") && has(t, "left"):
		// {initial, left, created, expires}
		e.Initial = bsonInt64(t["initial"])
		e.Amount = bsonInt64(t["left"])
	case has(t, "initial") && has(t, "amount"):
		// {initial, amount, created, expires}
		e.Initial = bsonInt64(t["initial"])
		e.Amount = bsonInt64(t["amount"])
	case has(t, "amount") && has(t, "left"):
		// {amount, left, expires} -- "amount" here is the original grant
		e.Initial = bsonInt64(t["amount"])
		e.Amount = bsonInt64(t["left"])
	default:
		// Best effort: use "amount" as both; a tranche carrying only
		// "initial" or only "left" decodes as zero.
		e.Initial = bsonInt64(t["amount"])
		e.Amount = e.Initial
	}

	e.CreatedAt = bsonTimestamp(t["created"])
	e.ExpiresAt = bsonTimestamp(t["expires"])
	e.Note, _ = t["note"].(string)
	return e
}

func has(m bson.M, key string) bool {
	_, ok := m[key]
	return ok
}

func bsonInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// bsonTimestamp handles the legacy store's three timestamp
// representations: ISO-8601 strings, integer seconds, integer
// milliseconds. Magnitude >= 1e11 is interpreted as milliseconds.
func bsonTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case string:
		parsed, err := parseISO8601(t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	case int64:
		return parseLegacyEpoch(t)
	case int32:
		return parseLegacyEpoch(int64(t))
	case float64:
		return parseLegacyEpoch(int64(t))
	default:
		return time.Time{}
	}
}

func dedupeSortTranches(in []model.ExpiringCredit) []model.ExpiringCredit {
	out := make([]model.ExpiringCredit, len(in))
	copy(out, in)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ExpiresAt.Before(out[j-1].ExpiresAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// MirrorUpdate is the best-effort write path; failures are retried by
// mirrorQueue and never surfaced past it.
func (s *MongoLegacyStore) MirrorUpdate(ctx context.Context, state model.UserCredits) error {
	tranches := make(bson.A, 0, len(state.Expiring))
	for _, e := range state.Expiring {
		tranches = append(tranches, bson.M{
			"initial": e.Initial,
			"amount":  e.Amount,
			"created": formatISO8601(e.CreatedAt),
			"expires": formatISO8601(e.ExpiresAt),
			"note":    e.Note,
		})
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": string(state.UserID)},
		bson.M{"$set": bson.M{
			"trial":     state.Trial,
			"permanent": state.Permanent,
			"expiring":  tranches,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("legacy mirror update: %w", err)
	}
	return nil
}
