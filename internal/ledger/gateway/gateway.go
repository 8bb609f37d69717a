// Package gateway is the write-through persistence adapter: relational
// store authoritative, legacy document store reconciled on first touch
// and mirrored best-effort thereafter. Mirrors the write-through idiom in
// internal/infra/db/postgres (pgxpool, retry/backoff connect) generalized
// from a single-table repo to the fetch/reconcile/update contract in
// spec §4.5.
package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// RelationalStore is the authoritative backing store.
type RelationalStore interface {
	// Fetch returns the stored record and whether it existed.
	Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, bool, error)
	// Upsert updates an existing row, failing with ledgererr.ErrStaleVersion
	// when no row exists for the user. Versions are not compared.
	Upsert(ctx context.Context, state model.UserCredits) (model.UserCredits, error)
	// Insert creates the row, or overwrites it if one already exists. Used
	// for the single stale-version retry-as-insert per spec §4.5.
	Insert(ctx context.Context, state model.UserCredits) (model.UserCredits, error)
	// InsertIfAbsent is the do-nothing-on-conflict reconciliation write
	// used when hydrating from the legacy store.
	InsertIfAbsent(ctx context.Context, state model.UserCredits) error
}

// LegacyStore is the transitional document store, consulted only on a
// relational miss, and mirrored to on a best-effort basis thereafter.
type LegacyStore interface {
	Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, bool, error)
	MirrorUpdate(ctx context.Context, state model.UserCredits) error
}

// Gateway composes the relational and (optional) legacy stores behind
// the single fetch/update contract the actor layer depends on.
type Gateway struct {
	relational RelationalStore
	legacy     LegacyStore // nil when legacy reconciliation is disabled
	mirror     *mirrorQueue
	log        zerolog.Logger
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithLegacyStore enables legacy-store reconciliation and best-effort
// mirroring. Per spec §9, this whole path is meant to be deleted once
// all tenants have migrated; wiring it as an option keeps that deletion
// a one-line change at the call site.
func WithLegacyStore(store LegacyStore, queueDepth int) Option {
	return func(g *Gateway) {
		g.legacy = store
		g.mirror = newMirrorQueue(store, queueDepth, g.log)
	}
}

// New builds a Gateway over the given relational store.
func New(relational RelationalStore, log zerolog.Logger, opts ...Option) *Gateway {
	g := &Gateway{relational: relational, log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fetch implements spec §4.5: relational first; on miss, legacy; on
// legacy hit, write-through to relational with do-nothing-on-conflict;
// on double miss, a zero-balance record is returned without inserting.
func (g *Gateway) Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, error) {
	state, found, err := g.relational.Fetch(ctx, userID)
	if err != nil {
		return model.UserCredits{}, err
	}
	if found {
		return state, nil
	}

	if g.legacy != nil {
		legacyState, legacyFound, err := g.legacy.Fetch(ctx, userID)
		if err != nil {
			g.log.Warn().Err(err).Str("user_id", string(userID)).Msg("legacy store fetch failed")
		} else if legacyFound {
			if err := g.relational.InsertIfAbsent(ctx, legacyState); err != nil {
				g.log.Warn().Err(err).Str("user_id", string(userID)).Msg("failed to reconcile legacy record into relational store")
			} else {
				metrics.IncLegacyReconciled()
			}
			return legacyState, nil
		}
	}

	return model.ZeroBalance(userID), nil
}

// Update implements spec §4.5: upsert to relational; on stale-version,
// retry once through Insert; if that also fails, the caller should
// treat it as transient (ledgererr.ErrConnectionRefused-class). The
// legacy mirror write is fire-and-forget via a bounded retry queue (see
// mirror.go) and never fails the operation.
func (g *Gateway) Update(ctx context.Context, state model.UserCredits) (model.UserCredits, error) {
	saved, err := g.relational.Upsert(ctx, state)
	if err != nil {
		if errors.Is(err, ledgererr.ErrStaleVersion) {
			metrics.IncStaleVersionRetry()
			saved, err = g.relational.Insert(ctx, state)
			if err != nil {
				return model.UserCredits{}, ledgererr.ErrConnectionRefused
			}
		} else {
			return model.UserCredits{}, err
		}
	}

	if g.mirror != nil {
		g.mirror.enqueue(saved)
	}

	return saved, nil
}

// Close stops the background mirror worker, if any.
func (g *Gateway) Close() {
	if g.mirror != nil {
		g.mirror.stop()
	}
}
