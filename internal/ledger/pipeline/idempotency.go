package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
)

// IdempotencyGuard records a message's idempotency key before it is
// applied, relying on a unique constraint to reject replays. Grounded
// on the idempotency-key handling in
// other_examples/2452c20f_subratsahilgupta-flexprice__internal-service-creditgrant.go.go,
// adapted from an application-level map check to a database-enforced
// uniqueness constraint so it survives process restarts.
type IdempotencyGuard struct {
	pool *pgxpool.Pool
}

func NewIdempotencyGuard(pool *pgxpool.Pool) *IdempotencyGuard {
	return &IdempotencyGuard{pool: pool}
}

const idempotencyDDL = `
CREATE TABLE IF NOT EXISTS ledger_idempotency_keys (
	idempotency_key TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	applied_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func (g *IdempotencyGuard) EnsureSchema(ctx context.Context) error {
	_, err := g.pool.Exec(ctx, idempotencyDDL)
	return err
}

// Claim attempts to reserve key for userID. It returns (true, nil) the
// first time a key is seen, and (false, nil) on every subsequent replay
// -- callers should ack the message and skip re-applying the grant.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string, userID string) (bool, error) {
	if key == "" {
		// No idempotency key supplied: treat every delivery as novel,
		// per spec §4.4's "optional" hook.
		return true, nil
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO ledger_idempotency_keys (idempotency_key, user_id) VALUES ($1, $2)`,
		key, userID,
	)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("idempotency claim: %w", err)
}

// uniqueViolation is Postgres' SQLSTATE for a unique-constraint conflict.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
