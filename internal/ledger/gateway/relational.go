// File: internal/ledger/gateway/relational.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// PostgresStore is the relational RelationalStore implementation.
// Pool construction mirrors internal/infra/db/postgres/connection.go:
// NewPgxPool/TryConnect are copied verbatim as the pool-dialing idiom;
// the schema and queries here are new to this domain.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPgxPool creates a pgx connection pool with sensible defaults,
// matching the teacher's internal/infra/db/postgres.NewPgxPool.
func NewPgxPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = 60 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pgxpool: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// TryConnect dials with retry/backoff and a readiness ping, matching the
// teacher's connection.go helper of the same name.
func TryConnect(ctx context.Context, dsn string, maxConns int32, maxWait time.Duration) (*pgxpool.Pool, error) {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	deadline := time.Now().Add(maxWait)
	backoff := 200 * time.Millisecond
	var lastErr error

	for {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := NewPgxPool(dctx, dsn, maxConns)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("connect pgxpool (retry for %s) failed: %w", maxWait, lastErr)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS user_credits (
  user_id    TEXT PRIMARY KEY,
  trial      BIGINT NOT NULL DEFAULT 0,
  permanent  BIGINT NOT NULL DEFAULT 0,
  version    BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS expiring_credits (
  user_id    TEXT NOT NULL REFERENCES user_credits(user_id),
  initial    BIGINT NOT NULL,
  amount     BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  note       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS expiring_credits_user_id_expires_at_idx
  ON expiring_credits (user_id, expires_at);
`

// EnsureSchema creates the tables this store needs if they don't exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}

// ReportPoolStats publishes the pool's current connection counts to
// Prometheus. Call it on a ticker from the owning binary; mirrors the
// teacher's periodic stat-reporting goroutine pattern in
// internal/infra/db rather than hooking pgxpool internals directly.
func ReportPoolStats(pool *pgxpool.Pool) {
	stat := pool.Stat()
	metrics.SetDBPoolStats(stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
}

func (s *PostgresStore) Fetch(ctx context.Context, userID model.UserID) (model.UserCredits, bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return model.UserCredits{}, false, ledgererr.ErrConnectionRefused
	}
	defer conn.Release()

	var out model.UserCredits
	out.UserID = userID
	row := conn.QueryRow(ctx, `SELECT trial, permanent FROM user_credits WHERE user_id = $1`, string(userID))
	if err := row.Scan(&out.Trial, &out.Permanent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserCredits{}, false, nil
		}
		return model.UserCredits{}, false, fmt.Errorf("fetch user_credits: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT initial, amount, created_at, expires_at, note FROM expiring_credits WHERE user_id = $1 ORDER BY expires_at ASC`, string(userID))
	if err != nil {
		return model.UserCredits{}, false, fmt.Errorf("fetch expiring_credits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ExpiringCredit
		e.UserID = userID
		if err := rows.Scan(&e.Initial, &e.Amount, &e.CreatedAt, &e.ExpiresAt, &e.Note); err != nil {
			return model.UserCredits{}, false, fmt.Errorf("scan expiring_credit: %w", err)
		}
		out.Expiring = append(out.Expiring, e)
	}
	return out, true, rows.Err()
}

// Upsert updates the user's existing row and bumps its version
// unconditionally; no version is compared. It signals ErrStaleVersion
// when no row exists for the user (never written, or vanished between
// read and write).
func (s *PostgresStore) Upsert(ctx context.Context, state model.UserCredits) (model.UserCredits, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.UserCredits{}, ledgererr.ErrConnectionRefused
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE user_credits SET trial = $2, permanent = $3, version = version + 1
WHERE user_id = $1`, string(state.UserID), state.Trial, state.Permanent)
	if err != nil {
		return model.UserCredits{}, fmt.Errorf("upsert user_credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.UserCredits{}, ledgererr.ErrStaleVersion
	}

	if err := s.replaceExpiring(ctx, tx, state); err != nil {
		return model.UserCredits{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.UserCredits{}, fmt.Errorf("commit upsert: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Insert(ctx context.Context, state model.UserCredits) (model.UserCredits, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.UserCredits{}, ledgererr.ErrConnectionRefused
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO user_credits (user_id, trial, permanent, version) VALUES ($1,$2,$3,0)
ON CONFLICT (user_id) DO UPDATE SET trial = EXCLUDED.trial, permanent = EXCLUDED.permanent, version = user_credits.version + 1`,
		string(state.UserID), state.Trial, state.Permanent)
	if err != nil {
		return model.UserCredits{}, fmt.Errorf("insert user_credits: %w", err)
	}

	if err := s.replaceExpiring(ctx, tx, state); err != nil {
		return model.UserCredits{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.UserCredits{}, fmt.Errorf("commit insert: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, state model.UserCredits) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO user_credits (user_id, trial, permanent, version) VALUES ($1,$2,$3,0)
ON CONFLICT (user_id) DO NOTHING`, string(state.UserID), state.Trial, state.Permanent)
	if err != nil {
		return fmt.Errorf("insert-if-absent user_credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already reconciled by a concurrent fetch
	}
	for _, e := range state.Expiring {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO expiring_credits (user_id, initial, amount, created_at, expires_at, note) VALUES ($1,$2,$3,$4,$5,$6)`,
			string(state.UserID), e.Initial, e.Amount, e.CreatedAt, e.ExpiresAt, e.Note); err != nil {
			return fmt.Errorf("insert-if-absent expiring_credits: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) replaceExpiring(ctx context.Context, tx pgx.Tx, state model.UserCredits) error {
	if _, err := tx.Exec(ctx, `DELETE FROM expiring_credits WHERE user_id = $1`, string(state.UserID)); err != nil {
		return fmt.Errorf("clear expiring_credits: %w", err)
	}
	for _, e := range state.Expiring {
		if _, err := tx.Exec(ctx, `
INSERT INTO expiring_credits (user_id, initial, amount, created_at, expires_at, note) VALUES ($1,$2,$3,$4,$5,$6)`,
			string(state.UserID), e.Initial, e.Amount, e.CreatedAt, e.ExpiresAt, e.Note); err != nil {
			return fmt.Errorf("insert expiring_credits: %w", err)
		}
	}
	return nil
}
