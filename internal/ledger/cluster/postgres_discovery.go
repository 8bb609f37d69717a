package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

const membershipSchemaDDL = `
CREATE TABLE IF NOT EXISTS cluster_membership (
  node_id       TEXT PRIMARY KEY,
  last_heartbeat TIMESTAMPTZ NOT NULL
);
`

// PostgresDiscovery is the Discovery implementation backed by a
// heartbeat row per node, grounded on the same poll-a-timestamp-column
// idiom as the teacher's internal/infra/sched tickers. A node is
// considered live if it heartbeat within staleAfter; StaticDiscovery
// remains preferred for single-node deployments and tests.
type PostgresDiscovery struct {
	pool       *pgxpool.Pool
	selfNode   string
	staleAfter time.Duration
}

func NewPostgresDiscovery(pool *pgxpool.Pool, selfNode string, staleAfter time.Duration) *PostgresDiscovery {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &PostgresDiscovery{pool: pool, selfNode: selfNode, staleAfter: staleAfter}
}

// EnsureSchema creates the membership table if it doesn't exist.
func (d *PostgresDiscovery) EnsureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, membershipSchemaDDL)
	return err
}

// Heartbeat upserts this node's liveness row. Call it on a short ticker
// from the owning binary, independently of Membership's poll interval.
func (d *PostgresDiscovery) Heartbeat(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO cluster_membership (node_id, last_heartbeat) VALUES ($1, now())
ON CONFLICT (node_id) DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat`, d.selfNode)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ListNodes satisfies Discovery: every node whose heartbeat is fresher
// than staleAfter.
func (d *PostgresDiscovery) ListNodes(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
SELECT node_id FROM cluster_membership WHERE last_heartbeat > now() - $1::interval`,
		fmt.Sprintf("%d milliseconds", d.staleAfter.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node_id: %w", err)
		}
		nodes = append(nodes, id)
	}
	return nodes, rows.Err()
}
