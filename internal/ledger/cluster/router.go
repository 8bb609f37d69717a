package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/actor"
	"telegram-ai-subscription/internal/ledger/ledgererr"
)

// LocalActor is the subset of actor.Supervisor the router dispatches to
// when this node owns the user.
type LocalActor interface {
	GetCredits(ctx context.Context, userID model.UserID) (model.UserCredits, error)
	Grant(ctx context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error)
	CompleteJob(ctx context.Context, job actor.CompleteJobInput) (model.UserCredits, error)
	Conflict(userID model.UserID)
}

// Router resolves the node owning a user_id via the ring and either
// dispatches locally or forwards an HTTP/JSON request to the owning
// node. Remote transport is chi-routed on the receiving side (see
// Handler) and plain net/http on the sending side, mirroring the
// teacher's REST surface (internal/infra/web) rather than inventing a
// second RPC protocol.
type Router struct {
	selfNode string
	ring     *Ring
	local    LocalActor
	client   *http.Client
	log      zerolog.Logger
}

func NewRouter(selfNode string, ring *Ring, local LocalActor, log zerolog.Logger) *Router {
	return &Router{
		selfNode: selfNode,
		ring:     ring,
		local:    local,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

func (r *Router) isLocal(userID model.UserID) (owner string, local bool) {
	owner = r.ring.Owner(userID)
	return owner, owner == "" || owner == r.selfNode
}

func (r *Router) GetCredits(ctx context.Context, userID model.UserID) (model.UserCredits, error) {
	owner, local := r.isLocal(userID)
	if local {
		return r.local.GetCredits(ctx, userID)
	}
	var out model.UserCredits
	err := r.forward(ctx, owner, "GET", "/internal/credits/"+string(userID), nil, &out)
	return out, err
}

func (r *Router) Grant(ctx context.Context, userID model.UserID, grant model.GrantMap) (model.UserCredits, error) {
	owner, local := r.isLocal(userID)
	if local {
		return r.local.Grant(ctx, userID, grant)
	}
	var out model.UserCredits
	err := r.forward(ctx, owner, "POST", "/internal/credits/"+string(userID)+"/grant", grant, &out)
	return out, err
}

func (r *Router) CompleteJob(ctx context.Context, job actor.CompleteJobInput) (model.UserCredits, error) {
	owner, local := r.isLocal(job.UserID)
	if local {
		return r.local.CompleteJob(ctx, job)
	}
	var out model.UserCredits
	err := r.forward(ctx, owner, "POST", "/internal/credits/"+string(job.UserID)+"/complete-job", job, &out)
	return out, err
}

func (r *Router) forward(ctx context.Context, node, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal forward body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := "http://" + node + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn().Err(err).Str("node", node).Msg("cluster: remote dispatch failed")
		metrics.IncRoutingForwarded("timeout")
		return ledgererr.ErrRoutingTimeout
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.IncRoutingForwarded("error")
		return ledgererr.ErrRoutingTimeout
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			metrics.IncRoutingForwarded("error")
			return fmt.Errorf("decode forward response: %w", err)
		}
	}
	metrics.IncRoutingForwarded("ok")
	return nil
}

// ResolveConflict implements spec §4.3's deterministic winner rule: of
// two nodes both claiming ownership of the same user (observed during a
// membership transition race), the lexicographically smaller node ID
// wins and the other is told to relinquish. Ties cannot occur since a
// node ID only ever claims itself as one side of the comparison.
func ResolveConflict(nodeA, nodeB string) (winner, loser string) {
	if nodeA < nodeB {
		return nodeA, nodeB
	}
	return nodeB, nodeA
}

// HandleConflict counts a lost name-conflict for userID and forces the
// local actor, if any, to exit without a final write. Nothing in this
// package detects duplicate actors or calls it; Membership only updates
// the ring.
func (r *Router) HandleConflict(userID model.UserID) {
	metrics.IncRoutingConflict()
	r.local.Conflict(userID)
}
