package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/infra/metrics"
)

// Discovery is the external service-discovery collaborator spec §4.3
// assumes already exists; the registry only consumes it. Grounded on the
// ticker-driven poll loop in internal/infra/sched (expiry_worker.go,
// notification_worker.go), generalized from "poll a timestamp column" to
// "poll a membership snapshot."
type Discovery interface {
	ListNodes(ctx context.Context) ([]string, error)
}

// Membership polls a Discovery collaborator on an interval and pushes
// snapshots into a Ring, logging every change.
type Membership struct {
	discovery Discovery
	ring      *Ring
	interval  time.Duration
	log       zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewMembership(discovery Discovery, ring *Ring, interval time.Duration, log zerolog.Logger) *Membership {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Membership{
		discovery: discovery,
		ring:      ring,
		interval:  interval,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop in a new goroutine. Call Stop to
// terminate it.
func (m *Membership) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Membership) run(ctx context.Context) {
	defer close(m.done)

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Membership) poll(ctx context.Context) {
	nodes, err := m.discovery.ListNodes(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("cluster: membership poll failed, keeping previous view")
		return
	}

	before := m.ring.Nodes()
	m.ring.SetNodes(nodes)
	after := m.ring.Nodes()
	metrics.SetRingNodes(len(after))

	if !equalSorted(before, after) {
		m.log.Info().Strs("nodes", after).Msg("cluster: membership changed")
	}
}

func (m *Membership) Stop() {
	close(m.stop)
	<-m.done
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StaticDiscovery is a fixed-membership Discovery implementation, useful
// for single-node deployments and tests.
type StaticDiscovery struct {
	Nodes []string
}

func (s StaticDiscovery) ListNodes(context.Context) ([]string, error) {
	return s.Nodes, nil
}
