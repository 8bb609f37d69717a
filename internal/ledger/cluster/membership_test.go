package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stepDiscovery struct {
	steps [][]string
	idx   int
}

func (s *stepDiscovery) ListNodes(context.Context) ([]string, error) {
	i := s.idx
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.idx++
	return s.steps[i], nil
}

func TestMembership_PollsAndUpdatesRing(t *testing.T) {
	disc := &stepDiscovery{steps: [][]string{{"a"}, {"a", "b"}, {"a", "b"}}}
	ring := NewRing(50)
	m := NewMembership(disc, ring, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for len(ring.Nodes()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ring never observed second node, nodes=%v", ring.Nodes())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaticDiscovery_ReturnsFixedNodes(t *testing.T) {
	d := StaticDiscovery{Nodes: []string{"x", "y"}}
	nodes, err := d.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %v", nodes)
	}
}
