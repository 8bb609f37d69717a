// Package cluster implements the cluster actor registry from spec §4.3:
// a consistent-hash ring mapping user_id to the node that should own that
// user's actor, a membership watcher learning node join/leave from an
// external service-discovery collaborator, and a router translating a
// resolved owner into either a local dispatch or a remote HTTP call.
package cluster

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"telegram-ai-subscription/internal/domain/model"
)

const defaultVirtualNodes = 160

// Ring is a consistent-hash ring over cluster node IDs, used to resolve
// which node owns a given user's actor. Safe for concurrent use.
type Ring struct {
	mu       sync.RWMutex
	virtual  int
	sorted   []uint64
	byHash   map[uint64]string
	nodeSet  map[string]struct{}
}

func NewRing(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}
	return &Ring{
		virtual: virtualNodes,
		byHash:  make(map[uint64]string),
		nodeSet: make(map[string]struct{}),
	}
}

// SetNodes replaces the ring's membership wholesale. Called whenever the
// membership watcher observes a change.
func (r *Ring) SetNodes(nodes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byHash = make(map[uint64]string, len(nodes)*r.virtual)
	r.nodeSet = make(map[string]struct{}, len(nodes))
	r.sorted = r.sorted[:0]

	for _, node := range nodes {
		r.nodeSet[node] = struct{}{}
		for v := 0; v < r.virtual; v++ {
			h := hashKey(node, v)
			r.byHash[h] = node
			r.sorted = append(r.sorted, h)
		}
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
}

// Owner resolves the node responsible for userID. Returns "" if the
// ring has no members yet.
func (r *Ring) Owner(userID model.UserID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return ""
	}
	h := xxhash.Sum64String(string(userID))
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= h })
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.byHash[r.sorted[idx]]
}

// Has reports whether node is currently a ring member.
func (r *Ring) Has(node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodeSet[node]
	return ok
}

// Nodes returns a snapshot of current ring membership.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodeSet))
	for n := range r.nodeSet {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func hashKey(node string, virtual int) uint64 {
	var buf [24]byte
	n := copy(buf[:], node)
	n += copy(buf[n:], "#")
	n += writeInt(buf[n:], virtual)
	return xxhash.Sum64(buf[:n])
}

func writeInt(dst []byte, v int) int {
	if v == 0 {
		dst[0] = '0'
		return 1
	}
	var tmp [8]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return copy(dst, tmp[i:])
}
