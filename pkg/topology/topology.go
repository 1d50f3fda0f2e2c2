package topology

import (
	"fmt"
	"sort"
	"sync"
)

// Topology owns the set of known networks and the bidirectional graph
// induced by their ports: an edge exists between A and B iff A has a
// port whose RemoteNetwork is B and B has a symmetric port whose
// RemoteNetwork is A.
//
// Topology is written at startup (when the local network is loaded) and
// read by the pathfinder; the fetcher does not modify it. Each accessor
// holds RLock for its own read only, so a pathfinding call that makes
// several reads is not given one snapshot across them.
type Topology struct {
	mu       sync.RWMutex
	networks map[string]*Network
}

// New creates an empty Topology.
func New() *Topology {
	return &Topology{networks: make(map[string]*Network)}
}

// AddNetwork inserts a network. Adjacency is derived lazily from the
// ports already present on both sides, so networks may be added in any
// order — a port toward a not-yet-added network simply has no edge until
// the peer network (with its own back-facing port) is added.
func (t *Topology) AddNetwork(n *Network) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.networks[n.ID] = n
}

// Network returns the named network, or nil if unknown.
func (t *Topology) Network(id string) *Network {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.networks[id]
}

// RemoveNetwork drops a network from the topology. The fetcher does not
// call it when a peer disappears.
func (t *Topology) RemoveNetwork(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.networks, id)
}

// Networks returns a snapshot of all known network ids, sorted
// lexicographically so callers get deterministic iteration order.
func (t *Topology) Networks() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.networks))
	for id := range t.networks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Neighbors returns the direct graph neighbors of networkID: other
// networks that have a symmetric pair of inter-domain ports with it.
func (t *Topology) Neighbors(networkID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.networks[networkID]
	if n == nil {
		return nil
	}

	var out []string
	for _, p := range n.Ports() {
		if p.IsUserPort() {
			continue
		}
		peer := t.networks[p.RemoteNetwork]
		if peer == nil {
			continue
		}
		if back := peer.PortTowards(networkID); back != nil {
			out = append(out, peer.ID)
		}
	}
	sort.Strings(out)
	return out
}

// PortBetween returns the local port on a that faces b, honoring the
// bidirectional-edge invariant (b must have a symmetric port back to a),
// or nil if a and b are not adjacent.
func (t *Topology) PortBetween(a, b string) *Port {
	t.mu.RLock()
	defer t.mu.RUnlock()

	na, nb := t.networks[a], t.networks[b]
	if na == nil || nb == nil {
		return nil
	}
	p := na.PortTowards(b)
	if p == nil {
		return nil
	}
	if nb.PortTowards(a) == nil {
		return nil
	}
	return p
}

// ErrNoSuchNetwork is returned when an STP or path request names an
// unknown network.
func ErrNoSuchNetwork(id string) error {
	return fmt.Errorf("topology: no such network %q", id)
}
