// Package topology implements the network graph: networks, their ports,
// and the inter-domain adjacency induced by remote-network references.
package topology

import (
	"sync"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
)

// Port is a network's interface: either a user port (RemoteNetwork empty)
// or an inter-domain link toward RemoteNetwork. StaticVectors express
// advertised reachability costs for destinations beyond RemoteNetwork,
// seeding the link-vector table before the fetcher has run. Label is the
// range of label values this port can carry (nil means unconstrained, as
// is typical for a user-facing port). Capacity is the port's declared
// bandwidth ceiling in Mbps (0 means unconstrained).
type Port struct {
	Name          string
	RemoteNetwork string
	StaticVectors map[string]int
	Label         *nsa.Label
	Capacity      int
}

// IsUserPort reports whether this port faces an end user rather than
// another domain.
func (p *Port) IsUserPort() bool {
	return p.RemoteNetwork == ""
}

// Network is a single administrative domain: an id, its NSI agent
// identity, its ports, and whether it can rewrite (swap) a label between
// ingress and egress. canSwap is explicitly settable rather than computed,
// since tests construct networks with a desired value directly.
type Network struct {
	ID    string
	Agent nsa.Agent

	mu      sync.RWMutex
	ports   map[string]*Port
	canSwap bool
}

// NewNetwork creates a Network with no ports and label-swap disabled.
func NewNetwork(id string, agent nsa.Agent) *Network {
	return &Network{
		ID:    id,
		Agent: agent,
		ports: make(map[string]*Port),
	}
}

// AddPort registers a port on this network.
func (n *Network) AddPort(p *Port) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ports[p.Name] = p
}

// Port returns the named port, or nil if it doesn't exist.
func (n *Network) Port(name string) *Port {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ports[name]
}

// Ports returns a snapshot of all ports on this network.
func (n *Network) Ports() []*Port {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Port, 0, len(n.ports))
	for _, p := range n.ports {
		out = append(out, p)
	}
	return out
}

// PortTowards returns the port on this network facing remoteNetwork, or
// nil if there isn't one.
func (n *Network) PortTowards(remoteNetwork string) *Port {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.ports {
		if p.RemoteNetwork == remoteNetwork {
			return p
		}
	}
	return nil
}

// CanSwapLabel reports whether this network can rewrite a label of the
// given type between ingress and egress. The type parameter is accepted
// for forward compatibility with multi-type label algebras; the current
// model tracks one capability flag per network.
func (n *Network) CanSwapLabel(labelType string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.canSwap
}

// SetCanSwapLabel sets the swap capability. Tests use this to flip a
// network's behavior without rebuilding the topology.
func (n *Network) SetCanSwapLabel(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canSwap = v
}
