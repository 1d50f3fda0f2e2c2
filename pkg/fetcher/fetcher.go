// Package fetcher implements the periodic peer-discovery poller: the only
// component that mutates link-vector state after startup, periodically
// reconciling peer-reported state against the configured topology. It
// reads the topology but does not add, change or remove networks in it.
package fetcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/discovery"
	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
	"github.com/newtron-network/nsi-gateway/pkg/registry"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
	"github.com/newtron-network/nsi-gateway/pkg/util"
)

// DefaultInterval is the fetcher's default poll period.
const DefaultInterval = 60 * time.Second

// Peer names one configured peer NSA to poll.
type Peer struct {
	URN string
	URL string
}

// peerState tracks what a peer last advertised, so the next poll can
// diff for additions/removals.
type peerState struct {
	networks []string
}

// Fetcher periodically pulls each configured peer's discovery document
// and reconciles the registry and link-vector table against what it
// finds. The topology is only read, to find the local ports facing each
// advertised network; peer networks are not added to it.
type Fetcher struct {
	LocalNetwork string
	Peers        []Peer
	Interval     time.Duration

	Topology   *topology.Topology
	LinkVector *linkvector.Table
	Registry   *registry.Registry
	Client     *discovery.FetchClient

	mu    sync.Mutex
	known map[string]*peerState // peer urn -> last-seen state
}

// New creates a Fetcher. interval of zero uses DefaultInterval.
func New(localNetwork string, peers []Peer, interval time.Duration, topo *topology.Topology, lv *linkvector.Table, reg *registry.Registry, client *discovery.FetchClient) *Fetcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if client == nil {
		client = discovery.NewFetchClient()
	}
	return &Fetcher{
		LocalNetwork: localNetwork,
		Peers:        peers,
		Interval:     interval,
		Topology:     topo,
		LinkVector:   lv,
		Registry:     reg,
		Client:       client,
		known:        make(map[string]*peerState),
	}
}

// Run polls every configured peer once per Interval until ctx is
// canceled. Call it from a goroutine at startup.
func (f *Fetcher) Run(ctx context.Context) {
	f.PollOnce(ctx)
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.PollOnce(ctx)
		}
	}
}

// PollOnce contacts every configured peer a single time, the unit of
// work Run repeats. Exported so tests can trigger a single
// reconciliation without waiting for the ticker.
func (f *Fetcher) PollOnce(ctx context.Context) {
	seen := make(map[string]bool, len(f.Peers))
	for _, peer := range f.Peers {
		seen[peer.URN] = true
		doc, err := f.Client.Fetch(ctx, peer.URL)
		if err != nil {
			util.Warnf("fetcher: polling peer %s (%s): %v", peer.URN, peer.URL, err)
			continue
		}
		f.reconcilePeer(peer, doc)
	}
	f.reconcileRemovals(seen)
}

// reconcilePeer spawns/updates the provider serving doc's networks and
// updates link-vector entries for every network reachable from a local
// port facing this peer.
func (f *Fetcher) reconcilePeer(peer Peer, doc *discovery.Document) {
	agent := agentFromDocument(peer, doc)
	if agent.ServiceType != "" {
		if _, err := f.Registry.SpawnProvider(agent, doc.Networks); err != nil {
			util.Warnf("fetcher: spawning provider for peer %s: %v", peer.URN, err)
		}
	}

	localNet := f.Topology.Network(f.LocalNetwork)
	if localNet != nil {
		for _, network := range doc.Networks {
			port := localNet.PortTowards(network)
			if port == nil {
				continue // not directly reachable from any local port
			}
			// Peer-reported cost for a network it serves directly is 0;
			// this local hop adds 1 on top of that.
			f.LinkVector.Update(port.Name, map[string]int{network: 1})
		}
	}

	f.mu.Lock()
	sorted := append([]string(nil), doc.Networks...)
	sort.Strings(sorted)
	f.known[peer.URN] = &peerState{networks: sorted}
	f.mu.Unlock()
}

// agentFromDocument picks the interface whose service-type this gateway
// has a factory for; remote NSAs are only usable if they advertise a
// service-type we can talk to.
func agentFromDocument(peer Peer, doc *discovery.Document) nsa.Agent {
	for _, iface := range doc.Interfaces {
		if iface.ServiceType == provider.RemoteServiceType {
			return nsa.NewAgent(doc.URN, iface.Endpoint, nsa.RoleProvider, iface.ServiceType)
		}
	}
	if len(doc.Interfaces) > 0 {
		iface := doc.Interfaces[0]
		return nsa.NewAgent(doc.URN, iface.Endpoint, nsa.RoleProvider, iface.ServiceType)
	}
	return nsa.NewAgent(doc.URN, peer.URL, nsa.RoleProvider, "")
}

// reconcileRemovals drops any previously-known peer absent from this
// poll's successfully-seen set: its registry entry, and every link-vector
// entry it sourced.
func (f *Fetcher) reconcileRemovals(seen map[string]bool) {
	f.mu.Lock()
	var gone []string
	for urn := range f.known {
		if !seen[urn] {
			gone = append(gone, urn)
		}
	}
	for _, urn := range gone {
		delete(f.known, urn)
	}
	f.mu.Unlock()

	for _, urn := range gone {
		f.Registry.Remove(urn)
	}

	localNet := f.Topology.Network(f.LocalNetwork)
	if localNet == nil {
		return
	}
	for _, port := range localNet.Ports() {
		if port.RemoteNetwork == "" {
			continue
		}
		stillAdvertised := false
		for _, n := range f.Registry.Networks() {
			if n == port.RemoteNetwork {
				stillAdvertised = true
				break
			}
		}
		if !stillAdvertised {
			f.LinkVector.Remove(port.Name)
		}
	}
}
