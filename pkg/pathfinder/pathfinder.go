// Package pathfinder enumerates inter-domain paths between two service
// termination points and assigns per-segment VLAN labels that honor each
// traversed network's label-swapping capability.
package pathfinder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
)

// NoPathError is returned when no candidate path between src and dst
// survives label assignment.
var NoPathError = errors.New("pathfinder: no path found")

// BandwidthUnavailableError is returned when every path that would
// otherwise be valid fails the bandwidth admission check.
var BandwidthUnavailableError = errors.New("pathfinder: insufficient bandwidth on all candidate paths")

// MaxHops bounds the depth-first enumeration so cyclic or very large
// topologies cannot cause unbounded search.
const MaxHops = 8

// Link is one hop of a path: the network it crosses, the ingress/egress
// ports on that network, and the label carried on each side.
type Link struct {
	Network     string
	IngressPort string
	EgressPort  string
	SrcLabel    nsa.Label
	DstLabel    nsa.Label
}

// Path is a non-empty ordered sequence of links from src to dst.
type Path []Link

// Finder enumerates paths over a topology. It holds the link-vector
// table, but FindPaths does not consult it.
type Finder struct {
	Topology   *topology.Topology
	LinkVector *linkvector.Table
}

// New creates a Finder bound to a topology and link-vector table.
func New(topo *topology.Topology, lv *linkvector.Table) *Finder {
	return &Finder{Topology: topo, LinkVector: lv}
}

// FindPaths enumerates paths from src to dst carrying label src.Label
// (== dst.Label, the requested label), honoring each network's
// label-swap capability. Bandwidth is accepted for forward compatibility
// (spec §4.3): the current admission rule rejects a path if any port it
// crosses declares a capacity lower than the requested bandwidth.
func (f *Finder) FindPaths(src, dst nsa.STP, bandwidth int) ([]Path, error) {
	srcNet := f.Topology.Network(src.Network)
	dstNet := f.Topology.Network(dst.Network)
	if srcNet == nil {
		return nil, topology.ErrNoSuchNetwork(src.Network)
	}
	if dstNet == nil {
		return nil, topology.ErrNoSuchNetwork(dst.Network)
	}

	var sequences [][]string
	f.enumerateSimplePaths(src.Network, dst.Network, []string{src.Network}, &sequences)

	var paths []Path
	var bwRejected int
	for _, seq := range sequences {
		path, err := f.assignLabels(seq, src, dst)
		if err != nil {
			continue // EmptyLabelSet or similar — this candidate doesn't survive
		}
		if !withinBandwidth(path, f.Topology, bandwidth) {
			bwRejected++
			continue
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		if bwRejected > 0 {
			return nil, BandwidthUnavailableError
		}
		return nil, NoPathError
	}

	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return sequenceKey(paths[i]) < sequenceKey(paths[j])
	})

	return paths, nil
}

func sequenceKey(p Path) string {
	names := make([]string, len(p))
	for i, l := range p {
		names[i] = l.Network
	}
	return strings.Join(names, "\x00")
}

// enumerateSimplePaths performs a bounded depth-first search over the
// topology graph, collecting every simple (cycle-free) sequence of
// network ids from the current tail of visited to dst.
func (f *Finder) enumerateSimplePaths(current, dst string, visited []string, out *[][]string) {
	if current == dst {
		seq := make([]string, len(visited))
		copy(seq, visited)
		*out = append(*out, seq)
		return
	}
	if len(visited) >= MaxHops {
		return
	}
	for _, n := range f.Topology.Neighbors(current) {
		if contains(visited, n) {
			continue
		}
		f.enumerateSimplePaths(n, dst, append(visited, n), out)
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// assignLabels computes the per-link src/dst labels for a candidate
// network sequence:
//
//  1. the transit label T is L narrowed by every inter-domain port's
//     advertised label on the path;
//  2. a network that cannot swap carries T on both its sides;
//  3. a network that can swap carries the request L on any side facing
//     a user port, and the link's own (L-independent) widest available
//     label on any side facing another swap-capable neighbor; a side
//     facing a non-swap neighbor is pinned to T, since the physical wire
//     can only carry one value and the non-swap neighbor cannot
//     translate it.
func (f *Finder) assignLabels(seq []string, src, dst nsa.STP) (Path, error) {
	L := src.Label
	k := len(seq) - 1 // number of inter-domain edges

	nets := make([]*topology.Network, len(seq))
	for i, id := range seq {
		nets[i] = f.Topology.Network(id)
	}

	// Resolve the port pair for each internal edge (between seq[i] and seq[i+1]).
	type edge struct {
		egressPort, ingressPort *topology.Port
	}
	edges := make([]edge, k)
	for i := 0; i < k; i++ {
		egress := nets[i].PortTowards(seq[i+1])
		ingress := nets[i+1].PortTowards(seq[i])
		if egress == nil || ingress == nil {
			return nil, fmt.Errorf("pathfinder: no port pair between %s and %s", seq[i], seq[i+1])
		}
		edges[i] = edge{egressPort: egress, ingressPort: ingress}
	}

	// Step 1: transit label T = L narrowed by every inter-domain port on the path.
	T := L
	var err error
	for _, e := range edges {
		if e.egressPort.Label != nil {
			if T, err = T.Intersect(*e.egressPort.Label); err != nil {
				return nil, err
			}
		}
		if e.ingressPort.Label != nil {
			if T, err = T.Intersect(*e.ingressPort.Label); err != nil {
				return nil, err
			}
		}
	}

	// edgeLabel(i): the link's own widest available label, independent of L —
	// only meaningful when both sides can swap.
	edgeLabel := func(i int) (nsa.Label, error) {
		e := edges[i]
		switch {
		case e.egressPort.Label != nil && e.ingressPort.Label != nil:
			return e.egressPort.Label.Intersect(*e.ingressPort.Label)
		case e.egressPort.Label != nil:
			return *e.egressPort.Label, nil
		case e.ingressPort.Label != nil:
			return *e.ingressPort.Label, nil
		default:
			return L, nil
		}
	}

	// sharedLabel(i) is the single value carried on the wire between
	// seq[i] and seq[i+1] (internal edges), or on the virtual user-facing
	// edge at i == -1 (src) / i == k (dst).
	sharedLabel := func(i int) (nsa.Label, error) {
		switch {
		case i == -1:
			if !nets[0].CanSwapLabel(L.Type) {
				return T, nil
			}
			return L, nil
		case i == k:
			if !nets[k].CanSwapLabel(L.Type) {
				return T, nil
			}
			return L, nil
		default:
			if !nets[i].CanSwapLabel(L.Type) || !nets[i+1].CanSwapLabel(L.Type) {
				return T, nil
			}
			return edgeLabel(i)
		}
	}

	path := make(Path, len(seq))
	for i := range seq {
		in, err := sharedLabel(i - 1)
		if err != nil {
			return nil, err
		}
		out, err := sharedLabel(i)
		if err != nil {
			return nil, err
		}

		ingressPort := src.Port
		if i > 0 {
			ingressPort = edges[i-1].ingressPort.Name
		}
		egressPort := dst.Port
		if i < k {
			egressPort = edges[i].egressPort.Name
		}

		path[i] = Link{
			Network:     seq[i],
			IngressPort: ingressPort,
			EgressPort:  egressPort,
			SrcLabel:    in,
			DstLabel:    out,
		}
	}

	return path, nil
}

// withinBandwidth reports whether every port a path crosses has enough
// declared capacity for the requested bandwidth. A port with Capacity
// 0 is treated as unconstrained.
func withinBandwidth(p Path, topo *topology.Topology, bandwidth int) bool {
	if bandwidth <= 0 {
		return true
	}
	for _, link := range p {
		net := topo.Network(link.Network)
		if net == nil {
			continue
		}
		for _, portName := range []string{link.IngressPort, link.EgressPort} {
			port := net.Port(portName)
			if port != nil && port.Capacity > 0 && port.Capacity < bandwidth {
				return false
			}
		}
	}
	return true
}
