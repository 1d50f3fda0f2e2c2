package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
)

// LocalServiceType is the agent service-type tag the registry dispatches
// to LocalProvider.
const LocalServiceType = "application/vnd.ogf.nsi.cs.v2.local+upa"

// localSegment is one reservation's bookkeeping inside the in-memory UPA
// stub: just enough state to answer Query. Operations are not checked
// against the segment's current state.
type localSegment struct {
	state    string
	criteria Criteria
}

// LocalProvider is the in-process stand-in for a UPA controlling real
// hardware: it accepts every NSI primitive and tracks segment state in
// memory, since genuinely provisioning VLANs onto switch silicon is out
// of scope here. It exists so locally-served networks have a leaf
// provider at all.
type LocalProvider struct {
	Agent nsa.Agent

	mu       sync.Mutex
	segments map[string]*localSegment
}

// NewLocalProvider constructs a LocalProvider for agent. Its signature
// matches Factory so the registry can register it directly.
func NewLocalProvider(agent nsa.Agent) Handle {
	return &LocalProvider{
		Agent:    agent,
		segments: make(map[string]*localSegment),
	}
}

func (p *LocalProvider) get(connectionID string) (*localSegment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segments[connectionID]
	return seg, ok
}

func (p *LocalProvider) set(connectionID, state string, criteria *Criteria) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segments[connectionID]
	if !ok {
		seg = &localSegment{}
		p.segments[connectionID] = seg
	}
	seg.state = state
	if criteria != nil {
		seg.criteria = *criteria
	}
}

// Reserve admits any request whose bandwidth is non-negative; a stand-in
// for the real admission control a hardware UPA would perform against
// actual port capacity.
func (p *LocalProvider) Reserve(ctx context.Context, connectionID string, criteria Criteria) error {
	if criteria.Bandwidth < 0 {
		return fmt.Errorf("provider: local: negative bandwidth for %s", connectionID)
	}
	p.set(connectionID, "RESERVE_HELD", &criteria)
	return nil
}

func (p *LocalProvider) ReserveCommit(ctx context.Context, connectionID string) error {
	p.set(connectionID, "RESERVED", nil)
	return nil
}

func (p *LocalProvider) ReserveAbort(ctx context.Context, connectionID string) error {
	p.set(connectionID, "TERMINATED", nil)
	return nil
}

func (p *LocalProvider) Provision(ctx context.Context, connectionID string) error {
	p.set(connectionID, "PROVISIONED", nil)
	return nil
}

func (p *LocalProvider) Release(ctx context.Context, connectionID string) error {
	p.set(connectionID, "RESERVED", nil)
	return nil
}

func (p *LocalProvider) Terminate(ctx context.Context, connectionID string) error {
	p.set(connectionID, "TERMINATED", nil)
	return nil
}

func (p *LocalProvider) Query(ctx context.Context, connectionID string) (Status, error) {
	seg, ok := p.get(connectionID)
	if !ok {
		return Status{}, fmt.Errorf("provider: local: unknown connection %s", connectionID)
	}
	return Status{ConnectionID: connectionID, State: seg.state}, nil
}
