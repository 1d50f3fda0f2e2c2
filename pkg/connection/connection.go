// Package connection implements the NSI connection state machine: the
// states a reservation passes through, the per-segment bookkeeping the
// aggregator drives, and the legal transitions between them.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/pathfinder"
)

// State is a connection's (or segment's) lifecycle state.
type State string

const (
	Initial            State = "INITIAL"
	ReserveChecking    State = "RESERVE_CHECKING"
	ReserveHeld        State = "RESERVE_HELD"
	ReserveCommitting  State = "RESERVE_COMMITTING"
	Reserved           State = "RESERVED"
	ReserveFailed      State = "RESERVE_FAILED"
	Provisioning       State = "PROVISIONING"
	Provisioned        State = "PROVISIONED"
	Releasing          State = "RELEASING"
	Terminating        State = "TERMINATING"
	Terminated         State = "TERMINATED"
)

// transitions enumerates the edges of the connection state diagram. It
// is consulted by Connection.Transition to reject a move the diagram
// doesn't allow; it is not itself responsible for deciding *when* a move
// happens (that's the aggregator's job, driven by segment responses).
var transitions = map[State][]State{
	Initial:           {ReserveChecking},
	ReserveChecking:   {ReserveHeld, ReserveFailed, Terminating},
	ReserveHeld:       {ReserveCommitting, ReserveFailed, Terminating},
	ReserveCommitting: {Reserved, ReserveFailed, Terminating},
	Reserved:          {Provisioning, Terminating},
	ReserveFailed:     {Terminating},
	Provisioning:      {Provisioned, Terminating},
	Provisioned:       {Releasing, Terminating},
	Releasing:         {Reserved, Terminating},
	Terminating:       {Terminated},
	Terminated:        {}, // absorbing
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Segment is one path hop's reservation bookkeeping: which provider
// serves it, and its own lifecycle state, tracked independently of
// sibling segments so the aggregator can retry or compensate one segment
// without disturbing the others.
type Segment struct {
	Index       int
	Link        pathfinder.Link
	ProviderURN string
	State       State
	Attempts    int
	LastError   string
	UpdatedAt   time.Time
}

// Connection is one end-to-end reservation: its current aggregate state,
// the path it was given, and the per-segment state each provider call
// contributes to that aggregate.
//
// All mutation goes through Connection's own mutex: state-machine
// transitions are serialized per connection, so a new client command
// always observes the latest committed state.
type Connection struct {
	mu sync.Mutex

	ID            string
	GlobalID      string
	RequesterURN  string
	State         State
	Path          pathfinder.Path
	Segments      []*Segment
	CreatedAt     time.Time
	UpdatedAt     time.Time
	HoldExpiresAt time.Time
	LastError     string
}

// New creates a connection in the Initial state for the given path, one
// Segment per path link, each starting in Initial too.
func New(id, requesterURN string, path pathfinder.Path) *Connection {
	now := time.Now()
	segs := make([]*Segment, len(path))
	for i, link := range path {
		segs[i] = &Segment{Index: i, Link: link, State: Initial, UpdatedAt: now}
	}
	return &Connection{
		ID:           id,
		RequesterURN: requesterURN,
		State:        Initial,
		Path:         path,
		Segments:     segs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// FromSnapshot reconstructs a Connection from a previously persisted
// Snapshot, used at startup to rehydrate the in-memory aggregator state
// from pkg/store after a restart, so in-flight connections survive it.
func FromSnapshot(snap Snapshot) *Connection {
	segs := make([]*Segment, len(snap.Segments))
	for i := range snap.Segments {
		s := snap.Segments[i]
		segs[i] = &s
	}
	return &Connection{
		ID:            snap.ID,
		GlobalID:      snap.GlobalID,
		RequesterURN:  snap.RequesterURN,
		State:         snap.State,
		Path:          snap.Path,
		Segments:      segs,
		CreatedAt:     snap.CreatedAt,
		UpdatedAt:     snap.UpdatedAt,
		HoldExpiresAt: snap.HoldExpiresAt,
		LastError:     snap.LastError,
	}
}

// Snapshot is a point-in-time, lock-free copy of a connection's public
// fields, safe to hand to a caller after releasing the connection's lock
// (e.g. for JSON encoding or the connection store).
type Snapshot struct {
	ID            string
	GlobalID      string
	RequesterURN  string
	State         State
	Path          pathfinder.Path
	Segments      []Segment
	CreatedAt     time.Time
	UpdatedAt     time.Time
	HoldExpiresAt time.Time
	LastError     string
}

// Snapshot takes the connection's lock and returns a copy safe to read
// without it.
func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	segs := make([]Segment, len(c.Segments))
	for i, s := range c.Segments {
		segs[i] = *s
	}
	return Snapshot{
		ID:            c.ID,
		GlobalID:      c.GlobalID,
		RequesterURN:  c.RequesterURN,
		State:         c.State,
		Path:          c.Path,
		Segments:      segs,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		HoldExpiresAt: c.HoldExpiresAt,
		LastError:     c.LastError,
	}
}

// Transition moves the connection to `to`, failing if the state diagram
// doesn't allow from->to. Callers hold no lock; Transition takes and
// releases it internally, which is what makes per-connection transitions
// serialized.
func (c *Connection) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == to {
		return nil // idempotent re-application, used by Terminating/Terminated
	}
	if !CanTransition(c.State, to) {
		return fmt.Errorf("connection: illegal transition %s -> %s for %s", c.State, to, c.ID)
	}
	c.State = to
	c.UpdatedAt = time.Now()
	return nil
}

// SegmentTransition updates one segment's state under the connection's
// lock, so a segment-state write never races a whole-connection read.
func (c *Connection) SegmentTransition(index int, to State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.Segments) {
		return
	}
	seg := c.Segments[index]
	seg.State = to
	seg.UpdatedAt = time.Now()
	if err != nil {
		seg.LastError = err.Error()
	}
}

// AllSegmentsIn reports whether every segment is currently in one of the
// given states — used to decide when all non-compensated segments have
// reported the corresponding transition.
func (c *Connection) AllSegmentsIn(states ...State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[State]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	for _, seg := range c.Segments {
		if !set[seg.State] {
			return false
		}
	}
	return true
}

// RetryWithPath resets the connection for another pathfinder candidate
// after every segment of the previous candidate was compensated: fresh
// segments, state back to Initial. Used by the aggregator's reserve loop
// when a path fails and the next candidate is attempted under the same
// connection id.
func (c *Connection) RetryWithPath(path pathfinder.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	segs := make([]*Segment, len(path))
	for i, link := range path {
		segs[i] = &Segment{Index: i, Link: link, State: Initial, UpdatedAt: now}
	}
	c.Path = path
	c.Segments = segs
	c.State = Initial
	c.UpdatedAt = now
}

// SetError records the last fatal error observed for this connection,
// surfaced to the requester and the event log.
func (c *Connection) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.LastError = err.Error()
	}
	c.UpdatedAt = time.Now()
}
