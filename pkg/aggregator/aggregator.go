// Package aggregator implements the reservation orchestrator: it turns
// one logical client request into a set of per-segment provider calls,
// fanned out in parallel, and drives each connection through the state
// machine in pkg/connection.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/audit"
	"github.com/newtron-network/nsi-gateway/pkg/connection"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/pathfinder"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
	"github.com/newtron-network/nsi-gateway/pkg/registry"
	"github.com/newtron-network/nsi-gateway/pkg/store"
	"github.com/newtron-network/nsi-gateway/pkg/util"
)

// DefaultHoldTimeout is the RESERVE_HELD hold timer's default.
const DefaultHoldTimeout = 120 * time.Second

// FatalSegmentError is returned when a segment exhausts its bounded
// retry budget during provisioning or release.
type FatalSegmentError struct {
	ConnectionID string
	Network      string
	Cause        error
}

func (e *FatalSegmentError) Error() string {
	return fmt.Sprintf("aggregator: connection %s segment %s exhausted retries: %v", e.ConnectionID, e.Network, e.Cause)
}

func (e *FatalSegmentError) Unwrap() error { return e.Cause }

// Aggregator is the reservation and provisioning coordinator.
type Aggregator struct {
	NetworkName string
	HoldTimeout time.Duration

	Finder   *pathfinder.Finder
	Registry *registry.Registry
	Store    *store.Store
	Clock    Clock

	mu          sync.Mutex
	connections map[string]*connection.Connection
	holdCancel  map[string]chan struct{}

	serviceIDStart int64
	seq            int64
}

// New creates an Aggregator. holdTimeout of zero uses DefaultHoldTimeout.
func New(networkName string, holdTimeout time.Duration, finder *pathfinder.Finder, reg *registry.Registry, st *store.Store, clock Clock, serviceIDStart int64) *Aggregator {
	if holdTimeout <= 0 {
		holdTimeout = DefaultHoldTimeout
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Aggregator{
		NetworkName:    networkName,
		HoldTimeout:    holdTimeout,
		Finder:         finder,
		Registry:       reg,
		Store:          st,
		Clock:          clock,
		connections:    make(map[string]*connection.Connection),
		holdCancel:     make(map[string]chan struct{}),
		serviceIDStart: serviceIDStart,
	}
}

// nextConnectionID allocates the next connection id, preferring the
// persisted store's generator (so ids survive a restart) and falling
// back to an in-process counter when no store is configured — e.g. in
// tests that exercise the aggregator without Redis.
func (a *Aggregator) nextConnectionID() (string, error) {
	var n int64
	if a.Store != nil {
		var err error
		n, err = a.Store.NextServiceID(a.serviceIDStart)
		if err != nil {
			return "", fmt.Errorf("aggregator: allocating connection id: %w", err)
		}
	} else {
		a.mu.Lock()
		if a.seq == 0 {
			a.seq = a.serviceIDStart - 1
		}
		a.seq++
		n = a.seq
		a.mu.Unlock()
	}
	return fmt.Sprintf("%s:conn-%d", a.NetworkName, n), nil
}

func (a *Aggregator) track(c *connection.Connection) {
	a.mu.Lock()
	a.connections[c.ID] = c
	a.mu.Unlock()
}

// Restore re-admits a persisted connection snapshot into the in-memory
// tracking map after a restart, without replaying its state-machine
// transitions or re-issuing provider calls. A restored connection in
// RESERVE_HELD gets no hold timer, and no later operation checks its
// HoldExpiresAt, so its hold does not expire after a restore.
func (a *Aggregator) Restore(snap connection.Snapshot) {
	a.track(connection.FromSnapshot(snap))
}

func (a *Aggregator) get(id string) (*connection.Connection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.connections[id]
	return c, ok
}

func (a *Aggregator) persist(c *connection.Connection) {
	if a.Store == nil {
		return
	}
	if err := a.Store.Save(c.Snapshot()); err != nil {
		util.Errorf("aggregator: persisting connection %s: %v", c.ID, err)
	}
}

func (a *Aggregator) logEvent(c *connection.Connection, op string, from, to connection.State, err error, start time.Time) {
	ev := audit.NewEvent(c.ID, c.RequesterURN, op).
		WithNetwork(a.NetworkName).
		WithTransition(string(from), string(to)).
		WithDuration(a.Clock.Now().Sub(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}
	if logErr := audit.Log(ev); logErr != nil {
		util.Warnf("aggregator: audit log failed for connection %s: %v", c.ID, logErr)
	}
}

// handleFor resolves the provider handle serving network, whether it's
// this gateway's own locally-registered network or a peer's — both cases
// are a single registry lookup once the local network is registered like
// any other provider.
func (a *Aggregator) handleFor(network string) (provider.Handle, error) {
	return a.Registry.HandleForNetwork(network)
}

// segmentResult is one segment's outcome from a parallel fan-out.
type segmentResult struct {
	index int
	err   error
}

// parallelForSegments runs fn for every segment of path concurrently and
// waits for all of them before inspecting results.
func parallelForSegments(path pathfinder.Path, fn func(index int, link pathfinder.Link) error) map[int]error {
	var wg sync.WaitGroup
	results := make(chan segmentResult, len(path))
	for i, link := range path {
		wg.Add(1)
		go func(i int, link pathfinder.Link) {
			defer wg.Done()
			results <- segmentResult{index: i, err: fn(i, link)}
		}(i, link)
	}
	wg.Wait()
	close(results)

	errs := make(map[int]error)
	for r := range results {
		if r.err != nil {
			errs[r.index] = r.err
		}
	}
	return errs
}

// Reserve finds candidate paths and attempts them in order until one
// path reserves every segment, compensating any partial success before
// moving to the next candidate.
func (a *Aggregator) Reserve(ctx context.Context, requesterURN, globalID string, src, dst nsa.STP, bandwidth int) (*connection.Connection, error) {
	candidates, err := a.Finder.FindPaths(src, dst, bandwidth)
	if err != nil {
		return nil, err
	}

	id, err := a.nextConnectionID()
	if err != nil {
		return nil, err
	}

	var conn *connection.Connection
	var lastErr error
	for i, path := range candidates {
		if i == 0 {
			conn = connection.New(id, requesterURN, path)
			conn.GlobalID = globalID
		} else {
			conn.RetryWithPath(path)
		}

		if err := conn.Transition(connection.ReserveChecking); err != nil {
			return nil, err
		}

		start := a.Clock.Now()
		errs := parallelForSegments(path, func(idx int, link pathfinder.Link) error {
			handle, err := a.handleFor(link.Network)
			if err != nil {
				return err
			}
			criteria := provider.Criteria{
				Source:      nsa.NewSTP(link.Network, link.IngressPort, link.SrcLabel),
				Destination: nsa.NewSTP(link.Network, link.EgressPort, link.DstLabel),
				Bandwidth:   bandwidth,
			}
			err = handle.Reserve(ctx, id, criteria)
			if err != nil {
				conn.SegmentTransition(idx, connection.ReserveFailed, err)
				return err
			}
			conn.SegmentTransition(idx, connection.ReserveHeld, nil)
			return nil
		})

		if len(errs) == 0 {
			conn.Transition(connection.ReserveHeld)
			a.track(conn)
			a.persist(conn)
			a.startHoldTimer(conn)
			a.logEvent(conn, string(audit.EventTypeReserve), connection.Initial, connection.ReserveHeld, nil, start)
			return conn, nil
		}

		// Compensate every segment that succeeded before trying the next
		// candidate path.
		a.compensate(ctx, conn, id)
		lastErr = firstError(errs)
		conn.SetError(lastErr)
		conn.Transition(connection.ReserveFailed)
		a.logEvent(conn, string(audit.EventTypeReserve), connection.ReserveChecking, connection.ReserveFailed, lastErr, start)
	}

	return nil, fmt.Errorf("aggregator: reserve %s: all candidate paths failed: %w", id, lastErr)
}

// firstError returns the error for the lowest segment index in errs, so
// compensation failure messages are deterministic rather than depending
// on map iteration order.
func firstError(errs map[int]error) error {
	best := -1
	for idx := range errs {
		if best == -1 || idx < best {
			best = idx
		}
	}
	if best == -1 {
		return nil
	}
	return errs[best]
}

// compensate issues ReserveAbort to every segment that had actually
// reached RESERVE_HELD (or later) — a segment that never got that far
// has nothing to compensate. Best-effort: a provider that can't be
// reached is logged but doesn't block the rest.
func (a *Aggregator) compensate(ctx context.Context, conn *connection.Connection, connID string) {
	snap := conn.Snapshot()
	parallelForSegments(snap.Path, func(idx int, link pathfinder.Link) error {
		if idx >= len(snap.Segments) || snap.Segments[idx].State == connection.ReserveFailed || snap.Segments[idx].State == connection.Initial {
			return nil
		}
		handle, err := a.handleFor(link.Network)
		if err != nil {
			return nil // never reserved in the first place
		}
		if err := handle.ReserveAbort(ctx, connID); err != nil {
			util.Warnf("aggregator: compensating abort failed for connection %s network %s: %v", connID, link.Network, err)
		}
		conn.SegmentTransition(idx, connection.Initial, nil)
		return nil
	})
}

func (a *Aggregator) startHoldTimer(conn *connection.Connection) {
	cancel := make(chan struct{})
	a.mu.Lock()
	a.holdCancel[conn.ID] = cancel
	a.mu.Unlock()

	go func() {
		select {
		case <-a.Clock.After(a.HoldTimeout):
			a.expireHold(conn.ID)
		case <-cancel:
		}
	}()
}

func (a *Aggregator) stopHoldTimer(id string) {
	a.mu.Lock()
	cancel, ok := a.holdCancel[id]
	if ok {
		delete(a.holdCancel, id)
	}
	a.mu.Unlock()
	if ok {
		close(cancel)
	}
}

// expireHold fires when RESERVE_HELD's hold timer elapses without a
// commit: the connection is compensated and moved to RESERVE_FAILED.
func (a *Aggregator) expireHold(id string) {
	conn, ok := a.get(id)
	if !ok {
		return
	}
	snap := conn.Snapshot()
	if snap.State != connection.ReserveHeld {
		return // already committed or aborted
	}
	start := a.Clock.Now()
	a.compensate(context.Background(), conn, id)
	conn.SetError(fmt.Errorf("aggregator: hold timer expired"))
	conn.Transition(connection.ReserveFailed)
	a.persist(conn)
	a.logEvent(conn, "hold_expire", connection.ReserveHeld, connection.ReserveFailed, nil, start)
}

// ReserveCommit advances a RESERVE_HELD connection to RESERVED.
func (a *Aggregator) ReserveCommit(ctx context.Context, id string) (*connection.Connection, error) {
	conn, ok := a.get(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	a.stopHoldTimer(id)

	start := a.Clock.Now()
	if err := conn.Transition(connection.ReserveCommitting); err != nil {
		return nil, err
	}

	snap := conn.Snapshot()
	errs := parallelForSegments(snap.Path, func(idx int, link pathfinder.Link) error {
		handle, err := a.handleFor(link.Network)
		if err != nil {
			return err
		}
		if err := handle.ReserveCommit(ctx, id); err != nil {
			conn.SegmentTransition(idx, connection.ReserveFailed, err)
			return err
		}
		conn.SegmentTransition(idx, connection.Reserved, nil)
		return nil
	})

	if len(errs) == 0 {
		conn.Transition(connection.Reserved)
		a.persist(conn)
		a.logEvent(conn, string(audit.EventTypeReserveCommit), connection.ReserveCommitting, connection.Reserved, nil, start)
		return conn, nil
	}

	err := firstError(errs)
	a.compensate(ctx, conn, id)
	conn.SetError(err)
	conn.Transition(connection.ReserveFailed)
	a.persist(conn)
	a.logEvent(conn, string(audit.EventTypeReserveCommit), connection.ReserveCommitting, connection.ReserveFailed, err, start)
	return nil, err
}

// ReserveAbort cancels a RESERVE_HELD connection at the client's request.
func (a *Aggregator) ReserveAbort(ctx context.Context, id string) (*connection.Connection, error) {
	conn, ok := a.get(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	a.stopHoldTimer(id)
	start := a.Clock.Now()
	a.compensate(ctx, conn, id)
	conn.Transition(connection.ReserveFailed)
	a.persist(conn)
	a.logEvent(conn, string(audit.EventTypeReserveAbort), connection.ReserveHeld, connection.ReserveFailed, nil, start)
	return conn, nil
}

// retrySegment runs op against one segment with the bounded backoff
// schedule used for PROVISIONING/RELEASING failures.
func (a *Aggregator) retrySegment(ctx context.Context, op func(context.Context, string) error, connID string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := op(ctx, connID); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < maxAttempts {
			select {
			case <-a.Clock.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Provision drives a RESERVED connection to PROVISIONED.
func (a *Aggregator) Provision(ctx context.Context, id string) (*connection.Connection, error) {
	conn, ok := a.get(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	start := a.Clock.Now()
	if err := conn.Transition(connection.Provisioning); err != nil {
		return nil, err
	}

	snap := conn.Snapshot()
	errs := parallelForSegments(snap.Path, func(idx int, link pathfinder.Link) error {
		handle, err := a.handleFor(link.Network)
		if err != nil {
			conn.SegmentTransition(idx, connection.Terminating, err)
			return err
		}
		if err := a.retrySegment(ctx, handle.Provision, id); err != nil {
			conn.SegmentTransition(idx, connection.Terminating, err)
			return &FatalSegmentError{ConnectionID: id, Network: link.Network, Cause: err}
		}
		conn.SegmentTransition(idx, connection.Provisioned, nil)
		return nil
	})

	if len(errs) == 0 {
		conn.Transition(connection.Provisioned)
		a.persist(conn)
		a.logEvent(conn, string(audit.EventTypeProvision), connection.Provisioning, connection.Provisioned, nil, start)
		return conn, nil
	}

	err := firstError(errs)
	conn.SetError(err)
	if tErr := a.forceTerminate(ctx, conn, id); tErr != nil {
		util.Warnf("aggregator: provision: forcing termination of %s: %v", id, tErr)
	}
	a.logEvent(conn, string(audit.EventTypeProvision), connection.Provisioning, connection.Terminated, err, start)
	return nil, err
}

// Release drives a PROVISIONED connection back to RESERVED.
func (a *Aggregator) Release(ctx context.Context, id string) (*connection.Connection, error) {
	conn, ok := a.get(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	start := a.Clock.Now()
	if err := conn.Transition(connection.Releasing); err != nil {
		return nil, err
	}

	snap := conn.Snapshot()
	errs := parallelForSegments(snap.Path, func(idx int, link pathfinder.Link) error {
		handle, err := a.handleFor(link.Network)
		if err != nil {
			conn.SegmentTransition(idx, connection.Terminating, err)
			return err
		}
		if err := a.retrySegment(ctx, handle.Release, id); err != nil {
			conn.SegmentTransition(idx, connection.Terminating, err)
			return &FatalSegmentError{ConnectionID: id, Network: link.Network, Cause: err}
		}
		conn.SegmentTransition(idx, connection.Reserved, nil)
		return nil
	})

	if len(errs) == 0 {
		conn.Transition(connection.Reserved)
		a.persist(conn)
		a.logEvent(conn, string(audit.EventTypeRelease), connection.Releasing, connection.Reserved, nil, start)
		return conn, nil
	}

	err := firstError(errs)
	conn.SetError(err)
	if tErr := a.forceTerminate(ctx, conn, id); tErr != nil {
		util.Warnf("aggregator: release: forcing termination of %s: %v", id, tErr)
	}
	a.logEvent(conn, string(audit.EventTypeRelease), connection.Releasing, connection.Terminated, err, start)
	return nil, err
}

// Terminate tears down a connection. It is idempotent and always
// eventually reaches TERMINATED; an unreachable segment provider is
// logged but never blocks termination.
func (a *Aggregator) Terminate(ctx context.Context, id string) (*connection.Connection, error) {
	conn, ok := a.get(id)
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	a.stopHoldTimer(id)
	start := a.Clock.Now()
	from := conn.Snapshot().State
	if from == connection.Terminated {
		return conn, nil
	}
	if err := a.forceTerminate(ctx, conn, id); err != nil {
		a.logEvent(conn, string(audit.EventTypeTerminate), from, connection.Terminated, err, start)
		return nil, err
	}
	a.logEvent(conn, string(audit.EventTypeTerminate), from, connection.Terminated, nil, start)
	return conn, nil
}

func (a *Aggregator) forceTerminate(ctx context.Context, conn *connection.Connection, id string) error {
	if err := conn.Transition(connection.Terminating); err != nil {
		util.Warnf("aggregator: terminate: connection %s: %v", id, err)
		return err
	}
	snap := conn.Snapshot()
	parallelForSegments(snap.Path, func(idx int, link pathfinder.Link) error {
		handle, err := a.handleFor(link.Network)
		if err != nil {
			util.Warnf("aggregator: terminate: no provider for network %s on connection %s: %v", link.Network, id, err)
			conn.SegmentTransition(idx, connection.Terminated, err)
			return nil
		}
		if err := handle.Terminate(ctx, id); err != nil {
			util.Warnf("aggregator: terminate: segment %s on connection %s unreachable: %v", link.Network, id, err)
		}
		conn.SegmentTransition(idx, connection.Terminated, nil)
		return nil
	})
	if err := conn.Transition(connection.Terminated); err != nil {
		util.Warnf("aggregator: terminate: connection %s: %v", id, err)
		return err
	}
	a.persist(conn)
	if a.Store != nil {
		if err := a.Store.Delete(id); err != nil {
			util.Warnf("aggregator: removing persisted record for %s: %v", id, err)
		}
	}
	return nil
}

// Query returns the current snapshot of a tracked connection.
func (a *Aggregator) Query(id string) (connection.Snapshot, error) {
	conn, ok := a.get(id)
	if !ok {
		return connection.Snapshot{}, &store.NotFoundError{ID: id}
	}
	return conn.Snapshot(), nil
}

// List returns a snapshot of every connection currently tracked in memory.
func (a *Aggregator) List() []connection.Snapshot {
	a.mu.Lock()
	conns := make([]*connection.Connection, 0, len(a.connections))
	for _, c := range a.connections {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	snaps := make([]connection.Snapshot, len(conns))
	for i, c := range conns {
		snaps[i] = c.Snapshot()
	}
	return snaps
}
