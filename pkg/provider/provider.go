// Package provider defines the connection-provider interface that every
// network (local or remote) implements, plus the tagged-variant backends
// this gateway ships with.
package provider

import (
	"context"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
)

// Criteria describes one segment's reservation request: the two STPs
// (carrying their agreed label) and the bandwidth to reserve on that
// segment.
type Criteria struct {
	Source      nsa.STP
	Destination nsa.STP
	Bandwidth   int
}

// Handle is a single network's connection provider: the set of NSI
// primitive operations the aggregator drives for one path segment. Every
// method takes a connectionID identifying the segment across its
// lifetime and a context for cancellation/deadlines.
type Handle interface {
	Reserve(ctx context.Context, connectionID string, criteria Criteria) error
	ReserveCommit(ctx context.Context, connectionID string) error
	ReserveAbort(ctx context.Context, connectionID string) error
	Provision(ctx context.Context, connectionID string) error
	Release(ctx context.Context, connectionID string) error
	Terminate(ctx context.Context, connectionID string) error
	Query(ctx context.Context, connectionID string) (Status, error)
}

// Status is a segment's last known lifecycle state as reported by its
// provider.
type Status struct {
	ConnectionID string
	State        string
}

// Factory constructs a Handle for a newly discovered NSI agent. Factories
// are registered per ServiceType in the provider registry.
type Factory func(agent nsa.Agent) Handle
