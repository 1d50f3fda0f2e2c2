// Package registry maintains the mapping between remote NSI agent
// identities and the callable provider handles that serve their networks,
// spawning new handles on demand as the fetcher discovers peers.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
)

// STPResolutionError is returned when a urn or network-id has no
// registered provider.
type STPResolutionError struct {
	Ref string
}

func (e *STPResolutionError) Error() string {
	return "registry: could not resolve " + e.Ref
}

// NoFactoryError is returned when spawning a provider for an agent whose
// ServiceType has no registered factory.
type NoFactoryError struct {
	ServiceType string
}

func (e *NoFactoryError) Error() string {
	return "registry: no provider factory registered for service type " + e.ServiceType
}

// registration is the atomic unit the registry stores and compares for
// idempotence: a urn's handle plus the exact set of networks it serves.
type registration struct {
	urn        string
	handle     provider.Handle
	networks   []string
	serviceTyp string
}

// Registry maps NSI agent URNs to provider handles and keeps the reverse
// network-id -> urn index consistent: a network is served by exactly one
// provider at a time.
type Registry struct {
	mu sync.RWMutex

	providers        map[string]*registration
	providerNetworks map[string]string // network-id -> urn

	factories map[string]provider.Factory // service-type -> factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		providers:        make(map[string]*registration),
		providerNetworks: make(map[string]string),
		factories:        make(map[string]provider.Factory),
	}
}

// RegisterFactory associates a service-type tag with the factory that
// builds a Handle for agents declaring it. Call before Fetcher discovery
// starts; not safe to call concurrently with SpawnProvider for the same
// service type in the current design (factories are wired once at
// startup, as a tagged-variant backend dispatch table).
func (r *Registry) RegisterFactory(serviceType string, f provider.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[serviceType] = f
}

// GetProvider returns the handle registered for urn.
func (r *Registry) GetProvider(urn string) (provider.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[urn]
	if !ok {
		return nil, &STPResolutionError{Ref: urn}
	}
	return reg.handle, nil
}

// GetProviderByNetwork reverse-looks-up the urn serving networkID.
func (r *Registry) GetProviderByNetwork(networkID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urn, ok := r.providerNetworks[networkID]
	if !ok {
		return "", &STPResolutionError{Ref: networkID}
	}
	return urn, nil
}

// HandleForNetwork is a convenience composing GetProviderByNetwork and
// GetProvider, the lookup the aggregator actually performs per segment.
func (r *Registry) HandleForNetwork(networkID string) (provider.Handle, error) {
	urn, err := r.GetProviderByNetwork(networkID)
	if err != nil {
		return nil, err
	}
	return r.GetProvider(urn)
}

// AddProvider registers urn -> handle serving networkIDs. Idempotent: if
// the same urn is already registered with the identical (sorted) set of
// networkIDs, this is a no-op. A differing set atomically replaces the
// previous registration, clearing the old network-id entries first so no
// stale reverse-index entries survive.
func (r *Registry) AddProvider(urn string, handle provider.Handle, networkIDs []string) {
	sorted := append([]string(nil), networkIDs...)
	sort.Strings(sorted)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.providers[urn]; ok && existing.handle == handle && sameStrings(existing.networks, sorted) {
		return
	}

	if existing, ok := r.providers[urn]; ok {
		for _, n := range existing.networks {
			delete(r.providerNetworks, n)
		}
	}

	r.providers[urn] = &registration{urn: urn, handle: handle, networks: sorted}
	for _, n := range sorted {
		r.providerNetworks[n] = urn
	}
}

// Remove drops urn and every network-id it served (used when the fetcher
// determines a peer has disappeared).
func (r *Registry) Remove(urn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.providers[urn]
	if !ok {
		return
	}
	for _, n := range existing.networks {
		delete(r.providerNetworks, n)
	}
	delete(r.providers, urn)
}

// SpawnProvider constructs (or reuses) a Handle for agent serving
// networkIDs. If an identical registration already exists — same urn,
// same network-id set — the existing handle is returned unchanged with
// no factory call. Otherwise it looks up a factory by agent.ServiceType,
// constructs a handle, registers it, and returns it.
func (r *Registry) SpawnProvider(agent nsa.Agent, networkIDs []string) (provider.Handle, error) {
	sorted := append([]string(nil), networkIDs...)
	sort.Strings(sorted)

	r.mu.Lock()
	if existing, ok := r.providers[agent.URN]; ok && sameStrings(existing.networks, sorted) {
		h := existing.handle
		r.mu.Unlock()
		return h, nil
	}
	factory, ok := r.factories[agent.ServiceType]
	r.mu.Unlock()

	if !ok {
		return nil, &NoFactoryError{ServiceType: agent.ServiceType}
	}

	handle := factory(agent)
	r.AddProvider(agent.URN, handle, sorted)
	return handle, nil
}

// Networks returns every network-id currently served by any provider, for
// diagnostics/CLI listing.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providerNetworks))
	for n := range r.providerNetworks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// URNs returns every registered agent URN, sorted.
func (r *Registry) URNs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for u := range r.providers {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// String renders a one-line summary of the provider and network counts.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry: %d provider(s), %d network(s)", len(r.providers), len(r.providerNetworks))
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
