package registry

import (
	"context"
	"testing"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
)

func newStub(tag string) provider.Handle {
	return fakeHandle{tag: tag}
}

// fakeHandle is a minimal provider.Handle, enough to exercise identity
// comparisons in the registry without pulling in pkg/provider's local or
// remote implementations.
type fakeHandle struct {
	tag string
}

func (f fakeHandle) Reserve(ctx context.Context, connectionID string, criteria provider.Criteria) error {
	return nil
}
func (f fakeHandle) ReserveCommit(ctx context.Context, connectionID string) error { return nil }
func (f fakeHandle) ReserveAbort(ctx context.Context, connectionID string) error  { return nil }
func (f fakeHandle) Provision(ctx context.Context, connectionID string) error     { return nil }
func (f fakeHandle) Release(ctx context.Context, connectionID string) error       { return nil }
func (f fakeHandle) Terminate(ctx context.Context, connectionID string) error     { return nil }
func (f fakeHandle) Query(ctx context.Context, connectionID string) (provider.Status, error) {
	return provider.Status{ConnectionID: connectionID, State: f.tag}, nil
}

func TestAddProvider_GetByNetworkAndURN(t *testing.T) {
	r := New()
	h := newStub("aruba")
	r.AddProvider("urn:ogf:network:aruba.net:nsa", h, []string{"aruba:topology", "aruba:backup"})

	got, err := r.GetProviderByNetwork("aruba:topology")
	if err != nil {
		t.Fatalf("GetProviderByNetwork: %v", err)
	}
	if got != "urn:ogf:network:aruba.net:nsa" {
		t.Errorf("GetProviderByNetwork = %q, want urn:ogf:network:aruba.net:nsa", got)
	}

	handle, err := r.GetProvider("urn:ogf:network:aruba.net:nsa")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if handle != h {
		t.Error("GetProvider returned a different handle than was registered")
	}
}

func TestAddProvider_Idempotent(t *testing.T) {
	r := New()
	h := newStub("aruba")
	r.AddProvider("urn:a", h, []string{"net1", "net2"})
	r.AddProvider("urn:a", h, []string{"net2", "net1"}) // same set, different order

	if got := r.Networks(); len(got) != 2 {
		t.Errorf("Networks() = %v, want 2 entries (no duplication from the re-add)", got)
	}
}

func TestAddProvider_ReplacesNetworkSet(t *testing.T) {
	r := New()
	h := newStub("aruba")
	r.AddProvider("urn:a", h, []string{"net1", "net2"})
	r.AddProvider("urn:a", h, []string{"net3"})

	if _, err := r.GetProviderByNetwork("net1"); err == nil {
		t.Error("net1 should no longer resolve after the registration was replaced")
	}
	if _, err := r.GetProviderByNetwork("net2"); err == nil {
		t.Error("net2 should no longer resolve after the registration was replaced")
	}
	urn, err := r.GetProviderByNetwork("net3")
	if err != nil || urn != "urn:a" {
		t.Errorf("GetProviderByNetwork(net3) = (%q, %v), want (urn:a, nil)", urn, err)
	}
}

func TestGetProvider_Unresolved(t *testing.T) {
	r := New()
	if _, err := r.GetProvider("urn:nope"); err == nil {
		t.Fatal("expected STPResolutionError for unknown urn")
	}
	if _, err := r.GetProviderByNetwork("nope"); err == nil {
		t.Fatal("expected STPResolutionError for unknown network")
	}
}

func TestSpawnProvider_BuildsOnceAndReuses(t *testing.T) {
	r := New()
	calls := 0
	r.RegisterFactory("local", func(agent nsa.Agent) provider.Handle {
		calls++
		return newStub(agent.URN)
	})

	agent := nsa.NewAgent("urn:ogf:network:aruba.net:nsa", "https://aruba/nsa", nsa.RoleProvider, "local")
	h1, err := r.SpawnProvider(agent, []string{"aruba:topology"})
	if err != nil {
		t.Fatalf("SpawnProvider: %v", err)
	}
	h2, err := r.SpawnProvider(agent, []string{"aruba:topology"})
	if err != nil {
		t.Fatalf("SpawnProvider (repeat): %v", err)
	}
	if h1 != h2 {
		t.Error("SpawnProvider should return the existing handle for an identical registration")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}

	urn, err := r.GetProviderByNetwork("aruba:topology")
	if err != nil || urn != agent.URN {
		t.Errorf("GetProviderByNetwork = (%q, %v), want (%q, nil)", urn, err, agent.URN)
	}
}

func TestSpawnProvider_NoFactory(t *testing.T) {
	r := New()
	agent := nsa.NewAgent("urn:a", "https://a", nsa.RoleProvider, "unregistered-type")
	_, err := r.SpawnProvider(agent, []string{"net1"})
	if err == nil {
		t.Fatal("expected NoFactoryError")
	}
	if _, ok := err.(*NoFactoryError); !ok {
		t.Errorf("error type = %T, want *NoFactoryError", err)
	}
}

func TestSpawnProvider_RebuildsOnChangedNetworkSet(t *testing.T) {
	r := New()
	calls := 0
	r.RegisterFactory("local", func(agent nsa.Agent) provider.Handle {
		calls++
		return newStub(agent.URN)
	})
	agent := nsa.NewAgent("urn:a", "https://a", nsa.RoleProvider, "local")

	if _, err := r.SpawnProvider(agent, []string{"net1"}); err != nil {
		t.Fatalf("SpawnProvider: %v", err)
	}
	if _, err := r.SpawnProvider(agent, []string{"net1", "net2"}); err != nil {
		t.Fatalf("SpawnProvider (grown set): %v", err)
	}
	if calls != 2 {
		t.Errorf("factory called %d times, want 2 (network set changed)", calls)
	}
}

func TestRemove(t *testing.T) {
	r := New()
	h := newStub("aruba")
	r.AddProvider("urn:a", h, []string{"net1", "net2"})
	r.Remove("urn:a")

	if _, err := r.GetProvider("urn:a"); err == nil {
		t.Error("urn:a should no longer resolve after Remove")
	}
	if _, err := r.GetProviderByNetwork("net1"); err == nil {
		t.Error("net1 should no longer resolve after its provider was removed")
	}
}

func TestRemove_UnknownURNIsNoop(t *testing.T) {
	r := New()
	r.Remove("urn:never-registered") // must not panic
}
