package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/discovery"
	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
	"github.com/newtron-network/nsi-gateway/pkg/registry"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
)

func newTopology() (*topology.Topology, *topology.Network) {
	topo := topology.New()
	local := topology.NewNetwork("urn:ogf:network:aruba.net", nsa.Agent{})
	local.AddPort(&topology.Port{Name: "aruba-bonaire", RemoteNetwork: "urn:ogf:network:bonaire.net"})
	topo.AddNetwork(local)
	return topo, local
}

func peerServer(t *testing.T, doc *discovery.Document) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := doc.Render()
		if err != nil {
			t.Fatalf("rendering document: %v", err)
		}
		w.Write(body)
	}))
}

func TestPollOnce_SpawnsProviderAndUpdatesVector(t *testing.T) {
	doc := &discovery.Document{
		URN:      "urn:ogf:network:bonaire.net:nsa",
		Networks: []string{"urn:ogf:network:bonaire.net"},
		Interfaces: []discovery.Interface{
			{ServiceType: provider.RemoteServiceType, Endpoint: "http://bonaire.example/soap"},
		},
	}
	srv := peerServer(t, doc)
	defer srv.Close()

	topo, _ := newTopology()
	reg := registry.New()
	reg.RegisterFactory(provider.RemoteServiceType, provider.NewRemoteProvider)
	lv := linkvector.New()

	f := New("urn:ogf:network:aruba.net", []Peer{{URN: doc.URN, URL: srv.URL}}, time.Minute, topo, lv, reg, discovery.NewFetchClient())
	f.PollOnce(context.Background())

	if _, err := reg.GetProvider(doc.URN); err != nil {
		t.Fatalf("expected provider spawned for %s: %v", doc.URN, err)
	}
	urn, err := reg.GetProviderByNetwork("urn:ogf:network:bonaire.net")
	if err != nil || urn != doc.URN {
		t.Fatalf("network reverse lookup = %q, %v", urn, err)
	}

	vec := lv.Vector("urn:ogf:network:bonaire.net")
	found := false
	for _, e := range vec {
		if e.Port == "aruba-bonaire" && e.Cost == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected link-vector entry for aruba-bonaire at cost 1, got %v", vec)
	}
}

func TestPollOnce_RemovesVanishedPeer(t *testing.T) {
	doc := &discovery.Document{
		URN:      "urn:ogf:network:bonaire.net:nsa",
		Networks: []string{"urn:ogf:network:bonaire.net"},
		Interfaces: []discovery.Interface{
			{ServiceType: provider.RemoteServiceType, Endpoint: "http://bonaire.example/soap"},
		},
	}
	srv := peerServer(t, doc)

	topo, _ := newTopology()
	reg := registry.New()
	reg.RegisterFactory(provider.RemoteServiceType, provider.NewRemoteProvider)
	lv := linkvector.New()

	f := New("urn:ogf:network:aruba.net", []Peer{{URN: doc.URN, URL: srv.URL}}, time.Minute, topo, lv, reg, discovery.NewFetchClient())
	f.PollOnce(context.Background())
	srv.Close()

	// Peer config now empty: the peer vanished.
	f.Peers = nil
	f.PollOnce(context.Background())

	if _, err := reg.GetProvider(doc.URN); err == nil {
		t.Error("expected provider to be removed after peer vanished")
	}
	vec := lv.Vector("urn:ogf:network:bonaire.net")
	for _, e := range vec {
		if e.Port == "aruba-bonaire" {
			t.Errorf("expected link-vector entry removed, still present: %v", e)
		}
	}
}

func TestPollOnce_SkipsUnreachablePeer(t *testing.T) {
	topo, _ := newTopology()
	reg := registry.New()
	lv := linkvector.New()

	f := New("urn:ogf:network:aruba.net", []Peer{{URN: "urn:ogf:network:down.net:nsa", URL: "http://127.0.0.1:0"}}, time.Minute, topo, lv, reg, discovery.NewFetchClient())
	f.PollOnce(context.Background())

	if len(reg.Networks()) != 0 {
		t.Errorf("expected no networks registered, got %v", reg.Networks())
	}
}
