package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/newtron-network/nsi-gateway/pkg/aggregator"
	"github.com/newtron-network/nsi-gateway/pkg/config"
	"github.com/newtron-network/nsi-gateway/pkg/connection"
	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/pathfinder"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
	"github.com/newtron-network/nsi-gateway/pkg/registry"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
)

func newTestAggregator(t *testing.T) *aggregator.Aggregator {
	t.Helper()
	topo := topology.New()
	netA := topology.NewNetwork("urn:ogf:network:a.net", nsa.Agent{})
	netB := topology.NewNetwork("urn:ogf:network:b.net", nsa.Agent{})
	netA.SetCanSwapLabel(true)
	netB.SetCanSwapLabel(true)
	netA.AddPort(&topology.Port{Name: "a-b", RemoteNetwork: "urn:ogf:network:b.net"})
	netB.AddPort(&topology.Port{Name: "b-a", RemoteNetwork: "urn:ogf:network:a.net"})
	topo.AddNetwork(netA)
	topo.AddNetwork(netB)

	lv := linkvector.New()
	finder := pathfinder.New(topo, lv)

	reg := registry.New()
	reg.AddProvider("urn:ogf:network:a.net:nsa", provider.NewLocalProvider(nsa.Agent{}), []string{"urn:ogf:network:a.net"})
	reg.AddProvider("urn:ogf:network:b.net:nsa", provider.NewLocalProvider(nsa.Agent{}), []string{"urn:ogf:network:b.net"})

	return aggregator.New("urn:ogf:network:a.net", time.Minute, finder, reg, nil, aggregator.SystemClock(), 1)
}

func TestHandleCreateAndGet(t *testing.T) {
	agg := newTestAggregator(t)
	s := New(agg, config.RESTConfig{})

	body := reserveRequest{
		RequesterURN: "urn:ogf:network:a.net:user",
		GlobalID:     "g-1",
		SourceNet:    "urn:ogf:network:a.net",
		SourcePort:   "portA",
		DestNet:      "urn:ogf:network:b.net",
		DestPort:     "portB",
		VLANValues:   "100-200",
		Bandwidth:    100,
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snap connection.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if snap.State != connection.ReserveHeld {
		t.Errorf("State = %v, want RESERVE_HELD", snap.State)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/connections/"+snap.ID, nil)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", getRec.Code)
	}
}

func TestHandleList_WithFilter(t *testing.T) {
	agg := newTestAggregator(t)
	s := New(agg, config.RESTConfig{})

	src := nsa.NewSTP("urn:ogf:network:a.net", "portA", nsa.MustNewLabel(nsa.EthernetVLAN, "100"))
	dst := nsa.NewSTP("urn:ogf:network:b.net", "portB", nsa.MustNewLabel(nsa.EthernetVLAN, "100"))
	if _, err := agg.Reserve(context.Background(), "urn:ogf:network:a.net:user", "g-2", src, dst, 10); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/connections?filter="+url.QueryEscape(`.[] | select(.State=="RESERVE_HELD")`), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snaps []connection.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d connections, want 1", len(snaps))
	}
}

func TestAuthenticate_RejectsBadCredentials(t *testing.T) {
	agg := newTestAggregator(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	s := New(agg, config.RESTConfig{BasicAuthUser: "admin", BasicAuthHash: string(hash)})

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/connections", nil)
	req2.SetBasicAuth("admin", "secret")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}
}
