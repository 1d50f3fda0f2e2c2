package provider

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/transport"
)

func TestRemoteProvider_Reserve(t *testing.T) {
	var gotAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		var env remoteEnvelope
		if err := xml.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if env.ConnectionID != "conn-1" {
			t.Errorf("ConnectionID = %q", env.ConnectionID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &RemoteProvider{
		Agent:  nsa.Agent{URN: "urn:ogf:network:bonaire.net:nsa", Endpoint: srv.URL},
		Client: transport.New(nil),
	}
	criteria := Criteria{
		Source:      nsa.NewSTP("urn:ogf:network:bonaire.net", "portA", nsa.MustNewLabel(nsa.EthernetVLAN, "200")),
		Destination: nsa.NewSTP("urn:ogf:network:bonaire.net", "portB", nsa.MustNewLabel(nsa.EthernetVLAN, "200")),
		Bandwidth:   500,
	}
	if err := p.Reserve(context.Background(), "conn-1", criteria); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if gotAction != "reserve" {
		t.Errorf("SOAPAction = %q, want reserve", gotAction)
	}
}

func TestRemoteProvider_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := remoteStatusResponse{ConnectionID: "conn-2", State: "PROVISIONED"}
		body, _ := xml.Marshal(resp)
		w.Write(body)
	}))
	defer srv.Close()

	p := &RemoteProvider{
		Agent:  nsa.Agent{Endpoint: srv.URL},
		Client: transport.New(nil),
	}
	status, err := p.Query(context.Background(), "conn-2")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.State != "PROVISIONED" {
		t.Errorf("State = %q, want PROVISIONED", status.State)
	}
}

func TestRemoteProvider_QueryEmptyBodyIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &RemoteProvider{
		Agent:  nsa.Agent{Endpoint: srv.URL},
		Client: transport.New(nil),
	}
	status, err := p.Query(context.Background(), "conn-3")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.State != "UNKNOWN" {
		t.Errorf("State = %q, want UNKNOWN", status.State)
	}
}
