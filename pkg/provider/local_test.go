package provider

import (
	"context"
	"testing"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
)

func TestLocalProvider_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(nsa.Agent{URN: "urn:ogf:network:aruba.net:nsa"})

	criteria := Criteria{
		Source:      nsa.NewSTP("urn:ogf:network:aruba.net", "portA", nsa.MustNewLabel(nsa.EthernetVLAN, "100")),
		Destination: nsa.NewSTP("urn:ogf:network:aruba.net", "portB", nsa.MustNewLabel(nsa.EthernetVLAN, "100")),
		Bandwidth:   1000,
	}

	if err := p.Reserve(ctx, "conn-1", criteria); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	status, err := p.Query(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.State != "RESERVE_HELD" {
		t.Errorf("State = %q, want RESERVE_HELD", status.State)
	}

	if err := p.ReserveCommit(ctx, "conn-1"); err != nil {
		t.Fatalf("ReserveCommit: %v", err)
	}
	if err := p.Provision(ctx, "conn-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	status, _ = p.Query(ctx, "conn-1")
	if status.State != "PROVISIONED" {
		t.Errorf("State = %q, want PROVISIONED", status.State)
	}

	if err := p.Terminate(ctx, "conn-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	status, _ = p.Query(ctx, "conn-1")
	if status.State != "TERMINATED" {
		t.Errorf("State = %q, want TERMINATED", status.State)
	}
}

func TestLocalProvider_RejectsNegativeBandwidth(t *testing.T) {
	p := NewLocalProvider(nsa.Agent{})
	err := p.Reserve(context.Background(), "conn-2", Criteria{Bandwidth: -1})
	if err == nil {
		t.Fatal("expected error for negative bandwidth")
	}
}

func TestLocalProvider_QueryUnknown(t *testing.T) {
	p := NewLocalProvider(nsa.Agent{})
	_, err := p.Query(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown connection")
	}
}
