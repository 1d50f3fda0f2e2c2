package discovery

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
)

func TestDocument_RenderParseRoundTrip(t *testing.T) {
	doc := &Document{
		URN:             "urn:ogf:network:aruba.net",
		OwnerName:       "Aruba NREN",
		SoftwareVersion: "v1.0.0",
		StartupTime:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentTime:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Networks:        []string{"urn:ogf:network:aruba.net"},
		Interfaces: []Interface{
			{ServiceType: "application/vnd.ogf.nsi.cs.v2+soap", Endpoint: "https://aruba.net/nsi/cs", AuthMethod: "basic"},
		},
		Features: []string{"vlan"},
	}

	rendered, err := doc.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(rendered), "<?xml") {
		t.Error("expected XML header")
	}

	parsed, err := Parse(bytes.NewReader(rendered))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.URN != doc.URN {
		t.Errorf("URN = %q, want %q", parsed.URN, doc.URN)
	}
	if len(parsed.Networks) != 1 || parsed.Networks[0] != "urn:ogf:network:aruba.net" {
		t.Errorf("Networks = %v", parsed.Networks)
	}
	if len(parsed.Interfaces) != 1 || parsed.Interfaces[0].ServiceType != "application/vnd.ogf.nsi.cs.v2+soap" {
		t.Errorf("Interfaces = %v", parsed.Interfaces)
	}
}

func TestGenerator_RegeneratesOnLinkVectorUpdate(t *testing.T) {
	topo := topology.New()
	topo.AddNetwork(topology.NewNetwork("urn:ogf:network:aruba.net", nsa.Agent{}))
	lv := linkvector.New()

	g := NewGenerator("urn:ogf:network:aruba.net", "Aruba NREN", nil, nil, topo, lv)

	first := g.Current()
	if len(first) == 0 {
		t.Fatal("expected non-empty initial document")
	}

	topo.AddNetwork(topology.NewNetwork("urn:ogf:network:bonaire.net", nsa.Agent{}))
	lv.Update("port1", map[string]int{"urn:ogf:network:bonaire.net": 1})

	second := g.Current()
	if !strings.Contains(string(second), "bonaire") {
		t.Errorf("expected regenerated document to list bonaire, got %s", second)
	}
}
