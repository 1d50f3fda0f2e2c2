// Package discovery implements the NSI discovery document: the XML
// document a gateway serves describing its identity, served networks,
// interfaces, and features, regenerated whenever the
// link-vector table changes.
package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
	"github.com/newtron-network/nsi-gateway/pkg/version"
)

// Interface describes one service endpoint this NSA exposes.
type Interface struct {
	XMLName     xml.Name `xml:"interface"`
	ServiceType string   `xml:"type,attr"`
	Endpoint    string   `xml:"href,attr"`
	AuthMethod  string   `xml:"auth,attr,omitempty"`
}

// Document is the discovery document's XML shape: NSA identity, owner,
// version, timestamps, served networks, interfaces, and features.
type Document struct {
	XMLName          xml.Name    `xml:"nsa"`
	URN              string      `xml:"id,attr"`
	OwnerName        string      `xml:"name"`
	SoftwareVersion  string      `xml:"softwareVersion"`
	StartupTime      time.Time   `xml:"startTime"`
	CurrentTime      time.Time   `xml:"now"`
	Networks         []string    `xml:"networks>network"`
	Interfaces       []Interface `xml:"interfaces>interface"`
	Features         []string    `xml:"features>feature"`
}

// Render serializes d as an indented XML document with the standard
// header.
func (d *Document) Render() ([]byte, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Parse decodes a discovery document from r.
func Parse(r io.Reader) (*Document, error) {
	var d Document
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("discovery: parsing document: %w", err)
	}
	return &d, nil
}

// Generator produces the current discovery document for this gateway's
// own NSA identity, and regenerates its cached rendering (with a fresh
// currentTime and the topology's current network list) whenever the
// link-vector table observes a change. The document carries no
// link-vector costs.
type Generator struct {
	URN         string
	OwnerName   string
	Interfaces  []Interface
	Features    []string
	StartupTime time.Time
	Topology    *topology.Topology

	mu     sync.RWMutex
	cached []byte
}

// NewGenerator creates a Generator and subscribes it to lv so every
// link-vector mutation regenerates the cached document. The listener
// reads the topology's network list and never calls back into lv.
func NewGenerator(urn, ownerName string, interfaces []Interface, features []string, topo *topology.Topology, lv *linkvector.Table) *Generator {
	g := &Generator{
		URN:         urn,
		OwnerName:   ownerName,
		Interfaces:  interfaces,
		Features:    features,
		StartupTime: time.Now(),
		Topology:    topo,
	}
	g.regenerate()
	lv.CallOnUpdate(g.regenerate)
	return g
}

func (g *Generator) regenerate() {
	doc := &Document{
		URN:             g.URN,
		OwnerName:       g.OwnerName,
		SoftwareVersion: version.Version,
		StartupTime:     g.StartupTime,
		CurrentTime:     time.Now(),
		Networks:        g.Topology.Networks(),
		Interfaces:      g.Interfaces,
		Features:        g.Features,
	}
	rendered, err := doc.Render()
	if err != nil {
		return // documents are always marshalable; defensive no-op
	}
	g.mu.Lock()
	g.cached = rendered
	g.mu.Unlock()
}

// Current returns the most recently rendered document. NewGenerator
// renders the first one; Current itself never renders.
func (g *Generator) Current() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cached
}

// ServeHTTP serves the cached discovery document at its stable URL.
func (g *Generator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	w.Write(g.Current())
}

// FetchClient pulls and parses a peer's discovery document, the other
// half of the fetcher's contract.
type FetchClient struct {
	HTTPClient *http.Client
}

// NewFetchClient creates a FetchClient using http.DefaultClient if none
// is supplied.
func NewFetchClient() *FetchClient {
	return &FetchClient{HTTPClient: http.DefaultClient}
}

// Fetch retrieves and parses the discovery document at url.
func (f *FetchClient) Fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: fetching %s: status %d", url, resp.StatusCode)
	}
	return Parse(resp.Body)
}
