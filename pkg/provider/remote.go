package provider

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/transport"
)

// RemoteServiceType is the agent service-type tag the registry dispatches
// to RemoteProvider, NSI's standard SOAP Connection Service interface.
const RemoteServiceType = "application/vnd.ogf.nsi.cs.v2+soap"

// remoteEnvelope is the XML body every remote call wraps its connection
// id and criteria in. It is deliberately the minimal subset of the real
// NSI SOAP envelope this gateway needs to drive a peer provider; a full
// WS-Addressing header is out of scope.
type remoteEnvelope struct {
	XMLName      xml.Name `xml:"nsiMessage"`
	ConnectionID string   `xml:"connectionId"`
	SourceSTP    string   `xml:"sourceSTP,omitempty"`
	DestSTP      string   `xml:"destSTP,omitempty"`
	LabelType    string   `xml:"labelType,omitempty"`
	LabelValues  string   `xml:"labelValues,omitempty"`
	Bandwidth    int      `xml:"bandwidth,omitempty"`
}

type remoteStatusResponse struct {
	XMLName      xml.Name `xml:"nsiMessage"`
	ConnectionID string   `xml:"connectionId"`
	State        string   `xml:"state"`
}

// RemoteProvider wraps pkg/transport to drive a peer's NSI Connection
// Service endpoint, implementing the same Handle interface LocalProvider
// does so the aggregator never needs to know which kind of provider it's
// talking to.
type RemoteProvider struct {
	Agent  nsa.Agent
	Client *transport.Client
}

// NewRemoteProvider constructs a RemoteProvider for agent using a default
// transport.Client. Its signature matches Factory so the registry can
// register it directly.
func NewRemoteProvider(agent nsa.Agent) Handle {
	return &RemoteProvider{Agent: agent, Client: transport.New(nil)}
}

func (p *RemoteProvider) call(ctx context.Context, action string, env remoteEnvelope) ([]byte, error) {
	body, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("provider: remote: encoding %s envelope: %w", action, err)
	}
	return p.Client.Call(ctx, p.Agent.Endpoint, action, body)
}

func (p *RemoteProvider) Reserve(ctx context.Context, connectionID string, criteria Criteria) error {
	_, err := p.call(ctx, "reserve", remoteEnvelope{
		ConnectionID: connectionID,
		SourceSTP:    criteria.Source.Network + ":" + criteria.Source.Port,
		DestSTP:      criteria.Destination.Network + ":" + criteria.Destination.Port,
		LabelType:    criteria.Source.Label.Type,
		LabelValues:  criteria.Source.Label.String(),
		Bandwidth:    criteria.Bandwidth,
	})
	return err
}

func (p *RemoteProvider) ReserveCommit(ctx context.Context, connectionID string) error {
	_, err := p.call(ctx, "reserveCommit", remoteEnvelope{ConnectionID: connectionID})
	return err
}

func (p *RemoteProvider) ReserveAbort(ctx context.Context, connectionID string) error {
	_, err := p.call(ctx, "reserveAbort", remoteEnvelope{ConnectionID: connectionID})
	return err
}

func (p *RemoteProvider) Provision(ctx context.Context, connectionID string) error {
	_, err := p.call(ctx, "provision", remoteEnvelope{ConnectionID: connectionID})
	return err
}

func (p *RemoteProvider) Release(ctx context.Context, connectionID string) error {
	_, err := p.call(ctx, "release", remoteEnvelope{ConnectionID: connectionID})
	return err
}

func (p *RemoteProvider) Terminate(ctx context.Context, connectionID string) error {
	_, err := p.call(ctx, "terminate", remoteEnvelope{ConnectionID: connectionID})
	return err
}

func (p *RemoteProvider) Query(ctx context.Context, connectionID string) (Status, error) {
	body, err := p.call(ctx, "query", remoteEnvelope{ConnectionID: connectionID})
	if err != nil {
		return Status{}, err
	}
	var resp remoteStatusResponse
	if len(body) == 0 {
		return Status{ConnectionID: connectionID, State: "UNKNOWN"}, nil
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return Status{}, fmt.Errorf("provider: remote: decoding query response: %w", err)
	}
	return Status{ConnectionID: resp.ConnectionID, State: resp.State}, nil
}
