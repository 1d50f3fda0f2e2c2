package nsa

import "fmt"

// STP (Service Termination Point) identifies an endpoint of a connection
// segment: a network, a port on that network, and the label carried there.
type STP struct {
	Network string
	Port    string
	Label   Label
}

// NewSTP constructs an STP.
func NewSTP(network, port string, label Label) STP {
	return STP{Network: network, Port: port, Label: label}
}

// String renders the STP as "network:port?vlan=<values>".
func (s STP) String() string {
	if s.Label.Empty() {
		return fmt.Sprintf("%s:%s", s.Network, s.Port)
	}
	return fmt.Sprintf("%s:%s?vlan=%s", s.Network, s.Port, s.Label.String())
}

// Role identifies whether an NSI agent acts as a provider, requester, or both.
type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
	RoleAggregator Role = "aggregator"
)

// Agent is the immutable identity of an NSI peer: a URN, the endpoint URL
// its SOAP service listens on, and the role it plays.
type Agent struct {
	URN         string
	Endpoint    string
	Role        Role
	ServiceType string // used by the provider registry's factory lookup
}

// NewAgent constructs an Agent.
func NewAgent(urn, endpoint string, role Role, serviceType string) Agent {
	return Agent{URN: urn, Endpoint: endpoint, Role: role, ServiceType: serviceType}
}
