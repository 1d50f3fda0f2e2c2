package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
)

// nrmPort is one port entry in an NRM map file: the network resource
// manager's description of a local network's ports, the concrete shape
// behind the "nrm-map-file" config key.
type nrmPort struct {
	Name          string         `yaml:"name"`
	RemoteNetwork string         `yaml:"remote-network"`
	Label         string         `yaml:"label"`
	Capacity      int            `yaml:"capacity"`
	Vectors       map[string]int `yaml:"vectors"`
}

// nrmMap is the top-level shape of an NRM map file: this gateway's own
// network id plus the ports it exposes.
type nrmMap struct {
	Network string    `yaml:"network"`
	Ports   []nrmPort `yaml:"ports"`
	CanSwap bool      `yaml:"can-swap-label"`
}

// LoadNRMFile reads an NRM map file and builds the local Network it
// describes, registering it on topo and seeding lv with each port's
// static vectors. This is the local half of the topology; the fetcher
// does not add remote networks to it, so a remote network is present
// only if something calls AddNetwork for it.
func LoadNRMFile(path string, agent nsa.Agent, topo *Topology, lv *linkvector.Table) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: reading nrm map %s: %w", path, err)
	}

	var m nrmMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("topology: parsing nrm map %s: %w", path, err)
	}
	if m.Network == "" {
		return nil, fmt.Errorf("topology: nrm map %s: network id is required", path)
	}

	net := NewNetwork(m.Network, agent)
	net.SetCanSwapLabel(m.CanSwap)

	for _, p := range m.Ports {
		if p.Name == "" {
			return nil, fmt.Errorf("topology: nrm map %s: port missing name", path)
		}
		port := &Port{
			Name:          p.Name,
			RemoteNetwork: p.RemoteNetwork,
			Capacity:      p.Capacity,
			StaticVectors: p.Vectors,
		}
		if p.Label != "" {
			label, err := nsa.NewLabel(nsa.EthernetVLAN, p.Label)
			if err != nil {
				return nil, fmt.Errorf("topology: nrm map %s: port %s: %w", path, p.Name, err)
			}
			port.Label = &label
		}
		net.AddPort(port)
		if len(p.Vectors) > 0 {
			lv.Update(p.Name, p.Vectors)
		}
	}

	topo.AddNetwork(net)
	return net, nil
}
