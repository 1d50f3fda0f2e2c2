package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/newtron-network/nsi-gateway/pkg/version.Version=v1.0.0 \
//	  -X github.com/newtron-network/nsi-gateway/pkg/version.GitCommit=abc1234 \
//	  -X github.com/newtron-network/nsi-gateway/pkg/version.BuildDate=2026-01-01"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info renders a one-line version string for the nsid and nsictl
// "version" subcommands. The discovery document's softwareVersion field
// carries Version alone.
func Info() string {
	return fmt.Sprintf("nsi-gateway %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
