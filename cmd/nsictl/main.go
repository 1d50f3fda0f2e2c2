// Command nsictl is the noun-group CLI client for nsid's REST surface
// (internal/restapi): noun-group commands, a table-based default output
// and a --json escape hatch, dry-run-free since every nsictl action is
// already explicit.
//
// Usage:
//
//	nsictl connection reserve --src aruba:topology:ps --dst bonaire:topology:ps --vlan 1781-1789
//	nsictl connection list
//	nsictl connection show <id>
//	nsictl connection commit <id>
//	nsictl connection provision <id>
//	nsictl connection release <id>
//	nsictl connection terminate <id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nsi-gateway/pkg/cli"
	"github.com/newtron-network/nsi-gateway/pkg/version"
)

// App holds CLI state shared across all commands, mirroring the
// teacher's single-App-struct pattern for flags initialized once in
// PersistentPreRunE.
type App struct {
	server   string
	user     string
	password string
	jsonOut  bool

	client *apiClient
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "nsictl",
	Short:         "Client for the NSI Connection Service gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		app.client = newAPIClient(app.server, app.user, app.password)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.server, "server", "s", "http://127.0.0.1:9080", "nsid REST endpoint")
	rootCmd.PersistentFlags().StringVarP(&app.user, "user", "u", "", "Basic auth user")
	rootCmd.PersistentFlags().StringVarP(&app.password, "password", "p", "", "Basic auth password")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOut, "json", false, "Output raw JSON instead of a table")

	connectionCmd.AddCommand(
		connectionReserveCmd,
		connectionListCmd,
		connectionShowCmd,
		connectionCommitCmd,
		connectionAbortCmd,
		connectionProvisionCmd,
		connectionReleaseCmd,
		connectionTerminateCmd,
	)
	rootCmd.AddCommand(connectionCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn"},
	Short:   "Manage NSI connections",
}

var (
	reserveSource    string
	reserveDest      string
	reserveVLAN      string
	reserveBandwidth int
	reserveRequester string
	reserveGlobalID  string
)

var connectionReserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve a new connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := splitSTP(reserveSource)
		if err != nil {
			return fmt.Errorf("--src: %w", err)
		}
		dst, err := splitSTP(reserveDest)
		if err != nil {
			return fmt.Errorf("--dst: %w", err)
		}
		req := reserveRequest{
			RequesterURN: reserveRequester,
			GlobalID:     reserveGlobalID,
			SourceNet:    src.network,
			SourcePort:   src.port,
			DestNet:      dst.network,
			DestPort:     dst.port,
			VLANValues:   reserveVLAN,
			Bandwidth:    reserveBandwidth,
		}
		snap, err := app.client.reserve(ctx(), req)
		if err != nil {
			return err
		}
		return printSnapshot(snap)
	},
}

func init() {
	f := connectionReserveCmd.Flags()
	f.StringVar(&reserveSource, "src", "", "Source STP as network:port (required)")
	f.StringVar(&reserveDest, "dst", "", "Destination STP as network:port (required)")
	f.StringVar(&reserveVLAN, "vlan", "", "VLAN label value-set, e.g. 1781-1789 (required)")
	f.IntVar(&reserveBandwidth, "bandwidth", 0, "Requested bandwidth in Mbps")
	f.StringVar(&reserveRequester, "requester", "urn:ogf:network:nsictl:nsa", "Requester NSA URN")
	f.StringVar(&reserveGlobalID, "global-id", "", "Client-supplied global reservation id")
	connectionReserveCmd.MarkFlagRequired("src")
	connectionReserveCmd.MarkFlagRequired("dst")
	connectionReserveCmd.MarkFlagRequired("vlan")
}

var listFilter string

var connectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := app.client.list(ctx(), listFilter)
		if err != nil {
			return err
		}
		if app.jsonOut {
			return printJSON(snaps)
		}
		t := cli.NewTable("ID", "STATE", "SEGMENTS", "REQUESTER", "UPDATED")
		for _, s := range snaps {
			t.Row(s.ID, s.State, fmt.Sprintf("%d", len(s.Segments)), s.RequesterURN, s.UpdatedAt.Format(time.RFC3339))
		}
		t.Flush()
		return nil
	},
}

func init() {
	connectionListCmd.Flags().StringVar(&listFilter, "filter", "", "gojq filter expression evaluated server-side")
}

var connectionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one connection's detail, including per-segment state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := app.client.get(ctx(), args[0])
		if err != nil {
			return err
		}
		return printSnapshot(snap)
	},
}

func actionCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := app.client.action(ctx(), args[0], action)
			if err != nil {
				return err
			}
			return printSnapshot(snap)
		},
	}
}

var connectionCommitCmd = actionCmd("commit <id>", "Commit a held reservation", "commit")
var connectionAbortCmd = actionCmd("abort <id>", "Abort a held reservation", "abort")
var connectionProvisionCmd = actionCmd("provision <id>", "Provision a reserved connection", "provision")
var connectionReleaseCmd = actionCmd("release <id>", "Release a provisioned connection", "release")
var connectionTerminateCmd = actionCmd("terminate <id>", "Terminate a connection", "terminate")

func ctx() context.Context {
	return context.Background()
}

func printSnapshot(snap connectionSnapshot) error {
	if app.jsonOut {
		return printJSON(snap)
	}
	fmt.Printf("%s  %s\n", cli.Bold(snap.ID), stateColor(snap.State))
	fmt.Printf("requester:  %s\n", snap.RequesterURN)
	if snap.LastError != "" {
		fmt.Printf("last error: %s\n", cli.Red(snap.LastError))
	}
	t := cli.NewTable("SEG", "NETWORK", "STATE", "ATTEMPTS", "LAST ERROR")
	for _, seg := range snap.Segments {
		t.Row(fmt.Sprintf("%d", seg.Index), seg.Link.Network, seg.State, fmt.Sprintf("%d", seg.Attempts), seg.LastError)
	}
	t.Flush()
	return nil
}

func stateColor(state string) string {
	switch {
	case strings.Contains(state, "FAILED"):
		return cli.Red(state)
	case state == "RESERVED" || state == "PROVISIONED" || state == "TERMINATED":
		return cli.Green(state)
	default:
		return cli.Yellow(state)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type stp struct {
	network string
	port    string
}

func splitSTP(s string) (stp, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return stp{}, fmt.Errorf("expected network:port, got %q", s)
	}
	return stp{network: s[:idx], port: s[idx+1:]}, nil
}
