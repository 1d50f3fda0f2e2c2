// Command nsid is the gateway daemon: it loads configuration, builds the
// local network from its NRM map, wires the pathfinder/registry/
// aggregator, starts the fetcher and the optional REST surface, and
// serves the discovery document.
//
// Usage:
//
//	nsid --config /etc/nsi-gateway/config.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nsi-gateway/pkg/aggregator"
	"github.com/newtron-network/nsi-gateway/pkg/audit"
	"github.com/newtron-network/nsi-gateway/pkg/config"
	"github.com/newtron-network/nsi-gateway/pkg/discovery"
	"github.com/newtron-network/nsi-gateway/pkg/fetcher"
	"github.com/newtron-network/nsi-gateway/pkg/linkvector"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/pathfinder"
	"github.com/newtron-network/nsi-gateway/pkg/provider"
	"github.com/newtron-network/nsi-gateway/pkg/registry"
	"github.com/newtron-network/nsi-gateway/pkg/store"
	"github.com/newtron-network/nsi-gateway/pkg/topology"
	"github.com/newtron-network/nsi-gateway/pkg/util"
	"github.com/newtron-network/nsi-gateway/pkg/version"

	"github.com/newtron-network/nsi-gateway/internal/restapi"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "nsid",
	Short:         "NSI Connection Service gateway daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/nsi-gateway/config.yaml", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if verbose {
		util.SetLogLevel("debug")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		util.Errorf("nsid: %v", err)
		return err
	}

	agentURN := fmt.Sprintf("urn:ogf:network:%s:nsa", cfg.NetworkName)
	localAgent := nsa.NewAgent(agentURN, cfg.Addr(), nsa.RoleAggregator, provider.LocalServiceType)

	topo := topology.New()
	lv := linkvector.New()

	var localNet *topology.Network
	if cfg.NRMMapFile != "" {
		localNet, err = topology.LoadNRMFile(cfg.NRMMapFile, localAgent, topo, lv)
		if err != nil {
			util.Errorf("nsid: loading nrm map: %v", err)
			return err
		}
	} else {
		localNet = topology.NewNetwork(cfg.NetworkName, localAgent)
		topo.AddNetwork(localNet)
	}

	reg := registry.New()
	reg.RegisterFactory(provider.LocalServiceType, provider.NewLocalProvider)
	reg.RegisterFactory(provider.RemoteServiceType, provider.NewRemoteProvider)
	if _, err := reg.SpawnProvider(localAgent, []string{localNet.ID}); err != nil {
		util.Errorf("nsid: registering local provider: %v", err)
		return err
	}

	var st *store.Store
	if cfg.Database.Addr != "" {
		st = store.New(cfg.Database.Addr, cfg.Database.DB)
		if err := st.Connect(); err != nil {
			util.Warnf("nsid: connecting to connection store at %s: %v (continuing without persistence)", cfg.Database.Addr, err)
			st = nil
		}
	}

	if path := auditLogPath(cfg); path != "" {
		auditLogger, err := audit.NewFileLogger(path, audit.RotationConfig{MaxSize: 50 * 1024 * 1024, MaxBackups: 5})
		if err != nil {
			util.Warnf("nsid: could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(auditLogger)
			defer auditLogger.Close()
		}
	}

	holdTimeout := parseDurationOr(cfg.HoldTimeout, aggregator.DefaultHoldTimeout)
	finder := pathfinder.New(topo, lv)
	agg := aggregator.New(cfg.NetworkName, holdTimeout, finder, reg, st, nil, cfg.ServiceIDStart)

	if st != nil {
		rehydrate(agg, st)
	}

	gen := discovery.NewGenerator(agentURN, cfg.NetworkName, []discovery.Interface{
		{ServiceType: provider.RemoteServiceType, Endpoint: cfg.Addr() + "/nsi/cs", AuthMethod: "none"},
	}, []string{"cs2"}, topo, lv)

	var peers []fetcher.Peer
	for _, p := range cfg.Peers {
		peers = append(peers, fetcher.Peer{URN: p.URN, URL: p.URL})
	}
	interval := parseDurationOr(cfg.FetchInterval, fetcher.DefaultInterval)
	fetch := fetcher.New(cfg.NetworkName, peers, interval, topo, lv, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fetch.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/nsi/discovery", gen.ServeHTTP)
	if cfg.REST.Enabled {
		api := restapi.New(agg, cfg.REST)
		mux.Handle("/", api)
	}

	srv := &http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		util.Infof("nsid: listening on %s (network %s)", cfg.Addr(), cfg.NetworkName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("nsid: http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	util.Info("nsid: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// auditLogPath returns "" (audit logging off) when no network name is
// configured, and the fixed path /var/log/nsi-gateway/audit.jsonl
// otherwise; no configuration key sets the audit log's path.
func auditLogPath(cfg *config.Config) string {
	if cfg.NetworkName == "" {
		return ""
	}
	return "/var/log/nsi-gateway/audit.jsonl"
}

// parseDurationOr parses s as a Go duration, falling back to def on an
// empty string or parse failure.
func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		util.Warnf("nsid: invalid duration %q, using default %s", s, def)
		return def
	}
	return d
}

// rehydrate reloads persisted connection records after a restart so
// in-flight connections remain queryable: persisted state exists
// precisely so a restart doesn't lose them.
func rehydrate(agg *aggregator.Aggregator, st *store.Store) {
	snaps, err := st.LoadAll()
	if err != nil {
		util.Warnf("nsid: rehydrating connection store: %v", err)
		return
	}
	for _, snap := range snaps {
		agg.Restore(snap)
	}
	util.Infof("nsid: rehydrated %d persisted connection(s)", len(snaps))
}
