// Command dynamod is the master process: it opens the persistent store,
// loads the inventory, and runs the daemon main loop, the application
// server, and the dealer scheduler side by side, following the teacher's
// cobra-wired single-binary entrypoint shape (cmd/warren/main.go).
package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dynamo-go/dynamo/pkg/appserver"
	"github.com/dynamo-go/dynamo/pkg/authz"
	"github.com/dynamo-go/dynamo/pkg/config"
	"github.com/dynamo-go/dynamo/pkg/daemon"
	"github.com/dynamo-go/dynamo/pkg/dealer"
	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/log"
	"github.com/dynamo-go/dynamo/pkg/metrics"
	"github.com/dynamo-go/dynamo/pkg/registry"
	"github.com/dynamo-go/dynamo/pkg/store"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var cfg = config.Default()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dynamod",
	Short:   "dynamod runs the inventory daemon, application server and dealer cycle",
	Version: Version,
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.NodeID, "node-id", "dynamo-0", "identifies this daemon instance in logs")
	flags.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "application server listen address")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "root directory for the store and application work areas")
	flags.StringVar(&cfg.CertFile, "cert", "", "application server TLS certificate")
	flags.StringVar(&cfg.KeyFile, "key", "", "application server TLS key")
	flags.StringVar(&cfg.ClientCAFile, "client-ca", "", "CA bundle used to verify client certificates")
	flags.BoolVar(&cfg.CheckDNTrunc, "check-dn-truncation", false, "also match client DNs that are a truncation prefix of a registered DN")
	flags.DurationVar(&cfg.CycleInterval, "cycle-interval", cfg.CycleInterval, "daemon/dealer idle poll interval")
	flags.StringVar(&cfg.Partition, "partition", cfg.Partition, "the dealer's active partition")
	flags.StringSliceVar(&cfg.TargetSites, "target-site", nil, "a site the dealer may select as a copy destination (repeatable)")
	flags.Int64Var(&cfg.MaxRequestSize, "dealer-max-size", cfg.MaxRequestSize, "reject copy requests larger than this many bytes")
	flags.Float64Var(&cfg.BlockRequestMax, "dealer-block-request-max", cfg.BlockRequestMax, "fraction of a dataset's total size above which a block list is promoted to a whole-dataset request")
	flags.StringSliceVar(&cfg.OverwrittenGroups, "overwritten-group", nil, "a group whose existing replicas are always eligible for re-owning (repeatable)")

	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit logs as JSON")
	flags.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flags.String("worker-bin", "dynamo-worker", "path to the worker sub-process binary")

	cobra.OnInitialize(func() {
		level, _ := flags.GetString("log-level")
		jsonOut, _ := flags.GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("dynamod")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	workDir := cfg.DataDir + "/work"
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}

	metrics.SetVersion(Version)

	boltStore, err := store.Open(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("opening store: %w", err)
	}
	defer boltStore.Close()
	metrics.RegisterComponent("store", true, "")

	inv := inventory.New()
	if err := boltStore.Load(inv, store.LoadFilter{}); err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}
	logger.Info().Str("version", inv.Version()).Msg("inventory loaded")

	reg := registry.New()
	writeLock := registry.NewWriteLock()
	az := authz.New()

	tlsConfig, err := loadServerTLSConfig(cfg.CertFile, cfg.KeyFile, cfg.ClientCAFile)
	if err != nil {
		return fmt.Errorf("loading TLS material: %w", err)
	}

	workerBin, _ := cmd.Flags().GetString("worker-bin")
	d := daemon.New(daemon.Config{
		Registry:  reg,
		Store:     boltStore,
		Inventory: inv,
		WriteLock: writeLock,
		WorkDir:   workDir,
		WorkerBin: workerBin,
		StoreDir:  cfg.DataDir,
	})
	d.Start()
	defer d.Stop()
	metrics.RegisterComponent("daemon", true, "")

	as := appserver.New(reg, az, workDir, tlsConfig)
	as.CheckTrunc = cfg.CheckDNTrunc
	go func() {
		metrics.RegisterComponent("appserver", true, "")
		if err := as.ListenAndServe(cfg.BindAddr); err != nil {
			metrics.RegisterComponent("appserver", false, err.Error())
			logger.Error().Err(err).Msg("application server exited")
		}
	}()

	policy := &dealer.QuotaPolicy{
		Inv:         inv,
		Partition:   cfg.Partition,
		Sites:       cfg.TargetSites,
		Max:         cfg.MaxRequestSize,
		BlockMax:    cfg.BlockRequestMax,
		Overwritten: toSet(cfg.OverwrittenGroups),
	}
	table := dealer.NewRequestTable()
	handler := dealer.NewCopyRequestHandler(table)
	scheduler := dealer.NewScheduler(handler, inv, policy, dealer.NullTransferBackend{}, cfg.CycleInterval)
	go scheduler.Run()
	defer scheduler.Stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", metrics.HealthHandler())
		mux.Handle("/readyz", metrics.ReadyHandler())
		mux.Handle("/livez", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics endpoint exited")
		}
	}()

	logger.Info().Str("bind", cfg.BindAddr).Str("data_dir", cfg.DataDir).Msg("dynamod started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// loadServerTLSConfig builds the mTLS listener configuration from plain
// PEM files; this system specifies only "a mutually authenticated
// connection yielding a user identity" (spec.md §1), not a concrete CA
// tooling stack, so the cert/key/CA material is loaded with the standard
// library directly rather than through any pack dependency.
func loadServerTLSConfig(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	caBytes, err := os.ReadFile(clientCAFile)
	if err != nil {
		return nil, fmt.Errorf("reading client CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates parsed from %s", clientCAFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
