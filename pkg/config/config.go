// Package config is the plain struct population every other component is
// handed at startup, following the teacher's manager.Config/worker.Config
// pattern: a flat struct with no file-format parser of its own. Environment
// and config-file parsing are out of scope per the source specification;
// cmd/dynamod wires cobra flags directly onto this struct's fields.
package config

import "time"

// Config holds every tunable cmd/dynamod needs to start the daemon, the
// application server and the dealer cycle.
type Config struct {
	// NodeID identifies this daemon instance in logs, mirroring the
	// teacher's manager.Config.NodeID.
	NodeID string

	// BindAddr is the application server's listen address.
	BindAddr string

	// DataDir is the root the bbolt store file and every application's
	// work area (<DataDir>/work/app-<id>) live under.
	DataDir string

	// CertFile/KeyFile/ClientCAFile configure the application server's
	// mTLS listener.
	CertFile      string
	KeyFile       string
	ClientCAFile  string
	CheckDNTrunc  bool

	// CycleInterval is how often the daemon's main loop and the dealer's
	// scheduler tick when idle.
	CycleInterval time.Duration

	// Dealer tunables (spec.md §4.G): the active partition the cycle
	// operates against, the site pool a copy request can target, the
	// single-request size ceiling, the fraction of a dataset's total size
	// above which a block list is promoted to a whole-dataset request, and the set of
	// groups whose existing replicas are always eligible for re-owning.
	Partition          string
	TargetSites        []string
	MaxRequestSize     int64
	BlockRequestMax    float64
	OverwrittenGroups  []string
}

// Default returns a Config with the same idle values the teacher's
// manager/worker configs ship (5s cycle, port 8443 on every interface,
// /var/lib/dynamo as DataDir), leaving the certificate paths for the caller
// to fill in.
func Default() Config {
	return Config{
		BindAddr:        ":8443",
		DataDir:         "/var/lib/dynamo",
		CycleInterval:   5 * time.Second,
		Partition:       "AnalysisOps",
		MaxRequestSize:  1 << 40, // 1TB
		BlockRequestMax: 0.9,
	}
}
