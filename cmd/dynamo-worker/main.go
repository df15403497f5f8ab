// Command dynamo-worker is the sub-process the daemon spawns for every
// submitted application. It reopens the persistent store read-only,
// loads a private inventory snapshot, binds it to a mutation-capturing
// proxy, runs the submitted executable against that proxy, and on success
// replays every captured mutation back to the daemon over a length-prefixed
// frame channel.
//
// The submitted executable is a Go plugin (built with `go build
// -buildmode=plugin`) exporting a single symbol:
//
//	func Run(dynamo *inventory.Proxy, args []string) error
//
// binding "dynamo" the way the original runtime bound its inventory handle
// into the executed script's globals, and args the submitter's own argv
// (spec §6's submit "args" field) the way the original runtime exposed
// sys.argv to the executed script.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"plugin"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/log"
	"github.com/dynamo-go/dynamo/pkg/store"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type mutationOp string

const (
	opUpdate mutationOp = "update"
	opDelete mutationOp = "delete"
)

type entityKind string

const (
	kindGroup          entityKind = "group"
	kindSite           entityKind = "site"
	kindDataset        entityKind = "dataset"
	kindBlock          entityKind = "block"
	kindFile           entityKind = "file"
	kindDatasetReplica entityKind = "dataset_replica"
	kindBlockReplica   entityKind = "block_replica"
)

type mutationFrame struct {
	Op   mutationOp      `json:"op"`
	Kind entityKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func classify(e inventory.Entity) (entityKind, error) {
	switch e.(type) {
	case *inventory.Group:
		return kindGroup, nil
	case *inventory.Site:
		return kindSite, nil
	case *inventory.Dataset:
		return kindDataset, nil
	case *inventory.Block:
		return kindBlock, nil
	case *inventory.File:
		return kindFile, nil
	case *inventory.DatasetReplica:
		return kindDatasetReplica, nil
	case *inventory.BlockReplica:
		return kindBlockReplica, nil
	default:
		return "", fmt.Errorf("%T is not a mutable entity kind", e)
	}
}

func main() {
	var scriptPath, sockPath, workDir, storeDir string
	var appID int64
	flag.StringVar(&scriptPath, "script", "", "path to the submitted executable plugin")
	flag.StringVar(&sockPath, "mutation-sock", "", "unix socket to report mutations on")
	flag.StringVar(&workDir, "work-dir", "", "work area for this application")
	flag.StringVar(&storeDir, "store-dir", "", "persistent store data directory")
	flag.Int64Var(&appID, "app-id", 0, "application id, for log context")
	flag.Parse()
	// Everything after "--" is the submitter's own argv, forwarded to Run
	// unexamined (spec §6's submit "args" field).
	runArgs := flag.Args()

	// The daemon already redirected our stdout/stderr to files under
	// workDir by way of exec.Cmd; reinitialize logging to write through
	// them as structured output instead of the console writer.
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	logger := log.WithComponent("worker").With().Int64("app_id", appID).Logger()

	os.Stdin.Close()

	if err := run(scriptPath, sockPath, storeDir, runArgs, logger); err != nil {
		logger.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func run(scriptPath, sockPath, storeDir string, runArgs []string, logger zerolog.Logger) error {
	st, err := store.OpenReadOnly(storeDir)
	if err != nil {
		return fmt.Errorf("opening read-only store: %w", err)
	}
	defer st.Close()

	inv := inventory.New()
	if err := st.Load(inv, store.LoadFilter{}); err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}

	proxy := inv.CreateProxy()

	p, err := plugin.Open(scriptPath)
	if err != nil {
		return fmt.Errorf("opening executable %s: %w", scriptPath, err)
	}
	sym, err := p.Lookup("Run")
	if err != nil {
		return fmt.Errorf("executable %s has no Run symbol: %w", scriptPath, err)
	}
	runFn, ok := sym.(func(*inventory.Proxy, []string) error)
	if !ok {
		return fmt.Errorf("executable %s: Run has the wrong signature", scriptPath)
	}

	if err := runFn(proxy, runArgs); err != nil {
		return fmt.Errorf("executable failed: %w", err)
	}

	return report(sockPath, proxy, logger)
}

// report dials the daemon's mutation socket and sends one frame per
// captured update/delete, in order, then closes the connection so the
// daemon's reader observes end of stream.
func report(sockPath string, proxy *inventory.Proxy, logger zerolog.Logger) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("dialing mutation channel: %w", err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	defer w.Flush()

	for _, ent := range proxy.Updated() {
		if err := sendFrame(w, opUpdate, ent); err != nil {
			return err
		}
	}
	for _, ent := range proxy.Deleted() {
		if err := sendFrame(w, opDelete, ent); err != nil {
			return err
		}
	}

	logger.Info().Int("updated", len(proxy.Updated())).Int("deleted", len(proxy.Deleted())).Msg("mutations reported")
	return nil
}

func sendFrame(w *bufio.Writer, op mutationOp, ent inventory.Entity) error {
	kind, err := classify(ent)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(mutationFrame{Op: op, Kind: kind, Data: data})
	if err != nil {
		return err
	}
	return wireframe.WriteFrame(w, frame)
}
