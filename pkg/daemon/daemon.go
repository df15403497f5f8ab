// Package daemon implements the master process: the polling loop that picks
// up submitted applications, spawns a worker sub-process per application,
// drains its mutation channel, and replays the captured mutations onto the
// live inventory and persistent store under a single writer's lock.
package daemon

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/log"
	"github.com/dynamo-go/dynamo/pkg/metrics"
	"github.com/dynamo-go/dynamo/pkg/registry"
	"github.com/dynamo-go/dynamo/pkg/store"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

// WorkDirFor returns the per-application work area under root: where the
// daemon places a worker's executable, mutation socket and stdout/stderr
// capture files, and the path the application server reports back to
// clients on submit.
func WorkDirFor(root string, appID int64) string {
	return filepath.Join(root, fmt.Sprintf("app-%d", appID))
}

// frameChanDepth bounds how many mutation frames a worker can have in
// flight before its sender blocks, the channel capacity the worker
// sub-process contract describes.
const frameChanDepth = 64

// Config configures a Daemon.
type Config struct {
	Registry  *registry.Registry
	Store     store.Store
	Inventory *inventory.Inventory
	WriteLock *registry.WriteLock

	// WorkDir is the root under which each application gets its own
	// subdirectory for stdout/stderr capture and its mutation socket.
	WorkDir string
	// WorkerBin is the path to the worker sub-process executable.
	WorkerBin string
	// StoreDir is the persistent store's data directory; the worker
	// sub-process reopens it itself, as a read-only handle.
	StoreDir string

	PollInterval   time.Duration
	ConnectTimeout time.Duration
	ShutdownGrace  time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// child tracks one live worker sub-process.
type child struct {
	app      registry.Application
	cmd      *exec.Cmd
	listener net.Listener
	sockPath string
	workDir  string

	frames    chan mutationFrame
	startedAt time.Time

	exitCh  chan struct{}
	waitMu  sync.Mutex
	exitErr error

	updated []inventory.Entity
	deleted []inventory.Entity
}

// Daemon is the master main loop.
type Daemon struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	children map[int64]*child
	stopCh   chan struct{}
	stopped  chan struct{}

	critical        int32 // 1 while an apply section is in flight
	shutdownPending int32 // set by the signal handler if it fires mid-apply
	sigCh           chan os.Signal
}

// New returns a Daemon ready to Start.
func New(cfg Config) *Daemon {
	cfg.setDefaults()
	return &Daemon{
		cfg:      cfg,
		logger:   log.WithComponent("daemon"),
		children: make(map[int64]*child),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the polling loop in its own goroutine.
func (d *Daemon) Start() {
	d.sigCh = make(chan os.Signal, 1)
	installSignalRelay(d.sigCh)
	go d.run()
}

// Stop requests a graceful shutdown: every live child is sent a terminate
// signal, given ShutdownGrace to exit on its own, then killed.
func (d *Daemon) Stop() {
	close(d.stopCh)
	<-d.stopped
}

func (d *Daemon) run() {
	defer close(d.stopped)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info().Msg("daemon started")

	for {
		select {
		case <-ticker.C:
			d.cycle()
		case <-d.sigCh:
			if atomic.LoadInt32(&d.critical) == 1 {
				atomic.StoreInt32(&d.shutdownPending, 1)
				continue
			}
			d.logger.Info().Msg("shutdown signal received")
			d.terminateAll()
			return
		case <-d.stopCh:
			d.terminateAll()
			return
		}
	}
}

// cycle is one iteration of the poll loop: pick up a new application (if
// any), then drain every live child's mutation channel.
func (d *Daemon) cycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DaemonCycleDuration)

	if app, ok := d.cfg.Registry.OldestNew(); ok {
		d.launch(app)
	}

	d.mu.Lock()
	live := make([]*child, 0, len(d.children))
	for _, c := range d.children {
		live = append(live, c)
	}
	d.mu.Unlock()

	for _, c := range live {
		d.drain(c)
	}
}

// launch authorizes and spawns a worker sub-process for app.
func (d *Daemon) launch(app registry.Application) {
	logger := d.logger.With().Int64("app_id", app.ID).Str("title", app.Title).Logger()

	if app.WriteRequest {
		sum := md5.Sum(app.Content)
		checksum := hex.EncodeToString(sum[:])
		if !d.cfg.Registry.CheckWriteAuth(app.Title, checksum, app.User) {
			logger.Warn().Msg("write request failed checksum authorization")
			d.finish(app.ID, registry.StatusFailed, 1)
			return
		}
	}

	c, err := d.spawn(app)
	if err != nil {
		logger.Error().Err(err).Msg("failed to spawn worker")
		metrics.WorkerSpawnFailuresTotal.Inc()
		d.finish(app.ID, registry.StatusFailed, 1)
		return
	}
	c.startedAt = time.Now()

	d.mu.Lock()
	d.children[app.ID] = c
	d.mu.Unlock()
	logger.Info().Msg("worker spawned")
}

// spawn starts the worker sub-process and waits for it to connect its
// mutation channel, per the work area / IPC / reinitialization contract.
func (d *Daemon) spawn(app registry.Application) (*child, error) {
	workDir := WorkDirFor(d.cfg.WorkDir, app.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work area: %w", err)
	}

	sockPath := filepath.Join(workDir, "mutation.sock")
	_ = os.Remove(sockPath)
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listening on mutation socket: %w", err)
	}

	scriptPath := filepath.Join(workDir, "executable")
	if app.Content != nil {
		if err := os.WriteFile(scriptPath, app.Content, 0o755); err != nil {
			listener.Close()
			return nil, fmt.Errorf("writing executable: %w", err)
		}
	} else {
		scriptPath = app.Path
	}

	stdout, err := os.Create(filepath.Join(workDir, "_stdout"))
	if err != nil {
		listener.Close()
		return nil, err
	}
	stderr, err := os.Create(filepath.Join(workDir, "_stderr"))
	if err != nil {
		listener.Close()
		stdout.Close()
		return nil, err
	}

	workerArgs := []string{
		"--script", scriptPath,
		"--mutation-sock", sockPath,
		"--work-dir", workDir,
		"--store-dir", d.cfg.StoreDir,
		"--app-id", fmt.Sprintf("%d", app.ID),
	}
	if len(app.Args) > 0 {
		// "--" stops flag.Parse in cmd/dynamo-worker; everything after it
		// is the submitter's own argv, forwarded to Run unexamined.
		workerArgs = append(workerArgs, "--")
		workerArgs = append(workerArgs, app.Args...)
	}
	cmd := exec.Command(d.cfg.WorkerBin, workerArgs...)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		listener.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	c := &child{
		app:      app,
		cmd:      cmd,
		listener: listener,
		sockPath: sockPath,
		workDir:  workDir,
		frames: make(chan mutationFrame, frameChanDepth),
		exitCh: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		c.waitMu.Lock()
		c.exitErr = err
		c.waitMu.Unlock()
		close(c.exitCh)
	}()

	if err := listener.(*net.UnixListener).SetDeadline(time.Now().Add(d.cfg.ConnectTimeout)); err != nil {
		return nil, err
	}
	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("worker did not connect mutation channel: %w", err)
	}

	go c.readFrames(conn)

	return c, nil
}

// readFrames pumps length-prefixed frames off conn into c.frames until the
// worker closes the connection or sends something unparseable.
func (c *child) readFrames(conn net.Conn) {
	defer close(c.frames)
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		data, err := wireframe.ReadFrame(r)
		if err != nil {
			return
		}
		var f mutationFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		c.frames <- f
	}
}

// drain pulls whatever frames are currently available from c (waiting up to
// one second for the next one), classifying each into c.updated/c.deleted,
// and finalizes the child once its channel has closed and its process has
// exited.
func (d *Daemon) drain(c *child) {
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				goto checkExit
			}
			ent, err := f.decode()
			if err != nil {
				d.logger.Error().Err(err).Int64("app_id", c.app.ID).Msg("malformed mutation frame")
				continue
			}
			switch f.Op {
			case opUpdate:
				c.updated = append(c.updated, ent)
			case opDelete:
				c.deleted = append(c.deleted, ent)
			}
		case <-time.After(time.Second):
			return
		}
	}

checkExit:
	select {
	case <-c.exitCh:
		d.finalize(c)
	default:
		// Channel closed but the process hasn't been reaped yet; try again
		// next cycle.
	}
}

// finalize applies a finished child's captured mutations to the live
// inventory and store, then records its terminal status. If the write lock
// is currently held by another holder, the child is left pending and
// retried next cycle instead of applying out of turn.
func (d *Daemon) finalize(c *child) {
	if err := d.cfg.WriteLock.Lock("daemon"); err != nil {
		return
	}
	defer d.cfg.WriteLock.Unlock()

	atomic.StoreInt32(&d.critical, 1)
	func() {
		defer atomic.StoreInt32(&d.critical, 0)

		d.cfg.Inventory.Lock.Lock()
		defer d.cfg.Inventory.Lock.Unlock()

		for _, ent := range c.updated {
			if _, err := d.cfg.Inventory.Update(ent, true); err != nil {
				d.logger.Error().Err(err).Int64("app_id", c.app.ID).Msg("applying captured update")
			}
		}
		for _, ent := range c.deleted {
			if _, err := d.cfg.Inventory.Delete(ent, true); err != nil {
				d.logger.Error().Err(err).Int64("app_id", c.app.ID).Msg("applying captured delete")
			}
		}

		for _, ent := range d.cfg.Inventory.DrainPendingUpdates() {
			if err := ent.WriteInto(d.cfg.Store, false); err != nil {
				d.logger.Error().Err(err).Int64("app_id", c.app.ID).Msg("persisting update")
			}
		}
		for _, ent := range d.cfg.Inventory.DrainPendingDeletes() {
			if err := ent.WriteInto(d.cfg.Store, true); err != nil {
				d.logger.Error().Err(err).Int64("app_id", c.app.ID).Msg("persisting delete")
			}
		}
	}()

	metrics.MutationsAppliedTotal.WithLabelValues("update").Add(float64(len(c.updated)))
	metrics.MutationsAppliedTotal.WithLabelValues("delete").Add(float64(len(c.deleted)))
	if !c.startedAt.IsZero() {
		metrics.ApplicationRunDuration.Observe(time.Since(c.startedAt).Seconds())
	}

	c.waitMu.Lock()
	exitErr := c.exitErr
	c.waitMu.Unlock()

	status := registry.StatusDone
	code := 0
	if exitErr != nil {
		status = registry.StatusFailed
		if ee, ok := exitErr.(*exec.ExitError); ok {
			code = ee.ExitCode()
		} else {
			code = 1
		}
	}
	d.finish(c.app.ID, status, code)

	c.listener.Close()
	os.Remove(c.sockPath)

	d.mu.Lock()
	delete(d.children, c.app.ID)
	d.mu.Unlock()

	if atomic.CompareAndSwapInt32(&d.shutdownPending, 1, 0) {
		go func() { d.sigCh <- os.Interrupt }()
	}
}

func (d *Daemon) finish(appID int64, status registry.Status, exitCode int) {
	_ = d.cfg.Registry.UpdateApplication(appID, func(a *registry.Application) {
		a.Status = status
		a.ExitCode = exitCode
	})
}

// terminateAll sends every live child a terminate signal, waits up to
// ShutdownGrace for them to exit, then kills survivors, and marks every
// one of them killed.
func (d *Daemon) terminateAll() {
	d.mu.Lock()
	live := make([]*child, 0, len(d.children))
	for _, c := range d.children {
		live = append(live, c)
	}
	d.mu.Unlock()

	for _, c := range live {
		terminate(c.cmd)
	}

	deadline := time.After(d.cfg.ShutdownGrace)
	expired := false
	for _, c := range live {
		if !expired {
			select {
			case <-c.exitCh:
			case <-deadline:
				expired = true
			}
		}
		if expired {
			select {
			case <-c.exitCh:
			default:
				kill(c.cmd)
				<-c.exitCh
			}
		}
		d.finish(c.app.ID, registry.StatusKilled, -1)
		c.listener.Close()
		os.Remove(c.sockPath)
	}
}

