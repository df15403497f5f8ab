package daemon

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// installSignalRelay forwards SIGINT/SIGTERM onto ch, the equivalent of the
// original's sigint block/unblock dance: the main loop itself decides
// whether a received signal is acted on immediately or deferred until the
// current apply section finishes (see Daemon.critical).
func installSignalRelay(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}

// terminate asks a worker sub-process to exit.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

// kill forcibly ends a worker sub-process that ignored terminate.
func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
