package registry

import (
	"fmt"
	"sync"
)

// WriteLock is the named, process-wide token that serializes writers to the
// inventory; at most one holds it at a time. In this repository only the
// daemon main loop acquires it (before applying a worker's mutations); the
// dealer cycle does not take it.
type WriteLock struct {
	mu     sync.Mutex
	held   bool
	holder string

	webHost string
	webPID  int
	webOn   bool
}

// NewWriteLock returns an unheld lock.
func NewWriteLock() *WriteLock { return &WriteLock{} }

// Lock acquires the lock for holder, failing if another holder already has
// it.
func (w *WriteLock) Lock(holder string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held {
		return fmt.Errorf("registry: write lock held by %s", w.holder)
	}
	w.held = true
	w.holder = holder
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op: shutdown
// paths call it unconditionally.
func (w *WriteLock) Unlock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held = false
	w.holder = ""
}

// InhibitWrite reports whether another writer currently holds the lock.
func (w *WriteLock) InhibitWrite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

// StartWriteWeb records that the web front-end's write path is live at
// (host, pid), for status reporting and for other writers to identify who
// holds the lock.
func (w *WriteLock) StartWriteWeb(host string, pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.webHost = host
	w.webPID = pid
	w.webOn = true
}

// StopWriteWeb clears the web front-end's write-path record.
func (w *WriteLock) StopWriteWeb() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.webOn = false
	w.webHost = ""
	w.webPID = 0
}

// WebWriter returns (host, pid, true) if the web front-end's write path is
// currently live.
func (w *WriteLock) WebWriter() (string, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.webHost, w.webPID, w.webOn
}
