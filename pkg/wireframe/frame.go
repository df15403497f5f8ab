// Package wireframe implements the length-prefixed frame protocol used by
// the application server's client connections, the stdin stream of its
// interactive console, and the daemon's mutation channel to a worker
// sub-process; the synchronous-run stdout/stderr tail streams and the
// console's output stream carry raw bytes. A frame is
// "<decimal-length> <payload>" on the wire: an ASCII decimal byte count, a
// single space, then exactly that many payload bytes.
package wireframe

import (
	"bufio"
	"fmt"
	"io"
)

const maxFrameLen = 64 << 20 // 64MiB, generous enough for a full entity batch

// WriteFrame writes one length-prefixed frame containing payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "%d ", len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r, a *bufio.Reader so the
// single-space delimiter can be consumed without over-reading into the
// payload.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	lenStr, err := r.ReadString(' ')
	if err != nil {
		return nil, err
	}
	lenStr = lenStr[:len(lenStr)-1] // drop the delimiter

	var n int
	if _, err := fmt.Sscanf(lenStr, "%d", &n); err != nil {
		return nil, fmt.Errorf("wireframe: malformed length %q: %w", lenStr, err)
	}
	if n < 0 || n > maxFrameLen {
		return nil, fmt.Errorf("wireframe: frame length %d out of range", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
