package inventory

import "fmt"

// ObjectError reports a violation of an inventory structural invariant or a
// failed lookup during an embed/delete operation. It is never recoverable
// within the operation that raised it.
type ObjectError struct {
	Op  string
	Msg string
}

func (e *ObjectError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func newObjectError(op, format string, args ...interface{}) *ObjectError {
	return &ObjectError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ErrReadOnlyProxy is returned by Proxy.Update/Delete when called with
// write=false: a worker's proxy only exists to capture mutations for the
// master, so a call that asks it not to capture anything is a programming
// error in the submitted executable.
var ErrReadOnlyProxy = &ObjectError{Op: "proxy", Msg: "inventory proxy is read-only without write=true"}
