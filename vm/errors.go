package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is reported once the heap cannot satisfy an allocation
	// after a full collection. The VM is unusable afterwards.
	ErrOutOfMemory = errors.New("heap exhausted")

	// ErrVMClosed is returned by entry points of a closed VM.
	ErrVMClosed = errors.New("vm is closed")
)

// Messages of the RangeErrors raised on resource limits.
const (
	errStackOverflow = "Maximum call stack size exceeded"
	errNativeDepth   = "Maximum native call depth exceeded"
)

// ThrowError is a script exception that escaped to the host. The thrown value
// is available through Value; Name, Message and Stack are captured when the
// exception leaves the VM so they stay readable after collections.
type ThrowError struct {
	value   Value
	Name    string
	Message string
	Stack   string
}

// Error implements error.
func (e *ThrowError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return e.Name + ": " + e.Message
	case e.Name != "":
		return e.Name
	case e.Message != "":
		return "Uncaught " + e.Message
	}
	return "Uncaught exception"
}

// Value returns the thrown value. Like any Unrooted it must be rooted before
// the next allocation if the host wants to keep it.
func (e *ThrowError) Value() Unrooted {
	return Unrooted{v: e.value}
}

// InternalError reports malformed bytecode or a broken VM invariant. The
// evaluation that hit it is abandoned; the VM itself stays usable.
type InternalError struct {
	err error
}

func internalErrorf(format string, args ...any) *InternalError {
	return &InternalError{err: errors.Errorf(format, args...)}
}

func wrapInternal(cause error, msg string) *InternalError {
	return &InternalError{err: errors.Wrap(cause, msg)}
}

func (e *InternalError) Error() string {
	return "internal error: " + e.err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.err
}

// Format prints the Go stack of the failure with %+v.
func (e *InternalError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "internal error: %+v", e.err)
		return
	}
	fmt.Fprint(s, e.Error())
}

// FatalError reports a condition that leaves the VM unusable.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
