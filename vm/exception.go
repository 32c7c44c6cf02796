package vm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Script exceptions
// ---------------------------------------------------------------------------

// ErrorKind selects the intrinsic error constructor for host-created errors.
type ErrorKind uint8

const (
	ErrorPlain ErrorKind = iota
	ErrorType
	ErrorRange
	ErrorReference
	ErrorSyntax
)

func (vm *VM) errorProto(kind ErrorKind) Value {
	in := vm.intrinsics
	switch kind {
	case ErrorType:
		return in.typeErrorProto
	case ErrorRange:
		return in.rangeErrorProto
	case ErrorReference:
		return in.referenceErrorProto
	case ErrorSyntax:
		return in.syntaxErrorProto
	}
	return in.errorProto
}

// newError allocates an error object. The message and stack strings are
// interned after the allocation so they cannot be swept before they are
// stored.
func (vm *VM) newError(proto Value, msg string) Value {
	o := newObject(KindError, proto)
	v := vm.heap.allocate(o)
	vm.initError(o, msg)
	return v
}

func (vm *VM) initError(o *heapObject, msg string) {
	o.kind = KindError
	if msg != "" {
		o.props.Set(SymMessage, dataProperty(vm.newString(msg), AttrHidden))
	}
	header := vm.dataString(o.proto, SymName)
	if header == "" {
		header = "Error"
	}
	if msg != "" {
		header += ": " + msg
	}
	o.props.Set(SymStack, dataProperty(vm.newString(header+vm.interp.stackTrace()), AttrHidden))
}

// NewError creates an error object of the given kind.
func (vm *VM) NewError(kind ErrorKind, msg string) Unrooted {
	return vm.hostAllocate(func() Value { return vm.newError(vm.errorProto(kind), msg) })
}

// Throw returns an error that raises v as a script exception when returned
// from a native function.
func (vm *VM) Throw(v Value) error {
	return &ThrowError{value: v}
}

// ThrowError creates an error object and returns it as a script exception.
func (vm *VM) ThrowError(kind ErrorKind, format string, args ...any) error {
	return &ThrowError{value: vm.newError(vm.errorProto(kind), fmt.Sprintf(format, args...))}
}

func (vm *VM) typeError(format string, args ...any) error {
	return vm.ThrowError(ErrorType, format, args...)
}

func (vm *VM) rangeError(format string, args ...any) error {
	return vm.ThrowError(ErrorRange, format, args...)
}

func (vm *VM) referenceError(format string, args ...any) error {
	return vm.ThrowError(ErrorReference, format, args...)
}

// dataString reads a string data property along the chain without running
// getters. It returns "" when the property is missing or not a string.
func (vm *VM) dataString(obj Value, key Symbol) string {
	for cur := obj; cur.IsObject(); {
		o := vm.heap.get(cur)
		if p, ok := o.props.Get(key); ok {
			if p.IsAccessor() || !p.Value.IsString() {
				return ""
			}
			return vm.Symbols.Resolve(p.Value.Symbol())
		}
		cur = o.proto
	}
	return ""
}

// materialize fills the readable fields of an exception that is leaving the
// VM. No script code runs.
func (vm *VM) materialize(err error) error {
	var te *ThrowError
	if !errors.As(err, &te) || te.Name != "" || te.Message != "" {
		return err
	}
	v := te.value
	if !v.IsObject() {
		te.Message = vm.Inspect(v)
		return err
	}
	if vm.heap.get(v).kind == KindError {
		te.Name = vm.dataString(v, SymName)
		te.Message = vm.dataString(v, SymMessage)
		te.Stack = vm.dataString(v, SymStack)
		return err
	}
	te.Message = vm.Inspect(v)
	return err
}

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// maxTraceFrames bounds the frames listed in an error stack.
const maxTraceFrames = 32

// stackTrace describes the live script frames, innermost first.
func (in *interpreter) stackTrace() string {
	var sb strings.Builder
	n := 0
	for i := in.fp; i >= 0; i-- {
		f := in.frames[i]
		if n == maxTraceFrames {
			fmt.Fprintf(&sb, "\n    ... %d more", i+1)
			break
		}
		name := f.proto.Name
		if name == "" {
			name = "<anonymous>"
		}
		line := f.proto.LineFor(f.pc)
		switch {
		case f.proto.Source != "" && line > 0:
			fmt.Fprintf(&sb, "\n    at %s (%s:%d)", name, f.proto.Source, line)
		case f.proto.Source != "":
			fmt.Fprintf(&sb, "\n    at %s (%s)", name, f.proto.Source)
		case line > 0:
			fmt.Fprintf(&sb, "\n    at %s (line %d)", name, line)
		default:
			fmt.Fprintf(&sb, "\n    at %s", name)
		}
		n++
	}
	return sb.String()
}
