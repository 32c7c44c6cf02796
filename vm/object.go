package vm

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjectKind is the closed set of heap object variants.
type ObjectKind uint8

const (
	KindOrdinary ObjectKind = iota
	KindArray
	KindFunction
	KindBoxed
	KindExternal
	KindGenerator
	KindPromise
	KindError
	kindForIn
)

var objectKindNames = [...]string{
	KindOrdinary:  "Object",
	KindArray:     "Array",
	KindFunction:  "Function",
	KindBoxed:     "Boxed",
	KindExternal:  "External",
	KindGenerator: "Generator",
	KindPromise:   "Promise",
	KindError:     "Error",
	kindForIn:     "ForInIterator",
}

func (k ObjectKind) String() string {
	if int(k) < len(objectKindNames) {
		return objectKindNames[k]
	}
	return "Unknown"
}

// heapObject is the storage for every object. Pointers to it never leave the
// vm package; scripts and hosts refer to objects through Values.
type heapObject struct {
	kind       ObjectKind
	extensible bool
	proto      Value // Null or an object
	props      PropertyMap

	// KindArray. length is only used once sparse is non-nil.
	elems  []Value
	sparse map[uint32]Value
	length uint32
	holey  bool

	// KindFunction
	fn *function

	// KindBoxed
	prim Value

	// KindExternal
	ext any

	// KindGenerator
	gen *generator

	// KindPromise
	promise *promise

	// kindForIn
	forIn *forInState
}

func newObject(kind ObjectKind, proto Value) *heapObject {
	return &heapObject{kind: kind, extensible: true, proto: proto}
}

// Cell is a mutable box for a variable captured by a closure. Frames and
// closures share cells, so writes are visible in every scope.
type Cell struct {
	Value Value
}

// Tracer is implemented by external object data that holds script values.
// Trace must report every Value the data keeps alive.
type Tracer interface {
	Trace(mark func(Value))
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// NativeFunc is the signature of host functions callable from scripts. A
// thrown script exception is reported as a *ThrowError.
type NativeFunc func(vm *VM, this Value, args []Value) (Unrooted, error)

// intrinsicOp marks natives the dispatch loop handles without a Go call.
type intrinsicOp uint8

const (
	opNone intrinsicOp = iota
	opGeneratorNext
	opGeneratorReturn
	opGeneratorThrow
	opPromiseResolve
	opPromiseReject
)

type function struct {
	proto  *FunctionProto // nil for natives
	cells  []*Cell
	this   Value // lexical this of arrow functions
	native NativeFunc
	name   Symbol
	arity  int
	ctor   bool

	intrinsic intrinsicOp
	// target is the promise a resolving function settles. The resolve and
	// reject functions of one pair share settled.
	target  Value
	settled *bool
}

func (f *function) isNative() bool { return f.native != nil || f.intrinsic != opNone }

// ---------------------------------------------------------------------------
// Suspension state
// ---------------------------------------------------------------------------

// savedFrame is a frame detached from the frame stack. It records everything
// needed to resume: the operand stack slice above the frame base (locals,
// temporaries, finally records), cells, and the resume address.
type savedFrame struct {
	callee Value
	fn     *function
	this   Value
	cells  []*Cell
	slots  []Value
	ip     int
}

type generatorState uint8

const (
	genSuspendedStart generatorState = iota
	genSuspendedYield
	genExecuting
	genCompleted
)

type generator struct {
	state generatorState
	frame *savedFrame
}

// PromiseState is the settlement state of a promise.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseFulfilled:
		return "fulfilled"
	default:
		return "rejected"
	}
}

type reactionKind uint8

const (
	reactThen   reactionKind = iota // call a handler, settle a derived promise
	reactAwait                      // resume a suspended async frame
	reactAdopt                      // settle a dependent promise with the same outcome
	reactThenable                   // call then on a foreign thenable with resolving functions
)

type reaction struct {
	kind        reactionKind
	onFulfilled Value
	onRejected  Value
	target      Value // derived, awaiting, or adopting promise
}

type promise struct {
	state     PromiseState
	result    Value
	reactions []reaction

	// async is the suspended body of the async function this promise
	// belongs to, while it waits on an await.
	async *savedFrame
}

type forInState struct {
	target Value
	keys   []Symbol
	pos    int
}
