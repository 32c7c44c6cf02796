package vm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: one isolated instance of the engine
// ---------------------------------------------------------------------------

// Options configures a VM.
type Options struct {
	// MaxFrames bounds the script call depth. Exceeding it raises a
	// catchable RangeError.
	MaxFrames int
	// MaxNativeDepth bounds nested entries from Go into the VM (natives
	// calling back into script).
	MaxNativeDepth int
	// MaxTasksPerDrain bounds how many microtasks one RunPendingTasks call
	// runs; 0 means no limit.
	MaxTasksPerDrain int
	// GC configures the collector.
	GC GCOptions
}

// DefaultOptions returns the default VM options.
func DefaultOptions() Options {
	return Options{
		MaxFrames:      10000,
		MaxNativeDepth: 256,
		GC:             DefaultGCOptions(),
	}
}

// VM is a single-threaded script engine instance. It owns its heap,
// interner and task queue; VMs share nothing and may coexist in one process.
// A VM must not be used from more than one goroutine at a time.
type VM struct {
	// Symbols interns every property key and string value of this VM.
	Symbols *Interner

	heap       *Heap
	interp     *interpreter
	tasks      *taskQueue
	intrinsics *intrinsics
	global     Value
	numbers    *numberFormatter

	// Root sets owned by the host API.
	handles        []Value
	scopes         []*LocalScope
	persistents    map[uint64]Value
	nextPersistent uint64
	// temps roots intermediate values inside runtime helpers.
	temps []Value

	opts  Options
	id    uuid.UUID
	log   commonlog.Logger
	depth int

	// constructing is set while a native runs as a constructor.
	constructing bool

	fatal  error
	closed bool
}

// New creates a VM with its intrinsic objects and global object.
func New(opts Options) *VM {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultOptions().MaxFrames
	}
	if opts.MaxNativeDepth <= 0 {
		opts.MaxNativeDepth = DefaultOptions().MaxNativeDepth
	}
	vm := &VM{
		Symbols:     NewInterner(),
		tasks:       &taskQueue{},
		numbers:     newNumberFormatter(),
		persistents: make(map[uint64]Value),
		opts:        opts,
		id:          uuid.New(),
		log:         commonlog.GetLogger("kestrel.vm"),
		global:      Undefined,
	}
	vm.heap = newHeap(opts.GC, vm.Symbols, commonlog.GetLogger("kestrel.gc"))
	vm.interp = newInterpreter(vm, opts.MaxFrames)
	vm.intrinsics = newIntrinsics()
	vm.heap.roots = vm.markRoots
	vm.initIntrinsics()

	vm.log.Infof("vm %s created: %d intrinsic objects, max frames %d", vm.id, vm.heap.LiveObjects(), opts.MaxFrames)
	return vm
}

// NewVM creates a VM with default options.
func NewVM() *VM {
	return New(DefaultOptions())
}

// ID returns the instance identifier used in logs.
func (vm *VM) ID() uuid.UUID {
	return vm.id
}

// Heap returns the VM's heap for inspection.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Collect runs a full collection.
func (vm *VM) Collect() GCStats {
	return vm.heap.Collect()
}

// Stats returns the statistics of the last collection.
func (vm *VM) Stats() GCStats {
	return vm.heap.Stats()
}

// Global returns the global object.
func (vm *VM) Global() Value {
	return vm.global
}

// Options returns the options the VM was created with.
func (vm *VM) Options() Options {
	return vm.opts
}

// IsConstructCall reports whether the running native was invoked with new.
func (vm *VM) IsConstructCall() bool {
	return vm.constructing
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// enter runs fn as a host entry into the VM. The outermost entry converts
// panics into errors and fills in escaping exceptions.
func (vm *VM) enter(fn func() error) (err error) {
	if vm.closed {
		return ErrVMClosed
	}
	if vm.fatal != nil {
		return vm.fatal
	}
	if vm.depth == 0 {
		defer func() {
			if r := recover(); r != nil {
				err = vm.recoverPanic(r)
			}
			if err != nil {
				err = vm.materialize(err)
			}
		}()
	}
	vm.depth++
	defer func() { vm.depth-- }()
	return fn()
}

// hostAllocate runs an allocation made directly by the host. Outside any
// entry point an exhausted heap cannot unwind through enter, so it poisons
// the VM here and the result is Undefined. The next entry point, and Err,
// report ErrOutOfMemory.
func (vm *VM) hostAllocate(alloc func() Value) (u Unrooted) {
	if vm.depth > 0 {
		return Unrooted{v: alloc()}
	}
	if vm.closed || vm.fatal != nil {
		return Unrooted{v: Undefined}
	}
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			vm.dropTemps(0)
			vm.fatal = fe
			vm.log.Criticalf("vm %s: %s", vm.id, fe)
			u = Unrooted{v: Undefined}
		}
	}()
	return Unrooted{v: alloc()}
}

// Err returns the fatal error that made the VM unusable, or nil.
func (vm *VM) Err() error {
	return vm.fatal
}

// recoverPanic resets the execution state after a panic escaped the loop.
func (vm *VM) recoverPanic(r any) error {
	vm.interp.reset()
	vm.dropTemps(0)
	vm.tasks.draining = false

	var err error
	switch e := r.(type) {
	case *FatalError:
		vm.fatal = e
		vm.log.Criticalf("vm %s: %s", vm.id, e)
		return e
	case *InternalError:
		err = e
	case error:
		err = &InternalError{err: errors.WithStack(e)}
	default:
		err = internalErrorf("panic: %v", r)
	}
	vm.log.Errorf("vm %s: %s", vm.id, err)
	return err
}

// Call calls fn with the given receiver and arguments and runs it to
// completion. Script exceptions are returned as *ThrowError. Natives may
// use Call to reenter the VM.
func (vm *VM) Call(fn, this Value, args ...Value) (Unrooted, error) {
	result := Undefined
	err := vm.enter(func() error {
		if vm.depth > vm.opts.MaxNativeDepth {
			return vm.rangeError(errNativeDepth)
		}
		var err error
		result, err = vm.interp.invoke(fn, this, args, false)
		return err
	})
	return Unrooted{v: result}, err
}

// Construct calls ctor as a constructor, like new.
func (vm *VM) Construct(ctor Value, args ...Value) (Unrooted, error) {
	result := Undefined
	err := vm.enter(func() error {
		if vm.depth > vm.opts.MaxNativeDepth {
			return vm.rangeError(errNativeDepth)
		}
		var err error
		result, err = vm.interp.invoke(ctor, Undefined, args, true)
		return err
	})
	return Unrooted{v: result}, err
}

// Run calls callee with an undefined receiver.
func (vm *VM) Run(callee Value, args ...Value) (Unrooted, error) {
	return vm.Call(callee, Undefined, args...)
}

// NewFunction creates a closure of a loaded top-level function.
func (vm *VM) NewFunction(fp *FunctionProto) (Unrooted, error) {
	if vm.closed {
		return Unrooted{v: Undefined}, ErrVMClosed
	}
	if len(fp.Captures) != 0 {
		return Unrooted{v: Undefined}, internalErrorf("function %q captures %d cells and cannot be a top-level function", fp.Name, len(fp.Captures))
	}
	var fn Value
	err := vm.enter(func() error {
		fn = vm.newClosure(fp, nil, Undefined)
		return nil
	})
	return Unrooted{v: fn}, err
}

// RunProgram loads p and runs its main function.
func (vm *VM) RunProgram(p *Program) (Unrooted, error) {
	fp, err := vm.Load(p)
	if err != nil {
		return Unrooted{v: Undefined}, err
	}
	fn, err := vm.NewFunction(fp)
	if err != nil {
		return fn, err
	}
	return vm.Run(fn.v)
}

// ---------------------------------------------------------------------------
// Host objects and functions
// ---------------------------------------------------------------------------

func (vm *VM) newOrdinary(proto Value) Value {
	return vm.heap.allocate(newObject(KindOrdinary, proto))
}

// NewObject creates an empty object inheriting from Object.prototype.
func (vm *VM) NewObject() Unrooted {
	return vm.hostAllocate(func() Value { return vm.newOrdinary(vm.intrinsics.objectProto) })
}

// NewNativeFunction wraps a Go function as a callable script function.
func (vm *VM) NewNativeFunction(name string, arity int, fn NativeFunc) Unrooted {
	return vm.hostAllocate(func() Value { return vm.newNative(vm.Symbols.Intern(name), arity, fn, false) })
}

// NewNativeMethod creates a native function whose receiver is always
// receiver, whatever this it is called with.
func (vm *VM) NewNativeMethod(name string, arity int, fn NativeFunc, receiver Value) Unrooted {
	return vm.hostAllocate(func() Value {
		mark := len(vm.temps)
		vm.temps = append(vm.temps, receiver)
		defer vm.dropTemps(mark)
		v := vm.newNative(vm.Symbols.Intern(name), arity, fn, false)
		vm.heap.get(v).fn.this = receiver
		return v
	})
}

// NewExternal creates an object carrying host data. Data that holds script
// values must implement Tracer.
func (vm *VM) NewExternal(data any) Unrooted {
	return vm.hostAllocate(func() Value {
		o := newObject(KindExternal, vm.intrinsics.objectProto)
		o.ext = data
		return vm.heap.allocate(o)
	})
}

// ExternalData returns the host data of an external object.
func (vm *VM) ExternalData(v Value) (any, bool) {
	if k, ok := vm.KindOf(v); !ok || k != KindExternal {
		return nil, false
	}
	return vm.heap.get(v).ext, true
}

// SetGlobal defines or replaces a global binding.
func (vm *VM) SetGlobal(name string, v Value) error {
	return vm.enter(func() error {
		return vm.SetProperty(vm.global, vm.Symbols.Intern(name), v, vm.global)
	})
}

// GetGlobal reads a global binding. ok is false when it does not exist.
func (vm *VM) GetGlobal(name string) (Unrooted, bool) {
	if vm.closed {
		return Unrooted{v: Undefined}, false
	}
	key, found := vm.Symbols.Lookup(name)
	if !found {
		return Unrooted{v: Undefined}, false
	}
	p, ok := vm.heap.get(vm.global).props.Get(key)
	if !ok || p.IsAccessor() {
		return Unrooted{v: Undefined}, ok
	}
	return Unrooted{v: p.Value}, true
}

// RegisterNative installs a native function as a global.
func (vm *VM) RegisterNative(name string, arity int, fn NativeFunc) error {
	if vm.closed {
		return ErrVMClosed
	}
	return vm.SetGlobal(name, vm.NewNativeFunction(name, arity, fn).v)
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close releases the VM and everything on its heap. Persistents that were
// never released and scopes left open are reported; the VM is unusable
// afterwards either way, and values obtained from it are dangling.
func (vm *VM) Close() error {
	if vm.closed {
		return ErrVMClosed
	}
	var errs *multierror.Error
	if n := len(vm.persistents); n > 0 {
		errs = multierror.Append(errs, fmt.Errorf("%d persistent handles not released", n))
	}
	if n := len(vm.scopes); n > 0 {
		errs = multierror.Append(errs, fmt.Errorf("%d local scopes still open", n))
	}
	if n := vm.tasks.Len(); n > 0 {
		vm.log.Warningf("vm %s closed with %d pending tasks", vm.id, n)
	}
	vm.closed = true
	vm.persistents = nil
	vm.handles = nil
	vm.scopes = nil
	vm.tasks = &taskQueue{}
	vm.interp.reset()
	vm.temps = nil
	stats := vm.heap.Stats()
	vm.heap.release()
	vm.intrinsics = newIntrinsics()
	vm.global = Undefined
	vm.Symbols = NewInterner()
	vm.heap.symbols = vm.Symbols
	vm.log.Infof("vm %s closed after %d collections, released %d objects", vm.id, stats.Collections, stats.Live)
	return errs.ErrorOrNil()
}
