package vm

import (
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Promises
// ---------------------------------------------------------------------------

func (vm *VM) newPromise() Value {
	o := newObject(KindPromise, vm.intrinsics.promiseProto)
	o.promise = &promise{result: Undefined}
	return vm.heap.allocate(o)
}

func (vm *VM) isPromise(v Value) bool {
	k, ok := vm.KindOf(v)
	return ok && k == KindPromise
}

// exceptionValue returns the script value carried by err. Host errors that
// are not script exceptions become Error objects with the same message.
func (vm *VM) exceptionValue(err error) Value {
	var te *ThrowError
	if errors.As(err, &te) {
		return te.value
	}
	return vm.newError(vm.intrinsics.errorProto, err.Error())
}

// resolvePromise resolves p with v. Promises and thenables are adopted;
// anything else fulfills p. p and v must be rooted by the caller.
func (vm *VM) resolvePromise(p, v Value) {
	if vm.heap.get(p).promise.state != PromisePending {
		return
	}
	if v == p {
		vm.rejectPromise(p, vm.newError(vm.intrinsics.typeErrorProto, "Chaining cycle detected for promise"))
		return
	}
	if !v.IsObject() {
		vm.settle(p, PromiseFulfilled, v)
		return
	}
	if vm.isPromise(v) {
		vm.subscribe(v, reaction{kind: reactAdopt, onFulfilled: Undefined, onRejected: Undefined, target: p})
		return
	}
	then, err := vm.get(v, SymThen, v)
	if err != nil {
		vm.rejectPromise(p, vm.exceptionValue(err))
		return
	}
	if !vm.isCallable(then) {
		vm.settle(p, PromiseFulfilled, v)
		return
	}
	vm.tasks.push(task{
		reaction: reaction{kind: reactThenable, onFulfilled: then, onRejected: v, target: p},
		arg:      Undefined,
	})
}

func (vm *VM) rejectPromise(p, reason Value) {
	vm.settle(p, PromiseRejected, reason)
}

// settle records the outcome of p and queues its reactions in order.
func (vm *VM) settle(p Value, state PromiseState, v Value) {
	pr := vm.heap.get(p).promise
	if pr.state != PromisePending {
		return
	}
	pr.state = state
	pr.result = v
	reactions := pr.reactions
	pr.reactions = nil
	for _, r := range reactions {
		vm.tasks.push(task{reaction: r, state: state, arg: v})
	}
}

// subscribe registers r on p, queueing it at once if p is settled.
func (vm *VM) subscribe(p Value, r reaction) {
	pr := vm.heap.get(p).promise
	if pr.state == PromisePending {
		pr.reactions = append(pr.reactions, r)
		return
	}
	vm.tasks.push(task{reaction: r, state: pr.state, arg: pr.result})
}

// promiseResolve returns v if it is a promise, or a new promise resolved
// with v.
func (vm *VM) promiseResolve(v Value) Value {
	if vm.isPromise(v) {
		return v
	}
	mark := len(vm.temps)
	vm.temps = append(vm.temps, v)
	p := vm.newPromise()
	vm.temps = append(vm.temps, p)
	vm.resolvePromise(p, v)
	vm.dropTemps(mark)
	return p
}

// then subscribes handlers to p and returns the derived promise.
func (vm *VM) then(p, onFulfilled, onRejected Value) Value {
	mark := len(vm.temps)
	vm.temps = append(vm.temps, p, onFulfilled, onRejected)
	derived := vm.newPromise()
	vm.dropTemps(mark)
	vm.subscribe(p, reaction{kind: reactThen, onFulfilled: onFulfilled, onRejected: onRejected, target: derived})
	return derived
}

// resolvingFunctions creates the resolve and reject pair for p. Only the
// first call of either has an effect.
func (vm *VM) resolvingFunctions(p Value) (resolve, reject Value) {
	settled := new(bool)
	mark := len(vm.temps)
	vm.temps = append(vm.temps, p)
	resolve = vm.newIntrinsic(SymEmpty, 1, opPromiseResolve, p, settled)
	vm.temps = append(vm.temps, resolve)
	reject = vm.newIntrinsic(SymEmpty, 1, opPromiseReject, p, settled)
	vm.dropTemps(mark)
	return resolve, reject
}

// ---------------------------------------------------------------------------
// Async functions
// ---------------------------------------------------------------------------

// startAsync runs an async function until its first await. The caller gets
// the function's promise.
func (in *interpreter) startAsync(fn *function, callee, this Value, base, argc int) error {
	vm := in.vm
	p := vm.newPromise()
	f, err := in.enterScript(fn, callee, in.bindThis(fn, this), base, base+2, argc, base, modeAsync)
	if err != nil {
		return err
	}
	f.owner = p
	return nil
}

// await suspends the async frame f until v settles. The first suspension
// returns the promise to the caller; later ones return to the task loop.
func (in *interpreter) await(f *frame, v Value) {
	vm := in.vm
	in.push(v)
	p := vm.promiseResolve(v)
	in.sp--

	owner, mode := f.owner, f.mode
	vm.heap.get(owner).promise.async = in.saveFrame(f)
	vm.subscribe(p, reaction{kind: reactAwait, onFulfilled: Undefined, onRejected: Undefined, target: owner})
	in.popFrame()
	if mode == modeAsync {
		in.push(owner)
	}
}

// resumeAsync continues the async body suspended on promise p with the
// settled value of the awaited promise.
func (in *interpreter) resumeAsync(p, arg Value, rejected bool) error {
	vm := in.vm
	pr := vm.heap.get(p).promise
	saved := pr.async
	if saved == nil {
		return internalErrorf("resuming an async function that is not suspended")
	}
	base := in.sp
	stop := in.fp + 1
	if _, err := in.restoreFrame(saved, base, base, modeAsyncResumed, p); err != nil {
		var te *ThrowError
		if errors.As(err, &te) {
			pr.async = nil
			vm.rejectPromise(p, te.value)
			return nil
		}
		return err
	}
	pr.async = nil

	var err error
	if rejected {
		err = in.raise(vm.Throw(arg), stop)
	} else {
		in.push(arg)
	}
	if err == nil {
		err = in.run(stop)
	}
	in.sp = base
	return err
}

// ---------------------------------------------------------------------------
// Microtask queue
// ---------------------------------------------------------------------------

type task struct {
	reaction
	state PromiseState
	arg   Value
}

// taskQueue is a FIFO of pending reactions. The running task stays in the
// queue until it finishes so that its values remain rooted.
type taskQueue struct {
	items    []task
	head     int
	draining bool
}

func (q *taskQueue) push(t task) {
	q.items = append(q.items, t)
}

// Len returns the number of tasks not yet run.
func (q *taskQueue) Len() int {
	return len(q.items) - q.head
}

func (q *taskQueue) front() task {
	return q.items[q.head]
}

func (q *taskQueue) pop() {
	q.items[q.head] = task{}
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 > len(q.items):
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = task{}
		}
		q.items = q.items[:n]
		q.head = 0
	}
}

func (q *taskQueue) mark(m *marker) {
	for _, t := range q.items[q.head:] {
		m.markValue(t.onFulfilled)
		m.markValue(t.onRejected)
		m.markValue(t.target)
		m.markValue(t.arg)
	}
}

// runTask executes one reaction. Script exceptions are routed into the
// affected promise; other errors are returned.
func (vm *VM) runTask(t task) error {
	switch t.kind {
	case reactThen:
		handler := t.onFulfilled
		if t.state == PromiseRejected {
			handler = t.onRejected
		}
		if !vm.isCallable(handler) {
			vm.settle(t.target, t.state, t.arg)
			return nil
		}
		r, err := vm.Call(handler, Undefined, t.arg)
		if err != nil {
			return vm.rejectWith(t.target, err)
		}
		mark := len(vm.temps)
		vm.temps = append(vm.temps, r.v)
		vm.resolvePromise(t.target, r.v)
		vm.dropTemps(mark)

	case reactAwait:
		return vm.interp.resumeAsync(t.target, t.arg, t.state == PromiseRejected)

	case reactAdopt:
		vm.settle(t.target, t.state, t.arg)

	case reactThenable:
		resolve, reject := vm.resolvingFunctions(t.target)
		mark := len(vm.temps)
		vm.temps = append(vm.temps, resolve, reject)
		defer vm.dropTemps(mark)
		if _, err := vm.Call(t.onFulfilled, t.onRejected, resolve, reject); err != nil {
			settled := vm.heap.get(resolve).fn.settled
			if *settled {
				return nil
			}
			*settled = true
			return vm.rejectWith(t.target, err)
		}
	}
	return nil
}

func (vm *VM) rejectWith(p Value, err error) error {
	var te *ThrowError
	if !errors.As(err, &te) {
		return err
	}
	vm.rejectPromise(p, te.value)
	return nil
}

// RunPendingTasks drains the microtask queue in FIFO order, including tasks
// queued while draining, up to Options.MaxTasksPerDrain. It returns the
// number of tasks run. A call made while the queue is already draining
// returns immediately.
func (vm *VM) RunPendingTasks() (int, error) {
	n := 0
	err := vm.enter(func() error {
		q := vm.tasks
		if q.draining {
			return nil
		}
		q.draining = true
		defer func() { q.draining = false }()
		for q.Len() > 0 {
			if limit := vm.opts.MaxTasksPerDrain; limit > 0 && n >= limit {
				break
			}
			err := vm.runTask(q.front())
			q.pop()
			n++
			if err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

// PendingTaskCount returns the number of queued microtasks.
func (vm *VM) PendingTaskCount() int {
	return vm.tasks.Len()
}

// ---------------------------------------------------------------------------
// Host API
// ---------------------------------------------------------------------------

// NewPromise creates a pending promise for the host to settle later with
// ResolvePromise or RejectPromise.
func (vm *VM) NewPromise() Unrooted {
	return vm.hostAllocate(vm.newPromise)
}

// ResolvePromise resolves a pending promise with v. Reactions run on the
// next RunPendingTasks.
func (vm *VM) ResolvePromise(p, v Value) error {
	return vm.enter(func() error {
		if !vm.isPromise(p) {
			return vm.typeError("%s is not a promise", vm.describe(p))
		}
		vm.resolvePromise(p, v)
		return nil
	})
}

// RejectPromise rejects a pending promise with reason.
func (vm *VM) RejectPromise(p, reason Value) error {
	return vm.enter(func() error {
		if !vm.isPromise(p) {
			return vm.typeError("%s is not a promise", vm.describe(p))
		}
		vm.rejectPromise(p, reason)
		return nil
	})
}

// PromiseState reports the state and result of a promise. The result is
// Undefined while pending. ok is false if v is not a promise.
func (vm *VM) PromiseState(v Value) (state PromiseState, result Unrooted, ok bool) {
	if !vm.isPromise(v) {
		return PromisePending, Unrooted{v: Undefined}, false
	}
	pr := vm.heap.get(v).promise
	return pr.state, Unrooted{v: pr.result}, true
}
