package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Promise helpers
// ---------------------------------------------------------------------------

// appendLog assembles an arrow function that appends s to the global log and
// returns the new log.
func appendLog(s string) *ProgramFunction {
	return newAsm("", 0).flags(FuncArrow).getGlobal("log").str(s).op(OpAdd).setGlobal("log").op(OpReturn).build()
}

func logVM(t *testing.T) *VM {
	t.Helper()
	vm := newTestVM(t)
	if err := vm.SetGlobal("log", vm.NewString("").Value()); err != nil {
		t.Fatal(err)
	}
	return vm
}

func wantLog(t *testing.T, vm *VM, want string) {
	t.Helper()
	v, _ := vm.GetGlobal("log")
	wantString(t, vm, v.Value(), want)
}

func drain(t *testing.T, vm *VM) int {
	t.Helper()
	n, err := vm.RunPendingTasks()
	if err != nil {
		t.Fatalf("RunPendingTasks: %v", err)
	}
	return n
}

func wantPromise(t *testing.T, vm *VM, p Value, state PromiseState, result Value) {
	t.Helper()
	got, r, ok := vm.PromiseState(p)
	if !ok {
		t.Fatalf("%s is not a promise", vm.Inspect(p))
	}
	if got != state || !SameValue(r.Value(), result) {
		t.Fatalf("promise = %s %s, want %s %s", got, vm.Inspect(r.Value()), state, vm.Inspect(result))
	}
}

// ---------------------------------------------------------------------------
// Promises
// ---------------------------------------------------------------------------

// Promise.resolve(1).then(v => v + 1)
func TestPromiseThen(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	inc := newAsm("", 1).flags(FuncArrow).getLocal(0).int(1).op(OpAdd, OpReturn)
	main := newAsm("main", 0)
	main.getGlobal("Promise").int(1).callMethod("resolve", 1)
	main.closure(inc.build()).callMethod("then", 1).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	wantPromise(t, vm, p.Value(), PromisePending, Undefined)

	if n := drain(t, vm); n != 1 {
		t.Errorf("ran %d tasks, want 1", n)
	}
	wantPromise(t, vm, p.Value(), PromiseFulfilled, IntValue(2))
	if s := vm.Inspect(p.Value()); s != "Promise { 2 }" {
		t.Errorf("Inspect = %q", s)
	}
}

// Reactions run in FIFO order, including ones queued while draining.
func TestPromiseReactionOrder(t *testing.T) {
	vm := logVM(t)

	// p = Promise.resolve(0)
	// p.then(() => log += "a").then(() => log += "c")
	// p.then(() => log += "b")
	main := newAsm("main", 0).locals(1)
	main.getGlobal("Promise").int(0).callMethod("resolve", 1).setLocal(0).op(OpPOP)
	main.getLocal(0).closure(appendLog("a")).callMethod("then", 1)
	main.closure(appendLog("c")).callMethod("then", 1).op(OpPOP)
	main.getLocal(0).closure(appendLog("b")).callMethod("then", 1).op(OpPOP)
	main.op(OpReturnUndefined)

	mustRun(t, vm, main)
	wantLog(t, vm, "")
	if n := drain(t, vm); n != 3 {
		t.Errorf("ran %d tasks, want 3", n)
	}
	wantLog(t, vm, "abc")
	if vm.PendingTaskCount() != 0 {
		t.Errorf("%d tasks left", vm.PendingTaskCount())
	}
}

// A rejection skips then handlers until a catch handles it.
func TestPromiseRejectionPropagates(t *testing.T) {
	vm := logVM(t)
	s := vm.OpenScope()
	defer s.Close()

	handler := newAsm("", 1).flags(FuncArrow).getLocal(0).str("!").op(OpAdd, OpReturn)
	main := newAsm("main", 0)
	main.getGlobal("Promise").str("no").callMethod("reject", 1)
	main.closure(appendLog("skipped")).callMethod("then", 1)
	main.closure(handler.build()).callMethod("catch", 1).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	drain(t, vm)
	wantLog(t, vm, "")
	wantPromise(t, vm, p.Value(), PromiseFulfilled, vm.NewString("no!").Value())
}

// A throwing handler rejects the derived promise.
func TestPromiseHandlerThrows(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	thrower := newAsm("", 0).flags(FuncArrow).str("bad").op(OpThrow)
	main := newAsm("main", 0)
	main.getGlobal("Promise").int(1).callMethod("resolve", 1)
	main.closure(thrower.build()).callMethod("then", 1).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseRejected, vm.NewString("bad").Value())
	if got := vm.Inspect(p.Value()); got != `Promise { <rejected> "bad" }` {
		t.Errorf("Inspect = %q", got)
	}
}

// new Promise((resolve) => resolve(5))
func TestPromiseConstructor(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	executor := newAsm("", 2).flags(FuncArrow)
	executor.getLocal(0).op(OpUndefined).int(5).call(1).op(OpPOP)
	// A second settlement is ignored.
	executor.getLocal(1).op(OpUndefined).int(6).call(1).op(OpPOP, OpReturnUndefined)
	main := newAsm("main", 0).getGlobal("Promise").op(OpUndefined).closure(executor.build()).new(1).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	wantPromise(t, vm, p.Value(), PromiseFulfilled, IntValue(5))

	// An executor that throws rejects the promise.
	thrower := newAsm("", 2).flags(FuncArrow).str("oops").op(OpThrow)
	main = newAsm("main", 0).getGlobal("Promise").op(OpUndefined).closure(thrower.build()).new(1).op(OpReturn)
	p.Set(mustRun(t, vm, main))
	wantPromise(t, vm, p.Value(), PromiseRejected, vm.NewString("oops").Value())

	// Promise requires new.
	te := mustThrow(t, vm, newAsm("main", 0).getGlobal("Promise").op(OpUndefined).closure(thrower.build()).call(1).op(OpReturn))
	if te.Name != "TypeError" {
		t.Errorf("error = %s: %s", te.Name, te.Message)
	}
}

// Resolving with another promise adopts its eventual state.
func TestPromiseAdoption(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	inner := s.Root(vm.NewPromise())
	outer := s.Root(vm.NewPromise())
	if err := vm.ResolvePromise(outer.Value(), inner.Value()); err != nil {
		t.Fatal(err)
	}
	drain(t, vm)
	wantPromise(t, vm, outer.Value(), PromisePending, Undefined)

	if err := vm.ResolvePromise(inner.Value(), IntValue(8)); err != nil {
		t.Fatal(err)
	}
	drain(t, vm)
	wantPromise(t, vm, outer.Value(), PromiseFulfilled, IntValue(8))
}

// Objects with a callable then are treated as thenables.
func TestPromiseThenable(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	// {then(resolve) { resolve(3) }}
	then := newAsm("then", 2).getLocal(0).op(OpUndefined).int(3).call(1).op(OpPOP, OpReturnUndefined)
	main := newAsm("main", 0)
	main.getGlobal("Promise")
	main.op(OpNewObject).closure(then.build()).field("then")
	main.callMethod("resolve", 1).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	wantPromise(t, vm, p.Value(), PromisePending, Undefined)
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseFulfilled, IntValue(3))
}

func TestPromiseSelfResolution(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	p := s.Root(vm.NewPromise())
	if err := vm.ResolvePromise(p.Value(), p.Value()); err != nil {
		t.Fatal(err)
	}
	state, r, _ := vm.PromiseState(p.Value())
	if state != PromiseRejected {
		t.Fatalf("state = %s", state)
	}
	wantString(t, vm, prop(t, vm, r.Value(), "message"), "Chaining cycle detected for promise")
}

// Host-settled promises drive script reactions.
func TestPromiseHostSettled(t *testing.T) {
	vm := logVM(t)
	s := vm.OpenScope()
	defer s.Close()

	p := s.Root(vm.NewPromise())
	if err := vm.SetGlobal("pending", p.Value()); err != nil {
		t.Fatal(err)
	}
	handler := newAsm("", 1).flags(FuncArrow).getGlobal("log").getLocal(0).op(OpAdd).setGlobal("log").op(OpReturn)
	main := newAsm("main", 0).getGlobal("pending").closure(handler.build()).callMethod("catch", 1).op(OpReturn)
	mustRun(t, vm, main)

	if err := vm.RejectPromise(p.Value(), vm.NewString("late").Value()); err != nil {
		t.Fatal(err)
	}
	drain(t, vm)
	wantLog(t, vm, "late")

	if err := vm.ResolvePromise(IntValue(1), Undefined); err == nil {
		t.Error("ResolvePromise accepted a non-promise")
	}
}

// MaxTasksPerDrain bounds one drain; the rest stays queued.
func TestPromiseDrainLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTasksPerDrain = 1
	vm := newTestVMWith(t, opts)
	if err := vm.SetGlobal("log", vm.NewString("").Value()); err != nil {
		t.Fatal(err)
	}

	main := newAsm("main", 0)
	main.getGlobal("Promise").op(OpUndefined).callMethod("resolve", 1)
	main.closure(appendLog("1")).callMethod("then", 1)
	main.closure(appendLog("2")).callMethod("then", 1).op(OpPOP, OpReturnUndefined)
	mustRun(t, vm, main)

	if n := drain(t, vm); n != 1 {
		t.Fatalf("first drain ran %d tasks", n)
	}
	wantLog(t, vm, "1")
	if vm.PendingTaskCount() != 1 {
		t.Fatalf("pending = %d, want 1", vm.PendingTaskCount())
	}
	drain(t, vm)
	wantLog(t, vm, "12")
}

// A task calling RunPendingTasks does not drain recursively.
func TestPromiseNestedDrain(t *testing.T) {
	vm := logVM(t)
	nested := -1
	if err := vm.RegisterNative("drainNow", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		n, err := vm.RunPendingTasks()
		nested = n
		return Unroot(Undefined), err
	}); err != nil {
		t.Fatal(err)
	}

	main := newAsm("main", 0)
	main.getGlobal("Promise").op(OpUndefined).callMethod("resolve", 1)
	main.getGlobal("drainNow").callMethod("then", 1).op(OpPOP, OpReturnUndefined)
	mustRun(t, vm, main)
	drain(t, vm)
	if nested != 0 {
		t.Errorf("nested drain ran %d tasks", nested)
	}
}

// ---------------------------------------------------------------------------
// Async functions
// ---------------------------------------------------------------------------

// async function f(x) { log += "1"; const y = await x; log += "3"; return y + 1 }
// p = f(41); log += "2"
func TestAsyncFunction(t *testing.T) {
	vm := logVM(t)
	s := vm.OpenScope()
	defer s.Close()

	f := newAsm("f", 1).flags(FuncAsync)
	f.getGlobal("log").str("1").op(OpAdd).setGlobal("log").op(OpPOP)
	f.getLocal(0).op(OpAwait)
	f.getGlobal("log").str("3").op(OpAdd).setGlobal("log").op(OpPOP)
	f.int(1).op(OpAdd, OpReturn)

	main := newAsm("main", 0).locals(1)
	main.closure(f.build()).op(OpUndefined).int(41).call(1).setLocal(0).op(OpPOP)
	main.getGlobal("log").str("2").op(OpAdd).setGlobal("log").op(OpPOP)
	main.getLocal(0).op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, main)))
	wantLog(t, vm, "12")
	wantPromise(t, vm, p.Value(), PromisePending, Undefined)

	drain(t, vm)
	wantLog(t, vm, "123")
	wantPromise(t, vm, p.Value(), PromiseFulfilled, IntValue(42))
}

// An async function without await still returns a promise.
func TestAsyncFunctionWithoutAwait(t *testing.T) {
	vm := newTestVM(t)
	f := newAsm("f", 0).flags(FuncAsync).int(7).op(OpReturn)
	p := mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpUndefined).call(0).op(OpReturn))
	wantPromise(t, vm, p, PromiseFulfilled, IntValue(7))
}

// async function f() { try { await Promise.reject("no") } catch (e) { return e + "!" } }
func TestAsyncAwaitRejected(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	f := newAsm("f", 0).flags(FuncAsync)
	start, end, catch := f.label(), f.label(), f.label()
	f.handler(HandlerCatch, start, end, catch, 0)
	f.mark(start).getGlobal("Promise").str("no").callMethod("reject", 1).op(OpAwait, OpReturn)
	f.mark(end)
	f.mark(catch).str("!").op(OpAdd, OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpUndefined).call(0).op(OpReturn))))
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseFulfilled, vm.NewString("no!").Value())
}

// An exception escaping an async function rejects its promise instead of
// reaching the caller.
func TestAsyncThrowRejects(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	f := newAsm("f", 0).flags(FuncAsync).getGlobal("RangeError").op(OpUndefined).str("r").new(1).op(OpThrow)
	p := s.Root(Unroot(mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpUndefined).call(0).op(OpReturn))))

	state, r, _ := vm.PromiseState(p.Value())
	if state != PromiseRejected {
		t.Fatalf("state = %s", state)
	}
	wantString(t, vm, prop(t, vm, r.Value(), "message"), "r")

	// Same after a suspension.
	g := newAsm("g", 0).flags(FuncAsync).int(0).op(OpAwait, OpPOP).str("later").op(OpThrow)
	p.Set(mustRun(t, vm, newAsm("main", 0).closure(g.build()).op(OpUndefined).call(0).op(OpReturn)))
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseRejected, vm.NewString("later").Value())
}

// Awaiting a pending promise suspends until the host settles it.
func TestAsyncAwaitHostPromise(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	pending := s.Root(vm.NewPromise())
	if err := vm.SetGlobal("pending", pending.Value()); err != nil {
		t.Fatal(err)
	}
	f := newAsm("f", 0).flags(FuncAsync).getGlobal("pending").op(OpAwait).int(2).op(OpMul, OpReturn)
	p := s.Root(Unroot(mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpUndefined).call(0).op(OpReturn))))

	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromisePending, Undefined)

	if err := vm.ResolvePromise(pending.Value(), IntValue(21)); err != nil {
		t.Fatal(err)
	}
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseFulfilled, IntValue(42))
}

// Suspended async frames keep their locals alive across collections.
func TestAsyncFrameIsRooted(t *testing.T) {
	vm := newStressVM(t)
	s := vm.OpenScope()
	defer s.Close()

	f := newAsm("f", 0).locals(1).flags(FuncAsync)
	f.op(OpNewObject).str("kept").field("tag").setLocal(0).op(OpPOP)
	f.int(0).op(OpAwait, OpPOP)
	f.getLocal(0).getProp("tag").op(OpReturn)

	p := s.Root(Unroot(mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpUndefined).call(0).op(OpReturn))))
	vm.Collect()
	drain(t, vm)
	wantPromise(t, vm, p.Value(), PromiseFulfilled, vm.NewString("kept").Value())
}
