package vm

import (
	"testing"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test helpers: VMs and a small assembler
// ---------------------------------------------------------------------------

func newTestVM(t *testing.T) *VM {
	t.Helper()
	return newTestVMWith(t, DefaultOptions())
}

// newStressVM returns a VM that collects on every allocation, so any value
// held unrooted across an allocation shows up as a stale reference.
func newStressVM(t *testing.T) *VM {
	t.Helper()
	opts := DefaultOptions()
	opts.GC.Stress = true
	return newTestVMWith(t, opts)
}

func newTestVMWith(t *testing.T, opts Options) *VM {
	t.Helper()
	vm := New(opts)
	t.Cleanup(func() {
		if !vm.closed {
			vm.Close()
		}
	})
	return vm
}

// asm wraps a FunctionBuilder with shorthands for the common instructions.
type asm struct {
	fb *FunctionBuilder
	c  *BytecodeBuilder
}

func newAsm(name string, arity int) *asm {
	fb := NewFunctionBuilder(name, arity)
	return &asm{fb: fb, c: fb.Code()}
}

func (a *asm) locals(n int) *asm {
	a.fb.SetLocals(n)
	return a
}

func (a *asm) cells(n int) *asm {
	a.fb.SetCells(n)
	return a
}

func (a *asm) flags(f FuncFlags) *asm {
	a.fb.SetFlags(f)
	return a
}

func (a *asm) op(ops ...Opcode) *asm {
	for _, op := range ops {
		a.c.Emit(op)
	}
	return a
}

func (a *asm) int(n int) *asm {
	if n >= -128 && n <= 127 {
		a.c.EmitInt8(OpInt8, int8(n))
	} else {
		a.c.EmitInt32(OpInt32, int32(n))
	}
	return a
}

func (a *asm) num(f float64) *asm {
	a.c.EmitFloat64(OpNumber, f)
	return a
}

func (a *asm) str(s string) *asm {
	a.c.EmitUint16(OpConst, a.fb.String(s))
	return a
}

func (a *asm) getLocal(i int) *asm {
	a.c.EmitUint16(OpGetLocal, uint16(i))
	return a
}

func (a *asm) setLocal(i int) *asm {
	a.c.EmitUint16(OpSetLocal, uint16(i))
	return a
}

func (a *asm) getCell(i int) *asm {
	a.c.EmitUint16(OpGetCell, uint16(i))
	return a
}

func (a *asm) setCell(i int) *asm {
	a.c.EmitUint16(OpSetCell, uint16(i))
	return a
}

func (a *asm) getCapture(i int) *asm {
	a.c.EmitUint16(OpGetCapture, uint16(i))
	return a
}

func (a *asm) setCapture(i int) *asm {
	a.c.EmitUint16(OpSetCapture, uint16(i))
	return a
}

func (a *asm) keyed(op Opcode, name string) *asm {
	a.c.EmitUint16(op, a.fb.String(name))
	return a
}

func (a *asm) getGlobal(name string) *asm    { return a.keyed(OpGetGlobal, name) }
func (a *asm) setGlobal(name string) *asm    { return a.keyed(OpSetGlobal, name) }
func (a *asm) typeofGlobal(name string) *asm { return a.keyed(OpTypeofGlobal, name) }
func (a *asm) getProp(name string) *asm      { return a.keyed(OpGetProp, name) }
func (a *asm) setProp(name string) *asm      { return a.keyed(OpSetProp, name) }
func (a *asm) deleteProp(name string) *asm   { return a.keyed(OpDeleteProp, name) }
func (a *asm) field(name string) *asm        { return a.keyed(OpDefineField, name) }
func (a *asm) getter(name string) *asm       { return a.keyed(OpDefineGetter, name) }
func (a *asm) setter(name string) *asm       { return a.keyed(OpDefineSetter, name) }

func (a *asm) call(argc int) *asm {
	a.c.EmitByte(OpCall, byte(argc))
	return a
}

func (a *asm) callMethod(name string, argc int) *asm {
	a.c.EmitCallMethod(a.fb.String(name), uint8(argc))
	return a
}

func (a *asm) new(argc int) *asm {
	a.c.EmitByte(OpNew, byte(argc))
	return a
}

func (a *asm) array(n int) *asm {
	a.c.EmitUint16(OpNewArray, uint16(n))
	return a
}

func (a *asm) closure(f *ProgramFunction) *asm {
	a.c.EmitUint16(OpClosure, a.fb.AddFunction(f))
	return a
}

func (a *asm) label() *Label {
	return a.c.NewLabel()
}

func (a *asm) mark(l *Label) *asm {
	a.c.Mark(l)
	return a
}

// here returns a label marked at the current position.
func (a *asm) here() *Label {
	l := a.c.NewLabel()
	a.c.Mark(l)
	return l
}

func (a *asm) jump(op Opcode, l *Label) *asm {
	a.c.EmitJump(op, l)
	return a
}

func (a *asm) handler(kind HandlerKind, start, end, target *Label, depth int) *asm {
	a.fb.Handler(kind, start, end, target, depth)
	return a
}

// increment emits global++ leaving nothing on the stack.
func (a *asm) increment(global string) *asm {
	return a.getGlobal(global).op(OpInc).setGlobal(global).op(OpPOP)
}

func (a *asm) build() *ProgramFunction {
	return a.fb.Build()
}

// ---------------------------------------------------------------------------
// Running programs
// ---------------------------------------------------------------------------

func runMain(t *testing.T, vm *VM, main *asm) (Value, error) {
	t.Helper()
	r, err := vm.RunProgram(&Program{Source: "test.js", Main: main.build()})
	return r.Value(), err
}

func mustRun(t *testing.T, vm *VM, main *asm) Value {
	t.Helper()
	v, err := runMain(t, vm, main)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return v
}

// mustThrow runs main and returns the script exception it raises.
func mustThrow(t *testing.T, vm *VM, main *asm) *ThrowError {
	t.Helper()
	_, err := runMain(t, vm, main)
	var te *ThrowError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want a script exception", err)
	}
	return te
}

func wantNumber(t *testing.T, v Value, want float64) {
	t.Helper()
	if !v.IsNumber() || v.Number() != want {
		t.Fatalf("result = %v (%s), want %v", v.Number(), v.Type(), want)
	}
}

func wantString(t *testing.T, vm *VM, v Value, want string) {
	t.Helper()
	if !v.IsString() {
		t.Fatalf("result is %s (%s), want string %q", v.Type(), vm.Inspect(v), want)
	}
	if got := vm.StringOf(v); got != want {
		t.Fatalf("result = %q, want %q", got, want)
	}
}

func wantGlobalNumber(t *testing.T, vm *VM, name string, want float64) {
	t.Helper()
	v, ok := vm.GetGlobal(name)
	if !ok {
		t.Fatalf("global %s is not defined", name)
	}
	wantNumber(t, v.Value(), want)
}

// prop reads a property from the host side and fails the test on error.
func prop(t *testing.T, vm *VM, obj Value, name string) Value {
	t.Helper()
	r, err := vm.Get(obj, name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	return r.Value()
}
