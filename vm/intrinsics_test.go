package vm

import (
	"testing"

	"github.com/pkg/errors"
)

// invoke calls obj[method](args...) from the host.
func invoke(t *testing.T, vm *VM, obj Value, method string, args ...Value) Value {
	t.Helper()
	r, err := vm.Call(prop(t, vm, obj, method), obj, args...)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return r.Value()
}

// invokeErr calls obj[method](args...) and returns the exception it raises.
func invokeErr(t *testing.T, vm *VM, obj Value, method string, args ...Value) *ThrowError {
	t.Helper()
	_, err := vm.Call(prop(t, vm, obj, method), obj, args...)
	var te *ThrowError
	if !errors.As(err, &te) {
		t.Fatalf("%s: err = %v, want a script exception", method, err)
	}
	return te
}

func global(t *testing.T, vm *VM, name string) Value {
	t.Helper()
	v, ok := vm.GetGlobal(name)
	if !ok {
		t.Fatalf("global %s missing", name)
	}
	return v.Value()
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func TestObjectIntrinsics(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	object := global(t, vm, "Object")

	obj := s.Root(vm.NewObject())
	for _, k := range []string{"b", "a"} {
		if err := vm.Set(obj.Value(), k, True); err != nil {
			t.Fatal(err)
		}
	}
	keys := invoke(t, vm, object, "keys", obj.Value())
	if got := vm.Inspect(keys); got != `["b", "a"]` {
		t.Errorf("Object.keys = %s", got)
	}
	if invoke(t, vm, obj.Value(), "hasOwnProperty", vm.NewString("a").Value()) != True {
		t.Error("hasOwnProperty(a)")
	}
	if invoke(t, vm, obj.Value(), "hasOwnProperty", vm.NewString("toString").Value()) != False {
		t.Error("hasOwnProperty(toString)")
	}
	wantString(t, vm, invoke(t, vm, obj.Value(), "toString"), "[object Object]")

	toString := prop(t, vm, obj.Value(), "toString")
	arr := s.Root(vm.NewArray())
	r, err := vm.Call(toString, arr.Value())
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, vm, r.Value(), "[object Array]")
	if r, _ = vm.Call(toString, Null); vm.StringOf(r.Value()) != "[object Null]" {
		t.Error("toString.call(null)")
	}

	if invoke(t, vm, object, "getPrototypeOf", obj.Value()) != vm.intrinsics.objectProto {
		t.Error("getPrototypeOf")
	}
	invoke(t, vm, object, "preventExtensions", obj.Value())
	if invoke(t, vm, object, "isExtensible", obj.Value()) != False {
		t.Error("isExtensible after preventExtensions")
	}
}

// Object.getOwnPropertyDescriptor(Object.defineProperty({}, "x", d), "x")
func TestObjectDescriptors(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	object := global(t, vm, "Object")

	desc := s.Root(vm.NewObject())
	if err := vm.Set(desc.Value(), "value", IntValue(4)); err != nil {
		t.Fatal(err)
	}
	if err := vm.Set(desc.Value(), "enumerable", True); err != nil {
		t.Fatal(err)
	}
	obj := s.Root(vm.NewObject())
	invoke(t, vm, object, "defineProperty", obj.Value(), vm.NewString("x").Value(), desc.Value())

	got := s.Root(Unroot(invoke(t, vm, object, "getOwnPropertyDescriptor", obj.Value(), vm.NewString("x").Value())))
	if str := vm.Inspect(got.Value()); str != "{ value: 4, writable: false, enumerable: true, configurable: false }" {
		t.Errorf("descriptor = %s", str)
	}
	if v := invoke(t, vm, object, "getOwnPropertyDescriptor", obj.Value(), vm.NewString("y").Value()); v != Undefined {
		t.Error("descriptor of a missing property")
	}

	te := invokeErr(t, vm, object, "defineProperty", obj.Value(), vm.NewString("x").Value(), IntValue(1))
	if te.Name != "TypeError" || te.Message != "Property description must be an object: 1" {
		t.Errorf("error = %s: %s", te.Name, te.Message)
	}
}

// Object.create(proto, {v: {value: 1, enumerable: true}})
func TestObjectCreate(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	object := global(t, vm, "Object")

	proto := s.Root(vm.NewObject())
	if err := vm.Set(proto.Value(), "inherited", IntValue(2)); err != nil {
		t.Fatal(err)
	}
	d := s.Root(vm.NewObject())
	if err := vm.Set(d.Value(), "value", IntValue(1)); err != nil {
		t.Fatal(err)
	}
	if err := vm.Set(d.Value(), "enumerable", True); err != nil {
		t.Fatal(err)
	}
	props := s.Root(vm.NewObject())
	if err := vm.Set(props.Value(), "v", d.Value()); err != nil {
		t.Fatal(err)
	}

	obj := s.Root(Unroot(invoke(t, vm, object, "create", proto.Value(), props.Value())))
	wantNumber(t, prop(t, vm, obj.Value(), "v"), 1)
	wantNumber(t, prop(t, vm, obj.Value(), "inherited"), 2)
	if vm.GetPrototypeOf(obj.Value()) != proto.Value() {
		t.Error("prototype")
	}

	bare := invoke(t, vm, object, "create", Null)
	if vm.GetPrototypeOf(bare) != Null {
		t.Error("Object.create(null) has a prototype")
	}
	if te := invokeErr(t, vm, object, "create", IntValue(1)); te.Message != "Object prototype may only be an Object or null: 1" {
		t.Errorf("message = %q", te.Message)
	}
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

func TestFunctionCallApply(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	// function f(a, b) { "use strict"; return [this, a, b] }
	f := newAsm("f", 2).flags(FuncStrict).op(OpThis).getLocal(0).getLocal(1).array(3).op(OpReturn)
	fn := s.Root(Unroot(mustRun(t, vm, newAsm("main", 0).closure(f.build()).op(OpReturn))))

	r := invoke(t, vm, fn.Value(), "call", IntValue(1), IntValue(2), IntValue(3))
	if got := vm.Inspect(r); got != "[1, 2, 3]" {
		t.Errorf("call = %s", got)
	}
	args := s.Root(vm.NewArray(IntValue(5), IntValue(6)))
	r = invoke(t, vm, fn.Value(), "apply", Null, args.Value())
	if got := vm.Inspect(r); got != "[null, 5, 6]" {
		t.Errorf("apply = %s", got)
	}
	r = invoke(t, vm, fn.Value(), "apply", Undefined)
	if got := vm.Inspect(r); got != "[undefined, undefined, undefined]" {
		t.Errorf("apply without arguments = %s", got)
	}
	if te := invokeErr(t, vm, fn.Value(), "apply", Undefined, IntValue(1)); te.Message != "CreateListFromArrayLike called on non-object" {
		t.Errorf("message = %q", te.Message)
	}

	wantString(t, vm, invoke(t, vm, fn.Value(), "toString"), "function f() { [bytecode] }")
	wantNumber(t, prop(t, vm, fn.Value(), "length"), 2)
	wantString(t, vm, prop(t, vm, fn.Value(), "name"), "f")
}

func TestFunctionConstructorUnsupported(t *testing.T) {
	vm := newTestVM(t)
	_, err := vm.Run(global(t, vm, "Function"))
	var te *ThrowError
	if !errors.As(err, &te) || te.Name != "SyntaxError" {
		t.Errorf("Function() = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func TestArrayIntrinsics(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	array := global(t, vm, "Array")

	sized := s.Root(mustConstruct(t, vm, array, IntValue(3)))
	if n, _ := vm.ArrayLength(sized.Value()); n != 3 {
		t.Errorf("new Array(3).length = %d", n)
	}
	if got := vm.Inspect(sized.Value()); got != "[<empty>, <empty>, <empty>]" {
		t.Errorf("new Array(3) = %s", got)
	}
	listed := s.Root(mustConstruct(t, vm, array, IntValue(1), vm.NewString("two").Value()))
	if got := vm.Inspect(listed.Value()); got != `[1, "two"]` {
		t.Errorf("new Array(1, 'two') = %s", got)
	}
	_, err := vm.Construct(array, IntValue(-1))
	var te *ThrowError
	if !errors.As(err, &te) || te.Name != "RangeError" || te.Message != "Invalid array length" {
		t.Errorf("new Array(-1) = %v", err)
	}

	if invoke(t, vm, array, "isArray", listed.Value()) != True || invoke(t, vm, array, "isArray", vm.NewObject().Value()) != False {
		t.Error("isArray")
	}

	wantNumber(t, invoke(t, vm, listed.Value(), "push", IntValue(3), Null), 4)
	wantString(t, vm, invoke(t, vm, listed.Value(), "join", vm.NewString("-").Value()), "1-two-3-")
	wantString(t, vm, invoke(t, vm, listed.Value(), "toString"), "1,two,3,")
	if v := invoke(t, vm, listed.Value(), "pop"); v != Null {
		t.Errorf("pop = %s", vm.Inspect(v))
	}
	wantNumber(t, invoke(t, vm, listed.Value(), "pop"), 3)
	if n, _ := vm.ArrayLength(listed.Value()); n != 2 {
		t.Errorf("length after pop = %d", n)
	}
	empty := s.Root(vm.NewArray())
	if v := invoke(t, vm, empty.Value(), "pop"); v != Undefined {
		t.Error("pop of an empty array")
	}

	obj := s.Root(vm.NewObject())
	push := prop(t, vm, listed.Value(), "push")
	_, err = vm.Call(push, obj.Value(), IntValue(1))
	if !errors.As(err, &te) || te.Message != "Array.prototype.push called on non-array #<Object>" {
		t.Errorf("push on an object = %v", err)
	}
}

func TestArrayLargeLengths(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	array := global(t, vm, "Array")

	big := s.Root(mustConstruct(t, vm, array, IntValue(1<<25)))
	if n, _ := vm.ArrayLength(big.Value()); n != 1<<25 {
		t.Fatalf("new Array(1 << 25).length = %d", n)
	}
	wantNumber(t, invoke(t, vm, big.Value(), "push", IntValue(4)), 1<<25+1)
	wantNumber(t, prop(t, vm, big.Value(), "33554432"), 4)
	wantNumber(t, invoke(t, vm, big.Value(), "pop"), 4)
	if n, _ := vm.ArrayLength(big.Value()); n != 1<<25 {
		t.Errorf("length after pop = %d", n)
	}
}

func TestArrayPopInheritedGetterShrinks(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	getter := s.Root(vm.NewNativeFunction("get", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if err := vm.Set(this, "length", IntValue(0)); err != nil {
			return Unrooted{v: Undefined}, err
		}
		return Unrooted{v: IntValue(9)}, nil
	}))
	err := vm.DefineOwnProperty(vm.intrinsics.objectProto, vm.Symbols.Intern("2"), PropertyDescriptor{
		Getter: getter.Value(), HasGetter: true, Configurable: FlagTrue,
	})
	if err != nil {
		t.Fatal(err)
	}

	arr := s.Root(vm.NewArray(IntValue(1), IntValue(2)))
	if err := vm.Set(arr.Value(), "length", IntValue(3)); err != nil {
		t.Fatal(err)
	}
	wantNumber(t, invoke(t, vm, arr.Value(), "pop"), 9)
	if n, _ := vm.ArrayLength(arr.Value()); n != 2 {
		t.Errorf("length after pop = %d", n)
	}
	if got := vm.Inspect(arr.Value()); got != "[<empty>, <empty>]" {
		t.Errorf("array after pop = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Primitive wrappers
// ---------------------------------------------------------------------------

func TestNumberIntrinsics(t *testing.T) {
	vm := newTestVM(t)
	number := global(t, vm, "Number")

	r, err := vm.Run(number, vm.NewString(" 12 ").Value())
	if err != nil {
		t.Fatal(err)
	}
	wantNumber(t, r.Value(), 12)
	r, _ = vm.Run(number)
	wantNumber(t, r.Value(), 0)

	boxed := mustConstruct(t, vm, number, IntValue(3)).Value()
	if k, _ := vm.KindOf(boxed); k != KindBoxed {
		t.Fatalf("new Number(3) kind = %s", k)
	}
	if got := vm.Inspect(boxed); got != "[Number: 3]" {
		t.Errorf("Inspect = %q", got)
	}
	wantNumber(t, invoke(t, vm, boxed, "valueOf"), 3)

	wantString(t, vm, invoke(t, vm, IntValue(255), "toString", IntValue(16)), "ff")
	wantString(t, vm, invoke(t, vm, IntValue(-5), "toString", IntValue(2)), "-101")
	wantString(t, vm, invoke(t, vm, NumberValue(1.5), "toString"), "1.5")
	if te := invokeErr(t, vm, IntValue(1), "toString", IntValue(1)); te.Name != "RangeError" {
		t.Errorf("radix 1: %s", te.Name)
	}
	if te := invokeErr(t, vm, NumberValue(0.5), "toString", IntValue(2)); te.Name != "RangeError" {
		t.Errorf("fractional with radix: %s", te.Name)
	}

	toString := prop(t, vm, IntValue(1), "toString")
	_, err = vm.Call(toString, vm.NewString("x").Value())
	var te *ThrowError
	if !errors.As(err, &te) || te.Message != "Number.prototype.toString requires that 'this' be a Number" {
		t.Errorf("toString on a string: %v", err)
	}
}

func TestStringIntrinsics(t *testing.T) {
	vm := newTestVM(t)
	str := global(t, vm, "String")

	r, err := vm.Run(str, IntValue(123))
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, vm, r.Value(), "123")
	r, _ = vm.Run(str)
	wantString(t, vm, r.Value(), "")

	s := vm.OpenScope()
	defer s.Close()
	boxed := s.Root(mustConstruct(t, vm, str, vm.NewString("ab").Value()))
	wantNumber(t, prop(t, vm, boxed.Value(), "length"), 2)
	wantString(t, vm, prop(t, vm, boxed.Value(), "1"), "b")
	wantString(t, vm, invoke(t, vm, boxed.Value(), "toString"), "ab")
	if got := vm.Inspect(boxed.Value()); got != `[String: "ab"]` {
		t.Errorf("Inspect = %q", got)
	}
	if got := vm.Symbols.Resolve(vm.TypeOf(boxed.Value())); got != "object" {
		t.Errorf("typeof new String = %s", got)
	}
}

func TestBooleanIntrinsics(t *testing.T) {
	vm := newTestVM(t)
	boolean := global(t, vm, "Boolean")

	for v, want := range map[Value]Value{IntValue(0): False, IntValue(2): True, StringValue(SymEmpty): False, Null: False} {
		r, err := vm.Run(boolean, v)
		if err != nil {
			t.Fatal(err)
		}
		if r.Value() != want {
			t.Errorf("Boolean(%s) = %s", vm.Inspect(v), vm.Inspect(r.Value()))
		}
	}
	wantString(t, vm, invoke(t, vm, True, "toString"), "true")
	boxed := mustConstruct(t, vm, boolean, False).Value()
	if !boxed.IsTruthy() {
		t.Error("boxed false is falsy")
	}
	if invoke(t, vm, boxed, "valueOf") != False {
		t.Error("valueOf")
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestErrorCause(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()

	opts := s.Root(vm.NewObject())
	if err := vm.Set(opts.Value(), "cause", IntValue(42)); err != nil {
		t.Fatal(err)
	}
	e := s.Root(mustConstruct(t, vm, global(t, vm, "TypeError"), vm.NewString("wrapped").Value(), opts.Value()))
	wantNumber(t, prop(t, vm, e.Value(), "cause"), 42)
	wantString(t, vm, invoke(t, vm, e.Value(), "toString"), "TypeError: wrapped")
	if k, _ := vm.KindOf(e.Value()); k != KindError {
		t.Errorf("kind = %s", k)
	}
	ok, err := vm.InstanceOf(e.Value(), global(t, vm, "Error"))
	if err != nil || !ok {
		t.Error("TypeError is not an instance of Error")
	}

	plain := mustConstruct(t, vm, global(t, vm, "Error")).Value()
	if _, found := vm.GetOwnPropertyDescriptor(plain, SymCause); found {
		t.Error("cause defined without options")
	}
	wantString(t, vm, invoke(t, vm, plain, "toString"), "Error")
}

func TestNewErrorFromHost(t *testing.T) {
	vm := newTestVM(t)
	e := vm.NewError(ErrorReference, "x is missing").Value()
	wantString(t, vm, prop(t, vm, e, "name"), "ReferenceError")
	wantString(t, vm, prop(t, vm, e, "message"), "x is missing")
	if !vm.IsPrototypeOf(vm.errorProto(ErrorReference), e) {
		t.Error("prototype")
	}
}
