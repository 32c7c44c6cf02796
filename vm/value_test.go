package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// NaN-boxing
// ---------------------------------------------------------------------------

func TestValueNumbers(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.14159, -2.5e300, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)} {
		v := NumberValue(f)
		if !v.IsNumber() || v.IsObject() || v.IsString() {
			t.Errorf("NumberValue(%v) not classified as a number", f)
		}
		if v.Number() != f {
			t.Errorf("NumberValue(%v).Number() = %v", f, v.Number())
		}
		if v.Type() != TypeNumber {
			t.Errorf("Type = %s", v.Type())
		}
	}
	if IntValue(42) != NumberValue(42) {
		t.Error("IntValue and NumberValue disagree")
	}
}

// Every NaN is stored in one canonical form, so no NaN payload can be
// mistaken for a tagged value.
func TestValueCanonicalNaN(t *testing.T) {
	weird := math.Float64frombits(0x7FF4000000000001) // signalling NaN with a payload
	negative := math.Float64frombits(0xFFF8000000000000)
	for _, f := range []float64{math.NaN(), weird, negative, math.Inf(1) - math.Inf(1)} {
		v := NumberValue(f)
		if !v.IsNumber() || !math.IsNaN(v.Number()) {
			t.Errorf("NaN %016x not stored as a number", math.Float64bits(f))
		}
		if v != NumberValue(math.NaN()) {
			t.Errorf("NaN %016x not canonical", math.Float64bits(f))
		}
	}
	if !SameValue(NumberValue(math.NaN()), NumberValue(weird)) {
		t.Error("SameValue(NaN, NaN) = false")
	}
	if StrictEquals(NumberValue(math.NaN()), NumberValue(math.NaN())) {
		t.Error("NaN === NaN")
	}
}

func TestValueNegativeZero(t *testing.T) {
	negZero := NumberValue(math.Copysign(0, -1))
	if !StrictEquals(negZero, IntValue(0)) {
		t.Error("-0 !== 0")
	}
	if SameValue(negZero, IntValue(0)) {
		t.Error("SameValue(-0, 0)")
	}
	if _, ok := negZero.asInt(); ok {
		t.Error("-0 treated as an integer")
	}
}

func TestValueSpecials(t *testing.T) {
	tests := []struct {
		v      Value
		typ    ValueType
		truthy bool
	}{
		{Undefined, TypeUndefined, false},
		{Null, TypeNull, false},
		{True, TypeBoolean, true},
		{False, TypeBoolean, false},
	}
	for _, tc := range tests {
		if tc.v.IsNumber() || tc.v.IsObject() || tc.v.IsString() {
			t.Errorf("%s misclassified", tc.typ)
		}
		if tc.v.Type() != tc.typ {
			t.Errorf("Type = %s, want %s", tc.v.Type(), tc.typ)
		}
		if tc.v.IsTruthy() != tc.truthy {
			t.Errorf("%s truthiness", tc.typ)
		}
	}
	if !Undefined.IsNullish() || !Null.IsNullish() || False.IsNullish() {
		t.Error("IsNullish")
	}
	if BoolValue(true) != True || !True.Bool() || False.Bool() {
		t.Error("booleans")
	}
}

func TestValueStringsAndObjects(t *testing.T) {
	s := StringValue(SymLength)
	if !s.IsString() || s.Symbol() != SymLength || s.Type() != TypeString {
		t.Error("string value")
	}
	if StringValue(SymEmpty).IsTruthy() || !s.IsTruthy() {
		t.Error("string truthiness")
	}

	o := objectValue(123456, 7)
	if !o.IsObject() || o.IsString() || o.IsNumber() {
		t.Fatal("object value misclassified")
	}
	if o.objectIndex() != 123456 || o.objectGen() != 7 {
		t.Errorf("object value = #%d gen %d", o.objectIndex(), o.objectGen())
	}
	if objectValue(1, 0) == objectValue(1, 1) {
		t.Error("generation not part of the reference")
	}
	if !o.IsTruthy() {
		t.Error("objects are truthy")
	}
}

func TestValueNumberTruthiness(t *testing.T) {
	for f, want := range map[float64]bool{0: false, 1: true, -1: true, 0.5: true, math.Inf(-1): true} {
		if NumberValue(f).IsTruthy() != want {
			t.Errorf("truthy(%v) != %v", f, want)
		}
	}
	if NumberValue(math.NaN()).IsTruthy() {
		t.Error("NaN is truthy")
	}
}

func TestValueAccessorsPanic(t *testing.T) {
	for name, fn := range map[string]func(){
		"Number": func() { Null.Number() },
		"Bool":   func() { IntValue(1).Bool() },
		"Symbol": func() { True.Symbol() },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s on the wrong variant did not panic", name)
				}
			}()
			fn()
		}()
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:                     "0",
		42:                    "42",
		-7:                    "-7",
		1.5:                   "1.5",
		0.1:                   "0.1",
		1e21:                  "1e+21",
		1.5e21:                "1.5e+21",
		123456789012345680000: "123456789012345680000",
		1e-6:                  "0.000001",
		1e-7:                  "1e-7",
		2.5e-8:                "2.5e-8",
		math.Inf(1):           "Infinity",
		math.Inf(-1):          "-Infinity",
	}
	for f, want := range tests {
		if got := FormatNumber(f); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", f, got, want)
		}
	}
	if FormatNumber(math.NaN()) != "NaN" {
		t.Error("NaN")
	}
}

func TestParseNumber(t *testing.T) {
	tests := map[string]float64{
		"":              0,
		"   ":           0,
		"42":            42,
		" 42\n":         42,
		"\uFEFF7\u00A0": 7,
		"-3.5":          -3.5,
		"1e3":           1000,
		".5":            0.5,
		"0x1F":          31,
		"0b101":         5,
		"0o17":          15,
		"Infinity":      math.Inf(1),
		"-Infinity":     math.Inf(-1),
		"1e400":         math.Inf(1),
	}
	for s, want := range tests {
		if got := ParseNumber(s); got != want {
			t.Errorf("ParseNumber(%q) = %v, want %v", s, got, want)
		}
	}
	for _, s := range []string{"abc", "12px", "0x", "1_000", "infinity", "0xZZ"} {
		if got := ParseNumber(s); !math.IsNaN(got) {
			t.Errorf("ParseNumber(%q) = %v, want NaN", s, got)
		}
	}
}

func TestToStringAndNumber(t *testing.T) {
	vm := newTestVM(t)

	str := func(v Value) string {
		sym, err := vm.ToString(v)
		if err != nil {
			t.Fatal(err)
		}
		return vm.Symbols.Resolve(sym)
	}
	if str(IntValue(12)) != "12" || str(NumberValue(-1.25)) != "-1.25" || str(Null) != "null" ||
		str(Undefined) != "undefined" || str(True) != "true" || str(NumberValue(math.NaN())) != "NaN" {
		t.Error("primitive ToString")
	}
	if s := str(vm.NewArray(IntValue(1), vm.NewString("a").Value(), Null).Value()); s != "1,a," {
		t.Errorf("String([1, 'a', null]) = %q", s)
	}
	if s := str(vm.NewObject().Value()); s != "[object Object]" {
		t.Errorf("String({}) = %q", s)
	}

	num := func(v Value) float64 {
		f, err := vm.ToNumber(v)
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	if num(True) != 1 || num(Null) != 0 || !math.IsNaN(num(Undefined)) || num(vm.NewString(" 8 ").Value()) != 8 {
		t.Error("primitive ToNumber")
	}
	if n := num(vm.NewArray(IntValue(5)).Value()); n != 5 {
		t.Errorf("Number([5]) = %v", n)
	}
}

// valueOf and toString defined in script drive conversions.
func TestToPrimitiveCallsScript(t *testing.T) {
	vm := newTestVM(t)

	valueOf := newAsm("valueOf", 0).int(10).op(OpReturn)
	toString := newAsm("toString", 0).str("str").op(OpReturn).build()
	main := newAsm("main", 0).locals(1)
	main.op(OpNewObject).closure(valueOf.build()).field("valueOf").closure(toString).field("toString").setLocal(0).op(OpPOP)
	// o * 2 + ("" + o); both operators use valueOf
	main.getLocal(0).int(2).op(OpMul)
	main.str("").getLocal(0).op(OpAdd, OpAdd, OpReturn)
	wantString(t, vm, mustRun(t, vm, main), "2010")

	// String keys use the string hint: o[obj] reads o["str"].
	main = newAsm("main", 0).locals(1)
	main.op(OpNewObject).closure(toString).field("toString").setLocal(0).op(OpPOP)
	main.op(OpNewObject).int(1).field("str").getLocal(0).op(OpGetElem, OpReturn)
	wantNumber(t, mustRun(t, vm, main), 1)
}

func TestToPrimitiveFailure(t *testing.T) {
	vm := newTestVM(t)
	// Object.create(null) has neither valueOf nor toString.
	main := newAsm("main", 0).getGlobal("Object").op(OpNull).callMethod("create", 1).int(1).op(OpAdd, OpReturn)
	te := mustThrow(t, vm, main)
	if te.Name != "TypeError" || te.Message != "Cannot convert object to primitive value" {
		t.Errorf("error = %s: %s", te.Name, te.Message)
	}
}

func TestLooseEquals(t *testing.T) {
	vm := newTestVM(t)
	s := vm.OpenScope()
	defer s.Close()
	obj := s.Root(vm.NewObject())
	arr := s.Root(vm.NewArray(IntValue(7)))
	str := func(x string) Value { return vm.NewString(x).Value() }

	tests := []struct {
		a, b Value
		want bool
	}{
		{IntValue(1), str("1"), true},
		{str("1.0"), IntValue(1), true},
		{IntValue(0), str(""), true},
		{True, IntValue(1), true},
		{False, str("0"), true},
		{Null, Undefined, true},
		{Null, False, false},
		{Undefined, IntValue(0), false},
		{obj.Value(), obj.Value(), true},
		{obj.Value(), str("[object Object]"), true},
		{arr.Value(), IntValue(7), true},
		{arr.Value(), str("7"), true},
		{NumberValue(math.NaN()), NumberValue(math.NaN()), false},
	}
	for i, tc := range tests {
		got, err := vm.LooseEquals(tc.a, tc.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("case %d: %s == %s is %v", i, vm.Inspect(tc.a), vm.Inspect(tc.b), got)
		}
	}
}

func TestTypeOf(t *testing.T) {
	vm := newTestVM(t)
	fn := vm.NewNativeFunction("f", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unroot(Undefined), nil
	}).Value()
	for v, want := range map[Value]string{
		Undefined:            "undefined",
		Null:                 "object",
		True:                 "boolean",
		IntValue(3):          "number",
		StringValue(SymName): "string",
		fn:                   "function",
	} {
		if got := vm.Symbols.Resolve(vm.TypeOf(v)); got != want {
			t.Errorf("typeof %s = %q, want %q", vm.Inspect(v), got, want)
		}
	}
}
