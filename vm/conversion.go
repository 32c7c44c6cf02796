package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Type conversions
// ---------------------------------------------------------------------------

// primitiveHint selects the method order of toPrimitive.
type primitiveHint uint8

const (
	hintDefault primitiveHint = iota
	hintNumber
	hintString
)

// newString interns s as a collectable runtime string. The result must be
// stored somewhere traced before the next allocation.
func (vm *VM) newString(s string) Value {
	return StringValue(vm.Symbols.internTransient(s))
}

// NewString returns a string value for s.
func (vm *VM) NewString(s string) Unrooted {
	return Unrooted{v: vm.newString(s)}
}

// StringOf returns the Go string of a string value, or "" for other values.
func (vm *VM) StringOf(v Value) string {
	if !v.IsString() {
		return ""
	}
	return vm.Symbols.Resolve(v.Symbol())
}

// toPrimitive converts objects to primitives by calling valueOf and
// toString. Other values are returned unchanged.
func (vm *VM) toPrimitive(v Value, hint primitiveHint) (Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	order := [2]Symbol{SymValueOf, SymToString}
	if hint == hintString {
		order = [2]Symbol{SymToString, SymValueOf}
	}
	for _, key := range order {
		method, err := vm.get(v, key, v)
		if err != nil {
			return Undefined, err
		}
		if !vm.isCallable(method) {
			continue
		}
		r, err := vm.Call(method, v)
		if err != nil {
			return Undefined, err
		}
		if !r.v.IsObject() {
			return r.v, nil
		}
	}
	return Undefined, vm.typeError("Cannot convert object to primitive value")
}

// ToNumber converts v to a number.
func (vm *VM) ToNumber(v Value) (float64, error) {
	if v.IsNumber() {
		return v.Number(), nil
	}
	if v.IsObject() {
		p, err := vm.toPrimitive(v, hintNumber)
		if err != nil {
			return math.NaN(), err
		}
		v = p
	}
	return vm.primitiveToNumber(v), nil
}

func (vm *VM) primitiveToNumber(v Value) float64 {
	switch {
	case v.IsNumber():
		return v.Number()
	case v.IsString():
		return ParseNumber(vm.Symbols.Resolve(v.Symbol()))
	case v == True:
		return 1
	case v == False, v == Null:
		return 0
	}
	return math.NaN()
}

// ToString converts v to an interned string.
func (vm *VM) ToString(v Value) (Symbol, error) {
	if v.IsObject() {
		p, err := vm.toPrimitive(v, hintString)
		if err != nil {
			return SymEmpty, err
		}
		v = p
	}
	return vm.primitiveToString(v), nil
}

func (vm *VM) primitiveToString(v Value) Symbol {
	switch {
	case v.IsString():
		return v.Symbol()
	case v.IsNumber():
		return vm.numberToSymbol(v.Number())
	case v == True:
		return SymTrue
	case v == False:
		return SymFalse
	case v == Null:
		return SymNull
	}
	return SymUndefined
}

func (vm *VM) numberToSymbol(f float64) Symbol {
	if n := int(f); float64(n) == f && n >= 0 && n < smallIntCount && !math.Signbit(f) {
		return vm.Symbols.InternInt(n)
	}
	switch {
	case f != f:
		return SymNaN
	case math.IsInf(f, 1):
		return SymInfinity
	case math.IsInf(f, -1):
		return SymNegInfinity
	case f == 0:
		return asciiBase + '0'
	}
	return vm.Symbols.internTransient(vm.numbers.format(f))
}

// ToPropertyKey converts v to a property key.
func (vm *VM) ToPropertyKey(v Value) (Symbol, error) {
	if v.IsString() {
		return v.Symbol(), nil
	}
	if n, ok := v.asInt(); ok && n >= 0 {
		return vm.Symbols.InternInt(n), nil
	}
	return vm.ToString(v)
}

// ToObject boxes primitives. Undefined and null raise a TypeError.
func (vm *VM) ToObject(v Value) (Value, error) {
	if v.IsObject() {
		return v, nil
	}
	if v.IsNullish() {
		return Undefined, vm.typeError("Cannot convert undefined or null to object")
	}
	o := newObject(KindBoxed, vm.protoOfPrimitive(v))
	o.prim = v
	return vm.heap.allocate(o), nil
}

// ToInt32 converts v with the modular integer conversion.
func (vm *VM) ToInt32(v Value) (int32, error) {
	f, err := vm.ToNumber(v)
	return toInt32(f), err
}

// ToUint32 converts v with the modular unsigned integer conversion.
func (vm *VM) ToUint32(v Value) (uint32, error) {
	f, err := vm.ToNumber(v)
	return toUint32(f), err
}

// TypeOf returns the typeof string of v.
func (vm *VM) TypeOf(v Value) Symbol {
	switch {
	case v.IsNumber():
		return SymNumber
	case v.IsString():
		return SymString
	case v.IsBool():
		return SymBoolean
	case v == Null:
		return SymObject
	case v.IsObject():
		if vm.isCallable(v) {
			return SymFunction
		}
		return SymObject
	}
	return SymUndefined
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals implements ===. Strings compare by symbol since equal strings
// share one symbol within a VM.
func StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Number() == b.Number()
	}
	return a == b
}

// SameValue is like StrictEquals except that NaN equals NaN and +0 differs
// from -0. With canonical NaN that is plain bit equality.
func SameValue(a, b Value) bool {
	return a == b
}

// LooseEquals implements ==.
func (vm *VM) LooseEquals(a, b Value) (bool, error) {
	for {
		ta, tb := a.Type(), b.Type()
		switch {
		case ta == tb:
			return StrictEquals(a, b), nil
		case a.IsNullish() && b.IsNullish():
			return true, nil
		case a.IsNullish() || b.IsNullish():
			return false, nil
		case ta == TypeNumber && tb == TypeString:
			return a.Number() == vm.primitiveToNumber(b), nil
		case ta == TypeString && tb == TypeNumber:
			return vm.primitiveToNumber(a) == b.Number(), nil
		case ta == TypeBoolean:
			a = NumberValue(vm.primitiveToNumber(a))
		case tb == TypeBoolean:
			b = NumberValue(vm.primitiveToNumber(b))
		case ta == TypeObject:
			p, err := vm.toPrimitive(a, hintDefault)
			if err != nil {
				return false, err
			}
			a = p
		case tb == TypeObject:
			p, err := vm.toPrimitive(b, hintDefault)
			if err != nil {
				return false, err
			}
			b = p
		default:
			return false, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Operators with conversions
// ---------------------------------------------------------------------------

// add implements the + operator. a and b must be rooted by the caller.
func (vm *VM) add(a, b Value) (Value, error) {
	if a.IsNumber() && b.IsNumber() {
		return NumberValue(a.Number() + b.Number()), nil
	}
	mark := len(vm.temps)
	defer vm.dropTemps(mark)

	pa, err := vm.toPrimitive(a, hintDefault)
	if err != nil {
		return Undefined, err
	}
	vm.temps = append(vm.temps, pa)
	pb, err := vm.toPrimitive(b, hintDefault)
	if err != nil {
		return Undefined, err
	}
	if pa.IsString() || pb.IsString() {
		sa := vm.primitiveToString(pa)
		sb := vm.primitiveToString(pb)
		switch {
		case sa == SymEmpty:
			return StringValue(sb), nil
		case sb == SymEmpty:
			return StringValue(sa), nil
		}
		return vm.newString(vm.Symbols.Resolve(sa) + vm.Symbols.Resolve(sb)), nil
	}
	return NumberValue(vm.primitiveToNumber(pa) + vm.primitiveToNumber(pb)), nil
}

func (vm *VM) dropTemps(mark int) {
	for i := mark; i < len(vm.temps); i++ {
		vm.temps[i] = Undefined
	}
	vm.temps = vm.temps[:mark]
}

// numericPair converts both operands of a binary arithmetic operator.
func (vm *VM) numericPair(a, b Value) (float64, float64, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.Number(), b.Number(), nil
	}
	x, err := vm.ToNumber(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := vm.ToNumber(b)
	return x, y, err
}

// arith applies a numeric binary operator.
func (vm *VM) arith(op Opcode, a, b Value) (Value, error) {
	x, y, err := vm.numericPair(a, b)
	if err != nil {
		return Undefined, err
	}
	var r float64
	switch op {
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	case OpMod:
		r = math.Mod(x, y)
	case OpExp:
		r = power(x, y)
	case OpBitAnd:
		r = float64(toInt32(x) & toInt32(y))
	case OpBitOr:
		r = float64(toInt32(x) | toInt32(y))
	case OpBitXor:
		r = float64(toInt32(x) ^ toInt32(y))
	case OpShl:
		r = float64(toInt32(x) << (toUint32(y) & 31))
	case OpShr:
		r = float64(toInt32(x) >> (toUint32(y) & 31))
	case OpUShr:
		r = float64(toUint32(x) >> (toUint32(y) & 31))
	default:
		panic(internalErrorf("arith: unexpected opcode %s", op))
	}
	return NumberValue(r), nil
}

// power differs from math.Pow only where a base of magnitude one meets a
// non-finite exponent.
func power(x, y float64) float64 {
	if y != y || (math.IsInf(y, 0) && math.Abs(x) == 1) {
		return math.NaN()
	}
	return math.Pow(x, y)
}

// lessThan compares a < b. undefined reports that a NaN made the comparison
// unordered. leftFirst controls the order of object conversions.
func (vm *VM) lessThan(a, b Value, leftFirst bool) (result, undefined bool, err error) {
	mark := len(vm.temps)
	defer vm.dropTemps(mark)

	var pa, pb Value
	if leftFirst {
		if pa, err = vm.toPrimitive(a, hintNumber); err != nil {
			return
		}
		vm.temps = append(vm.temps, pa)
		if pb, err = vm.toPrimitive(b, hintNumber); err != nil {
			return
		}
	} else {
		if pb, err = vm.toPrimitive(b, hintNumber); err != nil {
			return
		}
		vm.temps = append(vm.temps, pb)
		if pa, err = vm.toPrimitive(a, hintNumber); err != nil {
			return
		}
	}
	if pa.IsString() && pb.IsString() {
		return compareStrings(vm.Symbols.Resolve(pa.Symbol()), vm.Symbols.Resolve(pb.Symbol())) < 0, false, nil
	}
	x, y := vm.primitiveToNumber(pa), vm.primitiveToNumber(pb)
	if x != x || y != y {
		return false, true, nil
	}
	return x < y, false, nil
}

// compare implements the relational operators.
func (vm *VM) compare(op Opcode, a, b Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.Number(), b.Number()
		switch op {
		case OpLT:
			return x < y, nil
		case OpLE:
			return x <= y, nil
		case OpGT:
			return x > y, nil
		default:
			return x >= y, nil
		}
	}
	switch op {
	case OpLT:
		r, undef, err := vm.lessThan(a, b, true)
		return r && !undef, err
	case OpGT:
		r, undef, err := vm.lessThan(b, a, false)
		return r && !undef, err
	case OpLE:
		r, undef, err := vm.lessThan(b, a, false)
		return !r && !undef, err
	default:
		r, undef, err := vm.lessThan(a, b, true)
		return !r && !undef, err
	}
}

// compareStrings orders strings by UTF-16 code units.
func compareStrings(a, b string) int {
	if isASCII(a) && isASCII(b) {
		return strings.Compare(a, b)
	}
	ua, ub := utf16Units(a), utf16Units(b)
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}
