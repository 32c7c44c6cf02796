package vm

import (
	"math"
)

// Value represents a script value using NaN-boxing.
//
// All values are 64-bit words. Numbers are stored as native IEEE 754 doubles;
// every other variant lives in the quiet-NaN space with a 3-bit tag and a
// 48-bit payload.
//
// Encoding scheme:
//   - Number: native IEEE 754 double (NaN is canonicalized on construction)
//   - Special: quiet NaN + tagSpecial + id (undefined/null/true/false/hole)
//   - String: quiet NaN + tagString + interned Symbol
//   - Object: quiet NaN + tagObject + 16-bit generation + 32-bit arena index
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Sign bit must be clear for a tagged value
	signBit uint64 = 0x8000000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000 // heap object reference
	tagSpecial uint64 = 0x0003000000000000 // undefined, null, booleans, hole
	tagString  uint64 = 0x0004000000000000 // interned string symbol

	boxMask = signBit | nanBits | tagMask

	// canonicalNaN is the only NaN bit pattern a Value ever holds.
	canonicalNaN uint64 = 0x7FF8000000000000
)

// Special value payloads
const (
	specialUndefined uint64 = iota
	specialNull
	specialTrue
	specialFalse
	specialHole
)

// Pre-defined special values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)

	// hole marks a missing element in holey array storage. It never
	// escapes array internals.
	hole Value = Value(nanBits | tagSpecial | specialHole)
)

// ValueType is the variant of a Value.
type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
)

var valueTypeNames = [...]string{
	TypeUndefined: "undefined",
	TypeNull:      "null",
	TypeBoolean:   "boolean",
	TypeNumber:    "number",
	TypeString:    "string",
	TypeObject:    "object",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "invalid"
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) isTagged() bool {
	bits := uint64(v)
	return bits&(signBit|nanBits) == nanBits && bits&tagMask != 0
}

// IsNumber returns true if v holds a number. This includes infinities and NaN.
func (v Value) IsNumber() bool {
	return !v.isTagged()
}

// IsObject returns true if v references a heap object.
func (v Value) IsObject() bool {
	return uint64(v)&boxMask == nanBits|tagObject
}

// IsString returns true if v holds an interned string.
func (v Value) IsString() bool {
	return uint64(v)&boxMask == nanBits|tagString
}

func (v Value) IsUndefined() bool { return v == Undefined }
func (v Value) IsNull() bool      { return v == Null }
func (v Value) IsBool() bool      { return v == True || v == False }

// IsNullish returns true for undefined and null.
func (v Value) IsNullish() bool {
	return v == Undefined || v == Null
}

// Type returns the variant of v.
func (v Value) Type() ValueType {
	switch {
	case v.IsNumber():
		return TypeNumber
	case v.IsString():
		return TypeString
	case v.IsObject():
		return TypeObject
	case v == Undefined:
		return TypeUndefined
	case v == Null:
		return TypeNull
	case v == True || v == False:
		return TypeBoolean
	}
	// The hole marker only appears inside array storage.
	return TypeUndefined
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// NumberValue creates a Value from a float64.
func NumberValue(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// IntValue creates a number Value from an int.
func IntValue(n int) Value {
	return Value(math.Float64bits(float64(n)))
}

// Number returns v as a float64.
// Panics if v is not a number.
func (v Value) Number() float64 {
	if !v.IsNumber() {
		panic("Value.Number: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// asInt returns v as an int if it is an integral number within int32 range.
func (v Value) asInt() (int, bool) {
	if !v.IsNumber() {
		return 0, false
	}
	f := math.Float64frombits(uint64(v))
	i := int32(f)
	if float64(i) != f || (f == 0 && math.Signbit(f)) {
		return 0, false
	}
	return int(i), true
}

// ---------------------------------------------------------------------------
// Booleans
// ---------------------------------------------------------------------------

// BoolValue creates a Value from a bool.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// StringValue creates a string Value from an interned symbol.
func StringValue(s Symbol) Value {
	return Value(nanBits | tagString | uint64(s))
}

// Symbol returns the interned symbol of a string value.
// Panics if v is not a string.
func (v Value) Symbol() Symbol {
	if !v.IsString() {
		panic("Value.Symbol: not a string")
	}
	return Symbol(uint64(v) & payloadMask)
}

// ---------------------------------------------------------------------------
// Object references
// ---------------------------------------------------------------------------

func objectValue(index uint32, gen uint16) Value {
	return Value(nanBits | tagObject | uint64(gen)<<32 | uint64(index))
}

func (v Value) objectIndex() uint32 {
	return uint32(uint64(v) & 0xFFFFFFFF)
}

func (v Value) objectGen() uint16 {
	return uint16((uint64(v) & payloadMask) >> 32)
}

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// IsTruthy reports whether v converts to true.
func (v Value) IsTruthy() bool {
	switch {
	case v.IsNumber():
		f := math.Float64frombits(uint64(v))
		return f != 0 && f == f
	case v.IsString():
		return v.Symbol() != SymEmpty
	case v.IsObject():
		return true
	}
	return v == True
}
