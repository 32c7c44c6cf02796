package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Operands follow the
// opcode byte in little-endian order.
type Opcode byte

// Stack Operations
const (
	OpNOP  Opcode = 0x00 // no operation
	OpPOP  Opcode = 0x01 // discard top of stack
	OpDUP  Opcode = 0x02 // duplicate top of stack
	OpDUP2 Opcode = 0x03 // duplicate the top two values
	OpSWAP Opcode = 0x04 // swap the top two values
)

// Push Constants
const (
	OpUndefined Opcode = 0x10 // push undefined
	OpNull      Opcode = 0x11 // push null
	OpTrue      Opcode = 0x12 // push true
	OpFalse     Opcode = 0x13 // push false
	OpInt8      Opcode = 0x14 // push 8-bit signed integer
	OpInt32     Opcode = 0x15 // push 32-bit signed integer
	OpNumber    Opcode = 0x16 // push inline float64 (8 bytes)
	OpConst     Opcode = 0x17 // push constant (16-bit index)
	OpThis      Opcode = 0x18 // push this
)

// Variable Operations
const (
	OpGetLocal     Opcode = 0x20 // push local (16-bit index)
	OpSetLocal     Opcode = 0x21 // store top into local, keep it (16-bit index)
	OpGetCell      Opcode = 0x22 // push frame cell (16-bit index)
	OpSetCell      Opcode = 0x23 // store top into frame cell, keep it (16-bit index)
	OpMakeCell     Opcode = 0x24 // replace frame cell with a fresh copy (16-bit index)
	OpGetCapture   Opcode = 0x25 // push captured cell (16-bit index)
	OpSetCapture   Opcode = 0x26 // store top into captured cell, keep it (16-bit index)
	OpGetGlobal    Opcode = 0x27 // push global (16-bit constant name)
	OpSetGlobal    Opcode = 0x28 // store top into global, keep it (16-bit constant name)
	OpTypeofGlobal Opcode = 0x29 // typeof global without ReferenceError (16-bit constant name)
)

// Property Operations
const (
	OpGetProp      Opcode = 0x30 // obj -> obj[k] (16-bit constant key)
	OpSetProp      Opcode = 0x31 // obj v -> v (16-bit constant key)
	OpGetElem      Opcode = 0x32 // obj key -> obj[key]
	OpSetElem      Opcode = 0x33 // obj key v -> v
	OpDeleteProp   Opcode = 0x34 // obj -> bool (16-bit constant key)
	OpDeleteElem   Opcode = 0x35 // obj key -> bool
	OpDefineField  Opcode = 0x36 // obj v -> obj (16-bit constant key)
	OpDefineGetter Opcode = 0x37 // obj fn -> obj (16-bit constant key)
	OpDefineSetter Opcode = 0x38 // obj fn -> obj (16-bit constant key)
	OpIn           Opcode = 0x39 // key obj -> bool
	OpInstanceOf   Opcode = 0x3A // v ctor -> bool
	OpTypeof       Opcode = 0x3B // v -> string
)

// Object Creation
const (
	OpNewObject Opcode = 0x40 // push {}
	OpNewArray  Opcode = 0x41 // pop N elements, push array (16-bit count)
	OpClosure   Opcode = 0x42 // push closure of nested function (16-bit index)
)

// Arithmetic and Logic
const (
	OpAdd    Opcode = 0x50
	OpSub    Opcode = 0x51
	OpMul    Opcode = 0x52
	OpDiv    Opcode = 0x53
	OpMod    Opcode = 0x54
	OpExp    Opcode = 0x55
	OpNeg    Opcode = 0x56
	OpPlus   Opcode = 0x57 // unary +
	OpInc    Opcode = 0x58
	OpDec    Opcode = 0x59
	OpBitAnd Opcode = 0x5A
	OpBitOr  Opcode = 0x5B
	OpBitXor Opcode = 0x5C
	OpBitNot Opcode = 0x5D
	OpShl    Opcode = 0x5E
	OpShr    Opcode = 0x5F
	OpUShr   Opcode = 0x60
	OpNot    Opcode = 0x61
)

// Comparison
const (
	OpLT       Opcode = 0x68
	OpLE       Opcode = 0x69
	OpGT       Opcode = 0x6A
	OpGE       Opcode = 0x6B
	OpEq       Opcode = 0x6C // loose equality
	OpNe       Opcode = 0x6D
	OpStrictEq Opcode = 0x6E
	OpStrictNe Opcode = 0x6F
)

// Control Flow
const (
	OpJump          Opcode = 0x70 // unconditional jump (16-bit offset)
	OpJumpIfTrue    Opcode = 0x71 // pop, jump if truthy (16-bit offset)
	OpJumpIfFalse   Opcode = 0x72 // pop, jump if falsy (16-bit offset)
	OpJumpIfNullish Opcode = 0x73 // pop, jump if undefined or null (16-bit offset)
	OpJumpFinally   Opcode = 0x74 // jump leaving try blocks, running finally handlers (16-bit offset)
)

// Calls and Returns
const (
	OpCall            Opcode = 0x80 // callee this args... -> result (8-bit argc)
	OpCallMethod      Opcode = 0x81 // obj args... -> result (16-bit constant key, 8-bit argc)
	OpNew             Opcode = 0x82 // ctor placeholder args... -> object (8-bit argc)
	OpReturn          Opcode = 0x83 // return top of stack
	OpReturnUndefined Opcode = 0x84 // return undefined
)

// Exceptions
const (
	OpThrow      Opcode = 0x90 // throw top of stack
	OpEndFinally Opcode = 0x91 // value kind -> resume the recorded completion
)

// Iteration
const (
	OpForInStart Opcode = 0xA0 // obj -> iterator
	OpForInNext  Opcode = 0xA1 // iter -> iter key, or pop and jump when done (16-bit offset)
)

// Suspension
const (
	OpYield Opcode = 0xB0 // v -> sent value (generators)
	OpAwait Opcode = 0xB1 // v -> settled value (async functions)
)

// Completion kinds pushed with the completion value on entry to a finally
// handler and consumed by END_FINALLY.
const (
	CompletionNormal = 0
	CompletionThrow  = 1
	CompletionReturn = 2
	CompletionJump   = 3
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-99 = variable)
}

const variableEffect = -99

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:  {"NOP", 0, 0},
	OpPOP:  {"POP", 0, -1},
	OpDUP:  {"DUP", 0, 1},
	OpDUP2: {"DUP2", 0, 2},
	OpSWAP: {"SWAP", 0, 0},

	OpUndefined: {"UNDEFINED", 0, 1},
	OpNull:      {"NULL", 0, 1},
	OpTrue:      {"TRUE", 0, 1},
	OpFalse:     {"FALSE", 0, 1},
	OpInt8:      {"INT8", 1, 1},
	OpInt32:     {"INT32", 4, 1},
	OpNumber:    {"NUMBER", 8, 1},
	OpConst:     {"CONST", 2, 1},
	OpThis:      {"THIS", 0, 1},

	OpGetLocal:     {"GET_LOCAL", 2, 1},
	OpSetLocal:     {"SET_LOCAL", 2, 0},
	OpGetCell:      {"GET_CELL", 2, 1},
	OpSetCell:      {"SET_CELL", 2, 0},
	OpMakeCell:     {"MAKE_CELL", 2, 0},
	OpGetCapture:   {"GET_CAPTURE", 2, 1},
	OpSetCapture:   {"SET_CAPTURE", 2, 0},
	OpGetGlobal:    {"GET_GLOBAL", 2, 1},
	OpSetGlobal:    {"SET_GLOBAL", 2, 0},
	OpTypeofGlobal: {"TYPEOF_GLOBAL", 2, 1},

	OpGetProp:      {"GET_PROP", 2, 0},
	OpSetProp:      {"SET_PROP", 2, -1},
	OpGetElem:      {"GET_ELEM", 0, -1},
	OpSetElem:      {"SET_ELEM", 0, -2},
	OpDeleteProp:   {"DELETE_PROP", 2, 0},
	OpDeleteElem:   {"DELETE_ELEM", 0, -1},
	OpDefineField:  {"DEFINE_FIELD", 2, -1},
	OpDefineGetter: {"DEFINE_GETTER", 2, -1},
	OpDefineSetter: {"DEFINE_SETTER", 2, -1},
	OpIn:           {"IN", 0, -1},
	OpInstanceOf:   {"INSTANCEOF", 0, -1},
	OpTypeof:       {"TYPEOF", 0, 0},

	OpNewObject: {"NEW_OBJECT", 0, 1},
	OpNewArray:  {"NEW_ARRAY", 2, variableEffect},
	OpClosure:   {"CLOSURE", 2, 1},

	OpAdd:    {"ADD", 0, -1},
	OpSub:    {"SUB", 0, -1},
	OpMul:    {"MUL", 0, -1},
	OpDiv:    {"DIV", 0, -1},
	OpMod:    {"MOD", 0, -1},
	OpExp:    {"EXP", 0, -1},
	OpNeg:    {"NEG", 0, 0},
	OpPlus:   {"PLUS", 0, 0},
	OpInc:    {"INC", 0, 0},
	OpDec:    {"DEC", 0, 0},
	OpBitAnd: {"BIT_AND", 0, -1},
	OpBitOr:  {"BIT_OR", 0, -1},
	OpBitXor: {"BIT_XOR", 0, -1},
	OpBitNot: {"BIT_NOT", 0, 0},
	OpShl:    {"SHL", 0, -1},
	OpShr:    {"SHR", 0, -1},
	OpUShr:   {"USHR", 0, -1},
	OpNot:    {"NOT", 0, 0},

	OpLT:       {"LT", 0, -1},
	OpLE:       {"LE", 0, -1},
	OpGT:       {"GT", 0, -1},
	OpGE:       {"GE", 0, -1},
	OpEq:       {"EQ", 0, -1},
	OpNe:       {"NE", 0, -1},
	OpStrictEq: {"STRICT_EQ", 0, -1},
	OpStrictNe: {"STRICT_NE", 0, -1},

	OpJump:          {"JUMP", 2, 0},
	OpJumpIfTrue:    {"JUMP_IF_TRUE", 2, -1},
	OpJumpIfFalse:   {"JUMP_IF_FALSE", 2, -1},
	OpJumpIfNullish: {"JUMP_IF_NULLISH", 2, -1},
	OpJumpFinally:   {"JUMP_FINALLY", 2, 0},

	OpCall:            {"CALL", 1, variableEffect},
	OpCallMethod:      {"CALL_METHOD", 3, variableEffect},
	OpNew:             {"NEW", 1, variableEffect},
	OpReturn:          {"RETURN", 0, -1},
	OpReturnUndefined: {"RETURN_UNDEFINED", 0, 0},

	OpThrow:      {"THROW", 0, -1},
	OpEndFinally: {"END_FINALLY", 0, -2},

	OpForInStart: {"FOR_IN_START", 0, 0},
	OpForInNext:  {"FOR_IN_NEXT", 2, variableEffect},

	OpYield: {"YIELD", 0, 0},
	OpAwait: {"AWAIT", 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// IsValid reports whether op is a known opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// isJump reports whether op carries a 16-bit relative jump offset.
func (op Opcode) isJump() bool {
	switch op {
	case OpJump, OpJumpIfTrue, OpJumpIfFalse, OpJumpIfNullish, OpJumpFinally, OpForInNext:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is the offset of the next
// instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends a raw byte to the bytecode.
func (b *BytecodeBuilder) EmitRaw(data byte) {
	b.bytes = append(b.bytes, data)
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitFloat64 appends an opcode with a 64-bit float operand.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, operand float64) {
	b.bytes = append(b.bytes, byte(op))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitCallMethod appends a CALL_METHOD instruction.
func (b *BytecodeBuilder) EmitCallMethod(key uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(OpCallMethod), byte(key), byte(key>>8), argc)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // position to patch (if unresolved) or target (if resolved)
	refs     []int // positions that reference this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{resolved: false, refs: make([]int, 0, 2)}
}

// Position returns the resolved offset of the label.
func (l *Label) Position() int {
	if !l.resolved {
		panic("label not resolved")
	}
	return l.position
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		offset := label.position - (ref + 2) // offset from after the operand
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitJump emits a jump instruction with a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		// Backward jump: calculate offset
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
	} else {
		// Forward jump: record position for later patching
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0) // placeholder
	}
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for validation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Remaining returns the number of unread bytes.
func (r *BytecodeReader) Remaining() int {
	return len(r.bytes) - r.pos
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadInt32 reads a 32-bit operand (little-endian).
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// ReadFloat64 reads a 64-bit float operand.
func (r *BytecodeReader) ReadFloat64() float64 {
	if r.pos+8 > len(r.bytes) {
		panic("bytecode underflow")
	}
	bits := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits)
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's position.
// Returns the string representation and advances the reader.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	if !op.IsValid() {
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
	if r.Remaining() < info.OperandBytes {
		r.Skip(r.Remaining())
		return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
	}

	switch {
	case op.isJump():
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)
	case op == OpInt8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt8())
	case op == OpCall || op == OpNew:
		return fmt.Sprintf("%04d  %s argc=%d", pos, info.Name, r.ReadByte())
	case op == OpInt32:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt32())
	case op == OpNumber:
		return fmt.Sprintf("%04d  %s %g", pos, info.Name, r.ReadFloat64())
	case op == OpCallMethod:
		key := r.ReadUint16()
		argc := r.ReadByte()
		return fmt.Sprintf("%04d  %s key=%d argc=%d", pos, info.Name, key, argc)
	case info.OperandBytes == 2:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadUint16())
	}
	r.Skip(info.OperandBytes)
	return fmt.Sprintf("%04d  %s", pos, info.Name)
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
