package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Serializable program form
// ---------------------------------------------------------------------------

// FuncFlags describe how a function is invoked.
type FuncFlags uint8

const (
	FuncGenerator FuncFlags = 1 << iota
	FuncAsync
	FuncArrow
	FuncStrict
)

// HandlerKind distinguishes catch from finally handlers.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
)

func (k HandlerKind) String() string {
	if k == HandlerFinally {
		return "finally"
	}
	return "catch"
}

// Handler is one entry of a function's exception table. It covers the
// instructions in [Start, End). On entry the operand stack is cut back to
// Depth slots above the frame base (locals included) and the thrown value is
// pushed; finally handlers also receive a completion kind on top.
//
// Handlers are searched in table order, so inner handlers come first.
type Handler struct {
	Start  uint32      `cbor:"1,keyasint"`
	End    uint32      `cbor:"2,keyasint"`
	Target uint32      `cbor:"3,keyasint"`
	Depth  uint16      `cbor:"4,keyasint"`
	Kind   HandlerKind `cbor:"5,keyasint,omitempty"`
}

func (h Handler) covers(pc int) bool {
	return uint32(pc) >= h.Start && uint32(pc) < h.End
}

// Capture describes where a closure takes one captured cell from: a cell of
// the creating frame or one of the creating closure's own captures.
type Capture struct {
	FromCapture bool   `cbor:"1,keyasint,omitempty"`
	Index       uint16 `cbor:"2,keyasint"`
}

// LineEntry maps the instruction at PC and those after it to a source line.
type LineEntry struct {
	PC   uint32 `cbor:"1,keyasint"`
	Line uint32 `cbor:"2,keyasint"`
}

// ConstKind is the type of a constant pool entry.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString
)

// Constant is an unresolved constant pool entry.
type Constant struct {
	Kind   ConstKind `cbor:"1,keyasint"`
	Number float64   `cbor:"2,keyasint,omitempty"`
	String string    `cbor:"3,keyasint,omitempty"`
}

// NumberConst returns a number constant.
func NumberConst(f float64) Constant {
	return Constant{Kind: ConstNumber, Number: f}
}

// StringConst returns a string constant.
func StringConst(s string) Constant {
	return Constant{Kind: ConstString, String: s}
}

// ProgramFunction is the compiler's output for one function, before load.
type ProgramFunction struct {
	Name      string             `cbor:"1,keyasint,omitempty"`
	Arity     uint16             `cbor:"2,keyasint"`
	NumLocals uint16             `cbor:"3,keyasint"`
	NumCells  uint16             `cbor:"4,keyasint,omitempty"`
	Flags     FuncFlags          `cbor:"5,keyasint,omitempty"`
	Code      []byte             `cbor:"6,keyasint"`
	Constants []Constant         `cbor:"7,keyasint,omitempty"`
	Functions []*ProgramFunction `cbor:"8,keyasint,omitempty"`
	Captures  []Capture          `cbor:"9,keyasint,omitempty"`
	Handlers  []Handler          `cbor:"10,keyasint,omitempty"`
	Lines     []LineEntry        `cbor:"11,keyasint,omitempty"`
}

// Program is a compiled script: a top-level function and its source name.
type Program struct {
	Source string           `cbor:"1,keyasint,omitempty"`
	Main   *ProgramFunction `cbor:"2,keyasint"`
}

// ---------------------------------------------------------------------------
// FunctionProto: loaded function template
// ---------------------------------------------------------------------------

// FunctionProto is a loaded function: validated bytecode with its constant
// pool resolved to Values. Closures share their FunctionProto.
type FunctionProto struct {
	Name      string
	Arity     int
	NumLocals int
	NumCells  int
	Flags     FuncFlags
	Code      []byte
	Constants []Value
	Functions []*FunctionProto
	Captures  []Capture
	Handlers  []Handler
	Lines     []LineEntry
	Source    string

	name Symbol
}

func (fp *FunctionProto) IsGenerator() bool { return fp.Flags&FuncGenerator != 0 }
func (fp *FunctionProto) IsAsync() bool     { return fp.Flags&FuncAsync != 0 }
func (fp *FunctionProto) IsArrow() bool     { return fp.Flags&FuncArrow != 0 }
func (fp *FunctionProto) IsStrict() bool    { return fp.Flags&FuncStrict != 0 }

// LineFor returns the source line of the instruction at pc, or 0.
func (fp *FunctionProto) LineFor(pc int) int {
	line := 0
	for _, e := range fp.Lines {
		if int(e.PC) > pc {
			break
		}
		line = int(e.Line)
	}
	return line
}

// Disassemble returns a listing of the function and its nested functions.
func (fp *FunctionProto) Disassemble(symbols *Interner) string {
	var sb strings.Builder
	fp.disassemble(&sb, symbols, "")
	return sb.String()
}

func (fp *FunctionProto) disassemble(sb *strings.Builder, symbols *Interner, indent string) {
	name := fp.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(sb, "%sfunction %s (arity=%d locals=%d cells=%d flags=%#x)\n",
		indent, name, fp.Arity, fp.NumLocals, fp.NumCells, fp.Flags)
	for i, c := range fp.Constants {
		if c.IsString() {
			fmt.Fprintf(sb, "%s  const %d: %q\n", indent, i, symbols.Resolve(c.Symbol()))
		} else {
			fmt.Fprintf(sb, "%s  const %d: %g\n", indent, i, c.Number())
		}
	}
	for _, h := range fp.Handlers {
		fmt.Fprintf(sb, "%s  %s [%04d, %04d) -> %04d depth=%d\n",
			indent, h.Kind, h.Start, h.End, h.Target, h.Depth)
	}
	for _, line := range strings.Split(Disassemble(fp.Code), "\n") {
		if line != "" {
			sb.WriteString(indent + "  " + line + "\n")
		}
	}
	for _, nested := range fp.Functions {
		nested.disassemble(sb, symbols, indent+"  ")
	}
}

// ---------------------------------------------------------------------------
// FunctionBuilder: assembling functions by hand
// ---------------------------------------------------------------------------

type pendingHandler struct {
	kind               HandlerKind
	start, end, target *Label
	depth              int
}

// FunctionBuilder assembles a ProgramFunction, resolving handler labels on
// Build.
type FunctionBuilder struct {
	fn       *ProgramFunction
	code     *BytecodeBuilder
	strings  map[string]uint16
	handlers []pendingHandler
}

// NewFunctionBuilder creates a builder for a function with the given arity.
// Parameters occupy the first locals.
func NewFunctionBuilder(name string, arity int) *FunctionBuilder {
	return &FunctionBuilder{
		fn: &ProgramFunction{
			Name:      name,
			Arity:     uint16(arity),
			NumLocals: uint16(arity),
		},
		code:    NewBytecodeBuilder(),
		strings: make(map[string]uint16),
	}
}

// Code returns the bytecode builder.
func (b *FunctionBuilder) Code() *BytecodeBuilder {
	return b.code
}

// SetLocals sets the number of local slots, parameters included.
func (b *FunctionBuilder) SetLocals(n int) *FunctionBuilder {
	b.fn.NumLocals = uint16(n)
	return b
}

// SetCells sets the number of cells each activation allocates.
func (b *FunctionBuilder) SetCells(n int) *FunctionBuilder {
	b.fn.NumCells = uint16(n)
	return b
}

// SetFlags sets the function flags.
func (b *FunctionBuilder) SetFlags(f FuncFlags) *FunctionBuilder {
	b.fn.Flags = f
	return b
}

// String returns the constant index of s, adding it once.
func (b *FunctionBuilder) String(s string) uint16 {
	if idx, ok := b.strings[s]; ok {
		return idx
	}
	idx := uint16(len(b.fn.Constants))
	b.fn.Constants = append(b.fn.Constants, StringConst(s))
	b.strings[s] = idx
	return idx
}

// Number adds a number constant and returns its index.
func (b *FunctionBuilder) Number(f float64) uint16 {
	idx := uint16(len(b.fn.Constants))
	b.fn.Constants = append(b.fn.Constants, NumberConst(f))
	return idx
}

// AddFunction adds a nested function and returns its index for CLOSURE.
func (b *FunctionBuilder) AddFunction(f *ProgramFunction) uint16 {
	b.fn.Functions = append(b.fn.Functions, f)
	return uint16(len(b.fn.Functions) - 1)
}

// Capture appends a capture descriptor.
func (b *FunctionBuilder) Capture(fromCapture bool, index int) *FunctionBuilder {
	b.fn.Captures = append(b.fn.Captures, Capture{FromCapture: fromCapture, Index: uint16(index)})
	return b
}

// Handler records an exception table entry covering [start, end).
func (b *FunctionBuilder) Handler(kind HandlerKind, start, end, target *Label, depth int) {
	b.handlers = append(b.handlers, pendingHandler{kind: kind, start: start, end: end, target: target, depth: depth})
}

// Line maps the next instruction to a source line.
func (b *FunctionBuilder) Line(line int) {
	b.fn.Lines = append(b.fn.Lines, LineEntry{PC: uint32(b.code.Len()), Line: uint32(line)})
}

// Build returns the assembled function.
func (b *FunctionBuilder) Build() *ProgramFunction {
	b.fn.Code = b.code.Bytes()
	b.fn.Handlers = b.fn.Handlers[:0]
	for _, h := range b.handlers {
		b.fn.Handlers = append(b.fn.Handlers, Handler{
			Start:  uint32(h.start.Position()),
			End:    uint32(h.end.Position()),
			Target: uint32(h.target.Position()),
			Depth:  uint16(h.depth),
			Kind:   h.kind,
		})
	}
	return b.fn
}
