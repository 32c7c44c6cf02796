package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ---------------------------------------------------------------------------
// Loading: validation and constant resolution
// ---------------------------------------------------------------------------

// Load validates a program and resolves its constant pools against this VM's
// interner. String constants are pinned. A malformed program is reported as
// an *InternalError listing every problem found.
func (vm *VM) Load(p *Program) (*FunctionProto, error) {
	if vm.closed {
		return nil, ErrVMClosed
	}
	if p == nil || p.Main == nil {
		return nil, internalErrorf("program has no main function")
	}
	var errs *multierror.Error
	fp := vm.loadFunction(p.Main, nil, p.Source, "main", &errs)
	if err := errs.ErrorOrNil(); err != nil {
		return nil, wrapInternal(err, "invalid program")
	}
	vm.log.Debugf("loaded %s: %d bytes of main bytecode", p.Source, len(fp.Code))
	return fp, nil
}

func (vm *VM) loadFunction(pf *ProgramFunction, parent *ProgramFunction, source, path string, errs **multierror.Error) *FunctionProto {
	fail := func(format string, args ...any) {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: "+format, append([]any{path}, args...)...))
	}

	if pf.NumLocals < pf.Arity {
		fail("%d locals cannot hold %d parameters", pf.NumLocals, pf.Arity)
	}
	if pf.Flags&FuncGenerator != 0 && pf.Flags&FuncAsync != 0 {
		fail("async generators are not supported")
	}

	fp := &FunctionProto{
		Name:      pf.Name,
		Arity:     int(pf.Arity),
		NumLocals: int(pf.NumLocals),
		NumCells:  int(pf.NumCells),
		Flags:     pf.Flags,
		Code:      pf.Code,
		Constants: make([]Value, len(pf.Constants)),
		Captures:  pf.Captures,
		Handlers:  pf.Handlers,
		Lines:     pf.Lines,
		Source:    source,
		name:      vm.Symbols.Intern(pf.Name),
	}
	for i, c := range pf.Constants {
		switch c.Kind {
		case ConstNumber:
			fp.Constants[i] = NumberValue(c.Number)
		case ConstString:
			fp.Constants[i] = StringValue(vm.Symbols.Intern(c.String))
		default:
			fail("constant %d has unknown kind %d", i, c.Kind)
			fp.Constants[i] = Undefined
		}
	}

	if parent != nil {
		for i, c := range pf.Captures {
			if c.FromCapture && int(c.Index) >= len(parent.Captures) {
				fail("capture %d refers to missing parent capture %d", i, c.Index)
			}
			if !c.FromCapture && c.Index >= parent.NumCells {
				fail("capture %d refers to missing parent cell %d", i, c.Index)
			}
		}
	} else if len(pf.Captures) > 0 {
		fail("top-level function cannot capture")
	}

	validateCode(pf, fail)

	fp.Functions = make([]*FunctionProto, len(pf.Functions))
	for i, nested := range pf.Functions {
		if nested == nil {
			fail("nested function %d is nil", i)
			continue
		}
		name := nested.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		fp.Functions[i] = vm.loadFunction(nested, pf, source, path+"/"+name, errs)
	}
	return fp
}

// validateCode checks opcodes, operand bounds, jump targets and the handler
// table. Stack balance is the compiler's responsibility; the dispatch loop
// still reports underflow as an internal error.
func validateCode(pf *ProgramFunction, fail func(string, ...any)) {
	code := pf.Code
	starts := make(map[int]bool, len(code)/2)
	var jumps []struct{ at, target int }

	isString := func(idx uint16) bool {
		return int(idx) < len(pf.Constants) && pf.Constants[idx].Kind == ConstString
	}

	r := NewBytecodeReader(code)
	for r.HasMore() {
		pos := r.Position()
		starts[pos] = true
		op := r.ReadOpcode()
		if !op.IsValid() {
			fail("unknown opcode 0x%02X at %04d", byte(op), pos)
			return
		}
		n := op.OperandBytes()
		if r.Remaining() < n {
			fail("truncated %s at %04d", op, pos)
			return
		}
		switch op {
		case OpConst:
			if idx := r.ReadUint16(); int(idx) >= len(pf.Constants) {
				fail("%s at %04d: constant %d out of range", op, pos, idx)
			}
		case OpGetGlobal, OpSetGlobal, OpTypeofGlobal, OpGetProp, OpSetProp, OpDeleteProp,
			OpDefineField, OpDefineGetter, OpDefineSetter:
			if idx := r.ReadUint16(); !isString(idx) {
				fail("%s at %04d: constant %d is not a string", op, pos, idx)
			}
		case OpCallMethod:
			if idx := r.ReadUint16(); !isString(idx) {
				fail("%s at %04d: constant %d is not a string", op, pos, idx)
			}
			r.ReadByte()
		case OpGetLocal, OpSetLocal:
			if idx := r.ReadUint16(); idx >= pf.NumLocals {
				fail("%s at %04d: local %d out of range", op, pos, idx)
			}
		case OpGetCell, OpSetCell, OpMakeCell:
			if idx := r.ReadUint16(); idx >= pf.NumCells {
				fail("%s at %04d: cell %d out of range", op, pos, idx)
			}
		case OpGetCapture, OpSetCapture:
			if idx := r.ReadUint16(); int(idx) >= len(pf.Captures) {
				fail("%s at %04d: capture %d out of range", op, pos, idx)
			}
		case OpClosure:
			if idx := r.ReadUint16(); int(idx) >= len(pf.Functions) {
				fail("%s at %04d: function %d out of range", op, pos, idx)
			}
		case OpYield:
			if pf.Flags&FuncGenerator == 0 {
				fail("YIELD at %04d outside a generator", pos)
			}
		case OpAwait:
			if pf.Flags&FuncAsync == 0 {
				fail("AWAIT at %04d outside an async function", pos)
			}
		default:
			if op.isJump() {
				offset := int(r.ReadInt16())
				jumps = append(jumps, struct{ at, target int }{pos, r.Position() + offset})
			} else {
				r.Skip(n)
			}
		}
	}

	// The end of the code is a valid target: falling off returns undefined.
	starts[len(code)] = true
	for _, j := range jumps {
		if j.target < 0 || j.target > len(code) || !starts[j.target] {
			fail("jump at %04d targets %04d, not an instruction boundary", j.at, j.target)
		}
	}
	for i, h := range pf.Handlers {
		switch {
		case h.Start >= h.End || int(h.End) > len(code):
			fail("handler %d has invalid range [%d, %d)", i, h.Start, h.End)
		case !starts[int(h.Start)] || !starts[int(h.Target)] || int(h.Target) >= len(code):
			fail("handler %d does not start on an instruction boundary", i)
		case h.covers(int(h.Target)):
			fail("handler %d targets its own range", i)
		case int(h.Depth) < int(pf.NumLocals):
			fail("handler %d depth %d is below the %d locals", i, h.Depth, pf.NumLocals)
		}
	}
}
