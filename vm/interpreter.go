package vm

import (
	"math"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Interpreter: the flat dispatch loop
// ---------------------------------------------------------------------------

// interpreter executes bytecode. Script calls push a frame and continue in
// the same loop, so the Go stack does not grow with script call depth. All
// frames share one operand stack.
type interpreter struct {
	vm *VM

	stack []Value
	sp    int

	frames    []*frame
	fp        int
	maxFrames int
}

func newInterpreter(vm *VM, maxFrames int) *interpreter {
	return &interpreter{
		vm:        vm,
		stack:     make([]Value, 1024),
		frames:    make([]*frame, 64),
		fp:        -1,
		maxFrames: maxFrames,
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *interpreter) push(v Value) {
	if in.sp >= len(in.stack) {
		in.ensure(1)
	}
	in.stack[in.sp] = v
	in.sp++
}

func (in *interpreter) pop() Value {
	in.sp--
	return in.stack[in.sp]
}

func (in *interpreter) top() Value {
	return in.stack[in.sp-1]
}

// ensure makes room for n more values above sp.
func (in *interpreter) ensure(n int) {
	need := in.sp + n
	if need <= len(in.stack) {
		return
	}
	size := len(in.stack) * 2
	for size < need {
		size *= 2
	}
	grown := make([]Value, size)
	copy(grown, in.stack[:in.sp])
	in.stack = grown
}

// reset drops every frame after an unrecoverable failure.
func (in *interpreter) reset() {
	in.abort(0)
	in.sp = 0
}

func (in *interpreter) markRoots(m *marker) {
	for _, v := range in.stack[:in.sp] {
		m.markValue(v)
	}
	for i := 0; i <= in.fp; i++ {
		f := in.frames[i]
		m.markValue(f.callee)
		m.markValue(f.this)
		m.markValue(f.owner)
		m.markCells(f.cells)
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// raise delivers err to the frames down to stop. Script exceptions unwind
// to the nearest handler; any other error aborts those frames. A nil result
// means a handler took over and execution continues.
func (in *interpreter) raise(err error, stop int) error {
	var te *ThrowError
	if errors.As(err, &te) {
		if in.unwind(te.value, stop) {
			return nil
		}
		return err
	}
	in.abort(stop)
	return err
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

// run executes until the frame at index stop returns. On success its result
// is on the operand stack at that frame's return slot.
func (in *interpreter) run(stop int) error {
	vm := in.vm
	for in.fp >= stop {
		f := in.frames[in.fp]
		if f.ip >= len(f.code) {
			f.pc = f.ip
			in.doReturn(Undefined)
			continue
		}
		f.pc = f.ip
		op := Opcode(f.code[f.ip])
		f.ip++

		var err error
		switch op {
		// --- Stack ---
		case OpNOP:

		case OpPOP:
			in.sp--

		case OpDUP:
			in.push(in.top())

		case OpDUP2:
			a, b := in.stack[in.sp-2], in.stack[in.sp-1]
			in.push(a)
			in.push(b)

		case OpSWAP:
			in.stack[in.sp-1], in.stack[in.sp-2] = in.stack[in.sp-2], in.stack[in.sp-1]

		// --- Constants ---
		case OpUndefined:
			in.push(Undefined)

		case OpNull:
			in.push(Null)

		case OpTrue:
			in.push(True)

		case OpFalse:
			in.push(False)

		case OpInt8:
			in.push(IntValue(int(int8(f.readByte()))))

		case OpInt32:
			in.push(IntValue(int(f.readInt32())))

		case OpNumber:
			in.push(NumberValue(math.Float64frombits(f.readUint64())))

		case OpConst:
			in.push(f.proto.Constants[f.readUint16()])

		case OpThis:
			in.push(f.this)

		// --- Variables ---
		case OpGetLocal:
			in.push(in.stack[f.bp+f.readUint16()])

		case OpSetLocal:
			in.stack[f.bp+f.readUint16()] = in.top()

		case OpGetCell:
			in.push(f.cells[f.readUint16()].Value)

		case OpSetCell:
			f.cells[f.readUint16()].Value = in.top()

		case OpMakeCell:
			idx := f.readUint16()
			f.cells[idx] = &Cell{Value: f.cells[idx].Value}

		case OpGetCapture:
			in.push(f.fn.cells[f.readUint16()].Value)

		case OpSetCapture:
			f.fn.cells[f.readUint16()].Value = in.top()

		case OpGetGlobal:
			err = in.getGlobal(f.key())

		case OpSetGlobal:
			err = in.setGlobal(f, f.key())

		case OpTypeofGlobal:
			err = in.typeofGlobal(f.key())

		// --- Properties ---
		case OpGetProp:
			key := f.key()
			err = in.getProperty(in.top(), key, in.sp-1)

		case OpSetProp:
			key := f.key()
			err = in.assign(f, in.stack[in.sp-2], key, in.stack[in.sp-1], in.sp-2)

		case OpGetElem:
			err = in.getElement()

		case OpSetElem:
			err = in.setElement(f)

		case OpDeleteProp:
			err = in.deleteProperty(f, f.key())

		case OpDeleteElem:
			var key Symbol
			if key, err = vm.ToPropertyKey(in.top()); err == nil {
				in.sp--
				err = in.deleteProperty(f, key)
			}

		case OpDefineField:
			key := f.key()
			v := in.pop()
			err = vm.defineOwn(vm.heap.get(in.top()), key, PropertyDescriptor{
				Value:        v,
				HasValue:     true,
				Writable:     FlagTrue,
				Enumerable:   FlagTrue,
				Configurable: FlagTrue,
			})

		case OpDefineGetter:
			key := f.key()
			fn := in.pop()
			err = vm.defineOwn(vm.heap.get(in.top()), key, PropertyDescriptor{
				Getter:       fn,
				HasGetter:    true,
				Enumerable:   FlagTrue,
				Configurable: FlagTrue,
			})

		case OpDefineSetter:
			key := f.key()
			fn := in.pop()
			err = vm.defineOwn(vm.heap.get(in.top()), key, PropertyDescriptor{
				Setter:       fn,
				HasSetter:    true,
				Enumerable:   FlagTrue,
				Configurable: FlagTrue,
			})

		case OpIn:
			obj, kv := in.stack[in.sp-1], in.stack[in.sp-2]
			var key Symbol
			var ok bool
			if !obj.IsObject() {
				err = vm.typeError("Cannot use 'in' operator to search for %s in %s",
					vm.describe(kv), vm.describe(obj))
			} else if key, err = vm.ToPropertyKey(kv); err == nil {
				if ok, err = vm.HasProperty(obj, key); err == nil {
					in.sp--
					in.stack[in.sp-1] = BoolValue(ok)
				}
			}

		case OpInstanceOf:
			var ok bool
			if ok, err = vm.InstanceOf(in.stack[in.sp-2], in.stack[in.sp-1]); err == nil {
				in.sp--
				in.stack[in.sp-1] = BoolValue(ok)
			}

		case OpTypeof:
			in.stack[in.sp-1] = StringValue(vm.TypeOf(in.top()))

		// --- Object creation ---
		case OpNewObject:
			in.push(vm.newOrdinary(vm.intrinsics.objectProto))

		case OpNewArray:
			n := f.readUint16()
			elems := make([]Value, n)
			copy(elems, in.stack[in.sp-n:in.sp])
			arr := vm.newArray(elems)
			in.sp -= n
			in.push(arr)

		case OpClosure:
			p := f.proto.Functions[f.readUint16()]
			cells := make([]*Cell, len(p.Captures))
			for i, c := range p.Captures {
				if c.FromCapture {
					cells[i] = f.fn.cells[c.Index]
				} else {
					cells[i] = f.cells[c.Index]
				}
			}
			in.push(vm.newClosure(p, cells, f.this))

		// --- Arithmetic ---
		case OpAdd:
			a, b := in.stack[in.sp-2], in.stack[in.sp-1]
			if a.IsNumber() && b.IsNumber() {
				in.sp--
				in.stack[in.sp-1] = NumberValue(a.Number() + b.Number())
				break
			}
			var r Value
			if r, err = vm.add(a, b); err == nil {
				in.sp--
				in.stack[in.sp-1] = r
			}

		case OpSub, OpMul, OpDiv, OpMod, OpExp, OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr:
			var r Value
			if r, err = vm.arith(op, in.stack[in.sp-2], in.stack[in.sp-1]); err == nil {
				in.sp--
				in.stack[in.sp-1] = r
			}

		case OpNeg, OpPlus, OpInc, OpDec:
			var n float64
			if n, err = vm.ToNumber(in.top()); err == nil {
				switch op {
				case OpNeg:
					n = -n
				case OpInc:
					n++
				case OpDec:
					n--
				}
				in.stack[in.sp-1] = NumberValue(n)
			}

		case OpBitNot:
			var n int32
			if n, err = vm.ToInt32(in.top()); err == nil {
				in.stack[in.sp-1] = IntValue(int(^n))
			}

		case OpNot:
			in.stack[in.sp-1] = BoolValue(!in.top().IsTruthy())

		// --- Comparison ---
		case OpLT, OpLE, OpGT, OpGE:
			var ok bool
			if ok, err = vm.compare(op, in.stack[in.sp-2], in.stack[in.sp-1]); err == nil {
				in.sp--
				in.stack[in.sp-1] = BoolValue(ok)
			}

		case OpEq, OpNe:
			var ok bool
			if ok, err = vm.LooseEquals(in.stack[in.sp-2], in.stack[in.sp-1]); err == nil {
				in.sp--
				in.stack[in.sp-1] = BoolValue(ok == (op == OpEq))
			}

		case OpStrictEq, OpStrictNe:
			ok := StrictEquals(in.stack[in.sp-2], in.stack[in.sp-1])
			in.sp--
			in.stack[in.sp-1] = BoolValue(ok == (op == OpStrictEq))

		// --- Control flow ---
		case OpJump:
			off := f.readInt16()
			f.ip += off

		case OpJumpIfTrue:
			off := f.readInt16()
			if in.pop().IsTruthy() {
				f.ip += off
			}

		case OpJumpIfFalse:
			off := f.readInt16()
			if !in.pop().IsTruthy() {
				f.ip += off
			}

		case OpJumpIfNullish:
			off := f.readInt16()
			if in.pop().IsNullish() {
				f.ip += off
			}

		case OpJumpFinally:
			off := f.readInt16()
			in.jumpFinally(f, f.ip+off)

		// --- Calls ---
		case OpCall:
			argc := f.readByte()
			err = in.call(in.sp-argc-2, argc, modeNormal)

		case OpCallMethod:
			key := f.key()
			argc := f.readByte()
			err = in.callMethod(key, argc)

		case OpNew:
			argc := f.readByte()
			err = in.construct(in.sp-argc-2, argc)

		case OpReturn:
			in.doReturn(in.pop())

		case OpReturnUndefined:
			in.doReturn(Undefined)

		// --- Exceptions ---
		case OpThrow:
			err = vm.Throw(in.pop())

		case OpEndFinally:
			kind, _ := in.pop().asInt()
			v := in.pop()
			switch kind {
			case CompletionNormal:
			case CompletionThrow:
				err = vm.Throw(v)
			case CompletionReturn:
				in.doReturn(v)
			case CompletionJump:
				target, _ := v.asInt()
				in.jumpFinally(f, target)
			default:
				panic(internalErrorf("END_FINALLY: bad completion kind %d at %d", kind, f.pc))
			}

		// --- Iteration ---
		case OpForInStart:
			in.stack[in.sp-1] = vm.newForIn(in.top())

		case OpForInNext:
			off := f.readInt16()
			if key, ok := vm.forInNext(in.top()); ok {
				in.push(StringValue(key))
			} else {
				in.sp--
				f.ip += off
			}

		// --- Suspension ---
		case OpYield:
			if f.mode != modeGenerator {
				err = vm.ThrowError(ErrorSyntax, "yield outside a generator")
				break
			}
			in.yield(f, in.pop())

		case OpAwait:
			if f.mode != modeAsync && f.mode != modeAsyncResumed {
				err = vm.ThrowError(ErrorSyntax, "await is only valid in async functions")
				break
			}
			in.await(f, in.pop())

		default:
			panic(internalErrorf("unknown opcode 0x%02X at %d in %s", byte(op), f.pc, f.proto.Name))
		}

		if err != nil {
			if err = in.raise(err, stop); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

func (in *interpreter) getGlobal(key Symbol) error {
	vm := in.vm
	p, ok, err := vm.lookup(vm.global, key)
	if err != nil {
		return err
	}
	if !ok {
		return vm.referenceError("%s is not defined", vm.Symbols.Resolve(key))
	}
	if !p.IsAccessor() {
		in.push(p.Value)
		return nil
	}
	if p.Getter == Undefined {
		in.push(Undefined)
		return nil
	}
	r, err := vm.Call(p.Getter, vm.global)
	if err != nil {
		return err
	}
	in.push(r.v)
	return nil
}

// setGlobal assigns the top of the stack to a global. Strict code may not
// create globals implicitly.
func (in *interpreter) setGlobal(f *frame, key Symbol) error {
	vm := in.vm
	if f.proto.IsStrict() {
		ok, err := vm.HasProperty(vm.global, key)
		if err != nil {
			return err
		}
		if !ok {
			return vm.referenceError("%s is not defined", vm.Symbols.Resolve(key))
		}
	}
	v := in.top()
	res, setter, err := vm.prepareSet(vm.global, key, v, vm.global)
	switch {
	case err != nil:
		return err
	case res == setCallSetter:
		_, err = vm.Call(setter, vm.global, v)
		return err
	case res != setOK && f.proto.IsStrict():
		return vm.setFailure(res, vm.global, key)
	}
	return nil
}

func (in *interpreter) typeofGlobal(key Symbol) error {
	vm := in.vm
	ok, err := vm.HasProperty(vm.global, key)
	if err != nil {
		return err
	}
	if !ok {
		in.push(StringValue(SymUndefined))
		return nil
	}
	if err := in.getGlobal(key); err != nil {
		return err
	}
	in.stack[in.sp-1] = StringValue(vm.TypeOf(in.top()))
	return nil
}

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

// getProperty stores obj[key] into stack[slot] and leaves sp at slot+1.
// Script getters run as flat frames returning into slot.
func (in *interpreter) getProperty(obj Value, key Symbol, slot int) error {
	vm := in.vm
	p, ok, err := vm.lookup(obj, key)
	if err != nil {
		return err
	}
	v := Undefined
	switch {
	case !ok:
	case !p.IsAccessor():
		v = p.Value
	case p.Getter != Undefined:
		if fn := in.flatFunction(p.Getter); fn != nil {
			_, err := in.enterScript(fn, p.Getter, in.bindThis(fn, obj), in.sp, in.sp, 0, slot, modeNormal)
			return err
		}
		r, err := vm.Call(p.Getter, obj)
		if err != nil {
			return err
		}
		v = r.v
	}
	in.stack[slot] = v
	in.sp = slot + 1
	return nil
}

func (in *interpreter) getElement() error {
	vm := in.vm
	obj, kv := in.stack[in.sp-2], in.stack[in.sp-1]
	if obj.IsObject() {
		if i, ok := kv.asInt(); ok && i >= 0 {
			if o := vm.heap.get(obj); o.kind == KindArray && i < len(o.elems) && o.elems[i] != hole {
				in.sp--
				in.stack[in.sp-1] = o.elems[i]
				return nil
			}
		}
	}
	key, err := vm.ToPropertyKey(kv)
	if err != nil {
		return err
	}
	return in.getProperty(obj, key, in.sp-2)
}

func (in *interpreter) setElement(f *frame) error {
	vm := in.vm
	obj, kv, v := in.stack[in.sp-3], in.stack[in.sp-2], in.stack[in.sp-1]
	if obj.IsObject() {
		if i, ok := kv.asInt(); ok && i >= 0 {
			if o := vm.heap.get(obj); o.kind == KindArray && i < len(o.elems) && o.elems[i] != hole {
				o.elems[i] = v
				in.sp -= 2
				in.stack[in.sp-1] = v
				return nil
			}
		}
	}
	key, err := vm.ToPropertyKey(kv)
	if err != nil {
		return err
	}
	return in.assign(f, obj, key, v, in.sp-3)
}

// assign performs obj[key] = v for an assignment whose operands start at
// slot. Afterwards v is at stack[slot] and sp is slot+1. Failed assignments
// are silent in sloppy code.
func (in *interpreter) assign(f *frame, obj Value, key Symbol, v Value, slot int) error {
	vm := in.vm
	res, setter, err := vm.prepareSet(obj, key, v, obj)
	if err != nil {
		return err
	}
	switch {
	case res == setCallSetter:
		if fn := in.flatFunction(setter); fn != nil {
			in.stack[slot] = v
			in.stack[slot+1] = v
			in.sp = slot + 2
			_, err := in.enterScript(fn, setter, in.bindThis(fn, obj), slot+1, slot+1, 1, slot+1, modeDiscard)
			return err
		}
		if _, err := vm.Call(setter, obj, v); err != nil {
			return err
		}
	case res != setOK && f.proto.IsStrict():
		return vm.setFailure(res, obj, key)
	}
	in.stack[slot] = v
	in.sp = slot + 1
	return nil
}

func (in *interpreter) deleteProperty(f *frame, key Symbol) error {
	vm := in.vm
	obj := in.top()
	ok, err := vm.DeleteProperty(obj, key)
	if err != nil {
		return err
	}
	if !ok && f.proto.IsStrict() {
		return vm.typeError("Cannot delete property '%s' of %s", vm.Symbols.Resolve(key), vm.describe(obj))
	}
	in.stack[in.sp-1] = BoolValue(ok)
	return nil
}
