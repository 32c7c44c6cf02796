package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// completionMode says what happens to a frame's result when it returns.
type completionMode uint8

const (
	modeNormal       completionMode = iota // push the result for the caller
	modeConstruct                          // push this unless the result is an object
	modeDiscard                            // push nothing (setter calls)
	modeGenerator                          // complete the owning generator, push {value, done}
	modeAsync                              // settle the owning promise, push the promise
	modeAsyncResumed                       // settle the owning promise, push nothing
)

// frame is the execution state of one script function activation. Locals
// occupy the operand stack at [bp, bp+NumLocals); temporaries follow.
type frame struct {
	fn     *function
	proto  *FunctionProto
	code   []byte
	callee Value
	this   Value
	cells  []*Cell
	bp     int // base of locals
	retSP  int // stack pointer restored on return
	ip     int // next instruction
	pc     int // start of the current instruction
	mode   completionMode
	owner  Value // generator object or async promise
}

func (f *frame) readByte() int {
	b := f.code[f.ip]
	f.ip++
	return int(b)
}

func (f *frame) readUint16() int {
	v := binary.LittleEndian.Uint16(f.code[f.ip:])
	f.ip += 2
	return int(v)
}

func (f *frame) readInt16() int {
	v := int16(binary.LittleEndian.Uint16(f.code[f.ip:]))
	f.ip += 2
	return int(v)
}

func (f *frame) readInt32() int32 {
	v := int32(binary.LittleEndian.Uint32(f.code[f.ip:]))
	f.ip += 4
	return v
}

func (f *frame) readUint64() uint64 {
	v := binary.LittleEndian.Uint64(f.code[f.ip:])
	f.ip += 8
	return v
}

// key reads a constant-pool operand that names a property.
func (f *frame) key() Symbol {
	return f.proto.Constants[f.readUint16()].Symbol()
}

func newCells(n int) []*Cell {
	if n == 0 {
		return nil
	}
	cells := make([]*Cell, n)
	for i := range cells {
		cells[i] = &Cell{Value: Undefined}
	}
	return cells
}

// ---------------------------------------------------------------------------
// Frame stack
// ---------------------------------------------------------------------------

// pushFrame reserves the next frame. Exceeding the frame limit raises a
// RangeError in the calling frame.
func (in *interpreter) pushFrame() (*frame, error) {
	if in.fp+1 >= in.maxFrames {
		return nil, in.vm.rangeError(errStackOverflow)
	}
	in.fp++
	if in.fp >= len(in.frames) {
		// Grow the frame stack dynamically
		newFrames := make([]*frame, len(in.frames)*2)
		copy(newFrames, in.frames)
		in.frames = newFrames
	}
	f := in.frames[in.fp]
	if f == nil {
		f = &frame{}
		in.frames[in.fp] = f
	}
	return f, nil
}

// popFrame discards the top frame and its stack region. The returned frame
// is only valid until the next push.
func (in *interpreter) popFrame() *frame {
	f := in.frames[in.fp]
	in.fp--
	in.sp = f.retSP
	return f
}

// enterScript pushes an activation of a bytecode function. The argc
// arguments at args are moved down to bp; missing parameters are undefined
// and surplus arguments are dropped.
func (in *interpreter) enterScript(fn *function, callee, this Value, bp, args, argc, retSP int, mode completionMode) (*frame, error) {
	p := fn.proto
	f, err := in.pushFrame()
	if err != nil {
		return nil, err
	}
	in.ensure(bp + p.NumLocals - in.sp)
	n := argc
	if n > p.Arity {
		n = p.Arity
	}
	copy(in.stack[bp:bp+n], in.stack[args:args+n])
	for i := bp + n; i < bp+p.NumLocals; i++ {
		in.stack[i] = Undefined
	}
	in.sp = bp + p.NumLocals

	*f = frame{
		fn:     fn,
		proto:  p,
		code:   p.Code,
		callee: callee,
		this:   this,
		cells:  newCells(p.NumCells),
		bp:     bp,
		retSP:  retSP,
		mode:   mode,
		owner:  Undefined,
	}
	return f, nil
}

// saveFrame detaches f's locals and temporaries for later resumption.
func (in *interpreter) saveFrame(f *frame) *savedFrame {
	slots := make([]Value, in.sp-f.bp)
	copy(slots, in.stack[f.bp:in.sp])
	return &savedFrame{
		callee: f.callee,
		fn:     f.fn,
		this:   f.this,
		cells:  f.cells,
		slots:  slots,
		ip:     f.ip,
	}
}

// restoreFrame pushes a saved activation with its slots at bp. The current
// instruction is the suspension point, so exceptions thrown into the frame
// find the handlers that covered it.
func (in *interpreter) restoreFrame(s *savedFrame, bp, retSP int, mode completionMode, owner Value) (*frame, error) {
	f, err := in.pushFrame()
	if err != nil {
		return nil, err
	}
	in.ensure(bp + len(s.slots) - in.sp)
	copy(in.stack[bp:], s.slots)
	in.sp = bp + len(s.slots)
	pc := s.ip - 1
	if pc < 0 {
		pc = 0
	}
	*f = frame{
		fn:     s.fn,
		proto:  s.fn.proto,
		code:   s.fn.proto.Code,
		callee: s.callee,
		this:   s.this,
		cells:  s.cells,
		bp:     bp,
		retSP:  retSP,
		ip:     s.ip,
		pc:     pc,
		mode:   mode,
		owner:  owner,
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Completion and unwinding
// ---------------------------------------------------------------------------

// complete finishes the top frame with result v according to its mode.
func (in *interpreter) complete(v Value) {
	vm := in.vm
	f := in.frames[in.fp]
	switch f.mode {
	case modeConstruct:
		if !v.IsObject() {
			v = f.this
		}
	case modeGenerator:
		g := vm.heap.get(f.owner).gen
		g.state = genCompleted
		g.frame = nil
		v = vm.iterResult(v, true)
	case modeAsync, modeAsyncResumed:
		in.push(v)
		vm.resolvePromise(f.owner, v)
		in.sp--
		v = f.owner
	}
	mode := f.mode
	in.popFrame()
	if mode != modeDiscard && mode != modeAsyncResumed {
		in.push(v)
	}
}

// doReturn returns v from the top frame, first running every finally
// handler that covers the current instruction.
func (in *interpreter) doReturn(v Value) {
	f := in.frames[in.fp]
	for _, h := range f.proto.Handlers {
		if h.Kind == HandlerFinally && h.covers(f.pc) {
			in.enterHandler(f, h, v, CompletionReturn)
			return
		}
	}
	in.complete(v)
}

// jumpFinally transfers control to target, routing through the innermost
// finally handler that is being left.
func (in *interpreter) jumpFinally(f *frame, target int) {
	for _, h := range f.proto.Handlers {
		if h.Kind == HandlerFinally && h.covers(f.pc) && !h.covers(target) {
			in.enterHandler(f, h, IntValue(target), CompletionJump)
			return
		}
	}
	f.ip = target
}

func (in *interpreter) enterHandler(f *frame, h Handler, v Value, kind int) {
	in.sp = f.bp + int(h.Depth)
	in.push(v)
	if h.Kind == HandlerFinally {
		in.push(IntValue(kind))
	}
	f.ip = int(h.Target)
}

// unwind looks for a handler for exc in the frames down to stop. It
// reports false if the exception escaped past stop. An async function
// absorbs an escaping exception by rejecting its promise.
func (in *interpreter) unwind(exc Value, stop int) bool {
	vm := in.vm
	for in.fp >= stop {
		f := in.frames[in.fp]
		for _, h := range f.proto.Handlers {
			if h.covers(f.pc) {
				in.enterHandler(f, h, exc, CompletionThrow)
				return true
			}
		}
		switch f.mode {
		case modeGenerator:
			g := vm.heap.get(f.owner).gen
			g.state = genCompleted
			g.frame = nil
		case modeAsync, modeAsyncResumed:
			in.push(exc)
			vm.rejectPromise(f.owner, exc)
			in.sp--
			mode, owner := f.mode, f.owner
			in.popFrame()
			if mode == modeAsync {
				in.push(owner)
			}
			return true
		}
		in.popFrame()
	}
	return false
}

// abort drops the frames down to stop after an internal error.
func (in *interpreter) abort(stop int) {
	for in.fp >= stop {
		f := in.frames[in.fp]
		if f.mode == modeGenerator {
			if o := in.vm.heap.get(f.owner); o.gen != nil {
				o.gen.state = genCompleted
				o.gen.frame = nil
			}
		}
		in.popFrame()
	}
}
