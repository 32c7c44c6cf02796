package vm

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

// startGenerator handles a call of a generator function: the arguments are
// bound into a saved frame and the suspended generator object is returned
// without running any of the body.
func (in *interpreter) startGenerator(fn *function, callee, this Value, base, argc int) error {
	vm := in.vm
	p := fn.proto
	slots := make([]Value, p.NumLocals)
	n := argc
	if n > p.Arity {
		n = p.Arity
	}
	copy(slots, in.stack[base+2:base+2+n])
	for i := n; i < len(slots); i++ {
		slots[i] = Undefined
	}
	saved := &savedFrame{
		callee: callee,
		fn:     fn,
		this:   in.bindThis(fn, this),
		cells:  newCells(p.NumCells),
		slots:  slots,
	}

	proto, err := vm.get(callee, SymPrototype, callee)
	if err != nil {
		return err
	}
	if !proto.IsObject() {
		proto = vm.intrinsics.generatorProto
	}
	o := newObject(KindGenerator, proto)
	o.gen = &generator{state: genSuspendedStart, frame: saved}
	in.stack[base] = vm.heap.allocate(o)
	in.sp = base + 1
	return nil
}

var generatorMethodNames = map[intrinsicOp]string{
	opGeneratorNext:   "next",
	opGeneratorReturn: "return",
	opGeneratorThrow:  "throw",
}

// resumeGenerator implements next, return and throw. A resumed generator
// frame is pushed over the call region so that its completion lands in
// stack[base] like any other call result.
func (in *interpreter) resumeGenerator(op intrinsicOp, genv, arg Value, base int) error {
	vm := in.vm
	if k, ok := vm.KindOf(genv); !ok || k != KindGenerator {
		return vm.typeError("%s method called on incompatible receiver %s",
			generatorMethodNames[op], vm.describe(genv))
	}
	g := vm.heap.get(genv).gen
	switch g.state {
	case genExecuting:
		return vm.typeError("Generator is already running")
	case genSuspendedStart:
		if op != opGeneratorNext {
			g.state = genCompleted
			g.frame = nil
		}
	}

	if g.state == genCompleted {
		switch op {
		case opGeneratorThrow:
			return vm.Throw(arg)
		case opGeneratorReturn:
			in.stack[base] = vm.iterResult(arg, true)
		default:
			in.stack[base] = vm.iterResult(Undefined, true)
		}
		in.sp = base + 1
		return nil
	}

	started := g.state == genSuspendedYield
	if _, err := in.restoreFrame(g.frame, base, base, modeGenerator, genv); err != nil {
		return err
	}
	g.frame = nil
	g.state = genExecuting

	switch op {
	case opGeneratorThrow:
		return vm.Throw(arg)
	case opGeneratorReturn:
		in.doReturn(arg)
	default:
		if started {
			in.push(arg)
		}
	}
	return nil
}

// yield suspends the generator frame f and returns {value: v, done: false}
// to whoever resumed it.
func (in *interpreter) yield(f *frame, v Value) {
	vm := in.vm
	g := vm.heap.get(f.owner).gen
	g.frame = in.saveFrame(f)
	g.state = genSuspendedYield
	in.popFrame()
	in.push(vm.iterResult(v, false))
}

// iterResult creates an iterator result object.
func (vm *VM) iterResult(v Value, done bool) Value {
	o := newObject(KindOrdinary, vm.intrinsics.objectProto)
	o.props.Set(SymValue, dataProperty(v, AttrDefault))
	o.props.Set(SymDone, dataProperty(BoolValue(done), AttrDefault))
	return vm.heap.allocate(o)
}

// GeneratorState reports whether v is a generator and, if so, whether it
// has completed.
func (vm *VM) GeneratorState(v Value) (done bool, ok bool) {
	if k, isObj := vm.KindOf(v); !isObj || k != KindGenerator {
		return false, false
	}
	return vm.heap.get(v).gen.state == genCompleted, true
}
