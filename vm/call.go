package vm

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call layout on the operand stack: [callee, this, arg0 ... argN-1] starting
// at base. Every call path leaves its result in stack[base] with sp at
// base+1, either immediately (natives) or when the pushed frame returns.

// call invokes the callee at base with argc arguments.
func (in *interpreter) call(base, argc int, mode completionMode) error {
	vm := in.vm
	callee := in.stack[base]
	if !vm.isCallable(callee) {
		return vm.typeError("%s is not a function", vm.describe(callee))
	}
	fn := vm.heap.get(callee).fn
	this := in.stack[base+1]
	switch {
	case fn.intrinsic != opNone:
		return in.callIntrinsic(fn, base, argc)
	case fn.native != nil:
		return in.callNative(fn, base, argc, mode)
	case fn.proto.IsGenerator():
		return in.startGenerator(fn, callee, this, base, argc)
	case fn.proto.IsAsync():
		return in.startAsync(fn, callee, this, base, argc)
	}
	_, err := in.enterScript(fn, callee, in.bindThis(fn, this), base, base+2, argc, base, mode)
	return err
}

func (in *interpreter) callNative(fn *function, base, argc int, mode completionMode) error {
	vm := in.vm
	this := in.stack[base+1]
	if fn.this != Undefined && mode != modeConstruct {
		this = fn.this
	}
	prev := vm.constructing
	vm.constructing = mode == modeConstruct
	r, err := fn.native(vm, this, in.stack[base+2:base+2+argc])
	vm.constructing = prev
	if err != nil {
		return err
	}
	v := r.v
	if mode == modeConstruct && !v.IsObject() {
		v = in.stack[base+1]
	}
	in.stack[base] = v
	in.sp = base + 1
	return nil
}

// construct implements new: the receiver slot at base+1 is replaced with a
// fresh object inheriting from the constructor's prototype property.
func (in *interpreter) construct(base, argc int) error {
	vm := in.vm
	ctor := in.stack[base]
	if !vm.isConstructor(ctor) {
		return vm.typeError("%s is not a constructor", vm.describe(ctor))
	}
	proto, err := vm.get(ctor, SymPrototype, ctor)
	if err != nil {
		return err
	}
	if !proto.IsObject() {
		proto = vm.intrinsics.objectProto
	}
	in.stack[base+1] = vm.newOrdinary(proto)
	return in.call(base, argc, modeConstruct)
}

// callMethod calls obj[key] with obj as this. The receiver is at
// sp-argc-1; the method is inserted below it to form a call layout.
func (in *interpreter) callMethod(key Symbol, argc int) error {
	vm := in.vm
	base := in.sp - argc - 1
	obj := in.stack[base]
	method, err := vm.get(obj, key, obj)
	if err != nil {
		return err
	}
	if !vm.isCallable(method) {
		return vm.typeError("%s.%s is not a function", vm.describe(obj), vm.Symbols.Resolve(key))
	}
	in.ensure(1)
	copy(in.stack[base+1:in.sp+1], in.stack[base:in.sp])
	in.stack[base] = method
	in.sp++
	return in.call(base, argc, modeNormal)
}

// bindThis computes the receiver a script function sees. Arrow functions
// use their lexical this; sloppy functions see the global object for a
// missing receiver.
func (in *interpreter) bindThis(fn *function, this Value) Value {
	switch {
	case fn.proto.IsArrow():
		return fn.this
	case !fn.proto.IsStrict() && this.IsNullish():
		return in.vm.global
	}
	return this
}

// flatFunction returns the function behind v if it can run as a plain
// pushed frame, or nil.
func (in *interpreter) flatFunction(v Value) *function {
	if !v.IsObject() {
		return nil
	}
	o := in.vm.heap.get(v)
	if o.kind != KindFunction {
		return nil
	}
	fn := o.fn
	if fn.proto == nil || fn.intrinsic != opNone || fn.proto.IsGenerator() || fn.proto.IsAsync() {
		return nil
	}
	return fn
}

// invoke runs a call from Go to completion. Frames below the call are left
// untouched, so natives can reenter the loop.
func (in *interpreter) invoke(callee, this Value, args []Value, construct bool) (Value, error) {
	base := in.sp
	in.ensure(len(args) + 2)
	in.push(callee)
	in.push(this)
	for _, a := range args {
		in.push(a)
	}
	stop := in.fp + 1

	var err error
	if construct {
		err = in.construct(base, len(args))
	} else {
		err = in.call(base, len(args), modeNormal)
	}
	if err != nil {
		err = in.raise(err, stop)
	}
	if err == nil {
		err = in.run(stop)
	}
	result := Undefined
	if err == nil {
		result = in.stack[base]
	}
	in.sp = base
	return result, err
}

// ---------------------------------------------------------------------------
// Function objects
// ---------------------------------------------------------------------------

// newClosure creates a function object for a nested function. Ordinary
// functions get a prototype object whose constructor points back; generator
// prototypes inherit from the intrinsic generator prototype instead.
func (vm *VM) newClosure(p *FunctionProto, cells []*Cell, this Value) Value {
	fn := &function{
		proto: p,
		cells: cells,
		this:  Undefined,
		name:  p.name,
		arity: p.Arity,
		ctor:  !p.IsArrow() && !p.IsGenerator() && !p.IsAsync(),
	}
	if p.IsArrow() {
		fn.this = this
	}
	o := newObject(KindFunction, vm.intrinsics.functionProto)
	o.fn = fn
	o.props.Set(SymLength, dataProperty(IntValue(p.Arity), AttrConfigurable))
	o.props.Set(SymName, dataProperty(StringValue(p.name), AttrConfigurable))
	v := vm.heap.allocate(o)
	if p.IsArrow() || p.IsAsync() {
		return v
	}

	mark := len(vm.temps)
	vm.temps = append(vm.temps, v)
	var proto *heapObject
	if p.IsGenerator() {
		proto = newObject(KindOrdinary, vm.intrinsics.generatorProto)
	} else {
		proto = newObject(KindOrdinary, vm.intrinsics.objectProto)
		proto.props.Set(SymConstructor, dataProperty(v, AttrHidden))
	}
	o.props.Set(SymPrototype, dataProperty(vm.heap.allocate(proto), AttrWritable))
	vm.dropTemps(mark)
	return v
}

// newNative creates a host function object.
func (vm *VM) newNative(name Symbol, arity int, native NativeFunc, ctor bool) Value {
	o := newObject(KindFunction, vm.intrinsics.functionProto)
	o.fn = &function{native: native, name: name, arity: arity, ctor: ctor, this: Undefined, target: Undefined}
	o.props.Set(SymLength, dataProperty(IntValue(arity), AttrConfigurable))
	o.props.Set(SymName, dataProperty(StringValue(name), AttrConfigurable))
	return vm.heap.allocate(o)
}

// newIntrinsic creates a function the dispatch loop implements directly.
func (vm *VM) newIntrinsic(name Symbol, arity int, op intrinsicOp, target Value, settled *bool) Value {
	o := newObject(KindFunction, vm.intrinsics.functionProto)
	o.fn = &function{intrinsic: op, name: name, arity: arity, this: Undefined, target: target, settled: settled}
	o.props.Set(SymLength, dataProperty(IntValue(arity), AttrConfigurable))
	o.props.Set(SymName, dataProperty(StringValue(name), AttrConfigurable))
	return vm.heap.allocate(o)
}

// callIntrinsic runs generator resumption and promise resolving functions.
func (in *interpreter) callIntrinsic(fn *function, base, argc int) error {
	vm := in.vm
	this := in.stack[base+1]
	arg := Undefined
	if argc > 0 {
		arg = in.stack[base+2]
	}
	switch fn.intrinsic {
	case opGeneratorNext, opGeneratorReturn, opGeneratorThrow:
		return in.resumeGenerator(fn.intrinsic, this, arg, base)
	case opPromiseResolve, opPromiseReject:
		if !*fn.settled {
			*fn.settled = true
			if fn.intrinsic == opPromiseResolve {
				vm.resolvePromise(fn.target, arg)
			} else {
				vm.rejectPromise(fn.target, arg)
			}
		}
		in.stack[base] = Undefined
		in.sp = base + 1
		return nil
	}
	panic(internalErrorf("unknown intrinsic %d", fn.intrinsic))
}

// ---------------------------------------------------------------------------
// for-in enumeration
// ---------------------------------------------------------------------------

// newForIn snapshots the enumerable keys of obj and its prototypes.
func (vm *VM) newForIn(obj Value) Value {
	o := newObject(kindForIn, Null)
	o.forIn = &forInState{target: obj}
	v := vm.heap.allocate(o)
	o.forIn.keys = vm.forInKeys(obj)
	return v
}

// forInKeys lists enumerable string keys, own first, then inherited ones
// not shadowed by a key already seen.
func (vm *VM) forInKeys(obj Value) []Symbol {
	if obj.IsNullish() {
		return nil
	}
	seen := make(map[Symbol]bool)
	var keys []Symbol
	for cur := obj; ; {
		for _, k := range vm.OwnKeys(cur, false) {
			if seen[k] {
				continue
			}
			seen[k] = true
			if d, ok := vm.GetOwnPropertyDescriptor(cur, k); ok && d.Enumerable == FlagTrue {
				keys = append(keys, k)
			}
		}
		cur = vm.GetPrototypeOf(cur)
		if !cur.IsObject() {
			break
		}
	}
	return keys
}

// forInNext returns the next key that is still present on the target.
func (vm *VM) forInNext(iter Value) (Symbol, bool) {
	s := vm.heap.get(iter).forIn
	for s.pos < len(s.keys) {
		k := s.keys[s.pos]
		s.pos++
		if _, ok, _ := vm.lookup(s.target, k); ok {
			return k, true
		}
	}
	return SymEmpty, false
}
