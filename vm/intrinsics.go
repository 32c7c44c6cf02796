package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Intrinsic objects
// ---------------------------------------------------------------------------

// intrinsics holds the prototypes the runtime creates objects with. They are
// roots for the lifetime of the VM.
type intrinsics struct {
	objectProto   Value
	functionProto Value
	arrayProto    Value
	stringProto   Value
	numberProto   Value
	booleanProto  Value

	errorProto          Value
	typeErrorProto      Value
	rangeErrorProto     Value
	referenceErrorProto Value
	syntaxErrorProto    Value

	generatorProto Value
	promiseProto   Value
}

func newIntrinsics() *intrinsics {
	return &intrinsics{
		objectProto:         Null,
		functionProto:       Null,
		arrayProto:          Null,
		stringProto:         Null,
		numberProto:         Null,
		booleanProto:        Null,
		errorProto:          Null,
		typeErrorProto:      Null,
		rangeErrorProto:     Null,
		referenceErrorProto: Null,
		syntaxErrorProto:    Null,
		generatorProto:      Null,
		promiseProto:        Null,
	}
}

func (in *intrinsics) mark(m *marker) {
	for _, v := range [...]Value{
		in.objectProto, in.functionProto, in.arrayProto,
		in.stringProto, in.numberProto, in.booleanProto,
		in.errorProto, in.typeErrorProto, in.rangeErrorProto,
		in.referenceErrorProto, in.syntaxErrorProto,
		in.generatorProto, in.promiseProto,
	} {
		m.markValue(v)
	}
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func undefinedResult() (Unrooted, error) {
	return Unrooted{v: Undefined}, nil
}

// initIntrinsics builds the prototypes, constructors and global object.
// Every prototype is stored in vm.intrinsics as soon as it is allocated,
// which roots it for the allocations that follow.
func (vm *VM) initIntrinsics() {
	in := vm.intrinsics
	in.objectProto = vm.heap.allocate(newObject(KindOrdinary, Null))

	fp := newObject(KindFunction, in.objectProto)
	fp.fn = &function{native: func(*VM, Value, []Value) (Unrooted, error) { return undefinedResult() }, this: Undefined, target: Undefined}
	in.functionProto = vm.heap.allocate(fp)

	in.arrayProto = vm.heap.allocate(newObject(KindArray, in.objectProto))
	in.stringProto = vm.boxedProto(StringValue(SymEmpty))
	in.numberProto = vm.boxedProto(IntValue(0))
	in.booleanProto = vm.boxedProto(False)

	in.errorProto = vm.newOrdinary(in.objectProto)
	in.typeErrorProto = vm.newOrdinary(in.errorProto)
	in.rangeErrorProto = vm.newOrdinary(in.errorProto)
	in.referenceErrorProto = vm.newOrdinary(in.errorProto)
	in.syntaxErrorProto = vm.newOrdinary(in.errorProto)

	in.generatorProto = vm.newOrdinary(in.objectProto)
	in.promiseProto = vm.newOrdinary(in.objectProto)

	vm.global = vm.newOrdinary(in.objectProto)
	g := vm.heap.get(vm.global)
	g.props.Set(SymGlobalThis, dataProperty(vm.global, AttrHidden))
	g.props.Set(SymUndefined, dataProperty(Undefined, 0))
	g.props.Set(SymNaN, dataProperty(NumberValue(math.NaN()), 0))
	g.props.Set(SymInfinity, dataProperty(NumberValue(math.Inf(1)), 0))

	vm.initObject()
	vm.initFunction()
	vm.initArray()
	vm.initPrimitiveWrappers()
	vm.initErrors()
	vm.initGenerator()
	vm.initPromise()
}

func (vm *VM) boxedProto(prim Value) Value {
	o := newObject(KindBoxed, vm.intrinsics.objectProto)
	o.prim = prim
	return vm.heap.allocate(o)
}

// defineMethod installs a non-enumerable native method on obj.
func (vm *VM) defineMethod(obj Value, name string, arity int, fn NativeFunc) {
	key := vm.Symbols.Intern(name)
	f := vm.newNative(key, arity, fn, false)
	vm.heap.get(obj).props.Set(key, dataProperty(f, AttrHidden))
}

// defineConstructor creates a constructor for proto and exposes it as a
// global.
func (vm *VM) defineConstructor(name string, arity int, fn NativeFunc, proto Value) Value {
	key := vm.Symbols.Intern(name)
	c := vm.newNative(key, arity, fn, true)
	vm.heap.get(c).props.Set(SymPrototype, dataProperty(proto, 0))
	vm.heap.get(proto).props.Set(SymConstructor, dataProperty(c, AttrHidden))
	vm.heap.get(vm.global).props.Set(key, dataProperty(c, AttrHidden))
	return c
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func (vm *VM) initObject() {
	proto := vm.intrinsics.objectProto
	ctor := vm.defineConstructor("Object", 1, objectConstructor, proto)

	vm.defineMethod(proto, "hasOwnProperty", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if this.IsNullish() {
			return Unrooted{v: Undefined}, vm.typeError("Cannot convert undefined or null to object")
		}
		key, err := vm.ToPropertyKey(arg(args, 0))
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		_, ok := vm.GetOwnPropertyDescriptor(this, key)
		return Unrooted{v: BoolValue(ok)}, nil
	})
	vm.defineMethod(proto, "isPrototypeOf", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unrooted{v: BoolValue(vm.IsPrototypeOf(this, arg(args, 0)))}, nil
	})
	vm.defineMethod(proto, "toString", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unrooted{v: vm.newString("[object " + vm.classOf(this) + "]")}, nil
	})
	vm.defineMethod(proto, "valueOf", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.ToObject(this)
		return Unrooted{v: v}, err
	})

	vm.defineMethod(ctor, "defineProperty", 3, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		obj := arg(args, 0)
		if !obj.IsObject() {
			return Unrooted{v: Undefined}, vm.typeError("Object.defineProperty called on non-object")
		}
		key, err := vm.ToPropertyKey(arg(args, 1))
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		mark := len(vm.temps)
		vm.temps = append(vm.temps, StringValue(key))
		defer vm.dropTemps(mark)
		desc, err := vm.toPropertyDescriptor(arg(args, 2))
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		return Unrooted{v: obj}, vm.DefineOwnProperty(obj, key, desc)
	})
	vm.defineMethod(ctor, "getOwnPropertyDescriptor", 2, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		obj := arg(args, 0)
		if obj.IsNullish() {
			return Unrooted{v: Undefined}, vm.typeError("Cannot convert undefined or null to object")
		}
		key, err := vm.ToPropertyKey(arg(args, 1))
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		d, ok := vm.GetOwnPropertyDescriptor(obj, key)
		if !ok {
			return undefinedResult()
		}
		return Unrooted{v: vm.fromPropertyDescriptor(d)}, nil
	})
	vm.defineMethod(ctor, "getPrototypeOf", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		obj := arg(args, 0)
		if obj.IsNullish() {
			return Unrooted{v: Undefined}, vm.typeError("Cannot convert undefined or null to object")
		}
		return Unrooted{v: vm.GetPrototypeOf(obj)}, nil
	})
	vm.defineMethod(ctor, "setPrototypeOf", 2, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		obj, proto := arg(args, 0), arg(args, 1)
		switch {
		case obj.IsNullish():
			return Unrooted{v: Undefined}, vm.typeError("Object.setPrototypeOf called on null or undefined")
		case !obj.IsObject():
			return Unrooted{v: obj}, nil
		}
		return Unrooted{v: obj}, vm.SetPrototypeOf(obj, proto)
	})
	vm.defineMethod(ctor, "create", 2, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		proto := arg(args, 0)
		if !proto.IsObject() && proto != Null {
			return Unrooted{v: Undefined}, vm.typeError("Object prototype may only be an Object or null: %s", vm.describe(proto))
		}
		obj := vm.newOrdinary(proto)
		if props := arg(args, 1); props != Undefined {
			mark := len(vm.temps)
			vm.temps = append(vm.temps, obj)
			defer vm.dropTemps(mark)
			if err := vm.defineProperties(obj, props); err != nil {
				return Unrooted{v: Undefined}, err
			}
		}
		return Unrooted{v: obj}, nil
	})
	vm.defineMethod(ctor, "keys", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		obj := arg(args, 0)
		if obj.IsNullish() {
			return Unrooted{v: Undefined}, vm.typeError("Cannot convert undefined or null to object")
		}
		keys := vm.OwnKeys(obj, true)
		elems := make([]Value, len(keys))
		for i, k := range keys {
			elems[i] = StringValue(k)
		}
		return Unrooted{v: vm.newArray(elems)}, nil
	})
	vm.defineMethod(ctor, "preventExtensions", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		vm.PreventExtensions(arg(args, 0))
		return Unrooted{v: arg(args, 0)}, nil
	})
	vm.defineMethod(ctor, "isExtensible", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unrooted{v: BoolValue(vm.IsExtensible(arg(args, 0)))}, nil
	})
}

func objectConstructor(vm *VM, this Value, args []Value) (Unrooted, error) {
	v := arg(args, 0)
	if v.IsNullish() {
		return Unrooted{v: vm.newOrdinary(vm.intrinsics.objectProto)}, nil
	}
	o, err := vm.ToObject(v)
	return Unrooted{v: o}, err
}

// classOf returns the tag Object.prototype.toString reports.
func (vm *VM) classOf(v Value) string {
	switch {
	case v == Undefined:
		return "Undefined"
	case v == Null:
		return "Null"
	case v.IsString():
		return "String"
	case v.IsNumber():
		return "Number"
	case v.IsBool():
		return "Boolean"
	}
	o := vm.heap.get(v)
	switch o.kind {
	case KindArray, KindFunction, KindError, KindGenerator, KindPromise:
		return o.kind.String()
	case KindBoxed:
		return vm.classOf(o.prim)
	}
	return "Object"
}

// toPropertyDescriptor reads a descriptor object. Values it reads are
// appended to vm.temps; the caller drops them.
func (vm *VM) toPropertyDescriptor(v Value) (PropertyDescriptor, error) {
	var d PropertyDescriptor
	if !v.IsObject() {
		return d, vm.typeError("Property description must be an object: %s", vm.describe(v))
	}
	field := func(key Symbol) (Value, bool, error) {
		ok, err := vm.HasProperty(v, key)
		if err != nil || !ok {
			return Undefined, false, err
		}
		fv, err := vm.get(v, key, v)
		if err != nil {
			return Undefined, false, err
		}
		vm.temps = append(vm.temps, fv)
		return fv, true, nil
	}
	flag := func(key Symbol, dst *Flag) error {
		fv, ok, err := field(key)
		if ok {
			*dst = ToFlag(fv.IsTruthy())
		}
		return err
	}
	if err := flag(SymEnumerable, &d.Enumerable); err != nil {
		return d, err
	}
	if err := flag(SymConfigurable, &d.Configurable); err != nil {
		return d, err
	}
	var err error
	if d.Value, d.HasValue, err = field(SymValue); err != nil {
		return d, err
	}
	if err := flag(SymWritable, &d.Writable); err != nil {
		return d, err
	}
	if d.Getter, d.HasGetter, err = field(SymGet); err != nil {
		return d, err
	}
	if d.Setter, d.HasSetter, err = field(SymSet); err != nil {
		return d, err
	}
	return d, nil
}

// fromPropertyDescriptor creates the descriptor object for d.
func (vm *VM) fromPropertyDescriptor(d PropertyDescriptor) Value {
	o := newObject(KindOrdinary, vm.intrinsics.objectProto)
	if d.IsAccessor() {
		o.props.Set(SymGet, dataProperty(d.Getter, AttrDefault))
		o.props.Set(SymSet, dataProperty(d.Setter, AttrDefault))
	} else {
		o.props.Set(SymValue, dataProperty(d.Value, AttrDefault))
		o.props.Set(SymWritable, dataProperty(BoolValue(d.Writable == FlagTrue), AttrDefault))
	}
	o.props.Set(SymEnumerable, dataProperty(BoolValue(d.Enumerable == FlagTrue), AttrDefault))
	o.props.Set(SymConfigurable, dataProperty(BoolValue(d.Configurable == FlagTrue), AttrDefault))
	return vm.heap.allocate(o)
}

// defineProperties applies every enumerable descriptor of props to obj.
func (vm *VM) defineProperties(obj, props Value) error {
	if !props.IsObject() {
		return vm.typeError("Property description must be an object: %s", vm.describe(props))
	}
	mark := len(vm.temps)
	defer vm.dropTemps(mark)
	for _, key := range vm.OwnKeys(props, true) {
		vm.temps = append(vm.temps, StringValue(key))
		dv, err := vm.get(props, key, props)
		if err != nil {
			return err
		}
		vm.temps = append(vm.temps, dv)
		desc, err := vm.toPropertyDescriptor(dv)
		if err != nil {
			return err
		}
		if err := vm.DefineOwnProperty(obj, key, desc); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

func (vm *VM) initFunction() {
	proto := vm.intrinsics.functionProto
	vm.defineConstructor("Function", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unrooted{v: Undefined}, vm.ThrowError(ErrorSyntax, "Function constructor is not supported")
	}, proto)

	vm.defineMethod(proto, "call", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if !vm.isCallable(this) {
			return Unrooted{v: Undefined}, vm.typeError("Function.prototype.call called on non-function")
		}
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return vm.Call(this, arg(args, 0), rest...)
	})
	vm.defineMethod(proto, "apply", 2, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if !vm.isCallable(this) {
			return Unrooted{v: Undefined}, vm.typeError("Function.prototype.apply called on non-function")
		}
		list := arg(args, 1)
		var rest []Value
		if !list.IsNullish() {
			k, ok := vm.KindOf(list)
			if !ok || k != KindArray {
				return Unrooted{v: Undefined}, vm.typeError("CreateListFromArrayLike called on non-object")
			}
			lo := vm.heap.get(list)
			rest = make([]Value, lo.arrayLength())
			for i := range rest {
				e, ok := lo.element(uint32(i))
				if !ok {
					e = Undefined
				}
				rest[i] = e
			}
		}
		return vm.Call(this, arg(args, 0), rest...)
	})
	vm.defineMethod(proto, "toString", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if !vm.isCallable(this) {
			return Unrooted{v: Undefined}, vm.typeError("Function.prototype.toString requires that 'this' be a Function")
		}
		fn := vm.heap.get(this).fn
		body := "[native code]"
		if fn.proto != nil {
			body = "[bytecode]"
		}
		return Unrooted{v: vm.newString("function " + vm.Symbols.Resolve(fn.name) + "() { " + body + " }")}, nil
	})
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func (vm *VM) initArray() {
	proto := vm.intrinsics.arrayProto
	ctor := vm.defineConstructor("Array", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if len(args) == 1 && args[0].IsNumber() {
			n := args[0].Number()
			if n < 0 || n != math.Trunc(n) || n > math.MaxUint32 {
				return Unrooted{v: Undefined}, vm.rangeError("Invalid array length")
			}
			arr := vm.newArray(nil)
			vm.resizeArray(vm.heap.get(arr), int(n))
			return Unrooted{v: arr}, nil
		}
		return Unrooted{v: vm.newArray(append([]Value(nil), args...))}, nil
	}, proto)

	vm.defineMethod(ctor, "isArray", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		k, ok := vm.KindOf(arg(args, 0))
		return Unrooted{v: BoolValue(ok && k == KindArray)}, nil
	})

	vm.defineMethod(proto, "join", 1, arrayJoin)
	vm.defineMethod(proto, "toString", 0, arrayJoin)
	vm.defineMethod(proto, "push", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		k, ok := vm.KindOf(this)
		if !ok || k != KindArray {
			return Unrooted{v: Undefined}, vm.typeError("Array.prototype.push called on non-array %s", vm.describe(this))
		}
		o := vm.heap.get(this)
		n := o.arrayLength()
		if len(args) > 0 && !o.extensible {
			return Unrooted{v: Undefined}, vm.typeError("Cannot add property %d, object is not extensible", n)
		}
		if n+len(args) > math.MaxUint32 {
			return Unrooted{v: Undefined}, vm.typeError("Pushing %d elements on an array-like of length %d is disallowed", len(args), n)
		}
		if o.sparse == nil {
			o.elems = append(o.elems, args...)
			return Unrooted{v: IntValue(len(o.elems))}, nil
		}
		for i, v := range args {
			if err := vm.arraySet(o, uint32(n+i), v); err != nil {
				return Unrooted{v: Undefined}, err
			}
		}
		return Unrooted{v: IntValue(o.arrayLength())}, nil
	})
	vm.defineMethod(proto, "pop", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		k, ok := vm.KindOf(this)
		if !ok || k != KindArray {
			return Unrooted{v: Undefined}, vm.typeError("Array.prototype.pop called on non-array %s", vm.describe(this))
		}
		o := vm.heap.get(this)
		n := o.arrayLength()
		if n == 0 {
			return undefinedResult()
		}
		v, err := vm.get(this, vm.Symbols.InternInt(n-1), this)
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		// An inherited getter may have resized the array since n was read.
		vm.arrayDelete(o, uint32(n-1))
		vm.resizeArray(o, n-1)
		return Unrooted{v: v}, nil
	})
}

func arrayJoin(vm *VM, this Value, args []Value) (Unrooted, error) {
	obj, err := vm.ToObject(this)
	if err != nil {
		return Unrooted{v: Undefined}, err
	}
	mark := len(vm.temps)
	vm.temps = append(vm.temps, obj)
	defer vm.dropTemps(mark)

	sep := ","
	if s := arg(args, 0); s != Undefined {
		sym, err := vm.ToString(s)
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		sep = vm.Symbols.Resolve(sym)
	}
	lv, err := vm.get(obj, SymLength, obj)
	if err != nil {
		return Unrooted{v: Undefined}, err
	}
	n, err := vm.ToUint32(lv)
	if err != nil {
		return Unrooted{v: Undefined}, err
	}
	var sb strings.Builder
	for i := 0; i < int(n); i++ {
		if i > 0 {
			sb.WriteString(sep)
		}
		e, err := vm.get(obj, vm.Symbols.InternInt(i), obj)
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		if e.IsNullish() {
			continue
		}
		sym, err := vm.ToString(e)
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		sb.WriteString(vm.Symbols.Resolve(sym))
	}
	return Unrooted{v: vm.newString(sb.String())}, nil
}

// ---------------------------------------------------------------------------
// String, Number, Boolean
// ---------------------------------------------------------------------------

// thisPrimitive unwraps the receiver of a wrapper prototype method.
func (vm *VM) thisPrimitive(this Value, is func(Value) bool, method string) (Value, error) {
	if is(this) {
		return this, nil
	}
	if this.IsObject() {
		if o := vm.heap.get(this); o.kind == KindBoxed && is(o.prim) {
			return o.prim, nil
		}
	}
	return Undefined, vm.typeError("%s requires that 'this' be a %s", method, strings.SplitN(method, ".", 2)[0])
}

// box turns the receiver of a wrapper constructor called with new into a
// boxed primitive.
func (vm *VM) box(this, prim Value) Value {
	o := vm.heap.get(this)
	o.kind = KindBoxed
	o.prim = prim
	return this
}

func (vm *VM) initPrimitiveWrappers() {
	in := vm.intrinsics
	vm.defineConstructor("String", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		s := StringValue(SymEmpty)
		if len(args) > 0 {
			sym, err := vm.ToString(args[0])
			if err != nil {
				return Unrooted{v: Undefined}, err
			}
			s = StringValue(sym)
		}
		if vm.IsConstructCall() {
			return Unrooted{v: vm.box(this, s)}, nil
		}
		return Unrooted{v: s}, nil
	}, in.stringProto)
	stringValue := func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.thisPrimitive(this, Value.IsString, "String.prototype.valueOf")
		return Unrooted{v: v}, err
	}
	vm.defineMethod(in.stringProto, "toString", 0, stringValue)
	vm.defineMethod(in.stringProto, "valueOf", 0, stringValue)

	vm.defineConstructor("Number", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		n := IntValue(0)
		if len(args) > 0 {
			f, err := vm.ToNumber(args[0])
			if err != nil {
				return Unrooted{v: Undefined}, err
			}
			n = NumberValue(f)
		}
		if vm.IsConstructCall() {
			return Unrooted{v: vm.box(this, n)}, nil
		}
		return Unrooted{v: n}, nil
	}, in.numberProto)
	vm.defineMethod(in.numberProto, "toString", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.thisPrimitive(this, Value.IsNumber, "Number.prototype.toString")
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		radix := 10
		if r := arg(args, 0); r != Undefined {
			f, err := vm.ToNumber(r)
			if err != nil {
				return Unrooted{v: Undefined}, err
			}
			if f < 2 || f > 36 {
				return Unrooted{v: Undefined}, vm.rangeError("toString() radix must be between 2 and 36")
			}
			radix = int(f)
		}
		f := v.Number()
		if radix == 10 || math.IsNaN(f) || math.IsInf(f, 0) {
			return Unrooted{v: StringValue(vm.numberToSymbol(f))}, nil
		}
		if f != math.Trunc(f) || math.Abs(f) >= 1<<53 {
			return Unrooted{v: Undefined}, vm.rangeError("toString() with radix %d supports safe integers only", radix)
		}
		return Unrooted{v: vm.newString(strconv.FormatInt(int64(f), radix))}, nil
	})
	vm.defineMethod(in.numberProto, "valueOf", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.thisPrimitive(this, Value.IsNumber, "Number.prototype.valueOf")
		return Unrooted{v: v}, err
	})

	vm.defineConstructor("Boolean", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		b := BoolValue(arg(args, 0).IsTruthy())
		if vm.IsConstructCall() {
			return Unrooted{v: vm.box(this, b)}, nil
		}
		return Unrooted{v: b}, nil
	}, in.booleanProto)
	vm.defineMethod(in.booleanProto, "toString", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.thisPrimitive(this, Value.IsBool, "Boolean.prototype.toString")
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		return Unrooted{v: StringValue(vm.primitiveToString(v))}, nil
	})
	vm.defineMethod(in.booleanProto, "valueOf", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		v, err := vm.thisPrimitive(this, Value.IsBool, "Boolean.prototype.valueOf")
		return Unrooted{v: v}, err
	})
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (vm *VM) initErrors() {
	in := vm.intrinsics
	for _, e := range []struct {
		kind  ErrorKind
		name  Symbol
		proto Value
	}{
		{ErrorPlain, SymError, in.errorProto},
		{ErrorType, SymTypeError, in.typeErrorProto},
		{ErrorRange, SymRangeError, in.rangeErrorProto},
		{ErrorReference, SymReferenceError, in.referenceErrorProto},
		{ErrorSyntax, SymSyntaxError, in.syntaxErrorProto},
	} {
		p := vm.heap.get(e.proto)
		p.props.Set(SymName, dataProperty(StringValue(e.name), AttrHidden))
		p.props.Set(SymMessage, dataProperty(StringValue(SymEmpty), AttrHidden))
		vm.defineConstructor(vm.Symbols.Resolve(e.name), 1, errorConstructor(e.kind), e.proto)
	}

	vm.defineMethod(in.errorProto, "toString", 0, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if !this.IsObject() {
			return Unrooted{v: Undefined}, vm.typeError("Error.prototype.toString called on non-object")
		}
		part := func(key Symbol, def string) (string, error) {
			v, err := vm.get(this, key, this)
			if err != nil || v == Undefined {
				return def, err
			}
			sym, err := vm.ToString(v)
			return vm.Symbols.Resolve(sym), err
		}
		name, err := part(SymName, "Error")
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		msg, err := part(SymMessage, "")
		if err != nil {
			return Unrooted{v: Undefined}, err
		}
		switch {
		case name == "":
			return Unrooted{v: vm.newString(msg)}, nil
		case msg == "":
			return Unrooted{v: vm.newString(name)}, nil
		}
		return Unrooted{v: vm.newString(name + ": " + msg)}, nil
	})
}

// errorConstructor returns the native behind Error and its subtypes. An
// options object with a cause property sets cause on the new error.
func errorConstructor(kind ErrorKind) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Unrooted, error) {
		msg := ""
		if m := arg(args, 0); m != Undefined {
			sym, err := vm.ToString(m)
			if err != nil {
				return Unrooted{v: Undefined}, err
			}
			msg = vm.Symbols.Resolve(sym)
		}
		cause, hasCause := Undefined, false
		if opts := arg(args, 1); opts.IsObject() {
			ok, err := vm.HasProperty(opts, SymCause)
			if err != nil {
				return Unrooted{v: Undefined}, err
			}
			if ok {
				if cause, err = vm.get(opts, SymCause, opts); err != nil {
					return Unrooted{v: Undefined}, err
				}
				hasCause = true
			}
		}

		mark := len(vm.temps)
		vm.temps = append(vm.temps, cause)
		defer vm.dropTemps(mark)
		var v Value
		if vm.IsConstructCall() {
			v = this
			vm.initError(vm.heap.get(v), msg)
		} else {
			v = vm.newError(vm.errorProto(kind), msg)
		}
		if hasCause {
			vm.heap.get(v).props.Set(SymCause, dataProperty(cause, AttrHidden))
		}
		return Unrooted{v: v}, nil
	}
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

func (vm *VM) initGenerator() {
	proto := vm.intrinsics.generatorProto
	for _, m := range []struct {
		name Symbol
		op   intrinsicOp
	}{
		{SymNext, opGeneratorNext},
		{SymReturn, opGeneratorReturn},
		{SymThrow, opGeneratorThrow},
	} {
		f := vm.newIntrinsic(m.name, 1, m.op, Undefined, nil)
		vm.heap.get(proto).props.Set(m.name, dataProperty(f, AttrHidden))
	}
}

// ---------------------------------------------------------------------------
// Promise
// ---------------------------------------------------------------------------

func (vm *VM) initPromise() {
	proto := vm.intrinsics.promiseProto
	ctor := vm.defineConstructor("Promise", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if !vm.IsConstructCall() {
			return Unrooted{v: Undefined}, vm.typeError("Promise constructor cannot be invoked without 'new'")
		}
		executor := arg(args, 0)
		if !vm.isCallable(executor) {
			return Unrooted{v: Undefined}, vm.typeError("Promise resolver %s is not a function", vm.describe(executor))
		}
		o := vm.heap.get(this)
		o.kind = KindPromise
		o.promise = &promise{result: Undefined}

		resolve, reject := vm.resolvingFunctions(this)
		mark := len(vm.temps)
		vm.temps = append(vm.temps, resolve, reject)
		defer vm.dropTemps(mark)
		if _, err := vm.Call(executor, Undefined, resolve, reject); err != nil {
			settled := vm.heap.get(resolve).fn.settled
			if !*settled {
				*settled = true
				if err := vm.rejectWith(this, err); err != nil {
					return Unrooted{v: Undefined}, err
				}
			}
		}
		return Unrooted{v: this}, nil
	}, proto)

	thisPromise := func(vm *VM, this Value, method string) error {
		if !vm.isPromise(this) {
			return vm.typeError("Method Promise.prototype.%s called on incompatible receiver %s", method, vm.describe(this))
		}
		return nil
	}
	callableOrUndefined := func(vm *VM, v Value) Value {
		if vm.isCallable(v) {
			return v
		}
		return Undefined
	}
	vm.defineMethod(proto, "then", 2, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if err := thisPromise(vm, this, "then"); err != nil {
			return Unrooted{v: Undefined}, err
		}
		return Unrooted{v: vm.then(this, callableOrUndefined(vm, arg(args, 0)), callableOrUndefined(vm, arg(args, 1)))}, nil
	})
	vm.defineMethod(proto, "catch", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		if err := thisPromise(vm, this, "catch"); err != nil {
			return Unrooted{v: Undefined}, err
		}
		return Unrooted{v: vm.then(this, Undefined, callableOrUndefined(vm, arg(args, 0)))}, nil
	})

	vm.defineMethod(ctor, "resolve", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		return Unrooted{v: vm.promiseResolve(arg(args, 0))}, nil
	})
	vm.defineMethod(ctor, "reject", 1, func(vm *VM, this Value, args []Value) (Unrooted, error) {
		p := vm.newPromise()
		vm.rejectPromise(p, arg(args, 0))
		return Unrooted{v: p}, nil
	})
}
