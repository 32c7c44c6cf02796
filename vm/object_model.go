package vm

import (
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Object model: lookup, assignment, definition, deletion
// ---------------------------------------------------------------------------

func (vm *VM) isCallable(v Value) bool {
	return v.IsObject() && vm.heap.get(v).kind == KindFunction
}

func (vm *VM) isConstructor(v Value) bool {
	if !v.IsObject() {
		return false
	}
	o := vm.heap.get(v)
	return o.kind == KindFunction && o.fn.ctor
}

// IsCallable reports whether v is a function.
func (vm *VM) IsCallable(v Value) bool {
	return vm.isCallable(v)
}

// KindOf returns the object kind of v. The second result is false for
// primitives.
func (vm *VM) KindOf(v Value) (ObjectKind, bool) {
	if !v.IsObject() {
		return 0, false
	}
	return vm.heap.get(v).kind, true
}

func (vm *VM) protoOfPrimitive(v Value) Value {
	switch {
	case v.IsString():
		return vm.intrinsics.stringProto
	case v.IsNumber():
		return vm.intrinsics.numberProto
	case v.IsBool():
		return vm.intrinsics.booleanProto
	}
	return Null
}

// ownProperty returns the own property for key, including the virtual
// properties of arrays and boxed strings. It never calls getters.
func (vm *VM) ownProperty(o *heapObject, key Symbol) (Property, bool) {
	switch o.kind {
	case KindArray:
		if idx, ok := vm.Symbols.ArrayIndex(key); ok {
			if e, ok := o.element(idx); ok {
				return dataProperty(e, AttrDefault), true
			}
			return Property{}, false
		}
		if key == SymLength {
			return dataProperty(IntValue(o.arrayLength()), AttrWritable), true
		}
	case KindBoxed:
		if o.prim.IsString() {
			if p, ok := vm.stringOwn(o.prim, key); ok {
				return p, true
			}
		}
	}
	return o.props.Get(key)
}

// lookup finds key along the prototype chain of obj. Primitives start at
// their intrinsic prototype; strings first expose length and indexes.
func (vm *VM) lookup(obj Value, key Symbol) (Property, bool, error) {
	cur := obj
	if !cur.IsObject() {
		switch {
		case cur.IsNullish():
			return Property{}, false, vm.typeError("Cannot read properties of %s (reading '%s')",
				vm.Symbols.Resolve(vm.primitiveToString(cur)), vm.Symbols.Resolve(key))
		case cur.IsString():
			if p, ok := vm.stringOwn(cur, key); ok {
				return p, true, nil
			}
		}
		cur = vm.protoOfPrimitive(cur)
	}
	for cur.IsObject() {
		o := vm.heap.get(cur)
		if p, ok := vm.ownProperty(o, key); ok {
			return p, true, nil
		}
		cur = o.proto
	}
	return Property{}, false, nil
}

// get reads a property, calling a getter with receiver as this.
func (vm *VM) get(obj Value, key Symbol, receiver Value) (Value, error) {
	p, ok, err := vm.lookup(obj, key)
	if err != nil || !ok {
		return Undefined, err
	}
	if !p.IsAccessor() {
		return p.Value, nil
	}
	if p.Getter == Undefined {
		return Undefined, nil
	}
	r, err := vm.Call(p.Getter, receiver)
	return r.v, err
}

// GetProperty reads key from obj along the prototype chain. Getters run
// with receiver as this.
func (vm *VM) GetProperty(obj Value, key Symbol, receiver Value) (Unrooted, error) {
	v, err := vm.get(obj, key, receiver)
	return Unrooted{v: v}, err
}

// Get reads a named property of obj.
func (vm *VM) Get(obj Value, name string) (Unrooted, error) {
	return vm.GetProperty(obj, vm.Symbols.Intern(name), obj)
}

type setResult uint8

const (
	setOK setResult = iota
	setCallSetter
	setReadOnly
	setNoSetter
	setNotExtensible
	setPrimitive
)

// prepareSet performs an assignment unless it resolves to a setter, which
// is returned for the caller to invoke with receiver as this.
func (vm *VM) prepareSet(obj Value, key Symbol, val, receiver Value) (setResult, Value, error) {
	cur := obj
	if !cur.IsObject() {
		switch {
		case cur.IsNullish():
			return setPrimitive, Undefined, vm.typeError("Cannot set properties of %s (setting '%s')",
				vm.Symbols.Resolve(vm.primitiveToString(cur)), vm.Symbols.Resolve(key))
		case cur.IsString():
			if _, ok := vm.stringOwn(cur, key); ok {
				return setReadOnly, Undefined, nil
			}
		}
		cur = vm.protoOfPrimitive(cur)
	}
	for cur.IsObject() {
		o := vm.heap.get(cur)
		if p, ok := vm.ownProperty(o, key); ok {
			if p.IsAccessor() {
				if p.Setter == Undefined {
					return setNoSetter, Undefined, nil
				}
				return setCallSetter, p.Setter, nil
			}
			if !p.Writable() {
				return setReadOnly, Undefined, nil
			}
			break
		}
		cur = o.proto
	}

	if !receiver.IsObject() {
		return setPrimitive, Undefined, nil
	}
	r := vm.heap.get(receiver)
	if p, ok := vm.ownProperty(r, key); ok {
		if p.IsAccessor() {
			return setNoSetter, Undefined, nil
		}
		if !p.Writable() {
			return setReadOnly, Undefined, nil
		}
	} else if !r.extensible {
		return setNotExtensible, Undefined, nil
	}
	if err := vm.writeOwn(r, key, val); err != nil {
		return setOK, Undefined, err
	}
	return setOK, Undefined, nil
}

// writeOwn stores a data value on o, creating a default property if absent.
func (vm *VM) writeOwn(o *heapObject, key Symbol, val Value) error {
	if o.kind == KindArray {
		if idx, ok := vm.Symbols.ArrayIndex(key); ok {
			return vm.arraySet(o, idx, val)
		}
		if key == SymLength {
			return vm.setArrayLength(o, val)
		}
	}
	if p := o.props.ref(key); p != nil {
		p.Value = val
		return nil
	}
	o.props.Set(key, dataProperty(val, AttrDefault))
	return nil
}

func (vm *VM) setFailure(res setResult, obj Value, key Symbol) error {
	name := vm.Symbols.Resolve(key)
	switch res {
	case setNoSetter:
		return vm.typeError("Cannot set property %s of %s which has only a getter", name, vm.describe(obj))
	case setNotExtensible:
		return vm.typeError("Cannot add property %s, object is not extensible", name)
	case setPrimitive:
		return vm.typeError("Cannot create property '%s' on %s", name, vm.describe(obj))
	}
	return vm.typeError("Cannot assign to read only property '%s' of %s", name, vm.describe(obj))
}

// SetProperty assigns value to key. Inherited setters run with receiver as
// this; an assignment that cannot be performed is a TypeError.
func (vm *VM) SetProperty(obj Value, key Symbol, value, receiver Value) error {
	res, setter, err := vm.prepareSet(obj, key, value, receiver)
	switch {
	case err != nil:
		return err
	case res == setOK:
		return nil
	case res == setCallSetter:
		_, err := vm.Call(setter, receiver, value)
		return err
	}
	return vm.setFailure(res, obj, key)
}

// Set assigns a named property of obj.
func (vm *VM) Set(obj Value, name string, value Value) error {
	return vm.SetProperty(obj, vm.Symbols.Intern(name), value, obj)
}

// DefineOwnProperty creates or reconfigures an own property. Changes to
// non-configurable properties are validated and rejected with a TypeError.
func (vm *VM) DefineOwnProperty(obj Value, key Symbol, desc PropertyDescriptor) error {
	if !obj.IsObject() {
		return vm.typeError("Object.defineProperty called on non-object")
	}
	if desc.IsAccessor() && (desc.HasValue || desc.Writable != FlagNotSet) {
		return vm.typeError("Invalid property descriptor. Cannot both specify accessors and a value or writable attribute")
	}
	if desc.HasGetter && desc.Getter != Undefined && !vm.isCallable(desc.Getter) {
		return vm.typeError("Getter must be a function: %s", vm.describe(desc.Getter))
	}
	if desc.HasSetter && desc.Setter != Undefined && !vm.isCallable(desc.Setter) {
		return vm.typeError("Setter must be a function: %s", vm.describe(desc.Setter))
	}
	return vm.defineOwn(vm.heap.get(obj), key, desc)
}

// Define creates a data property with the given attributes.
func (vm *VM) Define(obj Value, name string, value Value, attr Attr) error {
	return vm.DefineOwnProperty(obj, vm.Symbols.Intern(name), PropertyDescriptor{
		Value:        value,
		HasValue:     true,
		Writable:     ToFlag(attr&AttrWritable != 0),
		Enumerable:   ToFlag(attr&AttrEnumerable != 0),
		Configurable: ToFlag(attr&AttrConfigurable != 0),
	})
}

func (vm *VM) defineOwn(o *heapObject, key Symbol, desc PropertyDescriptor) error {
	switch o.kind {
	case KindArray:
		if idx, ok := vm.Symbols.ArrayIndex(key); ok {
			return vm.defineElement(o, idx, desc)
		}
		if key == SymLength {
			return vm.defineArrayLength(o, desc)
		}
	case KindBoxed:
		if o.prim.IsString() {
			if cur, ok := vm.stringOwn(o.prim, key); ok {
				if !compatible(cur, desc) {
					return vm.typeError("Cannot redefine property: %s", vm.Symbols.Resolve(key))
				}
				return nil
			}
		}
	}

	cur := o.props.ref(key)
	if cur == nil {
		if !o.extensible {
			return vm.typeError("Cannot define property %s, object is not extensible", vm.Symbols.Resolve(key))
		}
		o.props.Set(key, desc.toProperty())
		return nil
	}
	if !compatible(*cur, desc) {
		return vm.typeError("Cannot redefine property: %s", vm.Symbols.Resolve(key))
	}
	apply(cur, desc)
	return nil
}

// compatible reports whether desc may be applied to the current property.
func compatible(cur Property, d PropertyDescriptor) bool {
	if cur.Configurable() {
		return true
	}
	if d.Configurable == FlagTrue {
		return false
	}
	if d.Enumerable != FlagNotSet && (d.Enumerable == FlagTrue) != cur.Enumerable() {
		return false
	}
	if !d.IsAccessor() && !d.IsData() {
		return true
	}
	if d.IsAccessor() != cur.IsAccessor() {
		return false
	}
	if cur.IsAccessor() {
		return (!d.HasGetter || SameValue(d.Getter, cur.Getter)) &&
			(!d.HasSetter || SameValue(d.Setter, cur.Setter))
	}
	if !cur.Writable() {
		if d.Writable == FlagTrue {
			return false
		}
		if d.HasValue && !SameValue(d.Value, cur.Value) {
			return false
		}
	}
	return true
}

// apply merges desc into p. Converting between data and accessor keeps the
// enumerable and configurable bits.
func apply(p *Property, d PropertyDescriptor) {
	keep := p.Attr & (AttrEnumerable | AttrConfigurable)
	switch {
	case d.IsAccessor() && !p.IsAccessor():
		*p = accessorProperty(Undefined, Undefined, keep)
	case d.IsData() && p.IsAccessor():
		*p = dataProperty(Undefined, keep)
	}
	if d.HasValue {
		p.Value = d.Value
	}
	if d.HasGetter {
		p.Getter = d.Getter
	}
	if d.HasSetter {
		p.Setter = d.Setter
	}
	setBit := func(bit Attr, f Flag) {
		switch f {
		case FlagTrue:
			p.Attr |= bit
		case FlagFalse:
			p.Attr &^= bit
		}
	}
	if !p.IsAccessor() {
		setBit(AttrWritable, d.Writable)
	}
	setBit(AttrEnumerable, d.Enumerable)
	setBit(AttrConfigurable, d.Configurable)
}

// DeleteProperty removes an own property. It reports false, without error,
// when the property is non-configurable.
func (vm *VM) DeleteProperty(obj Value, key Symbol) (bool, error) {
	if !obj.IsObject() {
		if obj.IsNullish() {
			return false, vm.typeError("Cannot convert undefined or null to object")
		}
		if obj.IsString() {
			if _, ok := vm.stringOwn(obj, key); ok {
				return false, nil
			}
		}
		return true, nil
	}
	o := vm.heap.get(obj)
	switch o.kind {
	case KindArray:
		if idx, ok := vm.Symbols.ArrayIndex(key); ok {
			vm.arrayDelete(o, idx)
			return true, nil
		}
		if key == SymLength {
			return false, nil
		}
	case KindBoxed:
		if o.prim.IsString() {
			if _, ok := vm.stringOwn(o.prim, key); ok {
				return false, nil
			}
		}
	}
	p := o.props.ref(key)
	if p == nil {
		return true, nil
	}
	if !p.Configurable() {
		return false, nil
	}
	o.props.Delete(key)
	return true, nil
}

// GetOwnPropertyDescriptor returns the full descriptor of an own property.
func (vm *VM) GetOwnPropertyDescriptor(obj Value, key Symbol) (PropertyDescriptor, bool) {
	var p Property
	var ok bool
	switch {
	case obj.IsObject():
		p, ok = vm.ownProperty(vm.heap.get(obj), key)
	case obj.IsString():
		p, ok = vm.stringOwn(obj, key)
	}
	if !ok {
		return PropertyDescriptor{}, false
	}
	d := PropertyDescriptor{
		Enumerable:   ToFlag(p.Enumerable()),
		Configurable: ToFlag(p.Configurable()),
	}
	if p.IsAccessor() {
		d.Getter, d.HasGetter = p.Getter, true
		d.Setter, d.HasSetter = p.Setter, true
	} else {
		d.Value, d.HasValue = p.Value, true
		d.Writable = ToFlag(p.Writable())
	}
	return d, true
}

// OwnKeys returns the own property keys of obj: array and string indexes
// first, then named properties in definition order. Index symbols above
// the small-integer range are collectable, so callers must not allocate
// while holding the result unless the keys are stored somewhere traced.
func (vm *VM) OwnKeys(obj Value, enumerableOnly bool) []Symbol {
	var keys []Symbol
	if obj.IsString() {
		n := stringLength(vm.Symbols.Resolve(obj.Symbol()))
		for i := 0; i < n; i++ {
			keys = append(keys, vm.Symbols.InternInt(i))
		}
		if !enumerableOnly {
			keys = append(keys, SymLength)
		}
		return keys
	}
	if !obj.IsObject() {
		return nil
	}
	o := vm.heap.get(obj)
	switch o.kind {
	case KindArray:
		for i, e := range o.elems {
			if e != hole {
				keys = append(keys, vm.Symbols.InternInt(i))
			}
		}
		for _, i := range o.sparseIndexes() {
			keys = append(keys, vm.Symbols.InternInt(int(i)))
		}
		if !enumerableOnly {
			keys = append(keys, SymLength)
		}
	case KindBoxed:
		if o.prim.IsString() {
			keys = vm.OwnKeys(o.prim, enumerableOnly)
		}
	}
	o.props.Range(func(key Symbol, p Property) bool {
		if !enumerableOnly || p.Enumerable() {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// HasProperty reports whether key is present on obj or its prototypes.
func (vm *VM) HasProperty(obj Value, key Symbol) (bool, error) {
	if !obj.IsObject() {
		return false, vm.typeError("Cannot use 'in' operator to search for '%s' in %s",
			vm.Symbols.Resolve(key), vm.describe(obj))
	}
	_, ok, err := vm.lookup(obj, key)
	return ok, err
}

// GetPrototypeOf returns the prototype of v. Primitives report their
// intrinsic prototype.
func (vm *VM) GetPrototypeOf(v Value) Value {
	if v.IsObject() {
		return vm.heap.get(v).proto
	}
	return vm.protoOfPrimitive(v)
}

// SetPrototypeOf replaces the prototype of obj. Cycles and changes to
// non-extensible objects are rejected.
func (vm *VM) SetPrototypeOf(obj, proto Value) error {
	if !obj.IsObject() {
		return vm.typeError("Object.setPrototypeOf called on non-object")
	}
	if !proto.IsObject() && proto != Null {
		return vm.typeError("Object prototype may only be an Object or null: %s", vm.describe(proto))
	}
	o := vm.heap.get(obj)
	if o.proto == proto {
		return nil
	}
	if !o.extensible {
		return vm.typeError("%s is not extensible", vm.describe(obj))
	}
	for p := proto; p.IsObject(); p = vm.heap.get(p).proto {
		if p == obj {
			return vm.typeError("Cyclic __proto__ value")
		}
	}
	o.proto = proto
	return nil
}

// PreventExtensions stops new properties from being added to obj.
func (vm *VM) PreventExtensions(obj Value) {
	if obj.IsObject() {
		vm.heap.get(obj).extensible = false
	}
}

// IsExtensible reports whether properties can be added to obj.
func (vm *VM) IsExtensible(obj Value) bool {
	return obj.IsObject() && vm.heap.get(obj).extensible
}

// IsPrototypeOf reports whether proto appears on the prototype chain of v.
func (vm *VM) IsPrototypeOf(proto, v Value) bool {
	if !proto.IsObject() || !v.IsObject() {
		return false
	}
	for p := vm.heap.get(v).proto; p.IsObject(); p = vm.heap.get(p).proto {
		if p == proto {
			return true
		}
	}
	return false
}

// InstanceOf checks whether ctor.prototype is on the prototype chain of v.
func (vm *VM) InstanceOf(v, ctor Value) (bool, error) {
	if !vm.isCallable(ctor) {
		return false, vm.typeError("Right-hand side of 'instanceof' is not callable")
	}
	if !v.IsObject() {
		return false, nil
	}
	proto, err := vm.get(ctor, SymPrototype, ctor)
	if err != nil {
		return false, err
	}
	if !proto.IsObject() {
		return false, vm.typeError("Function has non-object prototype '%s' in instanceof check",
			vm.Symbols.Resolve(vm.primitiveToString(proto)))
	}
	return vm.IsPrototypeOf(proto, v), nil
}

// ---------------------------------------------------------------------------
// Strings as objects
// ---------------------------------------------------------------------------

// stringOwn returns the virtual length and index properties of a string.
func (vm *VM) stringOwn(s Value, key Symbol) (Property, bool) {
	str := vm.Symbols.Resolve(s.Symbol())
	if key == SymLength {
		return dataProperty(IntValue(stringLength(str)), 0), true
	}
	if idx, ok := vm.Symbols.ArrayIndex(key); ok {
		if c, ok := vm.charAt(str, int(idx)); ok {
			return dataProperty(c, AttrEnumerable), true
		}
	}
	return Property{}, false
}

// charAt returns the UTF-16 code unit at idx as a one-unit string. A lone
// surrogate half is reported as U+FFFD.
func (vm *VM) charAt(s string, idx int) (Value, bool) {
	if isASCII(s) {
		if idx >= len(s) {
			return Undefined, false
		}
		return StringValue(asciiBase + Symbol(s[idx])), true
	}
	units := utf16Units(s)
	if idx >= len(units) {
		return Undefined, false
	}
	r := rune(units[idx])
	if utf16.IsSurrogate(r) {
		r = utf8.RuneError
	}
	return vm.newString(string(r)), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// stringLength returns the length of s in UTF-16 code units.
func stringLength(s string) int {
	if isASCII(s) {
		return len(s)
	}
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
