package vm

import "slices"

// ---------------------------------------------------------------------------
// Arrays: dense storage with holes, sparse past a large gap
// ---------------------------------------------------------------------------

// maxDenseGap bounds how many holes a write past the end may allocate.
// Beyond it the array switches to sparse mode: elems keeps the dense
// prefix, sparse holds every index at or above len(elems), and length is
// tracked in the object.
const maxDenseGap = 1 << 24

func (vm *VM) newArray(elems []Value) Value {
	o := newObject(KindArray, vm.intrinsics.arrayProto)
	o.elems = elems
	return vm.heap.allocate(o)
}

// NewArray creates an array holding a copy of elems.
func (vm *VM) NewArray(elems ...Value) Unrooted {
	elems = append([]Value(nil), elems...)
	return vm.hostAllocate(func() Value { return vm.newArray(elems) })
}

// ArrayLength returns the length of an array value.
func (vm *VM) ArrayLength(v Value) (int, bool) {
	if !v.IsObject() {
		return 0, false
	}
	o := vm.heap.get(v)
	if o.kind != KindArray {
		return 0, false
	}
	return o.arrayLength(), true
}

// ArrayElement returns element i of an array, reading holes through the
// prototype chain like a property access would.
func (vm *VM) ArrayElement(v Value, i int) (Unrooted, error) {
	return vm.GetProperty(v, vm.Symbols.InternInt(i), v)
}

func (o *heapObject) arrayLength() int {
	if o.sparse != nil {
		return int(o.length)
	}
	return len(o.elems)
}

// element returns the own element at idx; holes report false.
func (o *heapObject) element(idx uint32) (Value, bool) {
	if int64(idx) < int64(len(o.elems)) {
		e := o.elems[idx]
		return e, e != hole
	}
	if o.sparse != nil {
		e, ok := o.sparse[idx]
		return e, ok
	}
	return Undefined, false
}

// sparseIndexes returns the sparse indexes in ascending order.
func (o *heapObject) sparseIndexes() []uint32 {
	if len(o.sparse) == 0 {
		return nil
	}
	idxs := make([]uint32, 0, len(o.sparse))
	for i := range o.sparse {
		idxs = append(idxs, i)
	}
	slices.Sort(idxs)
	return idxs
}

func (vm *VM) arraySet(o *heapObject, idx uint32, v Value) error {
	n := len(o.elems)
	switch {
	case int(idx) < n:
		o.elems[idx] = v
	case o.sparse != nil:
		o.sparse[idx] = v
		if idx >= o.length {
			o.length = idx + 1
		}
	case int(idx) == n:
		o.elems = append(o.elems, v)
	case int(idx)-n > maxDenseGap:
		o.sparse = map[uint32]Value{idx: v}
		o.length = idx + 1
		o.holey = true
	default:
		o.elems = growHoles(o.elems, int(idx)+1)
		o.elems[idx] = v
		o.holey = true
	}
	return nil
}

func (vm *VM) arrayDelete(o *heapObject, idx uint32) {
	switch {
	case int64(idx) < int64(len(o.elems)):
		o.elems[idx] = hole
		o.holey = true
	case o.sparse != nil:
		delete(o.sparse, idx)
	}
}

func (vm *VM) setArrayLength(o *heapObject, v Value) error {
	f, err := vm.ToNumber(v)
	if err != nil {
		return err
	}
	n := toUint32(f)
	if float64(n) != f {
		return vm.rangeError("Invalid array length")
	}
	vm.resizeArray(o, int(n))
	return nil
}

func (vm *VM) resizeArray(o *heapObject, n int) {
	if cur := len(o.elems); n < cur {
		for i := n; i < cur; i++ {
			o.elems[i] = Undefined
		}
		o.elems = o.elems[:n]
	}
	if o.sparse != nil {
		for i := range o.sparse {
			if int(i) >= n {
				delete(o.sparse, i)
			}
		}
		if len(o.sparse) == 0 && n <= len(o.elems) {
			o.sparse = nil
			o.length = 0
			return
		}
		o.length = uint32(n)
		return
	}
	cur := len(o.elems)
	switch {
	case n-cur > maxDenseGap:
		o.sparse = map[uint32]Value{}
		o.length = uint32(n)
		o.holey = true
	case n > cur:
		o.elems = growHoles(o.elems, n)
		o.holey = true
	}
}

func growHoles(elems []Value, n int) []Value {
	for len(elems) < n {
		elems = append(elems, hole)
	}
	return elems
}

// defineElement applies a descriptor to an array index. Elements are always
// plain writable, enumerable, configurable data properties.
func (vm *VM) defineElement(o *heapObject, idx uint32, desc PropertyDescriptor) error {
	cur, exists := o.element(idx)
	plain := func(f Flag) bool {
		return f == FlagTrue || (exists && f == FlagNotSet)
	}
	if desc.IsAccessor() || !plain(desc.Writable) || !plain(desc.Enumerable) || !plain(desc.Configurable) {
		return vm.typeError("Cannot define non-default attributes on array element %d", idx)
	}
	if !exists && !o.extensible {
		return vm.typeError("Cannot define property %d, object is not extensible", idx)
	}
	v := Undefined
	if exists {
		v = cur
	}
	if desc.HasValue {
		v = desc.Value
	}
	return vm.arraySet(o, idx, v)
}

func (vm *VM) defineArrayLength(o *heapObject, desc PropertyDescriptor) error {
	if desc.IsAccessor() || desc.Configurable == FlagTrue || desc.Enumerable == FlagTrue {
		return vm.typeError("Cannot redefine property: length")
	}
	if desc.Writable == FlagFalse {
		return vm.typeError("Cannot make array length read-only")
	}
	if desc.HasValue {
		return vm.setArrayLength(o, desc.Value)
	}
	return nil
}
