package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// Neither describe nor Inspect runs script code: getters are not called and
// constructor names are read from data properties only.

const maxDescribeString = 32

// describe renders v for error messages.
func (vm *VM) describe(v Value) string {
	switch {
	case v.IsString():
		s := vm.Symbols.Resolve(v.Symbol())
		if len(s) > maxDescribeString {
			s = s[:maxDescribeString] + "..."
		}
		return "'" + s + "'"
	case !v.IsObject():
		return vm.Symbols.Resolve(vm.primitiveToString(v))
	}
	o := vm.heap.get(v)
	switch o.kind {
	case KindFunction:
		if name := vm.Symbols.Resolve(o.fn.name); name != "" {
			return "function " + name
		}
		return "function <anonymous>"
	case KindArray:
		return "[object Array]"
	}
	if name := vm.constructorName(v); name != "" {
		return "#<" + name + ">"
	}
	return "#<Object>"
}

// constructorName returns the name of obj's constructor as found through
// its prototype chain.
func (vm *VM) constructorName(obj Value) string {
	for cur := obj; cur.IsObject(); {
		o := vm.heap.get(cur)
		if p, ok := o.props.Get(SymConstructor); ok {
			if p.IsAccessor() || !p.Value.IsObject() {
				return ""
			}
			return vm.dataString(p.Value, SymName)
		}
		cur = o.proto
	}
	return ""
}

// Inspect renders v for display, in the style of a REPL.
func (vm *VM) Inspect(v Value) string {
	var sb strings.Builder
	vm.inspect(&sb, v, 0, nil)
	return sb.String()
}

const maxInspectDepth = 2

func (vm *VM) inspect(sb *strings.Builder, v Value, depth int, seen []Value) {
	if v.IsString() {
		sb.WriteString(strconv.Quote(vm.Symbols.Resolve(v.Symbol())))
		return
	}
	if !v.IsObject() {
		sb.WriteString(vm.Symbols.Resolve(vm.primitiveToString(v)))
		return
	}
	for _, s := range seen {
		if s == v {
			sb.WriteString("[Circular]")
			return
		}
	}
	seen = append(seen, v)

	o := vm.heap.get(v)
	switch o.kind {
	case KindFunction:
		if name := vm.Symbols.Resolve(o.fn.name); name != "" {
			sb.WriteString("[Function: " + name + "]")
		} else {
			sb.WriteString("[Function (anonymous)]")
		}
		return
	case KindError:
		if stack := vm.dataString(v, SymStack); stack != "" {
			sb.WriteString(stack)
			return
		}
		sb.WriteString(vm.dataString(v, SymName))
		if msg := vm.dataString(v, SymMessage); msg != "" {
			sb.WriteString(": " + msg)
		}
		return
	case KindBoxed:
		sb.WriteString("[" + vm.classOf(o.prim) + ": ")
		vm.inspect(sb, o.prim, depth+1, seen)
		sb.WriteString("]")
		return
	case KindExternal:
		sb.WriteString("[External]")
		return
	case KindGenerator:
		sb.WriteString("Object [Generator] {}")
		return
	case KindPromise:
		sb.WriteString("Promise { ")
		switch o.promise.state {
		case PromisePending:
			sb.WriteString("<pending>")
		case PromiseRejected:
			sb.WriteString("<rejected> ")
			vm.inspect(sb, o.promise.result, depth+1, seen)
		default:
			vm.inspect(sb, o.promise.result, depth+1, seen)
		}
		sb.WriteString(" }")
		return
	case KindArray:
		if depth > maxInspectDepth {
			sb.WriteString("[Array]")
			return
		}
		sb.WriteString("[")
		for i, e := range o.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			if e == hole {
				sb.WriteString("<empty>")
				continue
			}
			vm.inspect(sb, e, depth+1, seen)
		}
		if o.sparse != nil {
			vm.inspectSparse(sb, o, depth, seen)
		}
		sb.WriteString("]")
		return
	}

	if depth > maxInspectDepth {
		sb.WriteString("[Object]")
		return
	}
	if len(vm.OwnKeys(v, true)) == 0 {
		sb.WriteString("{}")
		return
	}
	sb.WriteString("{ ")
	first := true
	o.props.Range(func(key Symbol, p Property) bool {
		if !p.Enumerable() {
			return true
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(vm.Symbols.Resolve(key))
		sb.WriteString(": ")
		switch {
		case !p.IsAccessor():
			vm.inspect(sb, p.Value, depth+1, seen)
		case p.Getter != Undefined && p.Setter != Undefined:
			sb.WriteString("[Getter/Setter]")
		case p.Getter != Undefined:
			sb.WriteString("[Getter]")
		default:
			sb.WriteString("[Setter]")
		}
		return true
	})
	sb.WriteString(" }")
}

// inspectSparse writes the elements past the dense prefix, collapsing each
// run of missing indexes into a count.
func (vm *VM) inspectSparse(sb *strings.Builder, o *heapObject, depth int, seen []Value) {
	next := len(o.elems)
	sep := func() {
		if next > 0 {
			sb.WriteString(", ")
		}
	}
	gap := func(to int) {
		if to > next {
			sep()
			sb.WriteString("<" + strconv.Itoa(to-next) + " empty items>")
		}
	}
	for _, i := range o.sparseIndexes() {
		gap(int(i))
		if int(i) > 0 {
			sb.WriteString(", ")
		}
		vm.inspect(sb, o.sparse[i], depth+1, seen)
		next = int(i) + 1
	}
	gap(int(o.length))
}
