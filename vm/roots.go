package vm

// ---------------------------------------------------------------------------
// Rooting: Unrooted, LocalScope, Handle, Persistent
// ---------------------------------------------------------------------------

// Unrooted is a value that is not guaranteed to survive a collection. It is
// what calls return: root it in a LocalScope (or copy it somewhere the
// collector traces) before the next operation that may allocate.
type Unrooted struct {
	v Value
}

// Unroot wraps v as an Unrooted result.
func Unroot(v Value) Unrooted {
	return Unrooted{v: v}
}

// Value returns the wrapped value. It must not be used after a point where
// a collection could have run.
func (u Unrooted) Value() Value {
	return u.v
}

// Root registers the value in scope s.
func (u Unrooted) Root(s *LocalScope) Handle {
	return s.Root(u)
}

// LocalScope is a stack-discipline root set. Scopes must be closed in the
// reverse order they were opened.
type LocalScope struct {
	vm     *VM
	base   int
	depth  int
	closed bool
}

// OpenScope opens a new LocalScope nested in the current one.
func (vm *VM) OpenScope() *LocalScope {
	s := &LocalScope{vm: vm, base: len(vm.handles), depth: len(vm.scopes)}
	vm.scopes = append(vm.scopes, s)
	return s
}

// Root registers u and returns a handle valid until the scope closes.
func (s *LocalScope) Root(u Unrooted) Handle {
	if s.closed {
		panic("LocalScope.Root: scope is closed")
	}
	if s.depth != len(s.vm.scopes)-1 {
		panic("LocalScope.Root: scope is not the innermost open scope")
	}
	s.vm.handles = append(s.vm.handles, u.v)
	return Handle{scope: s, slot: len(s.vm.handles) - 1}
}

// Close unregisters every handle of the scope. Closing a scope that is not
// the innermost open one panics.
func (s *LocalScope) Close() {
	if s.closed {
		panic("LocalScope.Close: scope already closed")
	}
	vm := s.vm
	if s.depth != len(vm.scopes)-1 || vm.scopes[s.depth] != s {
		panic("LocalScope.Close: scopes must be closed in reverse order")
	}
	for i := s.base; i < len(vm.handles); i++ {
		vm.handles[i] = Undefined
	}
	vm.handles = vm.handles[:s.base]
	vm.scopes[s.depth] = nil
	vm.scopes = vm.scopes[:s.depth]
	s.closed = true
}

// Handle is a rooted reference valid until its LocalScope closes.
type Handle struct {
	scope *LocalScope
	slot  int
}

// Value returns the current value of the handle.
func (h Handle) Value() Value {
	if h.scope == nil || h.scope.closed {
		panic("Handle.Value: scope is closed")
	}
	return h.scope.vm.handles[h.slot]
}

// Set replaces the rooted value.
func (h Handle) Set(v Value) {
	if h.scope == nil || h.scope.closed {
		panic("Handle.Set: scope is closed")
	}
	h.scope.vm.handles[h.slot] = v
}

// IsValid reports whether the handle's scope is still open.
func (h Handle) IsValid() bool {
	return h.scope != nil && !h.scope.closed
}

// Persistent is a root with a host-controlled lifetime.
type Persistent struct {
	vm *VM
	id uint64
}

// Persist creates a Persistent for the handle's value.
func (vm *VM) Persist(h Handle) *Persistent {
	return vm.persistValue(h.Value())
}

func (vm *VM) persistValue(v Value) *Persistent {
	vm.nextPersistent++
	p := &Persistent{vm: vm, id: vm.nextPersistent}
	vm.persistents[p.id] = v
	return p
}

// Value returns the persisted value. It panics after Release.
func (p *Persistent) Value() Value {
	v, ok := p.vm.persistents[p.id]
	if !ok {
		panic("Persistent.Value: released")
	}
	return v
}

// IsReleased reports whether Release has been called.
func (p *Persistent) IsReleased() bool {
	_, ok := p.vm.persistents[p.id]
	return !ok
}

// Release drops the root. Releasing twice is a no-op.
func (p *Persistent) Release() {
	delete(p.vm.persistents, p.id)
}

// NewWeakRef creates a weak reference to the handle's object. finalizer may
// be nil.
func (vm *VM) NewWeakRef(h Handle, finalizer func()) *WeakRef {
	v := h.Value()
	if !v.IsObject() {
		panic("VM.NewWeakRef: not an object")
	}
	return vm.heap.weak.register(v, finalizer)
}

// markRoots reports every root of the VM to the collector.
func (vm *VM) markRoots(m *marker) {
	for _, v := range vm.persistents {
		m.markValue(v)
	}
	for _, v := range vm.handles {
		m.markValue(v)
	}
	for _, v := range vm.temps {
		m.markValue(v)
	}
	m.markValue(vm.global)
	vm.intrinsics.mark(m)
	vm.interp.markRoots(m)
	vm.tasks.mark(m)
}
