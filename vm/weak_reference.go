package vm

// ---------------------------------------------------------------------------
// WeakRef: a reference that doesn't prevent garbage collection
// ---------------------------------------------------------------------------

// WeakRef holds a weak reference to an object. When the target is
// collected the reference is cleared and the finalizer, if any, runs after
// the sweep completes.
type WeakRef struct {
	id        uint64
	target    Value
	finalizer func()
	registry  *weakRegistry
}

// Get returns the target and true, or Undefined and false once the target
// has been collected or the reference released.
func (w *WeakRef) Get() (Value, bool) {
	if w.target == Undefined {
		return Undefined, false
	}
	return w.target, true
}

// IsAlive reports whether the target has not been collected.
func (w *WeakRef) IsAlive() bool {
	return w.target != Undefined
}

// Release unregisters the reference without running its finalizer.
func (w *WeakRef) Release() {
	if w.registry != nil {
		delete(w.registry.refs, w.id)
		w.registry = nil
	}
	w.target = Undefined
}

// weakRegistry tracks all weak references of a heap.
type weakRegistry struct {
	refs map[uint64]*WeakRef
	next uint64
}

func newWeakRegistry() *weakRegistry {
	return &weakRegistry{refs: make(map[uint64]*WeakRef)}
}

func (r *weakRegistry) register(target Value, finalizer func()) *WeakRef {
	r.next++
	w := &WeakRef{id: r.next, target: target, finalizer: finalizer, registry: r}
	r.refs[w.id] = w
	return w
}

// Count returns the number of registered weak references.
func (r *weakRegistry) Count() int {
	return len(r.refs)
}

// processGC clears references whose targets were not marked and returns the
// finalizers to run once the sweep is done.
func (r *weakRegistry) processGC(h *Heap) (int, []func()) {
	cleared := 0
	var finalizers []func()
	for id, w := range r.refs {
		idx := w.target.objectIndex()
		if int(idx) < len(h.slots) {
			slot := &h.slots[idx]
			if slot.obj != nil && slot.gen == w.target.objectGen() && slot.marked {
				continue
			}
		}
		w.target = Undefined
		w.registry = nil
		delete(r.refs, id)
		cleared++
		if w.finalizer != nil {
			finalizers = append(finalizers, w.finalizer)
		}
	}
	return cleared, finalizers
}
