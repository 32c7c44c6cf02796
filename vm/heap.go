package vm

import (
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: arena of objects addressed by index and generation
// ---------------------------------------------------------------------------

// GCOptions configures the collector.
type GCOptions struct {
	// MinThreshold is the lowest object count that triggers a collection.
	MinThreshold int
	// GrowthFactor scales the live set after a collection to produce the
	// next threshold.
	GrowthFactor float64
	// MaxObjects caps the live object count; 0 means unlimited. Exceeding
	// it after a full collection is fatal to the VM.
	MaxObjects int
	// Stress collects on every allocation.
	Stress bool
}

// DefaultGCOptions returns the collector defaults.
func DefaultGCOptions() GCOptions {
	return GCOptions{
		MinThreshold: 1024,
		GrowthFactor: 2.0,
	}
}

// GCStats holds statistics about collections.
type GCStats struct {
	Collections  uint64
	Freed        int // objects freed by the last collection
	TotalFreed   uint64
	Live         int
	Threshold    int
	SymbolsFreed int
	WeakCleared  int
	Duration     time.Duration
	Timestamp    time.Time
}

// maxGeneration is the generation of a retired slot. A slot freed for the
// last time is never reused, so generations do not wrap and a stale
// reference can never match a newer object.
const maxGeneration = math.MaxUint16

type heapSlot struct {
	obj    *heapObject
	gen    uint16
	marked bool
}

// Heap owns every object of one VM. Objects are referenced by Values that
// carry an arena index and the slot generation; freeing a slot bumps its
// generation, so stale references are detected on use.
type Heap struct {
	slots     []heapSlot
	free      []uint32
	live      int
	threshold int
	opts      GCOptions

	symbols *Interner
	weak    *weakRegistry
	roots   func(m *marker)

	// inflight holds objects being allocated while a collection runs.
	inflight   []*heapObject
	collecting bool

	stats GCStats
	log   commonlog.Logger
}

func newHeap(opts GCOptions, symbols *Interner, log commonlog.Logger) *Heap {
	if opts.MinThreshold <= 0 {
		opts.MinThreshold = DefaultGCOptions().MinThreshold
	}
	if opts.GrowthFactor < 1 {
		opts.GrowthFactor = DefaultGCOptions().GrowthFactor
	}
	h := &Heap{
		slots:   make([]heapSlot, 0, opts.MinThreshold),
		opts:    opts,
		symbols: symbols,
		weak:    newWeakRegistry(),
		log:     log,
	}
	h.threshold = h.nextThreshold(0)
	return h
}

// allocate places obj in the arena and returns a reference to it. This is a
// collection point: every object not reachable from a root (other than obj
// itself) may be reclaimed before it returns.
func (h *Heap) allocate(obj *heapObject) Value {
	collected := false
	if h.opts.Stress || h.live >= h.threshold {
		h.collectWith(obj)
		collected = true
	}
	if h.opts.MaxObjects > 0 && h.live >= h.opts.MaxObjects {
		if !collected {
			h.collectWith(obj)
		}
		if h.live >= h.opts.MaxObjects {
			h.log.Criticalf("heap exhausted: %d live objects (max %d)", h.live, h.opts.MaxObjects)
			panic(&FatalError{Err: ErrOutOfMemory})
		}
	}

	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		idx = uint32(len(h.slots))
		h.slots = append(h.slots, heapSlot{})
	}
	slot := &h.slots[idx]
	slot.obj = obj
	slot.marked = false
	h.live++
	return objectValue(idx, slot.gen)
}

func (h *Heap) collectWith(obj *heapObject) {
	h.inflight = append(h.inflight, obj)
	h.Collect()
	h.inflight = h.inflight[:len(h.inflight)-1]
}

// get dereferences an object value. A stale or dangling reference means an
// unrooted value was held across a collection point.
func (h *Heap) get(v Value) *heapObject {
	idx := v.objectIndex()
	if int(idx) >= len(h.slots) {
		panic(internalErrorf("dangling object reference #%d", idx))
	}
	slot := &h.slots[idx]
	if slot.obj == nil || slot.gen != v.objectGen() {
		panic(internalErrorf("stale object reference #%d (generation %d, current %d)",
			idx, v.objectGen(), slot.gen))
	}
	return slot.obj
}

// release drops every object and clears the weak references without
// running their finalizers. Outstanding Values become dangling.
func (h *Heap) release() {
	for _, w := range h.weak.refs {
		w.target = Undefined
		w.registry = nil
	}
	h.weak = newWeakRegistry()
	h.slots = nil
	h.free = nil
	h.inflight = nil
	h.live = 0
}

// IsLive reports whether v refers to an object that has not been reclaimed.
// Non-object values are always live. Slots are retired once their
// generation reaches maxGeneration, so a reclaimed object never reads as
// live again.
func (h *Heap) IsLive(v Value) bool {
	if !v.IsObject() {
		return true
	}
	idx := v.objectIndex()
	if int(idx) >= len(h.slots) {
		return false
	}
	slot := &h.slots[idx]
	return slot.obj != nil && slot.gen == v.objectGen()
}

// LiveObjects returns the number of allocated objects.
func (h *Heap) LiveObjects() int {
	return h.live
}

// Threshold returns the object count that triggers the next collection.
func (h *Heap) Threshold() int {
	return h.threshold
}

// Stats returns statistics as of the last collection.
func (h *Heap) Stats() GCStats {
	s := h.stats
	s.Live = h.live
	s.Threshold = h.threshold
	return s
}

// nextThreshold adapts the trigger to the surviving live set.
func (h *Heap) nextThreshold(live int) int {
	t := int(float64(live) * h.opts.GrowthFactor)
	if t < h.opts.MinThreshold {
		t = h.opts.MinThreshold
	}
	if h.opts.MaxObjects > 0 && t > h.opts.MaxObjects {
		t = h.opts.MaxObjects
	}
	return t
}

// Verify walks every live object and reports references to reclaimed
// objects. It does not allocate or collect.
func (h *Heap) Verify() error {
	var result *multierror.Error
	check := func(owner uint32, what string, v Value) {
		if v.IsObject() && !h.IsLive(v) {
			result = multierror.Append(result,
				fmt.Errorf("object #%d: %s refers to reclaimed object #%d", owner, what, v.objectIndex()))
		}
	}
	for i := range h.slots {
		o := h.slots[i].obj
		if o == nil {
			continue
		}
		idx := uint32(i)
		check(idx, "prototype", o.proto)
		o.props.Range(func(key Symbol, p Property) bool {
			name := h.symbols.Resolve(key)
			check(idx, "property "+name, p.Value)
			check(idx, "getter "+name, p.Getter)
			check(idx, "setter "+name, p.Setter)
			return true
		})
		for j, e := range o.elems {
			check(idx, fmt.Sprintf("element %d", j), e)
		}
		for j, e := range o.sparse {
			check(idx, fmt.Sprintf("element %d", j), e)
		}
		if o.fn != nil {
			for j, c := range o.fn.cells {
				check(idx, fmt.Sprintf("capture %d", j), c.Value)
			}
			check(idx, "lexical this", o.fn.this)
			check(idx, "target", o.fn.target)
		}
		check(idx, "primitive", o.prim)
	}
	return result.ErrorOrNil()
}
