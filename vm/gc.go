package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Mark and sweep
// ---------------------------------------------------------------------------

// marker traverses the object graph with an explicit worklist.
type marker struct {
	h    *Heap
	work []uint32
}

func (m *marker) markValue(v Value) {
	switch {
	case v.IsObject():
		idx := v.objectIndex()
		if int(idx) >= len(m.h.slots) {
			return
		}
		slot := &m.h.slots[idx]
		if slot.obj == nil || slot.gen != v.objectGen() || slot.marked {
			return
		}
		slot.marked = true
		m.work = append(m.work, idx)
	case v.IsString():
		m.h.symbols.mark(v.Symbol())
	}
}

func (m *marker) markSymbol(s Symbol) {
	m.h.symbols.mark(s)
}

func (m *marker) markCells(cells []*Cell) {
	for _, c := range cells {
		if c != nil {
			m.markValue(c.Value)
		}
	}
}

func (m *marker) markSaved(f *savedFrame) {
	if f == nil {
		return
	}
	m.markValue(f.callee)
	m.markValue(f.this)
	m.markCells(f.cells)
	for _, v := range f.slots {
		m.markValue(v)
	}
}

// drain traces objects until the worklist is empty.
func (m *marker) drain() {
	for len(m.work) > 0 {
		idx := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]
		m.trace(m.h.slots[idx].obj)
	}
}

// trace marks the outgoing references of one object. The prototype is an
// ordinary edge: it keeps the prototype alive only as long as the object
// itself is reachable.
func (m *marker) trace(o *heapObject) {
	m.markValue(o.proto)
	for i := range o.props.entries {
		e := &o.props.entries[i]
		if !e.live {
			continue
		}
		m.markSymbol(e.key)
		if e.prop.IsAccessor() {
			m.markValue(e.prop.Getter)
			m.markValue(e.prop.Setter)
		} else {
			m.markValue(e.prop.Value)
		}
	}

	switch o.kind {
	case KindArray:
		for _, v := range o.elems {
			m.markValue(v)
		}
		for _, v := range o.sparse {
			m.markValue(v)
		}
	case KindFunction:
		m.markCells(o.fn.cells)
		m.markValue(o.fn.this)
		m.markValue(o.fn.target)
	case KindBoxed:
		m.markValue(o.prim)
	case KindExternal:
		if t, ok := o.ext.(Tracer); ok {
			t.Trace(m.markValue)
		}
	case KindGenerator:
		m.markSaved(o.gen.frame)
	case KindPromise:
		p := o.promise
		m.markValue(p.result)
		for _, r := range p.reactions {
			m.markValue(r.onFulfilled)
			m.markValue(r.onRejected)
			m.markValue(r.target)
		}
		m.markSaved(p.async)
	case kindForIn:
		m.markValue(o.forIn.target)
		for _, k := range o.forIn.keys {
			m.markSymbol(k)
		}
	}
}

// Collect runs a full mark-and-sweep cycle and returns its statistics.
func (h *Heap) Collect() GCStats {
	if h.collecting {
		return h.Stats()
	}
	h.collecting = true
	start := time.Now()

	m := &marker{h: h, work: make([]uint32, 0, 256)}
	if h.roots != nil {
		h.roots(m)
	}
	for _, obj := range h.inflight {
		m.trace(obj)
	}
	m.drain()

	// Weak references are cleared while mark bits are still valid.
	cleared, finalizers := h.weak.processGC(h)

	freed := 0
	for i := range h.slots {
		slot := &h.slots[i]
		if slot.obj == nil {
			continue
		}
		if slot.marked {
			slot.marked = false
			continue
		}
		slot.obj = nil
		slot.gen++
		if slot.gen != maxGeneration {
			h.free = append(h.free, uint32(i))
		}
		h.live--
		freed++
	}
	symbolsFreed := h.symbols.sweep()

	h.threshold = h.nextThreshold(h.live)
	h.stats.Collections++
	h.stats.Freed = freed
	h.stats.TotalFreed += uint64(freed)
	h.stats.SymbolsFreed = symbolsFreed
	h.stats.WeakCleared = cleared
	h.stats.Duration = time.Since(start)
	h.stats.Timestamp = start
	h.collecting = false

	if h.log.AllowLevel(commonlog.Debug) {
		h.log.Debugf("gc #%d: freed %d objects, %d symbols; live %d; next threshold %d (%s)",
			h.stats.Collections, freed, symbolsFreed, h.live, h.threshold, h.stats.Duration)
	}

	for _, fn := range finalizers {
		fn()
	}
	return h.Stats()
}
