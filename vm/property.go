package vm

// ---------------------------------------------------------------------------
// Property attributes and descriptors
// ---------------------------------------------------------------------------

// Attr is a set of property attribute bits.
type Attr uint8

const (
	AttrWritable Attr = 1 << iota
	AttrEnumerable
	AttrConfigurable
	attrAccessor

	// AttrDefault is what plain assignment creates.
	AttrDefault = AttrWritable | AttrEnumerable | AttrConfigurable
	// AttrHidden is writable and configurable but not enumerable.
	AttrHidden = AttrWritable | AttrConfigurable
)

// Property is one slot of a PropertyMap. Data properties use Value; accessor
// properties use Getter and Setter, either of which may be Undefined.
type Property struct {
	Attr   Attr
	Value  Value
	Getter Value
	Setter Value
}

func (p Property) IsAccessor() bool   { return p.Attr&attrAccessor != 0 }
func (p Property) Writable() bool     { return p.Attr&AttrWritable != 0 }
func (p Property) Enumerable() bool   { return p.Attr&AttrEnumerable != 0 }
func (p Property) Configurable() bool { return p.Attr&AttrConfigurable != 0 }

func dataProperty(v Value, attr Attr) Property {
	return Property{Attr: attr &^ attrAccessor, Value: v, Getter: Undefined, Setter: Undefined}
}

func accessorProperty(get, set Value, attr Attr) Property {
	return Property{Attr: (attr &^ AttrWritable) | attrAccessor, Value: Undefined, Getter: get, Setter: set}
}

// Flag is a tri-state descriptor field.
type Flag uint8

const (
	FlagNotSet Flag = iota
	FlagFalse
	FlagTrue
)

// ToFlag converts a bool to a set Flag.
func ToFlag(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// PropertyDescriptor is the argument of DefineOwnProperty. Fields left
// unset keep their current value on redefinition, or default to false (and
// Undefined) when the property is created.
type PropertyDescriptor struct {
	Value  Value
	Getter Value
	Setter Value

	HasValue  bool
	HasGetter bool
	HasSetter bool

	Writable     Flag
	Enumerable   Flag
	Configurable Flag
}

// IsAccessor reports whether the descriptor describes an accessor property.
func (d PropertyDescriptor) IsAccessor() bool {
	return d.HasGetter || d.HasSetter
}

// IsData reports whether the descriptor describes a data property.
func (d PropertyDescriptor) IsData() bool {
	return d.HasValue || d.Writable != FlagNotSet
}

// toProperty builds a fresh property from the descriptor with defaults.
func (d PropertyDescriptor) toProperty() Property {
	var attr Attr
	if d.Enumerable == FlagTrue {
		attr |= AttrEnumerable
	}
	if d.Configurable == FlagTrue {
		attr |= AttrConfigurable
	}
	if d.IsAccessor() {
		get, set := Undefined, Undefined
		if d.HasGetter {
			get = d.Getter
		}
		if d.HasSetter {
			set = d.Setter
		}
		return accessorProperty(get, set, attr)
	}
	if d.Writable == FlagTrue {
		attr |= AttrWritable
	}
	v := Undefined
	if d.HasValue {
		v = d.Value
	}
	return dataProperty(v, attr)
}

// ---------------------------------------------------------------------------
// PropertyMap: insertion-ordered Symbol -> Property
// ---------------------------------------------------------------------------

// indexThreshold is the size above which a PropertyMap builds a hash index.
const indexThreshold = 8

type propEntry struct {
	key  Symbol
	prop Property
	live bool
}

// PropertyMap maps symbols to properties and iterates in the order keys were
// first defined. Redefining a present key keeps its position; deleting a key
// and adding it again moves it to the end.
type PropertyMap struct {
	entries []propEntry
	index   map[Symbol]int
	dead    int
}

// Len returns the number of present properties.
func (m *PropertyMap) Len() int {
	return len(m.entries) - m.dead
}

func (m *PropertyMap) find(key Symbol) int {
	if m.index != nil {
		if i, ok := m.index[key]; ok {
			return i
		}
		return -1
	}
	for i := range m.entries {
		e := &m.entries[i]
		if e.live && e.key == key {
			return i
		}
	}
	return -1
}

// Get returns the property for key.
func (m *PropertyMap) Get(key Symbol) (Property, bool) {
	if i := m.find(key); i >= 0 {
		return m.entries[i].prop, true
	}
	return Property{}, false
}

// ref returns a pointer to the stored property, or nil.
func (m *PropertyMap) ref(key Symbol) *Property {
	if i := m.find(key); i >= 0 {
		return &m.entries[i].prop
	}
	return nil
}

// Set stores a property, keeping the position of an existing key.
func (m *PropertyMap) Set(key Symbol, p Property) {
	if i := m.find(key); i >= 0 {
		m.entries[i].prop = p
		return
	}
	m.entries = append(m.entries, propEntry{key: key, prop: p, live: true})
	if m.index != nil {
		m.index[key] = len(m.entries) - 1
	} else if len(m.entries) > indexThreshold {
		m.reindex()
	}
}

// Delete removes key and reports whether it was present.
func (m *PropertyMap) Delete(key Symbol) bool {
	i := m.find(key)
	if i < 0 {
		return false
	}
	m.entries[i] = propEntry{}
	m.dead++
	if m.index != nil {
		delete(m.index, key)
	}
	if m.dead > len(m.entries)/2 {
		m.compact()
	}
	return true
}

// compact drops deleted entries while preserving order.
func (m *PropertyMap) compact() {
	live := m.entries[:0]
	for _, e := range m.entries {
		if e.live {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(m.entries); i++ {
		m.entries[i] = propEntry{}
	}
	m.entries = live
	m.dead = 0
	if m.index != nil || len(m.entries) > indexThreshold {
		m.reindex()
	}
}

func (m *PropertyMap) reindex() {
	m.index = make(map[Symbol]int, len(m.entries))
	for i, e := range m.entries {
		if e.live {
			m.index[e.key] = i
		}
	}
}

// Range calls fn for each present property in insertion order until fn
// returns false. fn must not modify the map.
func (m *PropertyMap) Range(fn func(key Symbol, p Property) bool) {
	for i := range m.entries {
		e := &m.entries[i]
		if e.live && !fn(e.key, e.prop) {
			return
		}
	}
}

// Keys returns the present keys in insertion order.
func (m *PropertyMap) Keys() []Symbol {
	keys := make([]Symbol, 0, m.Len())
	for _, e := range m.entries {
		if e.live {
			keys = append(keys, e.key)
		}
	}
	return keys
}
