package vm

import (
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Interner: canonical strings as small integer symbols
// ---------------------------------------------------------------------------

// Symbol is an interned string. Equal strings interned in the same VM always
// map to the same Symbol, so string equality is integer equality.
type Symbol uint32

// InvalidSymbol is never returned by the interner.
const InvalidSymbol Symbol = math.MaxUint32

// notArrayIndex marks a symbol whose string is not a canonical array index.
const notArrayIndex uint32 = math.MaxUint32

// smallIntCount bounds the direct table of integer strings.
const smallIntCount = 1024

type symbolState uint8

const (
	symFree      symbolState = iota // slot available for reuse
	symPermanent                    // well-known and single ASCII characters
	symPinned                       // interned by the host or a constant pool
	symTransient                    // produced at run time; collectable
)

// Interner interns strings to symbols. It is owned by one VM and is not safe
// for concurrent use.
type Interner struct {
	byName    map[string]Symbol
	names     []string
	state     []symbolState
	marks     []bool
	index     []uint32
	free      []Symbol
	smallInts [smallIntCount]Symbol
	live      int
}

// asciiBase is the symbol of the single-character string "\x00".
const asciiBase = Symbol(NumWellKnown)

// NewInterner creates an interner with the well-known symbols and all single
// ASCII character strings preinterned at fixed IDs.
func NewInterner() *Interner {
	in := &Interner{
		byName: make(map[string]Symbol, 512),
		names:  make([]string, 0, 512),
		state:  make([]symbolState, 0, 512),
		marks:  make([]bool, 0, 512),
		index:  make([]uint32, 0, 512),
	}
	for _, name := range wellKnownNames {
		in.add(name, symPermanent)
	}
	for c := 0; c < 128; c++ {
		in.add(string(rune(c)), symPermanent)
	}
	for i := range in.smallInts {
		in.smallInts[i] = InvalidSymbol
	}
	for c := 0; c < 10; c++ {
		in.smallInts[c] = asciiBase + Symbol('0'+c)
	}
	return in
}

func (in *Interner) add(name string, st symbolState) Symbol {
	idx := parseArrayIndex(name)
	if n := len(in.free); n > 0 {
		sym := in.free[n-1]
		in.free = in.free[:n-1]
		in.names[sym] = name
		in.state[sym] = st
		in.marks[sym] = false
		in.index[sym] = idx
		in.byName[name] = sym
		in.live++
		return sym
	}
	sym := Symbol(len(in.names))
	in.names = append(in.names, name)
	in.state = append(in.state, st)
	in.marks = append(in.marks, false)
	in.index = append(in.index, idx)
	in.byName[name] = sym
	in.live++
	return sym
}

// Intern returns the symbol for name, creating it if needed. Symbols created
// or returned through Intern are pinned for the lifetime of the interner.
func (in *Interner) Intern(name string) Symbol {
	if len(name) == 1 && name[0] < 128 {
		return asciiBase + Symbol(name[0])
	}
	if sym, ok := in.byName[name]; ok {
		if in.state[sym] == symTransient {
			in.state[sym] = symPinned
		}
		return sym
	}
	return in.add(name, symPinned)
}

// internTransient interns a string produced at run time. The symbol is
// reclaimed by the collector once no live value refers to it.
func (in *Interner) internTransient(name string) Symbol {
	if len(name) == 1 && name[0] < 128 {
		return asciiBase + Symbol(name[0])
	}
	if sym, ok := in.byName[name]; ok {
		return sym
	}
	return in.add(name, symTransient)
}

// InternInt returns the symbol for the decimal form of n.
func (in *Interner) InternInt(n int) Symbol {
	if n >= 0 && n < smallIntCount {
		sym := in.smallInts[n]
		if sym == InvalidSymbol {
			sym = in.Intern(strconv.Itoa(n))
			in.smallInts[n] = sym
		}
		return sym
	}
	return in.internTransient(strconv.Itoa(n))
}

// Lookup returns the symbol for name without interning it.
func (in *Interner) Lookup(name string) (Symbol, bool) {
	if len(name) == 1 && name[0] < 128 {
		return asciiBase + Symbol(name[0]), true
	}
	sym, ok := in.byName[name]
	return sym, ok
}

// Resolve returns the string for a symbol, or "" if the symbol is invalid.
func (in *Interner) Resolve(sym Symbol) string {
	if int(sym) >= len(in.names) || in.state[sym] == symFree {
		return ""
	}
	return in.names[sym]
}

// ArrayIndex returns the array index a symbol denotes, if any.
func (in *Interner) ArrayIndex(sym Symbol) (uint32, bool) {
	if int(sym) >= len(in.index) {
		return 0, false
	}
	idx := in.index[sym]
	return idx, idx != notArrayIndex
}

// Len returns the number of live symbols.
func (in *Interner) Len() int {
	return in.live
}

// IsPermanent reports whether sym is exempt from collection.
func (in *Interner) IsPermanent(sym Symbol) bool {
	return int(sym) < len(in.state) && in.state[sym] != symTransient && in.state[sym] != symFree
}

// mark records that a transient symbol is reachable in the current cycle.
func (in *Interner) mark(sym Symbol) {
	if int(sym) < len(in.state) && in.state[sym] == symTransient {
		in.marks[sym] = true
	}
}

// sweep frees unmarked transient symbols and clears marks. Permanent and
// pinned symbols are never examined.
func (in *Interner) sweep() int {
	freed := 0
	for i := int(asciiBase) + 128; i < len(in.state); i++ {
		if in.state[i] != symTransient {
			continue
		}
		if in.marks[i] {
			in.marks[i] = false
			continue
		}
		delete(in.byName, in.names[i])
		in.names[i] = ""
		in.state[i] = symFree
		in.index[i] = notArrayIndex
		in.free = append(in.free, Symbol(i))
		in.live--
		freed++
	}
	return freed
}

// parseArrayIndex returns the canonical array index for s, or notArrayIndex.
func parseArrayIndex(s string) uint32 {
	n := len(s)
	if n == 0 || n > 10 {
		return notArrayIndex
	}
	if s[0] == '0' {
		if n == 1 {
			return 0
		}
		return notArrayIndex
	}
	var v uint64
	for i := 0; i < n; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return notArrayIndex
		}
		v = v*10 + uint64(c-'0')
	}
	// 2^32-1 is not a valid index.
	if v >= math.MaxUint32 {
		return notArrayIndex
	}
	return uint32(v)
}
