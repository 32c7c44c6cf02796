package vm

import (
	"testing"
)

func TestWellKnownSymbolsAreFixed(t *testing.T) {
	a, b := NewInterner(), NewInterner()
	for sym := Symbol(0); sym < NumWellKnown; sym++ {
		name := a.Resolve(sym)
		if got := b.Resolve(sym); got != name {
			t.Errorf("symbol %d: %q vs %q", sym, name, got)
		}
		if got := a.Intern(name); got != sym {
			t.Errorf("Intern(%q) = %d, want %d", name, got, sym)
		}
		if !a.IsPermanent(sym) {
			t.Errorf("well-known symbol %q not permanent", name)
		}
	}
	if a.Resolve(SymPrototype) != "prototype" || a.Resolve(SymEmpty) != "" {
		t.Error("well-known names")
	}
}

func TestInternerASCII(t *testing.T) {
	in := NewInterner()
	for c := 0; c < 128; c++ {
		s := string(rune(c))
		sym := in.Intern(s)
		if sym != asciiBase+Symbol(c) {
			t.Fatalf("Intern(%q) = %d, want %d", s, sym, asciiBase+Symbol(c))
		}
		if in.Resolve(sym) != s {
			t.Fatalf("Resolve(%d) = %q", sym, in.Resolve(sym))
		}
	}
	if sym, ok := in.Lookup("x"); !ok || sym != asciiBase+'x' {
		t.Errorf("Lookup(x) = %d, %v", sym, ok)
	}
}

func TestInternerIdentity(t *testing.T) {
	in := NewInterner()
	a := in.Intern("hello world")
	b := in.Intern("hello " + "world")
	if a != b {
		t.Fatalf("equal strings interned to %d and %d", a, b)
	}
	if in.Intern("hello") == a {
		t.Fatal("distinct strings share a symbol")
	}
	if _, ok := in.Lookup("never interned"); ok {
		t.Error("Lookup found a string that was never interned")
	}
	n := in.Len()
	in.Intern("hello world")
	if in.Len() != n {
		t.Error("re-interning grew the interner")
	}
}

func TestInternInt(t *testing.T) {
	in := NewInterner()
	for _, n := range []int{0, 7, 10, 1023, 1024, 123456, -5} {
		sym := in.InternInt(n)
		want := in.Intern(itoa(n))
		if sym != want {
			t.Errorf("InternInt(%d) = %d, Intern = %d", n, sym, want)
		}
	}
	if in.InternInt(5) != asciiBase+'5' {
		t.Error("single digits use the ASCII symbols")
	}
}

func itoa(n int) string {
	if n < 0 {
		return "-" + itoa(-n)
	}
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}

func TestArrayIndex(t *testing.T) {
	in := NewInterner()
	tests := []struct {
		s     string
		idx   uint32
		valid bool
	}{
		{"0", 0, true},
		{"7", 7, true},
		{"42", 42, true},
		{"4294967294", 4294967294, true},
		{"4294967295", 0, false},
		{"01", 0, false},
		{"-1", 0, false},
		{"1.5", 0, false},
		{"", 0, false},
		{"length", 0, false},
		{"12345678901", 0, false},
	}
	for _, tc := range tests {
		idx, ok := in.ArrayIndex(in.Intern(tc.s))
		if ok != tc.valid || (ok && idx != tc.idx) {
			t.Errorf("ArrayIndex(%q) = %d, %v; want %d, %v", tc.s, idx, ok, tc.idx, tc.valid)
		}
	}
}

// Transient symbols are freed by a sweep unless marked; interning pins them.
func TestInternerSweep(t *testing.T) {
	in := NewInterner()
	gone := in.internTransient("temporary")
	kept := in.internTransient("marked")
	pinned := in.internTransient("pinned later")
	in.Intern("pinned later")

	if in.IsPermanent(gone) {
		t.Fatal("transient symbol reported permanent")
	}
	in.mark(kept)
	if n := in.sweep(); n != 1 {
		t.Fatalf("sweep freed %d symbols, want 1", n)
	}
	if in.Resolve(gone) != "" {
		t.Error("freed symbol still resolves")
	}
	if _, ok := in.Lookup("temporary"); ok {
		t.Error("freed symbol still found by Lookup")
	}
	if in.Resolve(kept) != "marked" || in.Resolve(pinned) != "pinned later" {
		t.Error("live symbols lost")
	}

	// Unmarked on the next cycle, the formerly marked symbol goes too.
	in.sweep()
	if in.Resolve(kept) != "" {
		t.Error("marks were not cleared by the sweep")
	}

	// Freed slots are reused.
	if reused := in.Intern("fresh"); reused != kept && reused != gone {
		t.Errorf("fresh symbol %d did not reuse a freed slot", reused)
	}
}
