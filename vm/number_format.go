package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru"
)

// numberCacheSize bounds the number-to-string formatting cache.
const numberCacheSize = 512

// numberFormatter formats numbers the way the language prints them and
// remembers recent results.
type numberFormatter struct {
	cache *lru.Cache
}

func newNumberFormatter() *numberFormatter {
	c, err := lru.New(numberCacheSize)
	if err != nil {
		panic(err)
	}
	return &numberFormatter{cache: c}
}

func (nf *numberFormatter) format(f float64) string {
	key := math.Float64bits(f)
	if s, ok := nf.cache.Get(key); ok {
		return s.(string)
	}
	s := FormatNumber(f)
	nf.cache.Add(key, s)
	return s
}

// FormatNumber returns the shortest round-tripping decimal form of f using
// plain notation for magnitudes in [1e-7, 1e21) and exponent notation
// otherwise.
func FormatNumber(f float64) string {
	switch {
	case f != f:
		return "NaN"
	case f == 0:
		return "0"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f < 0:
		return "-" + FormatNumber(-f)
	}
	if f < 1e21 && f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	e := strings.IndexByte(s, 'e')
	digits := strings.Replace(s[:e], ".", "", 1)
	exp, _ := strconv.Atoi(s[e+1:])
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}

	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	mag := strconv.Itoa(abs(n - 1))
	if k == 1 {
		return digits + "e" + sign + mag
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + mag
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func isSpace(r rune) bool {
	return r == '\uFEFF' || (r != '\u0085' && unicode.IsSpace(r))
}

// ParseNumber converts a string to a number: surrounding whitespace is
// ignored, the empty string is 0, 0x/0o/0b prefixes select a radix, and
// anything unparseable is NaN.
func ParseNumber(s string) float64 {
	s = strings.TrimFunc(s, isSpace)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			return parseRadix(s[2:], base)
		}
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && c != '.' && c != 'e' && c != 'E' && c != '+' && c != '-' {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

func parseRadix(s string, base int) float64 {
	if s == "" {
		return math.NaN()
	}
	var f float64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'Z':
			d = int(c-'A') + 10
		default:
			return math.NaN()
		}
		if d >= base {
			return math.NaN()
		}
		f = f*float64(base) + float64(d)
	}
	return f
}

// toInt32 applies the modular integer conversion used by bitwise operators.
func toInt32(f float64) int32 {
	return int32(toUint32(f))
}

func toUint32(f float64) uint32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f >= 0 && f <= math.MaxUint32 {
		return uint32(f)
	}
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}
