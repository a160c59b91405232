package vm

import (
	"math"
	"strconv"
	"strings"
)

// Float to integer rounding modes.
type f2iMode int

const (
	f2iEq    f2iMode = iota // no rounding; accepts only integral values
	f2iFloor                // takes the floor of the number
	f2iCeil                 // takes the ceiling of the number
)

// floatToInt converts a float to an integer under the given mode.
// It fails when the result is not representable.
func floatToInt(n float64, mode f2iMode) (int64, bool) {
	f := math.Floor(n)
	if n != f {
		switch mode {
		case f2iEq:
			return 0, false
		case f2iCeil:
			f++
		}
	}
	// -2^63 is exact; 2^63 is not representable
	if f >= -9223372036854775808.0 && f < 9223372036854775808.0 {
		return int64(f), true
	}
	return 0, false
}

// toIntegerNS converts a number value to integer without string coercion.
func toIntegerNS(v Value, mode f2iMode) (int64, bool) {
	switch v.tt {
	case tagInt:
		return v.ival(), true
	case tagFloat:
		return floatToInt(v.fval(), mode)
	}
	return 0, false
}

// Number formatting

// formatFloat renders a float the way tostring does: %.14g, with ".0"
// appended when the result looks like an integer.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		if math.Signbit(f) {
			return "-nan"
		}
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if strings.Trim(s, "-0123456789") == "" {
		s += ".0" // looks like an int
	}
	return s
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// numberToString converts a number value to its textual form.
func numberToString(v Value) string {
	if v.isInt() {
		return formatInt(v.ival())
	}
	return formatFloat(v.fval())
}

// Number parsing

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func hexValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// str2int parses a decimal or hexadecimal integer numeral. Decimal
// numerals that overflow are rejected so they can be read as floats;
// hexadecimal ones wrap around.
func str2int(s string) (int64, bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	var a uint64
	empty := true
	if i+1 < len(s) && s[i] == '0' && (s[i+1] == 'x' || s[i+1] == 'X') {
		i += 2
		for ; i < len(s); i++ {
			d, ok := hexValue(s[i])
			if !ok {
				break
			}
			a = a*16 + uint64(d)
			empty = false
		}
	} else {
		const maxBy10 = uint64(math.MaxInt64 / 10)
		const maxLastD = int(math.MaxInt64 % 10)
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			d := int(s[i] - '0')
			if a >= maxBy10 && (a > maxBy10 || d > maxLastD+boolInt(neg)) {
				return 0, false // overflow; let it be read as a float
			}
			a = a*10 + uint64(d)
			empty = false
		}
	}
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if empty || i != len(s) {
		return 0, false
	}
	if neg {
		return int64(0 - a), true
	}
	return int64(a), true
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// str2float parses a decimal or hexadecimal float numeral. "inf" and
// "nan" are not numerals.
func str2float(s string) (float64, bool) {
	t := strings.TrimFunc(s, func(r rune) bool { return r < 128 && isSpace(byte(r)) })
	if t == "" {
		return 0, false
	}
	if strings.ContainsAny(t, "nN") {
		return 0, false // reject 'inf' and 'nan'
	}
	body := t
	if body[0] == '-' || body[0] == '+' {
		body = body[1:]
	}
	if len(body) > 1 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		return strHexFloat(t)
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !(c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, true // overflow gives +-HUGE_VAL like strtod
		}
		return 0, false
	}
	return f, true
}

// strHexFloat reads a hexadecimal numeral with an optional fraction and a
// binary exponent ("0x1.8p3").
func strHexFloat(s string) (float64, bool) {
	i := 0
	neg := false
	if s[i] == '-' || s[i] == '+' {
		neg = s[i] == '-'
		i++
	}
	i += 2 // skip "0x"
	var r float64
	exp := 0
	any := false
	dot := false
	for ; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if dot {
				return 0, false
			}
			dot = true
			continue
		}
		d, ok := hexValue(c)
		if !ok {
			break
		}
		r = r*16 + float64(d)
		if dot {
			exp -= 4
		}
		any = true
	}
	if !any {
		return 0, false
	}
	if i < len(s) && (s[i] == 'p' || s[i] == 'P') {
		i++
		eneg := false
		if i < len(s) && (s[i] == '-' || s[i] == '+') {
			eneg = s[i] == '-'
			i++
		}
		if i >= len(s) || s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		e := 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			if e < 100000 {
				e = e*10 + int(s[i]-'0')
			}
		}
		if eneg {
			e = -e
		}
		exp += e
	}
	if i != len(s) {
		return 0, false
	}
	r = math.Ldexp(r, exp)
	if neg {
		r = -r
	}
	return r, true
}

// str2num converts a numeral to a number value.
func str2num(s string) (Value, bool) {
	if strings.IndexByte(s, 0) >= 0 {
		return nilValue, false
	}
	if i, ok := str2int(s); ok {
		return intValue(i), true
	}
	if f, ok := str2float(s); ok {
		return floatValue(f), true
	}
	return nilValue, false
}

// Raw arithmetic

// Arithmetic and bitwise operators, in metamethod order.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpMod
	OpPow
	OpDiv
	OpIDiv
	OpBAnd
	OpBOr
	OpBXor
	OpShl
	OpShr
	OpUnm
	OpBNot
)

func (op ArithOp) isBitwise() bool {
	return op >= OpBAnd && op <= OpShr || op == OpBNot
}

// intArith applies an integer operation. Division and modulo by zero
// are rejected by the caller.
func intArith(op ArithOp, a, b int64) int64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpMod:
		return intMod(a, b)
	case OpIDiv:
		return intDiv(a, b)
	case OpBAnd:
		return a & b
	case OpBOr:
		return a | b
	case OpBXor:
		return a ^ b
	case OpShl:
		return shiftLeft(a, b)
	case OpShr:
		return shiftLeft(a, -b)
	case OpUnm:
		return 0 - a
	case OpBNot:
		return ^a
	}
	return 0
}

func floatArith(op ArithOp, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		if b == 2 {
			return a * a
		}
		return math.Pow(a, b)
	case OpIDiv:
		return math.Floor(a / b)
	case OpUnm:
		return -a
	case OpMod:
		return floatMod(a, b)
	}
	return 0
}

// intDiv is floor division; the caller rejects a zero divisor.
func intDiv(m, n int64) int64 {
	if uint64(n)+1 <= 1 { // n == 0 or n == -1
		if n == 0 {
			return 0
		}
		return 0 - m // avoid overflow with MinInt64 / -1
	}
	q := m / n
	if (m^n) < 0 && m%n != 0 {
		q--
	}
	return q
}

// intMod is the modulo whose sign follows the divisor.
func intMod(m, n int64) int64 {
	if uint64(n)+1 <= 1 {
		return 0
	}
	r := m % n
	if r != 0 && (r^n) < 0 {
		r += n
	}
	return r
}

func floatMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if (m > 0 && b < 0) || (m < 0 && b > 0) {
		m += b
	}
	return m
}

const numBits = 64

func shiftLeft(x, y int64) int64 {
	if y < 0 {
		if y <= -numBits {
			return 0
		}
		return int64(uint64(x) >> uint64(-y))
	}
	if y >= numBits {
		return 0
	}
	return int64(uint64(x) << uint64(y))
}
