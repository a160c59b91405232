package vm

import (
	"math"
	"strings"

	"github.com/funvibe/funlua/internal/config"
)

// Equality

// equalObj compares two values, using __eq for tables and full userdata
// unless raw is set.
func (L *State) equalObj(a, b Value, raw bool) bool {
	g := L.g
	if a.tt != b.tt {
		if a.tt.base() != b.tt.base() {
			return false
		}
		switch a.tt.base() {
		case TypeNil:
			return true
		case TypeNumber:
			i1, ok1 := toIntegerNS(a, f2iEq)
			i2, ok2 := toIntegerNS(b, f2iEq)
			return ok1 && ok2 && i1 == i2
		}
		return false // short and long strings never share contents
	}
	switch a.tt {
	case tagNil, tagEmpty, tagAbsentKey, tagFalse, tagTrue:
		return true
	case tagInt:
		return a.ival() == b.ival()
	case tagFloat:
		return a.fval() == b.fval()
	case tagLightUserdata:
		return a.p == b.p
	case tagLightFunc, tagShortStr:
		return a.n == b.n
	case tagLongStr:
		return g.eqLongStr(a.handle(), b.handle())
	case tagTable, tagUserdata:
		if a.n == b.n {
			return true
		}
		if raw {
			return false
		}
		tm := g.fastTMOf(g.metaOf(a), tmEq)
		if tm.isNil() {
			tm = g.fastTMOf(g.metaOf(b), tmEq)
		}
		if tm.isNil() {
			return false
		}
		return !L.callTMRes(tm, a, b).isFalsy()
	}
	return a.n == b.n
}

func (L *State) rawEqual(a, b Value) bool { return L.equalObj(a, b, true) }

// Ordering

const maxIntFitsFloat = 1 << 53

// intFitsFloat reports whether i converts to a float without loss.
func intFitsFloat(i int64) bool {
	return uint64(i)+maxIntFitsFloat <= 2*maxIntFitsFloat
}

func ltIntFloat(i int64, f float64) bool {
	if intFitsFloat(i) {
		return float64(i) < f
	}
	if fi, ok := floatToInt(f, f2iCeil); ok {
		return i < fi
	}
	return f > 0
}

func leIntFloat(i int64, f float64) bool {
	if intFitsFloat(i) {
		return float64(i) <= f
	}
	if fi, ok := floatToInt(f, f2iFloor); ok {
		return i <= fi
	}
	return f > 0
}

func ltFloatInt(f float64, i int64) bool {
	if intFitsFloat(i) {
		return f < float64(i)
	}
	if fi, ok := floatToInt(f, f2iFloor); ok {
		return fi < i
	}
	return f < 0
}

func leFloatInt(f float64, i int64) bool {
	if intFitsFloat(i) {
		return f <= float64(i)
	}
	if fi, ok := floatToInt(f, f2iCeil); ok {
		return fi <= i
	}
	return f < 0
}

func ltNum(a, b Value) bool {
	if a.isInt() {
		if b.isInt() {
			return a.ival() < b.ival()
		}
		return ltIntFloat(a.ival(), b.fval())
	}
	if b.isFloat() {
		return a.fval() < b.fval()
	}
	return ltFloatInt(a.fval(), b.ival())
}

func leNum(a, b Value) bool {
	if a.isInt() {
		if b.isInt() {
			return a.ival() <= b.ival()
		}
		return leIntFloat(a.ival(), b.fval())
	}
	if b.isFloat() {
		return a.fval() <= b.fval()
	}
	return leFloatInt(a.fval(), b.ival())
}

func (L *State) lessThan(a, b Value) bool {
	if a.isNumber() && b.isNumber() {
		return ltNum(a, b)
	}
	if a.isString() && b.isString() {
		return strings.Compare(L.g.strValue(a), L.g.strValue(b)) < 0
	}
	return L.callOrderTM(a, b, tmLt)
}

func (L *State) lessEqual(a, b Value) bool {
	if a.isNumber() && b.isNumber() {
		return leNum(a, b)
	}
	if a.isString() && b.isString() {
		return strings.Compare(L.g.strValue(a), L.g.strValue(b)) <= 0
	}
	return L.callOrderTM(a, b, tmLe)
}

// Conversions with string coercion

func (g *global) toNumber(v Value) (float64, bool) {
	if f, ok := v.numberValue(); ok {
		return f, true
	}
	if v.isString() {
		if nv, ok := str2num(g.strValue(v)); ok {
			return nv.numberValue()
		}
	}
	return 0, false
}

func (g *global) toInteger(v Value, mode f2iMode) (int64, bool) {
	if v.isString() {
		if nv, ok := str2num(g.strValue(v)); ok {
			v = nv
		}
	}
	return toIntegerNS(v, mode)
}

// toStringAt converts a number at slot i to a string in place. It reports
// false for values that are neither strings nor numbers.
func (L *State) toStringAt(i int) bool {
	v := L.stack[i]
	if v.isString() {
		return true
	}
	if !v.isNumber() {
		return false
	}
	s := L.newStringValue(numberToString(v))
	L.stack[i] = s
	return true
}

// Arithmetic

// rawArith applies op to two numbers. It reports false when an operand is
// not a number, or for bitwise operators not an integral one; strings are
// never coerced here.
func (L *State) rawArith(op ArithOp, a, b Value) (Value, bool) {
	switch {
	case op.isBitwise():
		i1, ok1 := toIntegerNS(a, f2iEq)
		i2, ok2 := toIntegerNS(b, f2iEq)
		if !ok1 || !ok2 {
			return nilValue, false
		}
		return intValue(intArith(op, i1, i2)), true
	case op == OpDiv || op == OpPow:
		f1, ok1 := a.numberValue()
		f2, ok2 := b.numberValue()
		if !ok1 || !ok2 {
			return nilValue, false
		}
		return floatValue(floatArith(op, f1, f2)), true
	case a.isInt() && b.isInt():
		i2 := b.ival()
		if i2 == 0 {
			switch op {
			case OpMod:
				L.runError("attempt to perform 'n%%0'")
			case OpIDiv:
				L.runError("attempt to perform 'n//0'")
			}
		}
		return intValue(intArith(op, a.ival(), i2)), true
	}
	f1, ok1 := a.numberValue()
	f2, ok2 := b.numberValue()
	if !ok1 || !ok2 {
		return nilValue, false
	}
	return floatValue(floatArith(op, f1, f2)), true
}

// arith is rawArith with the metamethod fallback.
func (L *State) arith(op ArithOp, a, b Value) Value {
	if res, ok := L.rawArith(op, a, b); ok {
		return res
	}
	return L.tryBinTM(a, b, tmAdd+tm(op))
}

// Length and concatenation

// objLen returns the length of v, honoring __len.
func (L *State) objLen(v Value) Value {
	g := L.g
	var tm Value
	switch {
	case v.isTable():
		t := g.tbl(v.handle())
		tm = g.fastTMOf(t.meta, tmLen)
		if tm.isNil() {
			return intValue(t.tableLength())
		}
	case v.isString():
		return intValue(int64(len(g.strValue(v))))
	default:
		tm = g.tmByObj(v, tmLen)
		if tm.isNil() {
			L.typeError(v, "get length of")
		}
	}
	return L.callTMRes(tm, v, v)
}

func (L *State) isEmptyStr(i int) bool {
	v := L.stack[i]
	return v.isString() && len(L.g.strValue(v)) == 0
}

// concat joins the total values on top of the stack, leaving the result
// in place of the first one. Runs of strings and numbers are joined in one
// pass; anything else goes through __concat pairwise from the right.
func (L *State) concat(total int) {
	if total == 1 {
		return
	}
	for total > 1 {
		top := L.top
		n := 2
		switch {
		case !(L.stack[top-2].isString() || L.stack[top-2].isNumber()) || !L.toStringAt(top-1):
			p1, p2 := L.stack[top-2], L.stack[top-1]
			res, ok := L.callBinTM(p1, p2, tmConcat)
			if !ok {
				L.concatError(p1, p2)
			}
			L.stack[top-2] = res
		case L.isEmptyStr(top - 1):
			L.toStringAt(top - 2)
		case L.isEmptyStr(top - 2):
			L.stack[top-2] = L.stack[top-1]
		default:
			tl := len(L.g.strValue(L.stack[top-1]))
			for n = 1; n < total && L.toStringAt(top-n-1); n++ {
				l := len(L.g.strValue(L.stack[top-n-1]))
				if l >= math.MaxInt32-tl {
					L.top = top - total
					L.runError("string length overflow")
				}
				tl += l
			}
			var sb strings.Builder
			sb.Grow(tl)
			for i := top - n; i < top; i++ {
				sb.WriteString(L.g.strValue(L.stack[i]))
			}
			s := L.newStringValue(sb.String())
			L.stack[top-n] = s
		}
		total -= n - 1
		L.top -= n - 1
	}
}

// Indexing

// getValue is t[key] with __index resolution.
func (L *State) getValue(t, key Value) Value {
	if t.isTable() {
		if v := L.g.tableGet(L.g.tbl(t.handle()), key); !v.isNil() {
			return v
		}
		return L.finishGet(t, key, true)
	}
	return L.finishGet(t, key, false)
}

// finishGet follows the __index chain once the raw lookup missed.
// isTable reports whether t is a table whose raw slot was empty.
func (L *State) finishGet(t, key Value, isTable bool) Value {
	g := L.g
	for loop := 0; loop < config.MaxTagLoop; loop++ {
		var tm Value
		if !isTable {
			tm = g.tmByObj(t, tmIndex)
			if tm.isNil() {
				L.typeError(t, "index")
			}
		} else {
			tm = g.fastTMOf(g.tbl(t.handle()).meta, tmIndex)
			if tm.isNil() {
				return nilValue
			}
		}
		if tm.isFunction() {
			return L.callTMRes(tm, t, key)
		}
		t = tm
		isTable = t.isTable()
		if isTable {
			if v := g.tableGet(g.tbl(t.handle()), key); !v.isNil() {
				return v
			}
		}
	}
	L.runError("'__index' chain too long; possible loop")
	return nilValue
}

// setValue is t[key] = val with __newindex resolution.
func (L *State) setValue(t, key, val Value) {
	if t.isTable() {
		h := L.g.tbl(t.handle())
		if slot := L.g.tableGet(h, key); !slot.isNil() {
			L.tableSet(h, key, val)
			L.g.barrierBack(h, val)
			return
		}
		L.finishSet(t, key, val, true)
		return
	}
	L.finishSet(t, key, val, false)
}

func (L *State) finishSet(t, key, val Value, isTable bool) {
	g := L.g
	for loop := 0; loop < config.MaxTagLoop; loop++ {
		var tm Value
		if isTable {
			h := g.tbl(t.handle())
			tm = g.fastTMOf(h.meta, tmNewindex)
			if tm.isNil() {
				L.tableSet(h, key, val)
				g.barrierBack(h, val)
				return
			}
		} else {
			tm = g.tmByObj(t, tmNewindex)
			if tm.isNil() {
				L.typeError(t, "index")
			}
		}
		if tm.isFunction() {
			L.callTM(tm, t, key, val)
			return
		}
		t = tm
		isTable = t.isTable()
		if isTable {
			h := g.tbl(t.handle())
			if slot := g.tableGet(h, key); !slot.isNil() {
				L.tableSet(h, key, val)
				g.barrierBack(h, val)
				return
			}
		}
	}
	L.runError("'__newindex' chain too long; possible loop")
}
