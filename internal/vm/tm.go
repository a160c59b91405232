package vm

// tm identifies a metamethod. The order matters: events up to tmEq have an
// absence cache in Table.flags, and the arithmetic events follow ArithOp.
type tm int

const (
	tmIndex tm = iota
	tmNewindex
	tmGC
	tmMode
	tmLen
	tmEq
	tmAdd
	tmSub
	tmMul
	tmMod
	tmPow
	tmDiv
	tmIDiv
	tmBAnd
	tmBOr
	tmBXor
	tmShl
	tmShr
	tmUnm
	tmBNot
	tmLt
	tmLe
	tmConcat
	tmCall
	tmClose

	tmN
)

var tmNames = [tmN]string{
	"__index", "__newindex", "__gc", "__mode", "__len", "__eq",
	"__add", "__sub", "__mul", "__mod", "__pow", "__div", "__idiv",
	"__band", "__bor", "__bxor", "__shl", "__shr", "__unm", "__bnot",
	"__lt", "__le", "__concat", "__call", "__close",
}

// initTM interns the event names and keeps them alive forever.
func (L *State) initTM() {
	g := L.g
	for i, name := range tmNames {
		g.tmName[i] = L.newString(name)
		L.fix(g.tmName[i])
	}
}

// fastTM looks up a cacheable event in metatable mt, remembering absence.
func (g *global) fastTM(mt *Table, e tm) Value {
	if mt.flags&(1<<uint(e)) != 0 {
		return nilValue
	}
	v := mt.getShortStr(g.tmName[e])
	if v.isNil() {
		mt.flags |= 1 << uint(e)
		return nilValue
	}
	return v
}

// fastTMOf is fastTM for a metatable handle, which may be zero.
func (g *global) fastTMOf(mt handle, e tm) Value {
	if mt == 0 {
		return nilValue
	}
	return g.fastTM(g.tbl(mt), e)
}

// metaOf returns the metatable handle of v, zero when it has none.
func (g *global) metaOf(v Value) handle {
	switch v.tt {
	case tagTable:
		return g.tbl(v.handle()).meta
	case tagUserdata:
		return g.udata(v.handle()).meta
	}
	if t := v.tt.base(); t >= 0 && t < numTypes {
		return g.mt[t]
	}
	return 0
}

// metatableOf returns the metatable of v, or nil.
func (g *global) metatableOf(v Value) *Table {
	if h := g.metaOf(v); h != 0 {
		return g.tbl(h)
	}
	return nil
}

// tmByObj returns the metamethod for event e of v, nil if there is none.
func (g *global) tmByObj(v Value, e tm) Value {
	mt := g.metatableOf(v)
	if mt == nil {
		return nilValue
	}
	tmv := mt.getShortStr(g.tmName[e])
	if tmv.isNil() {
		return nilValue
	}
	return tmv
}

// isLuaCode reports whether metamethods called now may yield.
func (ci *callInfo) isLuaCode() bool {
	return ci.callstatus&(cistC|cistHooked) == 0
}

func (L *State) callMeta(fn, nresults int) {
	if L.ci.isLuaCode() {
		L.call(fn, nresults)
	} else {
		L.callNoYield(fn, nresults)
	}
}

// callTM calls f(p1, p2, p3) discarding results.
func (L *State) callTM(f, p1, p2, p3 Value) {
	fn := L.top
	L.stack[fn] = f
	L.stack[fn+1] = p1
	L.stack[fn+2] = p2
	L.stack[fn+3] = p3
	L.top = fn + 4
	L.callMeta(fn, 0)
}

// callTMRes calls f(p1, p2) and returns its first result.
func (L *State) callTMRes(f, p1, p2 Value) Value {
	fn := L.top
	L.stack[fn] = f
	L.stack[fn+1] = p1
	L.stack[fn+2] = p2
	L.top = fn + 3
	L.callMeta(fn, 1)
	L.top--
	return L.stack[L.top]
}

// callBinTM tries the event on either operand.
func (L *State) callBinTM(p1, p2 Value, e tm) (Value, bool) {
	g := L.g
	f := g.tmByObj(p1, e)
	if f.isNil() {
		f = g.tmByObj(p2, e)
	}
	if f.isNil() {
		return nilValue, false
	}
	return L.callTMRes(f, p1, p2), true
}

// tryBinTM resolves an arithmetic event through metamethods or raises the
// matching error.
func (L *State) tryBinTM(p1, p2 Value, e tm) Value {
	if res, ok := L.callBinTM(p1, p2, e); ok {
		return res
	}
	switch e {
	case tmBAnd, tmBOr, tmBXor, tmShl, tmShr, tmBNot:
		if p1.isNumber() && p2.isNumber() {
			L.toIntError(p1, p2)
		}
		L.opIntError(p1, p2, "perform bitwise operation on")
	}
	L.opIntError(p1, p2, "perform arithmetic on")
	return nilValue
}

// callOrderTM resolves __lt or __le.
func (L *State) callOrderTM(p1, p2 Value, e tm) bool {
	if res, ok := L.callBinTM(p1, p2, e); ok {
		return !res.isFalsy()
	}
	L.orderError(p1, p2)
	return false
}
