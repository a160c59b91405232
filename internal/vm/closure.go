package vm

// locVar names a register over a range of instructions.
type locVar struct {
	name    string
	reg     int
	startpc int // first active instruction
	endpc   int // first inactive instruction
}

// upvalDesc describes how a closure captures one upvalue.
type upvalDesc struct {
	name    string
	inStack bool // captured from the enclosing function's registers
	idx     int  // register or enclosing upvalue index
}

// Proto is a function prototype produced by the loader.
type Proto struct {
	header
	name        string
	source      string
	numParams   int
	isVararg    bool
	maxStack    int
	code        []Instruction
	lineInfo    []int32
	k           []Value
	p           []handle
	upvals      []upvalDesc
	locVars     []locVar
	lineDefined int
	lastLine    int
	labels      map[int]string // pc -> label, for listings
}

func (p *Proto) memSize() int {
	return sizeProto + len(p.code)*4 + len(p.lineInfo)*4 + len(p.k)*sizeValue +
		len(p.p)*8 + len(p.upvals)*24 + len(p.locVars)*32 + len(p.source)
}

// LuaClosure is an interpreted function: a prototype plus captured upvalues.
type LuaClosure struct {
	header
	p      handle
	upvals []handle
}

func luaClosureSize(n int) int { return sizeLuaClosure + n*8 }

// GoClosure is a host function with its own upvalue values.
type GoClosure struct {
	header
	fn      Function
	upvalue []Value
}

func goClosureSize(n int) int { return sizeGoClosure + n*sizeValue }

// Upval is a captured variable. While open it aliases a stack slot of th;
// once closed it owns the value.
type Upval struct {
	header
	th       *State
	idx      int
	v        Value
	open     bool
	openNext handle
}

func (g *global) newLuaClosure(L *State, p handle, nup int) *LuaClosure {
	cl := &LuaClosure{p: p, upvals: make([]handle, nup)}
	L.newObject(cl, tagLuaClosure, luaClosureSize(nup))
	return cl
}

func (L *State) newGoClosure(fn Function, n int) *GoClosure {
	cl := &GoClosure{fn: fn, upvalue: make([]Value, n)}
	L.newObject(cl, tagGoClosure, goClosureSize(n))
	for i := range cl.upvalue {
		cl.upvalue[i] = nilValue
	}
	return cl
}

// newProto links a filled prototype into the heap. Its constants and
// children may be set afterwards, the sizes of their slices may not.
func (L *State) newProto(p *Proto) handle {
	return L.newObject(p, tagProto, p.memSize())
}

// initUpvals fills a closure with fresh closed upvalues holding nil.
func (L *State) initUpvals(cl *LuaClosure) {
	for i := range cl.upvals {
		uv := &Upval{v: nilValue}
		h := L.newObject(uv, tagUpval, sizeUpval)
		cl.upvals[i] = h
		L.g.objBarrier(cl, h)
	}
}

func (uv *Upval) get() Value {
	if uv.open {
		return uv.th.stack[uv.idx]
	}
	return uv.v
}

func (uv *Upval) set(v Value) {
	if uv.open {
		uv.th.stack[uv.idx] = v
		return
	}
	uv.v = v
}

// findUpval returns the open upvalue for stack slot level, creating it if
// needed. The open list is sorted by decreasing level.
func (L *State) findUpval(level int) handle {
	g := L.g
	pp := &L.openupval
	for *pp != 0 {
		p := g.upval(*pp)
		if p.idx < level {
			break
		}
		if p.idx == level {
			return *pp
		}
		pp = &p.openNext
	}
	return L.newUpval(level, pp)
}

func (L *State) newUpval(level int, prev *handle) handle {
	uv := &Upval{th: L, idx: level, open: true}
	next := *prev
	h := L.newObject(uv, tagUpval, sizeUpval)
	uv.openNext = next
	*prev = h
	if !L.inTwups() {
		L.twups = L.g.twups
		L.g.twups = L
	}
	return h
}

// unlinkUpval removes an open upvalue from its thread's list.
func (g *global) unlinkUpval(uv *Upval) {
	th := uv.th
	pp := &th.openupval
	for *pp != 0 {
		if *pp == uv.self {
			*pp = uv.openNext
			return
		}
		pp = &g.upval(*pp).openNext
	}
}

// closeUpvals closes all open upvalues at or above level.
func (L *State) closeUpvals(level int) {
	g := L.g
	for L.openupval != 0 {
		uv := g.upval(L.openupval)
		if uv.idx < level {
			break
		}
		L.openupval = uv.openNext
		uv.v = L.stack[uv.idx]
		uv.open = false
		uv.th = nil
		if !uv.isWhite() { // neither white nor dead
			uv.nw2black()
			g.barrier(uv, uv.v)
		}
	}
}

// Scope guards

// closeKTop marks a close that happens without an error.
const closeKTop Status = -1

// newTBC registers the value at level as to-be-closed.
func (L *State) newTBC(level int) {
	if L.stack[level].isFalse() {
		return // false does not need to be closed
	}
	L.checkCloseMethod(level)
	L.tbclist = append(L.tbclist, level)
}

func (L *State) checkCloseMethod(level int) {
	if tm := L.g.tmByObj(L.stack[level], tmClose); tm.isNil() {
		name := L.localName(L.ci, level-L.ci.fn)
		if name == "" {
			name = "?"
		}
		L.runError("variable '%s' got a non-closable value", name)
	}
}

// closeFrom closes upvalues and to-be-closed slots at or above level,
// newest first. It returns level re-derived after any stack movement.
func (L *State) closeFrom(level int, status Status, yy bool) int {
	L.closeUpvals(level)
	for n := len(L.tbclist); n > 0 && L.tbclist[n-1] >= level; n = len(L.tbclist) {
		tbc := L.tbclist[n-1]
		L.tbclist = L.tbclist[:n-1]
		L.prepCallCloseMethod(tbc, status, yy)
	}
	return level
}

func (L *State) prepCallCloseMethod(level int, status Status, yy bool) {
	var errobj Value
	if status == closeKTop {
		errobj = nilValue
	} else {
		L.setErrorObj(status, level+1)
		errobj = L.stack[level+1]
	}
	L.callCloseMethod(L.stack[level], errobj, yy)
}

func (L *State) callCloseMethod(obj, errobj Value, yy bool) {
	L.checkStack(3)
	top := L.top
	tm := L.g.tmByObj(obj, tmClose)
	L.stack[top] = tm
	L.stack[top+1] = obj
	L.stack[top+2] = errobj
	L.top = top + 3
	if yy {
		L.call(top, 0)
	} else {
		L.callNoYield(top, 0)
	}
}

func (cl *LuaClosure) value() Value { return gcValue(tagLuaClosure, cl.self) }
func (cl *GoClosure) value() Value  { return gcValue(tagGoClosure, cl.self) }
