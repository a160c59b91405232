package vm

import (
	"math"
	"strings"
	"time"
)

// Collector states
const (
	gcsPropagate = iota
	gcsEnterAtomic
	gcsAtomic
	gcsSwpAllGC
	gcsSwpFinObj
	gcsSwpToBeFnz
	gcsSwpEnd
	gcsCallFin
	gcsPause
)

var gcStateNames = [...]string{
	"propagate", "enteratomic", "atomic", "swpallgc", "swpfinobj",
	"swptobefnz", "swpend", "callfin", "pause",
}

// Collector kinds
const (
	kindInc = iota
	kindGen
)

// Reasons for the collector to be stopped (bits of gcStp)
const (
	gcStpUsr = 1 << 0 // stopped by the user
	gcStpGC  = 1 << 1 // stopped by itself
	gcStpCls = 1 << 2 // state is closing
)

const (
	gcSweepMax  = 100       // objects swept per sweep step
	gcFinMax    = 10        // finalizers called per step
	gcFinCost   = 50        // work units of one finalizer call
	work2mem    = sizeValue // bytes per work unit
	pauseAdj    = 100
	maxLMem     = math.MaxInt64
	log2MaxLMem = 62
)

// GCStats are cumulative collector counters.
type GCStats struct {
	Cycles      int   `json:"cycles" yaml:"cycles"`
	Minor       int   `json:"minor" yaml:"minor"`
	Major       int   `json:"major" yaml:"major"`
	Full        int   `json:"full" yaml:"full"`
	Emergencies int   `json:"emergencies" yaml:"emergencies"`
	Freed       int64 `json:"freed" yaml:"freed"`
	Finalized   int64 `json:"finalized" yaml:"finalized"`
}

// GCEvent describes the end of a collection.
type GCEvent struct {
	Kind       string    `cbor:"kind" json:"kind"`
	Mode       string    `cbor:"mode" json:"mode"`
	TotalBytes int64     `cbor:"total" json:"total"`
	Estimate   int64     `cbor:"estimate" json:"estimate"`
	Live       int       `cbor:"live" json:"live"`
	Freed      int64     `cbor:"freed" json:"freed"`
	At         time.Time `cbor:"at" json:"at"`
}

// Colors

func (g *global) white() uint8      { return g.currentWhite & whiteBits }
func (g *global) otherWhite() uint8 { return g.currentWhite ^ whiteBits }

// isDead reports an object left white by the last mark phase.
func (g *global) isDead(o *header) bool { return o.marked&g.otherWhite() != 0 }

func (h *header) changeWhite() { h.marked ^= whiteBits }

func (g *global) makeWhite(o *header) {
	o.marked = o.marked&^maskColors | g.white()
}

func (g *global) keepInvariant() bool { return g.gcState <= gcsAtomic }

func (g *global) isSweepPhase() bool {
	return gcsSwpAllGC <= g.gcState && g.gcState <= gcsSwpEnd
}

func (g *global) running() bool { return g.gcStp == 0 }

func (g *global) totalBytesNow() int64 { return g.totalBytes + g.gcDebt }

func (g *global) modeName() string {
	if g.gcKind == kindGen {
		return "generational"
	}
	return "incremental"
}

// Memory accounting

// tryRealloc asks the allocator for a size change. A refused growth is
// retried once after an emergency full collection.
func (g *global) tryRealloc(L *State, osize, nsize int) bool {
	if !g.alloc(g.allocUD, osize, nsize) && nsize > osize {
		if !g.complete || g.gcStopEm || g.gcEmergency {
			return false
		}
		L.fullGC(true)
		if !g.alloc(g.allocUD, osize, nsize) {
			return false
		}
	}
	g.gcDebt += int64(nsize - osize)
	return true
}

// realloc is tryRealloc raising a memory error on refusal.
func (g *global) realloc(L *State, osize, nsize int) {
	if !g.tryRealloc(L, osize, nsize) {
		L.throw(StatusErrMem)
	}
}

func (g *global) free(size int) {
	g.alloc(g.allocUD, size, 0)
	g.gcDebt -= int64(size)
}

// setDebt moves bytes between the base and the debt keeping their sum.
func (g *global) setDebt(debt int64) {
	tb := g.totalBytesNow()
	if debt < tb-maxLMem {
		debt = tb - maxLMem
	}
	g.totalBytes = tb - debt
	g.gcDebt = debt
}

// newObject accounts, colors and links a new collectable object.
func (L *State) newObject(o object, tt Tag, size int) handle {
	g := L.g
	g.realloc(L, 0, size)
	hd := o.gcHeader()
	hd.tt = tt
	hd.marked = g.white()
	h := g.heap.add(o)
	hd.next = g.allgc
	g.allgc = h
	return h
}

// fix moves the newest object out of the collector's reach for good.
func (L *State) fix(h handle) {
	g := L.g
	o := g.hdr(h)
	o.set2gray()
	o.setAge(ageOld)
	g.allgc = o.next
	o.next = g.fixedgc
	g.fixedgc = h
}

// checkGC runs a collection step when the debt is positive.
func (L *State) checkGC() {
	if L.g.gcDebt > 0 {
		L.step()
	}
}

// Barriers

// barrier keeps the invariant after v was stored into object o.
func (g *global) barrier(o object, v Value) {
	if v.collectable() {
		g.objBarrier(o, v.handle())
	}
}

func (g *global) objBarrier(o object, v handle) {
	p := o.gcHeader()
	if !p.isBlack() {
		return
	}
	vo := g.hdr(v)
	if !vo.isWhite() {
		return
	}
	if g.keepInvariant() {
		g.reallyMark(vo)
		if p.isOld() {
			vo.setAge(ageOld0)
		}
	} else if g.gcKind == kindInc {
		g.makeWhite(p)
	}
}

// barrierBack marks a black container gray again after v was stored in it.
func (g *global) barrierBack(o object, v Value) {
	if !v.collectable() {
		return
	}
	p := o.gcHeader()
	if !p.isBlack() || !g.hdr(v.handle()).isWhite() {
		return
	}
	if p.age() == ageTouched2 {
		p.set2gray()
	} else {
		g.linkGCList(p, &g.grayagain)
	}
	if p.isOld() {
		p.setAge(ageTouched1)
	}
}

// Marking

func (g *global) linkGCList(o *header, list *handle) {
	o.gclist = *list
	*list = o.self
	o.set2gray()
}

func (g *global) markValue(v Value) {
	if v.collectable() {
		g.markObject(v.handle())
	}
}

func (g *global) markObject(h handle) {
	if h == 0 {
		return
	}
	if o := g.hdr(h); o.isWhite() {
		g.reallyMark(o)
	}
}

func (g *global) reallyMark(o *header) {
	switch o.tt {
	case tagShortStr, tagLongStr:
		o.set2black()
	case tagUpval:
		uv := g.upval(o.self)
		if uv.open {
			o.set2gray() // open upvalues are kept gray
		} else {
			o.set2black()
		}
		g.markValue(uv.get())
	case tagUserdata:
		u := g.udata(o.self)
		if len(u.uv) == 0 {
			g.markObject(u.meta)
			o.set2black()
			return
		}
		g.linkGCList(o, &g.gray)
	default:
		g.linkGCList(o, &g.gray)
	}
}

func (g *global) markMT() {
	for _, mt := range g.mt {
		g.markObject(mt)
	}
}

func (g *global) markBeingFnz() int {
	count := 0
	for h := g.tobefnz; h != 0; h = g.hdr(h).next {
		count++
		g.markObject(h)
	}
	return count
}

// remarkUpvals marks the values of open upvalues of unmarked threads and
// drops such threads from the twups list.
func (g *global) remarkUpvals() int {
	work := 0
	p := &g.twups
	for *p != nil {
		th := *p
		work++
		if !th.isWhite() && th.openupval != 0 {
			p = &th.twups
			continue
		}
		*p = th.twups
		th.twups = th
		for h := th.openupval; h != 0; {
			uv := g.upval(h)
			work++
			if !uv.isWhite() {
				g.markValue(uv.get())
			}
			h = uv.openNext
		}
	}
	return work
}

func (g *global) clearGrayLists() {
	g.gray, g.grayagain = 0, 0
	g.weak, g.allweak, g.ephemeron = 0, 0, 0
}

func (g *global) restartCollection() {
	g.clearGrayLists()
	g.markObject(g.mainThread.self)
	g.markValue(g.registry)
	g.markMT()
	g.markBeingFnz()
}

// Traversal

// genLink puts a touched object back in grayagain for the next young
// collection, or ages it.
func (g *global) genLink(o *header) {
	switch o.age() {
	case ageTouched1:
		g.linkGCList(o, &g.grayagain)
	case ageTouched2:
		o.changeAge(ageTouched2, ageOld)
	}
}

// isCleared reports whether v is a collectable object not marked (yet).
// Strings are values and are marked on the spot.
func (g *global) isCleared(v Value) bool {
	if !v.collectable() {
		return false
	}
	o := g.hdr(v.handle())
	if v.isString() {
		if o.isWhite() {
			g.reallyMark(o)
		}
		return false
	}
	return o.isWhite()
}

func (g *global) valIsWhite(v Value) bool {
	return v.collectable() && g.hdr(v.handle()).isWhite()
}

func (g *global) traverseWeakValue(t *Table) {
	hasClears := len(t.array) > 0
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.isEmpty() {
			continue
		}
		g.markValue(n.key)
		if !hasClears && g.isCleared(n.val) {
			hasClears = true
		}
	}
	if g.gcState == gcsAtomic && hasClears {
		g.linkGCList(&t.header, &g.weak)
	} else {
		g.linkGCList(&t.header, &g.grayagain)
	}
}

// traverseEphemeron marks values whose keys are marked. inv walks the
// hash part backwards. It reports whether anything was marked.
func (g *global) traverseEphemeron(t *Table, inv bool) bool {
	marked, hasClears, hasWW := false, false, false
	for i := range t.array {
		if v := t.array[i]; g.valIsWhite(v) {
			marked = true
			g.reallyMark(g.hdr(v.handle()))
		}
	}
	nsize := len(t.nodes)
	for i := 0; i < nsize; i++ {
		j := i
		if inv {
			j = nsize - 1 - i
		}
		n := &t.nodes[j]
		switch {
		case n.val.isEmpty():
		case g.isCleared(n.key):
			hasClears = true
			if g.valIsWhite(n.val) {
				hasWW = true
			}
		case g.valIsWhite(n.val):
			marked = true
			g.reallyMark(g.hdr(n.val.handle()))
		}
	}
	switch {
	case g.gcState == gcsPropagate:
		g.linkGCList(&t.header, &g.grayagain)
	case hasWW:
		g.linkGCList(&t.header, &g.ephemeron)
	case hasClears:
		g.linkGCList(&t.header, &g.allweak)
	default:
		g.genLink(&t.header)
	}
	return marked
}

func (g *global) traverseStrongTable(t *Table) {
	for _, v := range t.array {
		g.markValue(v)
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.val.isEmpty() {
			continue
		}
		g.markValue(n.key)
		g.markValue(n.val)
	}
	g.genLink(&t.header)
}

func (g *global) traverseTable(t *Table) int {
	g.markObject(t.meta)
	weakKey, weakValue := false, false
	if t.meta != 0 {
		if mode := g.fastTM(g.tbl(t.meta), tmMode); mode.isString() {
			s := g.strValue(mode)
			weakKey = strings.IndexByte(s, 'k') >= 0
			weakValue = strings.IndexByte(s, 'v') >= 0
		}
	}
	switch {
	case !weakKey && !weakValue:
		g.traverseStrongTable(t)
	case !weakKey:
		g.traverseWeakValue(t)
	case !weakValue:
		g.traverseEphemeron(t, false)
	default:
		g.linkGCList(&t.header, &g.allweak)
	}
	return 1 + len(t.array) + 2*t.hsize
}

func (g *global) traverseUserdata(u *Userdata) int {
	g.markObject(u.meta)
	for _, v := range u.uv {
		g.markValue(v)
	}
	g.genLink(&u.header)
	return 1 + len(u.uv)
}

func (g *global) traverseProto(p *Proto) int {
	for _, v := range p.k {
		g.markValue(v)
	}
	for _, h := range p.p {
		g.markObject(h)
	}
	return 1 + len(p.k) + len(p.p)
}

func (g *global) traverseLuaClosure(cl *LuaClosure) int {
	g.markObject(cl.p)
	for _, uv := range cl.upvals {
		g.markObject(uv)
	}
	return 1 + len(cl.upvals)
}

func (g *global) traverseGoClosure(cl *GoClosure) int {
	for _, v := range cl.upvalue {
		g.markValue(v)
	}
	return 1 + len(cl.upvalue)
}

// traverseThread marks the live part of a stack. Threads are always
// traversed again in the atomic phase, which also clears the dead part.
func (g *global) traverseThread(th *State) int {
	if th.isOld() || g.gcState == gcsPropagate {
		g.linkGCList(&th.header, &g.grayagain)
	}
	if th.stack == nil {
		return 1
	}
	for i := 0; i < th.top; i++ {
		g.markValue(th.stack[i])
	}
	for h := th.openupval; h != 0; h = g.upval(h).openNext {
		g.markObject(h)
	}
	if g.gcState == gcsAtomic {
		for i := th.top; i < len(th.stack); i++ {
			th.stack[i] = nilValue
		}
		if !th.inTwups() && th.openupval != 0 {
			th.twups = g.twups
			g.twups = th
		}
	} else if !g.gcEmergency {
		th.shrinkStack()
	}
	return 1 + th.stackSize()
}

// propagateMark traverses one gray object.
func (g *global) propagateMark() int {
	o := g.hdr(g.gray)
	o.nw2black()
	g.gray = o.gclist
	switch x := g.obj(o.self).(type) {
	case *Table:
		return g.traverseTable(x)
	case *Userdata:
		return g.traverseUserdata(x)
	case *LuaClosure:
		return g.traverseLuaClosure(x)
	case *GoClosure:
		return g.traverseGoClosure(x)
	case *Proto:
		return g.traverseProto(x)
	case *State:
		return g.traverseThread(x)
	}
	return 0
}

func (g *global) propagateAll() int {
	work := 0
	for g.gray != 0 {
		work += g.propagateMark()
	}
	return work
}

// convergeEphemerons traverses ephemeron tables until no more values get
// marked, alternating the direction each round.
func (g *global) convergeEphemerons() {
	dir := false
	for {
		next := g.ephemeron
		g.ephemeron = 0
		changed := false
		for next != 0 {
			t := g.tbl(next)
			next = t.gclist
			t.nw2black()
			if g.traverseEphemeron(t, dir) {
				g.propagateAll()
				changed = true
			}
		}
		dir = !dir
		if !changed {
			return
		}
	}
}

// Weak table clearing

func (g *global) clearByKeys(l handle) {
	for ; l != 0; l = g.hdr(l).gclist {
		t := g.tbl(l)
		for i := range t.nodes {
			n := &t.nodes[i]
			if !n.val.isEmpty() && g.isCleared(n.key) {
				n.val = emptyValue
			}
		}
	}
}

// clearByValues clears entries with collected values from the tables of
// list l up to (not including) f.
func (g *global) clearByValues(l, f handle) {
	for ; l != f; l = g.hdr(l).gclist {
		t := g.tbl(l)
		for i := range t.array {
			if g.isCleared(t.array[i]) {
				t.array[i] = emptyValue
			}
		}
		for i := range t.nodes {
			n := &t.nodes[i]
			if !n.val.isEmpty() && g.isCleared(n.val) {
				n.val = emptyValue
			}
		}
	}
}

// Finalizers

func (g *global) findLast(p *handle) *handle {
	for *p != 0 {
		p = &g.hdr(*p).next
	}
	return p
}

// separateToBeFnz moves unreachable objects with finalizers (all of them
// when all is set) from finobj to the end of tobefnz.
func (g *global) separateToBeFnz(all bool) {
	p := &g.finobj
	lastNext := g.findLast(&g.tobefnz)
	for *p != g.finobjold1 {
		curr := g.hdr(*p)
		if !(curr.isWhite() || all) {
			p = &curr.next
			continue
		}
		if curr.self == g.finobjsur {
			g.finobjsur = curr.next
		}
		*p = curr.next
		curr.next = *lastNext
		*lastNext = curr.self
		lastNext = &curr.next
	}
}

func (g *global) checkPointer(p *handle, o *header) {
	if *p == o.self {
		*p = o.next
	}
}

func (g *global) correctPointers(o *header) {
	g.checkPointer(&g.survival, o)
	g.checkPointer(&g.old1, o)
	g.checkPointer(&g.reallyold, o)
	g.checkPointer(&g.firstold1, o)
}

// checkFinalizer moves an object whose new metatable has __gc from allgc
// to finobj.
func (L *State) checkFinalizer(h handle, mt *Table) {
	g := L.g
	o := g.hdr(h)
	if o.toFinalize() || mt == nil || g.fastTM(mt, tmGC).isNil() || g.gcStp&gcStpCls != 0 {
		return
	}
	if g.isSweepPhase() {
		g.makeWhite(o)
		if g.sweepgc == &o.next {
			g.sweepgc = L.sweepToLive(g.sweepgc)
		}
	} else {
		g.correctPointers(o)
	}
	p := &g.allgc
	for *p != h {
		p = &g.hdr(*p).next
	}
	*p = o.next
	o.next = g.finobj
	g.finobj = h
	o.marked |= 1 << bitFinalized
}

// udata2finalize returns the first object of tobefnz to allgc.
func (g *global) udata2finalize() handle {
	h := g.tobefnz
	o := g.hdr(h)
	g.tobefnz = o.next
	o.next = g.allgc
	g.allgc = h
	o.marked &^= 1 << bitFinalized
	if g.isSweepPhase() {
		g.makeWhite(o)
	} else if o.age() == ageOld1 {
		g.firstold1 = h
	}
	return h
}

// gcTM calls one pending finalizer. Errors become warnings.
func (L *State) gcTM() {
	g := L.g
	h := g.udata2finalize()
	v := gcValue(g.tagOf(h), h)
	tm := g.tmByObj(v, tmGC)
	if tm.isNil() {
		return
	}
	oldAH := L.allowHook
	oldStp := g.gcStp
	g.gcStp |= gcStpGC
	L.allowHook = false
	L.stack[L.top] = tm
	L.stack[L.top+1] = v
	L.top += 2
	L.ci.callstatus |= cistFin
	fn := L.top - 2
	status := L.pcall(func() { L.callNoYield(fn, 0) }, fn, 0)
	L.ci.callstatus &^= cistFin
	L.allowHook = oldAH
	g.gcStp = oldStp
	g.stats.Finalized++
	if status != StatusOK {
		L.warnError("__gc")
		L.top--
	}
}

func (L *State) runAFewFinalizers(n int) int {
	i := 0
	for ; i < n && L.g.tobefnz != 0; i++ {
		L.gcTM()
	}
	return i
}

func (L *State) callAllPendingFinalizers() {
	for L.g.tobefnz != 0 {
		L.gcTM()
	}
}

// Sweeping

// sweepList frees dead objects of a list and whitens the survivors,
// visiting at most countIn objects. It returns where to continue, or nil
// at the end of the list.
func (L *State) sweepList(p *handle, countIn int) (*handle, int) {
	g := L.g
	ow := g.otherWhite()
	white := g.white()
	i := 0
	for ; *p != 0 && i < countIn; i++ {
		curr := g.hdr(*p)
		if curr.marked&ow != 0 {
			*p = curr.next
			L.freeObj(curr.self)
		} else {
			curr.marked = curr.marked&^maskGCBits | white
			p = &curr.next
		}
	}
	if *p == 0 {
		return nil, i
	}
	return p, i
}

// sweepToLive sweeps until p points to a live object.
func (L *State) sweepToLive(p *handle) *handle {
	old := p
	for {
		p, _ = L.sweepList(p, 1)
		if p != old {
			return p
		}
	}
}

func (L *State) enterSweep() {
	g := L.g
	g.gcState = gcsSwpAllGC
	g.sweepgc = L.sweepToLive(&g.allgc)
}

func (L *State) sweepStep(nextState int, nextList *handle) int {
	g := L.g
	if g.sweepgc != nil {
		oldDebt := g.gcDebt
		var count int
		g.sweepgc, count = L.sweepList(g.sweepgc, gcSweepMax)
		g.gcEstimate += g.gcDebt - oldDebt
		return count
	}
	g.gcState = nextState
	g.sweepgc = nextList
	return 0
}

// freeObj releases one object.
func (L *State) freeObj(h handle) {
	g := L.g
	o := g.obj(h)
	switch x := o.(type) {
	case *String:
		if x.tt == tagShortStr {
			g.removeString(x)
		}
	case *Upval:
		if x.open {
			g.unlinkUpval(x)
		}
	case *State:
		g.freeThread(x)
		g.heap.remove(h)
		g.stats.Freed++
		return
	}
	g.free(objectSize(o))
	g.heap.remove(h)
	g.stats.Freed++
}

func (L *State) deleteList(p, limit handle) {
	g := L.g
	for p != limit {
		next := g.hdr(p).next
		L.freeObj(p)
		p = next
	}
}

// freeAllObjects runs every pending finalizer and releases every object
// but the main thread.
func (L *State) freeAllObjects() {
	g := L.g
	g.gcStp = gcStpCls
	L.changeMode(kindInc)
	g.separateToBeFnz(true)
	L.callAllPendingFinalizers()
	L.deleteList(g.allgc, g.mainThread.self)
	g.allgc = g.mainThread.self
	L.deleteList(g.fixedgc, 0)
	g.fixedgc = 0
}

// Incremental collector

func (L *State) atomic() int {
	g := L.g
	work := 0
	grayagain := g.grayagain
	g.grayagain = 0
	g.gcState = gcsAtomic
	g.markObject(L.self)
	g.markValue(g.registry)
	g.markMT()
	work += g.propagateAll()
	work += g.remarkUpvals()
	work += g.propagateAll()
	g.gray = grayagain
	work += g.propagateAll()
	g.convergeEphemerons()
	// all strongly reachable objects are marked
	g.clearByValues(g.weak, 0)
	g.clearByValues(g.allweak, 0)
	origWeak, origAll := g.weak, g.allweak
	g.separateToBeFnz(false)
	work += g.markBeingFnz()
	work += g.propagateAll()
	g.convergeEphemerons()
	// all resurrected objects are marked
	g.clearByKeys(g.ephemeron)
	g.clearByKeys(g.allweak)
	g.clearByValues(g.weak, origWeak)
	g.clearByValues(g.allweak, origAll)
	g.currentWhite = g.otherWhite()
	return work
}

// setPause schedules the next cycle once memory grows by the pause factor.
func (g *global) setPause() {
	pause := int64(g.gcPause)
	estimate := g.gcEstimate / pauseAdj
	if estimate <= 0 {
		estimate = 1
	}
	threshold := int64(maxLMem)
	if pause < maxLMem/estimate {
		threshold = estimate * pause
	}
	debt := g.totalBytesNow() - threshold
	if debt > 0 {
		debt = 0
	}
	g.setDebt(debt)
}

// singleStep performs one step of the incremental state machine and
// returns the work done.
func (L *State) singleStep() int {
	g := L.g
	g.gcStopEm = true
	defer func() { g.gcStopEm = false }()
	var work int
	switch g.gcState {
	case gcsPause:
		g.restartCollection()
		g.gcState = gcsPropagate
		work = 1
	case gcsPropagate:
		if g.gray == 0 {
			g.gcState = gcsEnterAtomic
		} else {
			work = g.propagateMark()
		}
	case gcsEnterAtomic:
		work = L.atomic()
		L.enterSweep()
		g.gcEstimate = g.totalBytesNow()
	case gcsSwpAllGC:
		work = L.sweepStep(gcsSwpFinObj, &g.finobj)
	case gcsSwpFinObj:
		work = L.sweepStep(gcsSwpToBeFnz, &g.tobefnz)
	case gcsSwpToBeFnz:
		work = L.sweepStep(gcsSwpEnd, nil)
	case gcsSwpEnd:
		g.gcState = gcsCallFin
	case gcsCallFin:
		if g.tobefnz != 0 && !g.gcEmergency {
			g.gcStopEm = false
			work = L.runAFewFinalizers(gcFinMax) * gcFinCost
		} else {
			g.gcState = gcsPause
			g.stats.Cycles++
			L.notify("cycle")
		}
	}
	return work
}

// runUntilState steps the collector until it reaches one of the states in
// mask.
func (L *State) runUntilState(mask uint) {
	for mask&(1<<uint(L.g.gcState)) == 0 {
		L.singleStep()
	}
}

func (L *State) incStep() {
	g := L.g
	stepMul := int64(g.gcStepMul | 1)
	debt := (g.gcDebt / work2mem) * stepMul
	stepSize := int64(maxLMem)
	if g.gcStepSize <= log2MaxLMem {
		stepSize = ((int64(1) << g.gcStepSize) / work2mem) * stepMul
	}
	for {
		debt -= int64(L.singleStep())
		if debt <= -stepSize || g.gcState == gcsPause {
			break
		}
	}
	if g.gcState == gcsPause {
		g.setPause()
	} else {
		g.setDebt((debt / stepMul) * work2mem)
	}
}

// step is one unit of collector work triggered by allocation debt.
func (L *State) step() {
	g := L.g
	if !g.running() {
		g.setDebt(-2000)
		return
	}
	if g.gcKind == kindGen || g.lastAtomic != 0 {
		L.genStep()
	} else {
		L.incStep()
	}
}

func (L *State) fullInc() {
	g := L.g
	if g.keepInvariant() {
		L.enterSweep()
	}
	L.runUntilState(1 << gcsPause)
	L.runUntilState(1 << gcsCallFin)
	L.runUntilState(1 << gcsPause)
	g.setPause()
}

// fullGC performs a complete collection. An emergency collection runs no
// finalizers.
func (L *State) fullGC(emergency bool) {
	g := L.g
	g.gcEmergency = emergency
	if emergency {
		g.stats.Emergencies++
		gcLog.Warningf("emergency collection, %d bytes in use", g.totalBytesNow())
	}
	if g.gcKind == kindInc {
		L.fullInc()
	} else {
		L.fullGen()
	}
	g.gcEmergency = false
	g.stats.Full++
	L.notify("full")
}

// notify reports the end of a collection to the log and the observer.
func (L *State) notify(kind string) {
	g := L.g
	gcLog.Debugf("%s collection done: %d bytes, %d objects", kind, g.totalBytesNow(), g.heap.live)
	if g.observer == nil {
		return
	}
	g.observer(GCEvent{
		Kind:       kind,
		Mode:       g.modeName(),
		TotalBytes: g.totalBytesNow(),
		Estimate:   g.gcEstimate,
		Live:       g.heap.live,
		Freed:      g.stats.Freed,
		At:         time.Now(),
	})
}
