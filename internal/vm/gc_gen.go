package vm

// Generational mode. Objects age through new, survival and old1 before
// becoming old; minor collections only visit young objects plus old ones
// touched by a barrier.

var nextAge = [...]uint8{
	ageSurvival, // from new
	ageOld1,     // from survival
	ageOld1,     // from old0
	ageOld,      // from old1
	ageOld,      // from old
	ageTouched1, // from touched1
	ageTouched2, // from touched2
}

func (g *global) setMinorDebt() {
	g.setDebt(-(g.totalBytesNow() / 100) * int64(g.genMinorMul))
}

// sweepGen sweeps the young part of a list, from p up to limit, advancing
// survivors' ages. It returns where it stopped.
func (L *State) sweepGen(p *handle, limit handle, pfirstold1 *handle) *handle {
	g := L.g
	white := g.white()
	for *p != limit {
		curr := g.hdr(*p)
		if curr.isWhite() {
			*p = curr.next
			L.freeObj(curr.self)
			continue
		}
		if curr.age() == ageNew {
			curr.marked = curr.marked&^maskGCBits | ageSurvival | white
		} else {
			curr.setAge(nextAge[curr.age()])
			if curr.age() == ageOld1 && *pfirstold1 == 0 {
				*pfirstold1 = curr.self
			}
		}
		p = &curr.next
	}
	return p
}

// sweep2old frees dead objects and makes every survivor old.
func (L *State) sweep2old(p *handle) {
	g := L.g
	for *p != 0 {
		curr := g.hdr(*p)
		if curr.isWhite() {
			*p = curr.next
			L.freeObj(curr.self)
			continue
		}
		curr.setAge(ageOld)
		switch {
		case curr.tt == tagThread:
			g.linkGCList(curr, &g.grayagain) // threads must be watched
		case curr.tt == tagUpval && g.upval(curr.self).open:
			curr.set2gray()
		default:
			curr.nw2black()
		}
		p = &curr.next
	}
}

func (g *global) whiteList(h handle) {
	white := g.white()
	for ; h != 0; h = g.hdr(h).next {
		o := g.hdr(h)
		o.marked = o.marked&^maskGCBits | white
	}
}

// correctGrayList keeps touched objects and threads in a gray list and
// drops everything else.
func (g *global) correctGrayList(p *handle) *handle {
	for *p != 0 {
		curr := g.hdr(*p)
		next := &curr.gclist
		switch {
		case curr.isWhite():
			*p = *next
		case curr.age() == ageTouched1:
			curr.nw2black()
			curr.changeAge(ageTouched1, ageTouched2)
			p = next
		case curr.tt == tagThread:
			p = next
		default:
			if curr.age() == ageTouched2 {
				curr.changeAge(ageTouched2, ageOld)
			}
			curr.nw2black()
			*p = *next
		}
	}
	return p
}

func (g *global) correctGrayLists() {
	list := g.correctGrayList(&g.grayagain)
	*list = g.weak
	g.weak = 0
	list = g.correctGrayList(list)
	*list = g.allweak
	g.allweak = 0
	list = g.correctGrayList(list)
	*list = g.ephemeron
	g.ephemeron = 0
	g.correctGrayList(list)
}

// markOld marks old1 objects of a list segment, which may point to young
// objects.
func (g *global) markOld(from, to handle) {
	for h := from; h != to; h = g.hdr(h).next {
		o := g.hdr(h)
		if o.age() == ageOld1 {
			o.changeAge(ageOld1, ageOld)
			if o.isBlack() {
				g.reallyMark(o)
			}
		}
	}
}

func (L *State) finishGenCycle() {
	g := L.g
	g.correctGrayLists()
	g.gcState = gcsPropagate // skip restart
	if !g.gcEmergency {
		L.callAllPendingFinalizers()
	}
}

// youngCollection is a minor collection.
func (L *State) youngCollection() {
	g := L.g
	if g.firstold1 != 0 {
		g.markOld(g.firstold1, g.reallyold)
		g.firstold1 = 0
	}
	g.markOld(g.finobj, g.finobjrold)
	g.markOld(g.tobefnz, 0)
	L.atomic()

	g.gcState = gcsSwpAllGC
	psurvival := L.sweepGen(&g.allgc, g.survival, &g.firstold1)
	L.sweepGen(psurvival, g.old1, &g.firstold1)
	g.reallyold = g.old1
	g.old1 = *psurvival
	g.survival = g.allgc

	var dummy handle
	psurvival = L.sweepGen(&g.finobj, g.finobjsur, &dummy)
	L.sweepGen(psurvival, g.finobjold1, &dummy)
	g.finobjrold = g.finobjold1
	g.finobjold1 = *psurvival
	g.finobjsur = g.finobj

	L.sweepGen(&g.tobefnz, 0, &dummy)
	L.finishGenCycle()
	g.stats.Minor++
	L.notify("minor")
}

// atomic2gen turns the result of a full mark into an old generation.
func (L *State) atomic2gen() {
	g := L.g
	g.clearGrayLists()
	g.gcState = gcsSwpAllGC
	L.sweep2old(&g.allgc)
	g.reallyold, g.old1, g.survival = g.allgc, g.allgc, g.allgc
	g.firstold1 = 0

	L.sweep2old(&g.finobj)
	g.finobjrold, g.finobjold1, g.finobjsur = g.finobj, g.finobj, g.finobj

	L.sweep2old(&g.tobefnz)

	g.gcKind = kindGen
	g.lastAtomic = 0
	g.gcEstimate = g.totalBytesNow()
	L.finishGenCycle()
}

func (L *State) enterGen() int {
	L.runUntilState(1 << gcsPause)
	L.runUntilState(1 << gcsPropagate)
	n := L.atomic()
	L.atomic2gen()
	L.g.setMinorDebt()
	return n
}

func (g *global) enterInc() {
	g.whiteList(g.allgc)
	g.reallyold, g.old1, g.survival = 0, 0, 0
	g.whiteList(g.finobj)
	g.whiteList(g.tobefnz)
	g.finobjrold, g.finobjold1, g.finobjsur = 0, 0, 0
	g.gcState = gcsPause
	g.gcKind = kindInc
	g.lastAtomic = 0
}

// changeMode switches between incremental and generational collection.
func (L *State) changeMode(mode int) {
	g := L.g
	if mode != g.gcKind {
		if mode == kindGen {
			L.enterGen()
		} else {
			g.enterInc()
		}
		gcLog.Infof("collector switched to %s mode", g.modeName())
	}
	g.lastAtomic = 0
}

// fullGen is a major collection.
func (L *State) fullGen() int {
	L.g.enterInc()
	n := L.enterGen()
	L.g.stats.Major++
	L.notify("major")
	return n
}

// stepGenFull runs after a bad major collection: it stays incremental
// until a collection frees enough.
func (L *State) stepGenFull() {
	g := L.g
	lastAtomic := g.lastAtomic
	if g.gcKind == kindGen {
		g.enterInc()
	}
	L.runUntilState(1 << gcsPropagate)
	newAtomic := int64(L.atomic())
	if newAtomic < lastAtomic+lastAtomic>>3 {
		L.atomic2gen()
		g.setMinorDebt()
		return
	}
	g.gcEstimate = g.totalBytesNow()
	L.enterSweep()
	L.runUntilState(1 << gcsPause)
	g.setPause()
	g.lastAtomic = newAtomic
}

func (L *State) genStep() {
	g := L.g
	if g.lastAtomic != 0 {
		L.stepGenFull()
		return
	}
	majorBase := g.gcEstimate
	majorInc := (majorBase / 100) * int64(g.genMajorMul)
	if g.gcDebt > 0 && g.totalBytesNow() > majorBase+majorInc {
		n := L.fullGen()
		if g.totalBytesNow() >= majorBase+majorInc/2 {
			// bad collection: wait longer for the next major one
			g.lastAtomic = int64(n)
			g.setPause()
		}
		return
	}
	L.youngCollection()
	g.setMinorDebt()
	g.gcEstimate = majorBase
}
