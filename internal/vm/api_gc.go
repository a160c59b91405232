package vm

// GCOption selects the collector operation done by GC.
type GCOption int

const (
	GCStop GCOption = iota
	GCRestart
	GCCollect
	GCCount
	GCCountB
	GCStep
	GCSetPause
	GCSetStepMul
	_
	GCIsRunning
	GCGen
	GCInc
)

func gcArg(args []int, i int) int {
	if i < len(args) {
		return args[i]
	}
	return 0
}

// GC controls the collector:
//
//	GCStop, GCRestart         stop and restart automatic collection
//	GCCollect                 run a full cycle
//	GCCount, GCCountB         memory in use, in KB and the remainder in bytes
//	GCStep [kb]               run a basic step, or add kb to the debt; 1 at the end of a cycle
//	GCSetPause, GCSetStepMul  set a parameter, returning the previous value
//	GCIsRunning               1 when automatic collection is running
//	GCGen [minor, major]      switch to generational mode
//	GCInc [pause, mul, size]  switch to incremental mode
//
// GCGen and GCInc return the previous mode as GCGen or GCInc. Zero
// arguments keep the current values. Every option returns -1 while the
// collector is stopped internally, and for an unknown option.
func (L *State) GC(what GCOption, args ...int) int {
	L.lock()
	defer L.unlock()
	g := L.g
	if g.gcStp&gcStpGC != 0 {
		return -1
	}
	res := 0
	switch what {
	case GCStop:
		g.gcStp = gcStpUsr
	case GCRestart:
		g.setDebt(0)
		g.gcStp = 0
	case GCCollect:
		L.fullGC(false)
	case GCCount:
		res = int(g.totalBytesNow() >> 10)
	case GCCountB:
		res = int(g.totalBytesNow() & 0x3ff)
	case GCStep:
		data := gcArg(args, 0)
		debt := int64(1)
		oldStp := g.gcStp
		g.gcStp = 0
		if data == 0 {
			g.setDebt(0)
			L.step()
		} else {
			debt = int64(data)*1024 + g.gcDebt
			g.setDebt(debt)
			L.checkGC()
		}
		g.gcStp = oldStp
		if debt > 0 && g.gcState == gcsPause {
			res = 1
		}
	case GCSetPause:
		res = g.gcPause
		g.gcPause = gcArg(args, 0)
	case GCSetStepMul:
		res = g.gcStepMul
		g.gcStepMul = gcArg(args, 0)
	case GCIsRunning:
		res = boolInt(g.running())
	case GCGen:
		res = L.gcModeOption()
		if minor := gcArg(args, 0); minor != 0 {
			g.genMinorMul = minor
		}
		if major := gcArg(args, 1); major != 0 {
			g.genMajorMul = major
		}
		L.changeMode(kindGen)
	case GCInc:
		res = L.gcModeOption()
		if pause := gcArg(args, 0); pause != 0 {
			g.gcPause = pause
		}
		if mul := gcArg(args, 1); mul != 0 {
			g.gcStepMul = mul
		}
		if size := gcArg(args, 2); size != 0 {
			g.gcStepSize = size
		}
		L.changeMode(kindInc)
	default:
		res = -1
	}
	return res
}

// gcModeOption reports the mode in effect, counting an incremental
// cycle started by a bad generational collection as generational.
func (L *State) gcModeOption() int {
	if L.g.gcKind == kindGen || L.g.lastAtomic != 0 {
		return int(GCGen)
	}
	return int(GCInc)
}

// GCStats returns the cumulative collector counters.
func (L *State) GCStats() GCStats {
	L.lock()
	defer L.unlock()
	return L.g.stats
}

// GCState names the current collector state, such as "pause" or
// "propagate".
func (L *State) GCState() string {
	L.lock()
	defer L.unlock()
	return gcStateNames[L.g.gcState]
}

// GCMode returns "incremental" or "generational".
func (L *State) GCMode() string {
	L.lock()
	defer L.unlock()
	return L.g.modeName()
}

// SetGCObserver installs f to be called after every completed collection,
// with the state locked. f must not call back into the runtime.
func (L *State) SetGCObserver(f func(GCEvent)) {
	L.lock()
	defer L.unlock()
	L.g.observer = f
}

// Live returns the number of objects in the heap.
func (L *State) Live() int {
	L.lock()
	defer L.unlock()
	return L.g.heap.live
}
