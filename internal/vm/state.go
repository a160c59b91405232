package vm

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/funvibe/funlua/internal/config"
)

// AllocFunc gates every allocation, growth and release of runtime memory.
// osize and nsize are the old and new sizes in bytes; nsize 0 is a release.
// Returning false for a growth refuses it. Go owns the actual memory, so
// the function only accounts and limits.
type AllocFunc func(ud any, osize, nsize int) bool

// WarnFunction receives warning pieces; tocont reports that the message
// continues in the next call.
type WarnFunction func(ud any, msg string, tocont bool)

// KContext is the opaque value handed back to a continuation.
type KContext any

// KFunction continues a Go function after a yield or an error in a
// yieldable protected call.
type KFunction func(L *State, status Status, ctx KContext) int

var errNoMemory = errors.New(config.MemErrMsg)

func defaultAlloc(ud any, osize, nsize int) bool { return true }

// Call status bits
const (
	cistOAH        = 1 << 0 // original value of allowHook
	cistC          = 1 << 1 // running a Go function
	cistFresh      = 1 << 2 // on a fresh execute frame
	cistHooked     = 1 << 3 // running a debug hook
	cistYPCall     = 1 << 4 // doing a yieldable protected call
	cistTail       = 1 << 5 // was tail called
	cistHookYield  = 1 << 6 // last hook called yielded
	cistFin        = 1 << 7 // running a finalizer
	cistTran       = 1 << 8 // has transfer information
	cistClsRet     = 1 << 9 // closing to-be-closed slots on return
	cistRecStShift = 10     // 3 bits of recover status
)

// callInfo is one activation record.
type callInfo struct {
	fn         int // stack slot of the function
	top        int // frame limit
	previous   *callInfo
	next       *callInfo
	nresults   int
	callstatus uint32

	// interpreted functions
	savedpc    int
	trap       bool
	nextraargs int

	// Go functions
	k          KFunction
	ctx        KContext
	oldErrFunc int

	funcidx   int // called-function slot of a yieldable pcall
	nyield    int // values yielded
	nres      int // values returned
	ftransfer int
	ntransfer int
}

func (ci *callInfo) isLua() bool { return ci.callstatus&cistC == 0 }

func (ci *callInfo) recoverStatus() Status {
	return Status((ci.callstatus >> cistRecStShift) & 7)
}

func (ci *callInfo) setRecoverStatus(st Status) {
	ci.callstatus = ci.callstatus&^(7<<cistRecStShift) | uint32(st)<<cistRecStShift
}

// global is the state shared by every thread of one runtime.
type global struct {
	id        uuid.UUID
	created   time.Time
	maxStack  int
	maxCCalls uint32
	apiCheck  bool

	heap       heap
	alloc      AllocFunc
	allocUD    any
	totalBytes int64
	gcDebt     int64
	gcEstimate int64
	lastAtomic int64

	strt     map[string]handle
	registry Value
	seed     uint32
	complete bool

	currentWhite uint8
	gcState      int
	gcKind       int
	gcStopEm     bool
	gcStp        uint8
	gcEmergency  bool
	gcPause      int
	gcStepMul    int
	gcStepSize   int
	genMinorMul  int
	genMajorMul  int

	allgc     handle
	sweepgc   *handle
	finobj    handle
	gray      handle
	grayagain handle
	weak      handle
	ephemeron handle
	allweak   handle
	tobefnz   handle
	fixedgc   handle

	survival   handle
	old1       handle
	reallyold  handle
	firstold1  handle
	finobjsur  handle
	finobjold1 handle
	finobjrold handle

	twups      *State
	mainThread *State
	panicf     Function
	memErrMsg  handle
	errErrMsg  handle
	tmName     [tmN]handle
	mt         [numTypes]handle

	warnf  WarnFunction
	warnUD any
	locker sync.Locker

	stats    GCStats
	observer func(GCEvent)
}

// State is a thread: a value stack with its call frames. The main thread
// also owns the runtime's shared state.
type State struct {
	header
	g         *global
	status    Status
	stack     []Value
	top       int
	stackLast int
	ci        *callInfo
	baseCI    callInfo
	nci       int
	openupval handle
	tbclist   []int
	twups     *State
	errorJmp  *longjmp
	errfunc   int
	nCcalls   uint32
	oldpc     int

	hook          Hook
	hookMask      HookMask
	baseHookCount int
	hookCount     int
	allowHook     bool
}

// nCcalls keeps nested Go calls in its low 16 bits and nested
// non-yieldable calls in the high 16 bits.
const nyci = 0x10000 | 1

func (L *State) cCalls() uint32  { return L.nCcalls & 0xffff }
func (L *State) yieldable() bool { return L.nCcalls&0xffff0000 == 0 }
func (L *State) incNny()         { L.nCcalls += 0x10000 }
func (L *State) decNny()         { L.nCcalls -= 0x10000 }
func (L *State) inTwups() bool   { return L.twups != L }

func (L *State) memSize() int {
	return sizeThread + len(L.stack)*sizeValue + L.nci*sizeCallInfo
}

func (L *State) value() Value { return gcValue(tagThread, L.self) }

func (L *State) lock() {
	if l := L.g.locker; l != nil {
		l.Lock()
	}
}

func (L *State) unlock() {
	if l := L.g.locker; l != nil {
		l.Unlock()
	}
}

// NewState creates a runtime with the default allocator.
func NewState(opts config.Options) *State {
	L, _ := NewStateWithAlloc(opts, defaultAlloc, nil)
	return L
}

// NewStateWithAlloc creates a runtime whose memory is gated by f. It fails
// only when f refuses the initial allocations.
func NewStateWithAlloc(opts config.Options, f AllocFunc, ud any) (*State, error) {
	if opts.MaxStack == 0 {
		opts = config.Default()
	}
	if f == nil {
		f = defaultAlloc
	}
	if !f(ud, 0, sizeGlobal+sizeThread) {
		return nil, errNoMemory
	}
	g := &global{
		id:           uuid.New(),
		created:      time.Now(),
		maxStack:     opts.MaxStack,
		maxCCalls:    uint32(opts.MaxCCalls),
		apiCheck:     opts.APICheck,
		heap:         newHeap(),
		alloc:        f,
		allocUD:      ud,
		totalBytes:   sizeGlobal + sizeThread,
		strt:         make(map[string]handle),
		currentWhite: 1 << bitWhite0,
		gcState:      gcsPause,
		gcKind:       kindInc,
		gcStp:        gcStpGC, // no collection while building the state
		gcPause:      opts.GC.Pause,
		gcStepMul:    opts.GC.StepMul,
		gcStepSize:   opts.GC.StepSize,
		genMinorMul:  opts.GC.MinorMul,
		genMajorMul:  opts.GC.MajorMul,
	}
	g.seed = uint32(g.id.ID())
	if g.maxCCalls == 0 {
		g.maxCCalls = config.MaxCCalls
	}

	L := &State{g: g}
	L.tt = tagThread
	L.marked = g.white()
	L.preinit()
	g.heap.add(L)
	g.allgc = L.self
	g.mainThread = L
	L.incNny() // main thread is never yieldable

	if L.rawRunProtected(L.open) != StatusOK {
		L.closeState()
		return nil, errNoMemory
	}
	if opts.Warnings {
		L.SetWarnF(logWarnings(), nil)
		L.Warning("@on", false)
	}
	if opts.GC.Mode == config.GCModeGenerational {
		L.changeMode(kindGen)
	}
	vmLog.Debug("state created", "id", g.id.String(), "maxstack", g.maxStack)
	return L, nil
}

// open finishes building a state inside a protected scope.
func (L *State) open() {
	g := L.g
	L.initStack(L)
	L.initRegistry()
	g.memErrMsg = L.newString(config.MemErrMsg)
	L.fix(g.memErrMsg)
	g.errErrMsg = L.newString(config.ErrInErrMsg)
	L.fix(g.errErrMsg)
	L.initTM()
	g.gcStp = 0
	g.complete = true
}

func (L *State) preinit() {
	L.twups = L
	L.status = StatusOK
	L.allowHook = true
	L.errfunc = 0
	L.nCcalls = 0
	L.hookMask = 0
	L.baseHookCount = 0
	L.hookCount = 0
	L.hook = nil
	L.oldpc = 0
}

func (L *State) initStack(from *State) {
	n := config.BasicStackSize + config.ExtraStack
	from.g.realloc(from, 0, n*sizeValue)
	L.stack = make([]Value, n)
	for i := range L.stack {
		L.stack[i] = nilValue
	}
	L.top = 0
	L.stackLast = config.BasicStackSize
	ci := &L.baseCI
	ci.next, ci.previous = nil, nil
	ci.callstatus = cistC
	ci.fn = L.top
	ci.k = nil
	ci.nresults = 0
	L.stack[L.top] = nilValue // function entry for this ci
	L.top++
	ci.top = L.top + config.MinStack
	L.ci = ci
}

func (L *State) initRegistry() {
	g := L.g
	reg := L.newTable()
	g.registry = reg.value()
	L.resizeTable(reg, config.RegistryLast, 0)
	reg.array[config.RegistryMainThread-1] = L.value()
	reg.array[config.RegistryGlobals-1] = L.newTable().value()
}

// extendCI appends a new activation record to the list.
func (L *State) extendCI() *callInfo {
	L.g.realloc(L, 0, sizeCallInfo)
	ci := &callInfo{previous: L.ci}
	L.ci.next = ci
	L.nci++
	return ci
}

func (L *State) nextCI() *callInfo {
	if L.ci.next != nil {
		return L.ci.next
	}
	return L.extendCI()
}

// freeCI releases every record above the current one.
func (L *State) freeCI() {
	ci := L.ci
	next := ci.next
	ci.next = nil
	for next != nil {
		next = next.next
		L.g.free(sizeCallInfo)
		L.nci--
	}
}

// shrinkCI frees half of the unused records.
func (L *State) shrinkCI() {
	ci := L.ci.next
	if ci == nil {
		return
	}
	for {
		next := ci.next
		if next == nil {
			break
		}
		next2 := next.next
		ci.next = next2
		L.nci--
		L.g.free(sizeCallInfo)
		if next2 == nil {
			break
		}
		next2.previous = ci
		ci = next2
	}
}

// checkCStack raises on too many nested Go calls.
func (L *State) checkCStack() {
	max := L.g.maxCCalls
	if L.cCalls() == max {
		L.runError("C stack overflow")
	} else if L.cCalls() >= max/10*11 {
		L.errErr()
	}
}

// NewThread creates a coroutine sharing L's runtime and pushes it.
func (L *State) NewThread() *State {
	L.lock()
	defer L.unlock()
	g := L.g
	L.checkGC()
	L1 := &State{g: g}
	L.newObject(L1, tagThread, sizeThread)
	L.stack[L.top] = L1.value()
	L.apiIncrTop()
	L1.preinit()
	L1.hookMask = L.hookMask
	L1.baseHookCount = L.baseHookCount
	L1.hook = L.hook
	L1.resetHookCount()
	L1.initStack(L)
	vmLog.Debugf("thread %x created", uint64(L1.self))
	return L1
}

func (g *global) freeThread(L1 *State) {
	L1.closeUpvals(0)
	if L1.stack != nil {
		L1.ci = &L1.baseCI
		L1.freeCI()
	}
	g.free(L1.memSize())
	L1.stack = nil
}

// resetThread unwinds a thread to its base level, closing pending scopes.
func (L *State) resetThread(status Status) Status {
	ci := &L.baseCI
	L.ci = ci
	L.stack[0] = nilValue
	ci.fn = 0
	ci.callstatus = cistC
	if status == StatusYield {
		status = StatusOK
	}
	L.status = StatusOK
	status = L.closeProtected(1, status)
	if status != StatusOK {
		L.setErrorObj(status, 1)
	} else {
		L.top = 1
	}
	ci.top = L.top + config.MinStack
	L.reallocStack(ci.top, false)
	return status
}

// CloseThread resets a coroutine so it can be reused, running pending
// to-be-closed variables. from is the thread calling the reset, or nil.
func (L *State) CloseThread(from *State) Status {
	L.lock()
	defer L.unlock()
	if from != nil {
		L.nCcalls = from.cCalls()
	} else {
		L.nCcalls = 0
	}
	return L.resetThread(L.status)
}

// Close releases every object of the runtime. Only the main thread's
// runtime can be closed; any thread of it may be passed.
func (L *State) Close() {
	L.lock()
	defer L.unlock()
	L = L.g.mainThread
	L.closeState()
	vmLog.Debug("state closed", "id", L.g.id.String(), "uptime", time.Since(L.g.created).String())
}

func (L *State) closeState() {
	g := L.g
	if g.complete {
		L.ci = &L.baseCI
		L.closeProtected(1, StatusOK)
	}
	L.freeAllObjects()
	if L.stack != nil {
		L.ci = &L.baseCI
		L.freeCI()
		g.free(len(L.stack) * sizeValue)
		L.stack = nil
	}
	g.alloc(g.allocUD, sizeGlobal+sizeThread, 0)
}

// ID identifies the runtime in logs.
func (L *State) ID() uuid.UUID { return L.g.id }

// MainThread returns the thread that owns the runtime.
func (L *State) MainThread() *State { return L.g.mainThread }

// SetLocker makes every entry point of the runtime hold l. Host functions
// run with l released. It must be set before the runtime is shared.
func (L *State) SetLocker(l sync.Locker) { L.g.locker = l }

// AtPanic sets the function called before an unprotected error panics
// with a *PanicError, and returns the previous one.
func (L *State) AtPanic(f Function) Function {
	L.lock()
	defer L.unlock()
	old := L.g.panicf
	L.g.panicf = f
	return old
}
