package vm

// HookEvent identifies why a hook was called.
type HookEvent int

const (
	HookCall HookEvent = iota
	HookRet
	HookLine
	HookCount
	HookTailCall
)

var hookEventNames = [...]string{"call", "return", "line", "count", "tail call"}

func (e HookEvent) String() string {
	if e < 0 || int(e) >= len(hookEventNames) {
		return "unknown"
	}
	return hookEventNames[e]
}

// HookMask selects the events a hook receives.
type HookMask int

const (
	MaskCall  HookMask = 1 << HookCall
	MaskRet   HookMask = 1 << HookRet
	MaskLine  HookMask = 1 << HookLine
	MaskCount HookMask = 1 << HookCount
)

// Hook is called by the engine with hooks disabled. It runs with the state
// unlocked and may raise errors; inside a coroutine a line or count hook
// may also Yield with no values.
type Hook func(L *State, ar *Debug)

// SetHook installs f for the events in mask. A count hook fires after
// every count instructions. A nil f or an empty mask removes the hook.
func (L *State) SetHook(f Hook, mask HookMask, count int) {
	L.lock()
	defer L.unlock()
	if f == nil || mask == 0 {
		mask = 0
		f = nil
	}
	L.hook = f
	L.baseHookCount = count
	L.resetHookCount()
	L.hookMask = mask
}

// GetHook returns the current hook, its mask and count.
func (L *State) GetHook() (Hook, HookMask, int) {
	return L.hook, L.hookMask, L.baseHookCount
}

func (L *State) resetHookCount() {
	L.hookCount = L.baseHookCount
}

// traceExec runs the line and count hooks before the instruction at pc of
// an interpreted frame. A hook that yields suspends the coroutine with the
// instruction not yet executed.
func (L *State) traceExec(ci *callInfo, pc int) {
	mask := L.hookMask
	p := L.g.proto(L.g.lcl(L.stack[ci.fn].handle()).p)
	ci.savedpc = pc + 1 // the hook sees the instruction as current
	L.hookCount--
	countHook := L.hookCount == 0 && mask&MaskCount != 0
	if countHook {
		L.resetHookCount()
	} else if mask&MaskLine == 0 {
		return
	}
	if ci.callstatus&cistHookYield != 0 {
		// this instruction already ran the hooks before yielding
		ci.callstatus &^= cistHookYield
		return
	}
	if !p.code[pc].isIT() {
		L.top = ci.top
	}
	if countHook {
		L.callHook(HookCount, -1, 0, 0)
	}
	if mask&MaskLine != 0 {
		oldpc := L.oldpc
		if oldpc >= len(p.code) {
			oldpc = 0
		}
		if pc <= oldpc || p.changedLine(oldpc, pc) {
			L.callHook(HookLine, p.lineAt(pc), 0, 0)
		}
		L.oldpc = pc
	}
	if L.status == StatusYield {
		if countHook {
			L.hookCount = 1
		}
		ci.savedpc = pc
		ci.callstatus |= cistHookYield
		L.throw(StatusYield)
	}
}
