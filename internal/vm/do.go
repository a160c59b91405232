package vm

import (
	"github.com/funvibe/funlua/internal/config"
)

// longjmp is a protection boundary. throw panics with the innermost one
// of the raising thread; rawRunProtected recovers exactly its own.
type longjmp struct {
	previous *longjmp
	status   Status
}

// throw unwinds to the nearest protection boundary with the given status.
// The error value, if any, is on top of the stack.
func (L *State) throw(status Status) {
	if L.errorJmp != nil {
		L.errorJmp.status = status
		panic(L.errorJmp)
	}
	g := L.g
	status = L.resetThread(status)
	if mt := g.mainThread; mt != L && mt.errorJmp != nil {
		mt.stack[mt.top] = L.stack[L.top-1]
		mt.top++
		mt.throw(status)
	}
	msg := "error object is not a string"
	if v := L.stack[L.top-1]; v.isString() {
		msg = g.strValue(v)
	}
	if g.panicf != nil {
		L.callPanic(g.panicf)
	}
	panic(&PanicError{Status: status, Message: msg})
}

func (L *State) callPanic(f Function) {
	L.unlock()
	defer L.lock()
	f(L)
}

// rawRunProtected runs f and reports the status f ended with. Panics that
// belong to other boundaries, and foreign panics, pass through.
func (L *State) rawRunProtected(f func()) (status Status) {
	oldnCcalls := L.nCcalls
	lj := &longjmp{previous: L.errorJmp, status: StatusOK}
	L.errorJmp = lj
	defer func() {
		L.errorJmp = lj.previous
		if r := recover(); r != nil {
			if j, ok := r.(*longjmp); !ok || j != lj {
				panic(r)
			}
			L.nCcalls = oldnCcalls
		}
		status = lj.status
	}()
	f()
	return
}

// setErrorObj places the error value for status at slot oldtop and sets
// the top right after it.
func (L *State) setErrorObj(status Status, oldtop int) {
	g := L.g
	switch status {
	case StatusErrMem:
		L.stack[oldtop] = gcValue(tagShortStr, g.memErrMsg)
	case StatusErrErr:
		L.stack[oldtop] = gcValue(tagShortStr, g.errErrMsg)
	case StatusOK:
		L.stack[oldtop] = nilValue
	default:
		L.stack[oldtop] = L.stack[L.top-1]
	}
	L.top = oldtop + 1
}

// pcall runs f in protected mode. On error it restores the frame, closes
// pending upvalues and scopes at or above oldTop and leaves the error
// value at oldTop.
func (L *State) pcall(f func(), oldTop int, ef int) Status {
	oldCI := L.ci
	oldAllowHook := L.allowHook
	oldErrFunc := L.errfunc
	L.errfunc = ef
	status := L.rawRunProtected(f)
	if status != StatusOK {
		L.ci = oldCI
		L.allowHook = oldAllowHook
		status = L.closeProtected(oldTop, status)
		L.setErrorObj(status, oldTop)
		L.shrinkStack()
	}
	L.errfunc = oldErrFunc
	return status
}

// closeProtected closes everything at or above level in protected mode.
// An error in a closing method replaces the current error and closing
// continues with the remaining entries.
func (L *State) closeProtected(level int, status Status) Status {
	oldCI := L.ci
	oldAllowHook := L.allowHook
	for {
		st := status
		res := L.rawRunProtected(func() { L.closeFrom(level, st, false) })
		if res == StatusOK {
			return status
		}
		status = res
		L.ci = oldCI
		L.allowHook = oldAllowHook
	}
}

// Calls

func (L *State) prepCallInfo(fn, nresults int, mask uint32, top int) *callInfo {
	ci := L.nextCI()
	L.ci = ci
	ci.fn = fn
	ci.nresults = nresults
	ci.callstatus = mask
	ci.top = top
	ci.k = nil
	ci.ctx = nil
	return ci
}

// checkStackGC makes room for n slots, running a collection step first
// when the stack has to grow.
func (L *State) checkStackGC(n int) {
	if L.stackLast-L.top <= n {
		L.checkGC()
		L.growStack(n, true)
	}
}

// precall prepares the call of the function at slot fn. For a Go function
// it runs the call to completion and returns nil; for an interpreted one it
// returns the new frame for the interpreter to run.
func (L *State) precall(fn, nresults int) *callInfo {
	for {
		f := L.stack[fn]
		switch f.tt {
		case tagGoClosure:
			L.precallGo(fn, nresults, L.g.gcl(f.handle()).fn)
			return nil
		case tagLightFunc:
			L.precallGo(fn, nresults, f.lightFunc())
			return nil
		case tagLuaClosure:
			p := L.g.proto(L.g.lcl(f.handle()).p)
			narg := L.top - fn - 1
			L.checkStackGC(p.maxStack)
			ci := L.prepCallInfo(fn, nresults, 0, fn+1+p.maxStack)
			ci.savedpc = 0
			ci.trap = false
			for ; narg < p.numParams; narg++ {
				L.stack[L.top] = nilValue
				L.top++
			}
			if p.isVararg {
				L.adjustVarargs(ci, p)
			}
			return ci
		default:
			fn = L.tryFuncTM(fn)
		}
	}
}

func (L *State) precallGo(fn, nresults int, f Function) int {
	L.checkStackGC(config.MinStack)
	ci := L.prepCallInfo(fn, nresults, cistC, L.top+config.MinStack)
	if L.hookMask&MaskCall != 0 {
		narg := L.top - fn - 1
		L.callHook(HookCall, -1, 1, narg)
	}
	n := L.callGo(f)
	L.apiCheckNElems(n, "return")
	L.posCall(ci, n)
	return n
}

// callGo runs a host function with the state unlocked.
func (L *State) callGo(f Function) int {
	L.unlock()
	defer L.lock()
	return f(L)
}

// adjustVarargs moves the function and its fixed parameters above the
// actual arguments, so the extra arguments stay below the new frame.
func (L *State) adjustVarargs(ci *callInfo, p *Proto) {
	actual := L.top - ci.fn - 1
	nextra := actual - p.numParams
	ci.nextraargs = nextra
	L.checkStack(p.maxStack + 1)
	L.stack[L.top] = L.stack[ci.fn]
	L.top++
	for i := 1; i <= p.numParams; i++ {
		L.stack[L.top] = L.stack[ci.fn+i]
		L.stack[ci.fn+i] = nilValue
		L.top++
	}
	ci.fn += actual + 1
	ci.top += actual + 1
}

// tryFuncTM replaces a non-function at slot fn with its __call metamethod,
// shifting the original value into the first argument.
func (L *State) tryFuncTM(fn int) int {
	L.checkStackGC(1)
	tm := L.g.tmByObj(L.stack[fn], tmCall)
	if tm.isNil() {
		L.callErrorAt(fn)
	}
	for p := L.top; p > fn; p-- {
		L.stack[p] = L.stack[p-1]
	}
	L.top++
	L.stack[fn] = tm
	return fn
}

// posCall finishes a call: runs the return hook and moves nres results
// from the top to the function slot.
func (L *State) posCall(ci *callInfo, nres int) {
	wanted := ci.nresults
	if L.hookMask != 0 && !hasToCloseGo(wanted) {
		L.retHook(ci, nres)
	}
	L.moveResults(ci.fn, nres, wanted)
	L.ci = ci.previous
}

// A Go function that registered to-be-closed slots encodes it in nresults.
func hasToCloseGo(n int) bool  { return n < MultRet }
func codeNResults(n int) int   { return -n - 3 }
func decodeNResults(n int) int { return -n - 3 }

func (L *State) moveResults(res, nres, wanted int) {
	switch wanted {
	case 0:
		L.top = res
		return
	case 1:
		if nres == 0 {
			L.stack[res] = nilValue
		} else {
			L.stack[res] = L.stack[L.top-nres]
		}
		L.top = res + 1
		return
	case MultRet:
		wanted = nres
	default:
		if hasToCloseGo(wanted) {
			ci := L.ci
			ci.callstatus |= cistClsRet
			ci.nres = nres
			res = L.closeFrom(res, closeKTop, true)
			ci.callstatus &^= cistClsRet
			if L.hookMask != 0 {
				L.retHook(ci, nres)
			}
			wanted = decodeNResults(wanted)
			if wanted == MultRet {
				wanted = nres
			}
		}
	}
	first := L.top - nres
	if nres > wanted {
		nres = wanted
	}
	i := 0
	for ; i < nres; i++ {
		L.stack[res+i] = L.stack[first+i]
	}
	for ; i < wanted; i++ {
		L.stack[res+i] = nilValue
	}
	L.top = res + wanted
}

// ccall calls the function at slot fn, incrementing the nested call
// counter by inc.
func (L *State) ccall(fn, nresults int, inc uint32) {
	L.nCcalls += inc
	if L.cCalls() >= L.g.maxCCalls {
		L.checkStack(0)
		L.checkCStack()
	}
	if ci := L.precall(fn, nresults); ci != nil {
		ci.callstatus = cistFresh
		L.execute(ci)
	}
	L.nCcalls -= inc
}

// call is a yieldable call of the function at slot fn.
func (L *State) call(fn, nresults int) { L.ccall(fn, nresults, 1) }

// callNoYield is a call that cannot yield.
func (L *State) callNoYield(fn, nresults int) { L.ccall(fn, nresults, nyci) }

// Hooks

// callHook calls the hook for event. ftransfer and ntransfer describe the
// values being passed for call and return events.
func (L *State) callHook(event HookEvent, line, ftransfer, ntransfer int) {
	hook := L.hook
	if hook == nil || !L.allowHook {
		return
	}
	mask := uint32(cistHooked)
	ci := L.ci
	top := L.top
	ciTop := ci.top
	ar := &Debug{Event: event, CurrentLine: line, ci: ci}
	if ntransfer != 0 {
		mask |= cistTran
		ci.ftransfer = ftransfer
		ci.ntransfer = ntransfer
	}
	if ci.isLua() && L.top < ci.top {
		L.top = ci.top // protect the whole activation register
	}
	L.checkStack(config.MinStack)
	if ci.top < L.top+config.MinStack {
		ci.top = L.top + config.MinStack
	}
	L.allowHook = false
	ci.callstatus |= mask
	L.runHook(hook, ar)
	L.allowHook = true
	ci.top = ciTop
	L.top = top
	ci.callstatus &^= mask
}

func (L *State) runHook(hook Hook, ar *Debug) {
	L.unlock()
	defer L.lock()
	hook(L, ar)
}

// hookCall reports entry into an interpreted function.
func (L *State) hookCall(ci *callInfo) {
	L.oldpc = 0
	if L.hookMask&MaskCall != 0 {
		p := L.g.proto(L.g.lcl(L.stack[ci.fn].handle()).p)
		ci.savedpc++
		L.callHook(HookCall, -1, 1, p.numParams)
		ci.savedpc--
	}
}

func (L *State) retHook(ci *callInfo, nres int) {
	if L.hookMask&MaskRet != 0 {
		first := L.top - nres
		delta := 0
		if ci.isLua() {
			p := L.g.proto(L.g.lcl(L.stack[ci.fn].handle()).p)
			if p.isVararg {
				delta = ci.nextraargs + p.numParams + 1
			}
		}
		ci.fn += delta
		L.callHook(HookRet, -1, first-ci.fn, nres)
		ci.fn -= delta
	}
	if prev := ci.previous; prev != nil && prev.isLua() {
		L.oldpc = prev.savedpc - 1
	}
}

// IsUnwind reports whether r, a value recovered by a host function, is an
// error unwinding through it. Such values must be re-panicked.
func IsUnwind(r any) bool {
	_, ok := r.(*longjmp)
	return ok
}
