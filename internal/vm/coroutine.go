package vm

// Coroutines. A yield unwinds the Go stack up to the Resume that started
// the current run; the frames of the coroutine stay in its callInfo list
// and are finished by unroll on the next Resume.

// Status reports the state of the thread: StatusOK for a normal thread,
// StatusYield for a suspended coroutine, or the error that killed it.
func (L *State) Status() Status {
	return L.status
}

// IsYieldable reports whether the running function may yield.
func (L *State) IsYieldable() bool {
	return L.yieldable()
}

// resumeError discards the arguments and leaves msg as the only value.
func (L *State) resumeError(msg string, narg int) (Status, int) {
	L.top -= narg
	L.pushString(msg)
	return StatusErrRun, 1
}

// Resume starts or continues the coroutine L with nargs arguments on its
// stack. from is the thread doing the resume, or nil. It returns the
// status and the number of values left on L's stack: the yielded values,
// the results, or the error.
func (L *State) Resume(from *State, nargs int) (Status, int) {
	L.lock()
	defer L.unlock()
	if L.status == StatusOK {
		if L.ci != &L.baseCI {
			return L.resumeError("cannot resume non-suspended coroutine", nargs)
		}
		if L.top-(L.ci.fn+1) == nargs {
			return L.resumeError("cannot resume dead coroutine", nargs)
		}
	} else if L.status != StatusYield {
		return L.resumeError("cannot resume dead coroutine", nargs)
	}
	if from != nil {
		L.nCcalls = from.cCalls()
	} else {
		L.nCcalls = 0
	}
	if L.cCalls() >= L.g.maxCCalls {
		return L.resumeError("C stack overflow", nargs)
	}
	L.nCcalls++
	if L.status == StatusOK {
		L.apiCheckNElems(nargs, "resume")
	} else {
		L.apiCheck(nargs < L.top-L.ci.fn+1, "resume", "not enough elements in the stack")
	}
	status := L.rawRunProtected(func() { L.resume(nargs) })
	status = L.precover(status)
	if status.isError() {
		L.status = status // thread is dead
		L.setErrorObj(status, L.top)
		L.ci.top = L.top
	}
	if status == StatusYield {
		return status, L.ci.nyield
	}
	return status, L.top - (L.ci.fn + 1)
}

func (L *State) resume(n int) {
	firstArg := L.top - n
	ci := L.ci
	if L.status == StatusOK {
		L.ccall(firstArg-1, MultRet, 0)
		return
	}
	L.status = StatusOK
	if ci.isLua() {
		// yielded inside a hook: drop the arguments and keep running
		L.top = firstArg
		L.execute(ci)
	} else {
		if ci.k != nil {
			n = L.callK(ci.k, StatusYield, ci.ctx)
			L.apiCheckNElems(n, "resume")
		}
		L.posCall(ci, n)
	}
	L.unroll()
}

// callK runs a continuation with the state unlocked.
func (L *State) callK(k KFunction, status Status, ctx KContext) int {
	L.unlock()
	defer L.lock()
	return k(L, status, ctx)
}

// precover finishes interrupted protected calls after an error, as long
// as some frame of the coroutine is a yieldable pcall.
func (L *State) precover(status Status) Status {
	for status.isError() {
		ci := L.findPCall()
		if ci == nil {
			break
		}
		L.ci = ci
		ci.setRecoverStatus(status)
		status = L.rawRunProtected(L.unroll)
	}
	return status
}

func (L *State) findPCall() *callInfo {
	for ci := L.ci; ci != nil; ci = ci.previous {
		if ci.callstatus&cistYPCall != 0 {
			return ci
		}
	}
	return nil
}

// unroll runs every pending frame of the coroutine to completion.
func (L *State) unroll() {
	for {
		ci := L.ci
		if ci == &L.baseCI {
			return
		}
		if !ci.isLua() {
			L.finishGoCall(ci)
		} else {
			L.finishOp()
			L.execute(ci)
		}
	}
}

// finishGoCall completes a Go frame interrupted by a yield or an error.
func (L *State) finishGoCall(ci *callInfo) {
	var n int
	if ci.callstatus&cistClsRet != 0 {
		n = ci.nres // redo the return
	} else {
		status := StatusYield
		if ci.callstatus&cistYPCall != 0 {
			status = L.finishPCallK(ci)
		}
		L.adjustResults(MultRet)
		n = L.callK(ci.k, status, ci.ctx)
		L.apiCheckNElems(n, "continuation")
	}
	L.posCall(ci, n)
}

// finishPCallK ends a yieldable pcall whose body yielded or failed.
func (L *State) finishPCallK(ci *callInfo) Status {
	status := ci.recoverStatus()
	if status == StatusOK {
		status = StatusYield
	} else {
		fn := ci.funcidx
		L.allowHook = ci.callstatus&cistOAH != 0
		fn = L.closeFrom(fn, status, true)
		L.setErrorObj(status, fn)
		L.shrinkStack()
		ci.setRecoverStatus(StatusOK)
	}
	ci.callstatus &^= cistYPCall
	L.errfunc = ci.oldErrFunc
	return status
}

// adjustResults lets the frame top cover results of a multiple return.
func (L *State) adjustResults(nres int) {
	if nres <= MultRet && L.ci.top < L.top {
		L.ci.top = L.top
	}
}

// YieldK suspends the running coroutine, handing the nresults values on
// top to the resumer. When k is not nil the Go function is continued by k
// on the next Resume; otherwise the Go function returns the values passed
// to Resume. Inside a hook it may only yield zero values and no
// continuation.
func (L *State) YieldK(nresults int, ctx KContext, k KFunction) int {
	L.lock()
	defer L.unlock()
	ci := L.ci
	L.apiCheckNElems(nresults, "yield")
	if !L.yieldable() {
		if L != L.g.mainThread {
			L.runError("attempt to yield across a C-call boundary")
		}
		L.runError("attempt to yield from outside a coroutine")
	}
	L.status = StatusYield
	ci.nyield = nresults
	if ci.isLua() {
		L.apiCheck(nresults == 0, "yield", "hooks cannot yield values")
		L.apiCheck(k == nil, "yield", "hooks cannot continue after yielding")
		return 0 // back to the hook dispatcher
	}
	ci.k = k
	if k != nil {
		ci.ctx = ctx
	}
	L.throw(StatusYield)
	return 0
}

// Yield is YieldK without a continuation.
func (L *State) Yield(nresults int) int {
	return L.YieldK(nresults, nil, nil)
}
