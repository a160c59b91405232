package vm

import (
	"io"
)

// MultRet asks a call for all the results of the called function.
const MultRet = -1

func (L *State) checkResults(nargs, nresults int, op string) bool {
	return L.apiCheck(nresults == MultRet || L.ci.top-L.top >= nresults-nargs, op, "results from function overflow current stack size")
}

// CallK calls the function below the nargs values on top. When k is not
// nil and the call yields, the calling Go function is continued by k.
func (L *State) CallK(nargs, nresults int, ctx KContext, k KFunction) {
	L.lock()
	defer L.unlock()
	if !L.apiCheck(k == nil || !L.ci.isLua(), "call", "cannot use continuations inside hooks") ||
		!L.apiCheckNElems(nargs+1, "call") ||
		!L.apiCheck(L.status == StatusOK, "call", "cannot do calls on non-normal thread") ||
		!L.checkResults(nargs, nresults, "call") {
		return
	}
	fn := L.top - (nargs + 1)
	if k != nil && L.yieldable() {
		L.ci.k = k
		L.ci.ctx = ctx
		L.call(fn, nresults)
	} else {
		L.callNoYield(fn, nresults)
	}
	L.adjustResults(nresults)
}

// Call is CallK without a continuation.
func (L *State) Call(nargs, nresults int) {
	L.CallK(nargs, nresults, nil, nil)
}

// PCallK calls like CallK in protected mode. msgh is the stack index of a
// message handler, or 0. On error the function and its arguments are
// replaced by the error value, passed through the handler if any.
func (L *State) PCallK(nargs, nresults, msgh int, ctx KContext, k KFunction) Status {
	L.lock()
	defer L.unlock()
	if !L.apiCheck(k == nil || !L.ci.isLua(), "pcall", "cannot use continuations inside hooks") ||
		!L.apiCheckNElems(nargs+1, "pcall") ||
		!L.apiCheck(L.status == StatusOK, "pcall", "cannot do calls on non-normal thread") ||
		!L.checkResults(nargs, nresults, "pcall") {
		return StatusErrRun
	}
	ef := 0
	if msgh != 0 {
		o, ok := L.stackSlot(msgh)
		if !ok || !L.apiCheck(L.stack[o].isFunction(), "pcall", "error handler must be a function") {
			return StatusErrRun
		}
		ef = o
	}
	fn := L.top - (nargs + 1)
	var status Status
	if k == nil || !L.yieldable() {
		status = L.pcall(func() { L.callNoYield(fn, nresults) }, fn, ef)
	} else {
		ci := L.ci
		ci.k = k
		ci.ctx = ctx
		ci.funcidx = fn
		ci.oldErrFunc = L.errfunc
		L.errfunc = ef
		if L.allowHook {
			ci.callstatus |= cistOAH
		} else {
			ci.callstatus &^= cistOAH
		}
		ci.callstatus |= cistYPCall
		L.call(fn, nresults)
		ci.callstatus &^= cistYPCall
		L.errfunc = ci.oldErrFunc
		status = StatusOK
	}
	L.adjustResults(nresults)
	return status
}

// PCall is PCallK without a continuation.
func (L *State) PCall(nargs, nresults, msgh int) Status {
	return L.PCallK(nargs, nresults, msgh, nil, nil)
}

// Load assembles a chunk and pushes it as a function whose first upvalue
// is the globals table. mode selects the accepted chunk kinds: "t" text,
// "b" binary, "" or "bt" both; only text chunks are supported. On error
// the message is pushed instead.
func (L *State) Load(r io.Reader, chunkname, mode string) Status {
	L.lock()
	defer L.unlock()
	if chunkname == "" {
		chunkname = "?"
	}
	L.incNny()
	status := L.pcall(func() { L.parseChunk(r, chunkname, mode) }, L.top, L.errfunc)
	L.decNny()
	if status == StatusOK {
		cl := L.g.lcl(L.stack[L.top-1].handle())
		if len(cl.upvals) >= 1 {
			gt := L.globals()
			uv := L.g.upval(cl.upvals[0])
			uv.set(gt)
			L.g.barrier(uv, gt)
		}
	}
	vmLog.Debugf("loaded %s: %s", chunkID(chunkname), status)
	return status
}

// Error raises the value on top as an error. It never returns normally.
func (L *State) Error() int {
	L.lock()
	defer L.unlock()
	L.apiCheckNElems(1, "error")
	errobj := L.stack[L.top-1]
	if errobj.tt == tagShortStr && errobj.handle() == L.g.memErrMsg {
		L.throw(StatusErrMem)
	}
	L.errorMsg()
	return 0
}

// Errorf raises a formatted error message prefixed with the position of
// the caller of the running function.
func (L *State) Errorf(format string, args ...any) int {
	L.Where(1)
	L.PushFString(format, args...)
	L.Concat(2)
	return L.Error()
}

// Next pops a key and pushes the next key and value of the table at idx.
// It pushes nothing and returns false after the last entry.
func (L *State) Next(idx int) bool {
	L.lock()
	defer L.unlock()
	t := L.tableAt(idx, "next")
	if t == nil || !L.apiCheckNElems(1, "next") {
		return false
	}
	k, v, more := L.tableNext(t, L.stack[L.top-1])
	if !more {
		L.top--
		return false
	}
	L.stack[L.top-1] = k
	L.stack[L.top] = v
	L.apiIncrTop()
	return true
}

// ToClose marks the slot at idx to be closed when it goes out of scope:
// by SetTop, CloseSlot, the return of the running Go function or an error.
func (L *State) ToClose(idx int) {
	L.lock()
	defer L.unlock()
	o, ok := L.stackSlot(idx)
	if !ok {
		return
	}
	if n := len(L.tbclist); n > 0 && !L.apiCheck(L.tbclist[n-1] < o, "toclose", "given index below or equal a marked one") {
		return
	}
	L.newTBC(o)
	if ci := L.ci; !hasToCloseGo(ci.nresults) {
		ci.nresults = codeNResults(ci.nresults)
	}
}

// CloseSlot closes the to-be-closed slot at idx and sets it to nil.
func (L *State) CloseSlot(idx int) {
	L.lock()
	defer L.unlock()
	level := L.index2stack(idx)
	n := len(L.tbclist)
	ok := hasToCloseGo(L.ci.nresults) && n > 0 && L.tbclist[n-1] == level
	if !L.apiCheck(ok, "closeslot", "no variable to close at given level") {
		return
	}
	level = L.closeFrom(level, closeKTop, false)
	L.stack[level] = nilValue
}

// Concat replaces the n values on top by their concatenation.
func (L *State) Concat(n int) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(n, "concat") {
		return
	}
	if n > 0 {
		L.concat(n)
	} else {
		v := L.newStringValue("")
		L.stack[L.top] = v
		L.apiIncrTop()
	}
	L.checkGC()
}

// Len pushes the length of the value at idx, honoring __len.
func (L *State) Len(idx int) {
	L.lock()
	defer L.unlock()
	v := L.objLen(L.index2value(idx))
	L.push(v)
}

// Arith performs op on the two values on top, or on the top value for
// the unary operators, and replaces them by the result.
func (L *State) Arith(op ArithOp) {
	L.lock()
	defer L.unlock()
	if op == OpUnm || op == OpBNot {
		if !L.apiCheckNElems(1, "arith") {
			return
		}
		L.stack[L.top] = L.stack[L.top-1]
		L.apiIncrTop()
	} else if !L.apiCheckNElems(2, "arith") {
		return
	}
	v := L.arith(op, L.stack[L.top-2], L.stack[L.top-1])
	L.stack[L.top-2] = v
	L.top--
}

// CompareOp selects the comparison done by Compare.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLe
)

// Compare compares the values at idx1 and idx2 with metamethods. Invalid
// indices compare false.
func (L *State) Compare(idx1, idx2 int, op CompareOp) bool {
	L.lock()
	defer L.unlock()
	a, b := L.index2value(idx1), L.index2value(idx2)
	if a.isAbsent() || b.isAbsent() {
		return false
	}
	switch op {
	case OpEq:
		return L.equalObj(a, b, false)
	case OpLt:
		return L.lessThan(a, b)
	case OpLe:
		return L.lessEqual(a, b)
	}
	L.apiCheck(false, "compare", "invalid option")
	return false
}

// GetAllocF returns the allocator and its opaque data.
func (L *State) GetAllocF() (AllocFunc, any) {
	L.lock()
	defer L.unlock()
	return L.g.alloc, L.g.allocUD
}

// SetAllocF replaces the allocator.
func (L *State) SetAllocF(f AllocFunc, ud any) {
	L.lock()
	defer L.unlock()
	if f == nil {
		f = defaultAlloc
	}
	L.g.alloc = f
	L.g.allocUD = ud
}
