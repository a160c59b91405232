package vm

import (
	"fmt"
)

// Status is the outcome of a call, load or resume.
type Status int

const (
	StatusOK Status = iota
	StatusYield
	StatusErrRun
	StatusErrSyntax
	StatusErrMem
	StatusErrErr
)

var statusNames = [...]string{"ok", "yield", "runtime error", "syntax error", "memory error", "error in error handling"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) isError() bool { return s > StatusYield }

// APIError reports a violation of the API usage contract: an invalid
// index, too few values on the stack, a call in the wrong state. It is
// raised as a panic in checked mode and never caught by protected calls.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	if e.Op == "" {
		return "api: " + e.Message
	}
	return "api: " + e.Op + ": " + e.Message
}

// PanicError is raised when an error escapes every protection boundary.
type PanicError struct {
	Status  Status
	Message string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unprotected error in call to runtime API (%s)", e.Message)
}

// apiCheck panics with an *APIError when cond fails in checked mode and
// reports whether the operation may proceed.
func (L *State) apiCheck(cond bool, op, msg string) bool {
	if cond {
		return true
	}
	if L.g.apiCheck {
		panic(&APIError{Op: op, Message: msg})
	}
	return false
}

func (L *State) apiCheckNElems(n int, op string) bool {
	return L.apiCheck(n < L.top-L.ci.fn, op, "not enough elements in the stack")
}

// Runtime errors raised by the engine

// runError raises a runtime error with the position of the running
// interpreted function prepended.
func (L *State) runError(format string, args ...any) {
	L.checkGC()
	msg := fmt.Sprintf(format, args...)
	if ci := L.ci; ci.isLua() {
		msg = L.addInfo(msg, ci)
	}
	L.pushString(msg)
	L.errorMsg()
}

// addInfo prepends "source:line:" of an interpreted frame.
func (L *State) addInfo(msg string, ci *callInfo) string {
	p := L.g.proto(L.g.lcl(L.stack[ci.fn].handle()).p)
	return fmt.Sprintf("%s:%d: %s", chunkID(p.source), L.currentLine(ci), msg)
}

// errorMsg raises the value on top, calling the message handler first.
func (L *State) errorMsg() {
	if L.errfunc != 0 {
		errfunc := L.errfunc
		L.stack[L.top] = L.stack[L.top-1]
		L.stack[L.top-1] = L.stack[errfunc]
		L.top++
		L.callNoYield(L.top-2, 1)
	}
	L.throw(StatusErrRun)
}

// errErr raises the fixed "error in error handling" condition.
func (L *State) errErr() {
	L.throw(StatusErrErr)
}

func (L *State) typeName(v Value) string {
	if v.isTable() || v.isUserdata() {
		mt := L.g.metatableOf(v)
		if mt != nil {
			if name := mt.getShortStr(L.newString("__name")); name.isString() {
				return L.g.strValue(name)
			}
		}
	}
	return v.tt.base().String()
}

func (L *State) typeError(v Value, op string) {
	L.typeErrorInfo(v, op, L.varInfo(v))
}

// typeErrorInfo is typeError with a variable description such as
// " (global 'f')".
func (L *State) typeErrorInfo(v Value, op, info string) {
	L.runError("attempt to %s a %s value%s", op, L.typeName(v), info)
}

// callErrorAt reports that the value at slot fn cannot be called.
func (L *State) callErrorAt(fn int) {
	v := L.stack[fn]
	L.typeErrorInfo(v, "call", L.funcNameInfo(fn))
}

func (L *State) opIntError(p1, p2 Value, msg string) {
	if !p1.isNumber() {
		p2 = p1
	}
	L.typeError(p2, msg)
}

func (L *State) toIntError(p1, p2 Value) {
	L.runError("number has no integer representation")
}

func (L *State) concatError(p1, p2 Value) {
	if p1.isString() || p1.isNumber() {
		p1 = p2
	}
	L.typeError(p1, "concatenate")
}

func (L *State) orderError(p1, p2 Value) {
	t1 := L.typeName(p1)
	t2 := L.typeName(p2)
	if t1 == t2 {
		L.runError("attempt to compare two %s values", t1)
	}
	L.runError("attempt to compare %s with %s", t1, t2)
}
