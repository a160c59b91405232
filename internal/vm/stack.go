package vm

import (
	"github.com/funvibe/funlua/internal/config"
)

// stackSize is the usable part of the stack, without the extra slack.
func (L *State) stackSize() int { return L.stackLast }

func (L *State) errorStackSize() int { return L.g.maxStack + config.ErrorStackExtra }

// reallocStack resizes the stack to newsize usable slots. When the
// allocator refuses it either raises a memory error or reports false.
func (L *State) reallocStack(newsize int, raise bool) bool {
	oldsize := len(L.stack)
	nsize := newsize + config.ExtraStack
	if !L.g.tryRealloc(L, oldsize*sizeValue, nsize*sizeValue) {
		if raise {
			L.throw(StatusErrMem)
		}
		return false
	}
	stack := make([]Value, nsize)
	n := copy(stack, L.stack)
	// slots above top read as absent whatever they hold
	for i := n; i < nsize; i++ {
		stack[i] = nilValue
	}
	L.stack = stack
	L.stackLast = newsize
	return true
}

// growStack makes room for n more slots above the top, doubling the stack.
// Past the configured maximum it grants the error extra once and raises
// "stack overflow"; while already in the extra it raises an error-handling
// error.
func (L *State) growStack(n int, raise bool) bool {
	size := L.stackSize()
	max := L.g.maxStack
	if size > max {
		if raise {
			L.throw(StatusErrErr)
		}
		return false
	}
	if n < max {
		newsize := 2 * size
		needed := L.top + n
		if newsize > max {
			newsize = max
		}
		if newsize < needed {
			newsize = needed
		}
		if newsize <= max {
			return L.reallocStack(newsize, raise)
		}
	}
	L.reallocStack(L.errorStackSize(), raise)
	if raise {
		L.runError("stack overflow")
	}
	return false
}

// checkStack guarantees n free slots above the top.
func (L *State) checkStack(n int) {
	if L.stackLast-L.top <= n {
		L.growStack(n, true)
	}
}

func (L *State) stackInUse() int {
	lim := L.top
	for ci := L.ci; ci != nil; ci = ci.previous {
		if lim < ci.top {
			lim = ci.top
		}
	}
	res := lim + 1
	if res < config.MinStack {
		res = config.MinStack
	}
	return res
}

// shrinkStack gives back stack space above twice what is in use, unless
// the thread is handling an overflow.
func (L *State) shrinkStack() {
	inuse := L.stackInUse()
	max := L.g.maxStack
	limit := inuse * 2
	if inuse > max/3 {
		limit = max
	}
	if inuse <= max && L.stackSize() > limit {
		nsize := inuse * 2
		if inuse > max/2 {
			nsize = max
		}
		L.reallocStack(nsize, false)
	}
	L.shrinkCI()
}

// Index resolution

func isPseudo(idx int) bool { return idx <= config.RegistryIndex }

// UpvalueIndex is the pseudo-index of the i-th upvalue of the running Go
// function.
func UpvalueIndex(i int) int { return config.RegistryIndex - i }

// index2value resolves an acceptable index for reading. Indices that do
// not address a slot yield the absent value, which reads as "no value".
func (L *State) index2value(idx int) Value {
	ci := L.ci
	switch {
	case idx > 0:
		L.apiCheck(idx <= ci.top-(ci.fn+1), "index", "unacceptable index")
		o := ci.fn + idx
		if o >= L.top {
			return absentValue
		}
		return L.stack[o]
	case !isPseudo(idx):
		if idx == 0 || -idx > L.top-(ci.fn+1) {
			return absentValue
		}
		return L.stack[L.top+idx]
	case idx == config.RegistryIndex:
		return L.g.registry
	default:
		n := config.RegistryIndex - idx
		L.apiCheck(n <= config.MaxUpval+1, "index", "upvalue index too large")
		f := L.stack[ci.fn]
		if f.tt == tagGoClosure {
			cl := L.g.gcl(f.handle())
			if n <= len(cl.upvalue) {
				return cl.upvalue[n-1]
			}
		}
		return absentValue
	}
}

// index2stack resolves an index that must name a live stack slot.
func (L *State) index2stack(idx int) int {
	o, _ := L.stackSlot(idx)
	return o
}

// stackSlot is index2stack that also reports whether idx passed the check.
// Unchecked states get false instead of an error for an invalid index.
func (L *State) stackSlot(idx int) (int, bool) {
	ci := L.ci
	if idx > 0 {
		o := ci.fn + idx
		return o, L.apiCheck(o < L.top, "index", "invalid index")
	}
	ok := L.apiCheck(idx != 0 && -idx <= L.top-(ci.fn+1) && !isPseudo(idx), "index", "invalid index")
	return L.top + idx, ok
}

// setIndex stores v at a stack slot or an upvalue of the running Go
// function. An invalid index leaves everything unchanged.
func (L *State) setIndex(idx int, v Value) {
	if !isPseudo(idx) {
		if o, ok := L.stackSlot(idx); ok {
			L.stack[o] = v
		}
		return
	}
	ci := L.ci
	n := config.RegistryIndex - idx
	f := L.stack[ci.fn]
	ok := n > 0 && f.tt == tagGoClosure && n <= len(L.g.gcl(f.handle()).upvalue)
	if !L.apiCheck(ok, "index", "invalid index") {
		return
	}
	cl := L.g.gcl(f.handle())
	cl.upvalue[n-1] = v
	L.g.barrier(cl, v)
}

// absIndex converts a relative index to an absolute one.
func (L *State) absIndex(idx int) int {
	if idx > 0 || isPseudo(idx) {
		return idx
	}
	return L.top - L.ci.fn + idx
}

func (L *State) apiIncrTop() {
	L.top++
	L.apiCheck(L.top <= L.ci.top, "push", "stack overflow")
}

// push stores v on top, normalizing every nil variant.
func (L *State) push(v Value) {
	if v.isNil() {
		v = nilValue
	}
	L.stack[L.top] = v
	L.apiIncrTop()
}

// pushString pushes a new string without any API checks.
func (L *State) pushString(s string) {
	v := L.newStringValue(s)
	L.stack[L.top] = v
	L.top++
}
