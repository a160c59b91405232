package vm

// Basic stack manipulation. Indices are relative to the running function:
// 1 is its first argument, -1 the top value.

// AbsIndex converts an acceptable index into an absolute one.
func (L *State) AbsIndex(idx int) int {
	L.lock()
	defer L.unlock()
	return L.absIndex(idx)
}

// Top returns the index of the top value, which is also the number of
// values in the current frame.
func (L *State) Top() int {
	L.lock()
	defer L.unlock()
	return L.top - (L.ci.fn + 1)
}

// SetTop sets the top to idx, filling new slots with nil. Dropping a
// to-be-closed slot closes it.
func (L *State) SetTop(idx int) {
	L.lock()
	defer L.unlock()
	L.setTop(idx)
}

func (L *State) setTop(idx int) {
	ci := L.ci
	var diff int
	if idx >= 0 {
		if !L.apiCheck(idx <= ci.top-(ci.fn+1), "settop", "new top too large") {
			return
		}
		diff = ci.fn + 1 + idx - L.top
		for ; diff > 0; diff-- {
			L.stack[L.top] = nilValue
			L.top++
		}
	} else {
		if !L.apiCheck(-(idx+1) <= L.top-(ci.fn+1), "settop", "invalid new top") {
			return
		}
		diff = idx + 1
	}
	newTop := L.top + diff
	if diff < 0 && len(L.tbclist) > 0 && L.tbclist[len(L.tbclist)-1] >= newTop {
		newTop = L.closeFrom(newTop, closeKTop, false)
	}
	L.top = newTop
}

// Pop removes n values from the top.
func (L *State) Pop(n int) {
	L.SetTop(-n - 1)
}

// PushValue pushes a copy of the value at idx.
func (L *State) PushValue(idx int) {
	L.lock()
	defer L.unlock()
	L.push(L.index2value(idx))
}

func (L *State) reverse(from, to int) {
	for ; from < to; from, to = from+1, to-1 {
		L.stack[from], L.stack[to] = L.stack[to], L.stack[from]
	}
}

// Rotate rotates the values between idx and the top n positions towards
// the top, or -n positions towards the bottom when n is negative.
func (L *State) Rotate(idx, n int) {
	L.lock()
	defer L.unlock()
	L.rotate(idx, n)
}

func (L *State) rotate(idx, n int) {
	t := L.top - 1
	p, ok := L.stackSlot(idx)
	if !ok {
		return
	}
	an := n
	if an < 0 {
		an = -an
	}
	if !L.apiCheck(an <= t-p+1, "rotate", "invalid 'n'") {
		return
	}
	var m int
	if n >= 0 {
		m = t - n
	} else {
		m = p - n - 1
	}
	L.reverse(p, m)
	L.reverse(m+1, t)
	L.reverse(p, t)
}

// Insert moves the top value into idx, shifting up the values above it.
func (L *State) Insert(idx int) {
	L.Rotate(idx, 1)
}

// Remove deletes the value at idx, shifting down the values above it.
func (L *State) Remove(idx int) {
	L.lock()
	defer L.unlock()
	L.rotate(idx, -1)
	L.setTop(-2)
}

// Replace pops the top value into idx.
func (L *State) Replace(idx int) {
	L.lock()
	defer L.unlock()
	L.setIndex(idx, L.index2value(-1))
	L.setTop(-2)
}

// Copy stores the value at from into to.
func (L *State) Copy(from, to int) {
	L.lock()
	defer L.unlock()
	L.setIndex(to, L.index2value(from))
}

// CheckStack makes sure there is room for n more values. It reports false
// when the stack cannot grow that much.
func (L *State) CheckStack(n int) bool {
	L.lock()
	defer L.unlock()
	if !L.apiCheck(n >= 0, "checkstack", "negative 'n'") {
		return false
	}
	ci := L.ci
	ok := true
	if L.stackLast-L.top <= n {
		ok = L.growStack(n, false)
	}
	if ok && ci.top < L.top+n {
		ci.top = L.top + n
	}
	return ok
}

// XMove pops n values from L and pushes them onto to. Both threads must
// belong to the same runtime.
func (L *State) XMove(to *State, n int) {
	if L == to {
		return
	}
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(n, "xmove") ||
		!L.apiCheck(L.g == to.g, "xmove", "moving among independent states") ||
		!L.apiCheck(to.ci.top-to.top >= n, "xmove", "stack overflow") {
		return
	}
	L.top -= n
	for i := 0; i < n; i++ {
		to.stack[to.top] = L.stack[L.top+i]
		to.top++
	}
}
