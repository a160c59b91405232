package vm

import (
	"github.com/funvibe/funlua/internal/config"
)

// String is an immutable byte string. Short strings are interned, so
// two short strings are equal only if they are the same object.
type String struct {
	header
	s      string
	hash   uint32
	hashed bool
}

func stringSize(n int) int {
	return sizeString + n + 1
}

// hashString is the seeded hash used for table keys.
func hashString(s string, seed uint32) uint32 {
	h := seed ^ uint32(len(s))
	for i := len(s); i > 0; i-- {
		h ^= (h << 5) + (h >> 2) + uint32(s[i-1])
	}
	return h
}

func (ts *String) hashOf(seed uint32) uint32 {
	if !ts.hashed {
		ts.hash = hashString(ts.s, seed)
		ts.hashed = true
	}
	return ts.hash
}

// newString creates or reuses a string object. Short strings go through the
// intern table; a dead short string found there during a sweep is revived.
func (L *State) newString(s string) handle {
	g := L.g
	if len(s) <= config.MaxShortLen {
		if h, ok := g.strt[s]; ok {
			ts := g.hdr(h)
			if g.isDead(ts) {
				ts.changeWhite()
			}
			return h
		}
		ts := &String{s: s, hash: hashString(s, g.seed), hashed: true}
		h := L.newObject(ts, tagShortStr, stringSize(len(s)))
		g.strt[s] = h
		return h
	}
	return L.newObject(&String{s: s}, tagLongStr, stringSize(len(s)))
}

// newStringValue is newString wrapped as a value.
func (L *State) newStringValue(s string) Value {
	h := L.newString(s)
	return gcValue(L.g.tagOf(h), h)
}

// removeString drops a dying short string from the intern table.
func (g *global) removeString(ts *String) {
	if h, ok := g.strt[ts.s]; ok && h == ts.self {
		delete(g.strt, ts.s)
	}
}

// strValue returns the contents of a string value.
func (g *global) strValue(v Value) string {
	return g.str(v.handle()).s
}

func (g *global) eqLongStr(a, b handle) bool {
	if a == b {
		return true
	}
	return g.str(a).s == g.str(b).s
}
