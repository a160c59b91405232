package vm

import (
	"fmt"
	"reflect"

	"github.com/funvibe/funlua/internal/config"
)

// Queries

// Type returns the type of the value at idx, TypeNone for an index that
// holds no value.
func (L *State) Type(idx int) Type {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	if v.isAbsent() {
		return TypeNone
	}
	return v.tt.base()
}

// TypeName returns the name of type t.
func (L *State) TypeName(t Type) string {
	return t.String()
}

// IsNumber reports whether the value at idx is a number or a string
// convertible to one.
func (L *State) IsNumber(idx int) bool {
	L.lock()
	defer L.unlock()
	_, ok := L.g.toNumber(L.index2value(idx))
	return ok
}

// IsString reports whether the value at idx is a string or a number.
func (L *State) IsString(idx int) bool {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	return v.isString() || v.isNumber()
}

func (L *State) IsGoFunction(idx int) bool {
	L.lock()
	defer L.unlock()
	return L.index2value(idx).isGoFunction()
}

func (L *State) IsInteger(idx int) bool {
	L.lock()
	defer L.unlock()
	return L.index2value(idx).isInt()
}

// IsUserdata reports whether the value at idx is a full or a light userdata.
func (L *State) IsUserdata(idx int) bool {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	return v.isUserdata() || v.tt == tagLightUserdata
}

func (L *State) IsNil(idx int) bool           { return L.Type(idx) == TypeNil }
func (L *State) IsNone(idx int) bool          { return L.Type(idx) == TypeNone }
func (L *State) IsNoneOrNil(idx int) bool     { return L.Type(idx) <= TypeNil }
func (L *State) IsBoolean(idx int) bool       { return L.Type(idx) == TypeBoolean }
func (L *State) IsTable(idx int) bool         { return L.Type(idx) == TypeTable }
func (L *State) IsFunction(idx int) bool      { return L.Type(idx) == TypeFunction }
func (L *State) IsThread(idx int) bool        { return L.Type(idx) == TypeThread }
func (L *State) IsLightUserdata(idx int) bool { return L.Type(idx) == TypeLightUserdata }

// RawEqual compares two values without metamethods. Invalid indices are
// never equal.
func (L *State) RawEqual(idx1, idx2 int) bool {
	L.lock()
	defer L.unlock()
	a, b := L.index2value(idx1), L.index2value(idx2)
	if a.isAbsent() || b.isAbsent() {
		return false
	}
	return L.rawEqual(a, b)
}

// ToNumber converts the value at idx to a float.
func (L *State) ToNumber(idx int) (float64, bool) {
	L.lock()
	defer L.unlock()
	return L.g.toNumber(L.index2value(idx))
}

// ToInteger converts the value at idx to an integer. Floats must have an
// exact integer value.
func (L *State) ToInteger(idx int) (int64, bool) {
	L.lock()
	defer L.unlock()
	return L.g.toInteger(L.index2value(idx), f2iEq)
}

// ToBoolean reports whether the value at idx is neither false nor nil.
func (L *State) ToBoolean(idx int) bool {
	L.lock()
	defer L.unlock()
	return !L.index2value(idx).isFalsy()
}

// ToString returns the string at idx. A number is converted and the slot
// is replaced by the resulting string.
func (L *State) ToString(idx int) (string, bool) {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	if !v.isString() {
		if !v.isNumber() {
			return "", false
		}
		s := L.newStringValue(numberToString(v))
		L.setIndex(idx, s)
		L.checkGC()
		v = L.index2value(idx)
	}
	return L.g.strValue(v), true
}

// RawLen returns the length of a string, the size of a userdata block or
// the border of a table, without metamethods.
func (L *State) RawLen(idx int) int {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	switch {
	case v.isString():
		return len(L.g.strValue(v))
	case v.isUserdata():
		return len(L.g.udata(v.handle()).data)
	case v.isTable():
		return int(L.g.tbl(v.handle()).tableLength())
	}
	return 0
}

// ToGoFunction returns the host function at idx, or nil.
func (L *State) ToGoFunction(idx int) Function {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	switch v.tt {
	case tagLightFunc:
		return v.lightFunc()
	case tagGoClosure:
		return L.g.gcl(v.handle()).fn
	}
	return nil
}

// ToUserdata returns the memory block of the full userdata at idx.
func (L *State) ToUserdata(idx int) []byte {
	L.lock()
	defer L.unlock()
	if v := L.index2value(idx); v.isUserdata() {
		return L.g.udata(v.handle()).data
	}
	return nil
}

// ToUserdataValue returns the Go value held by the full userdata at idx,
// or the payload of a light userdata.
func (L *State) ToUserdataValue(idx int) any {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	switch v.tt {
	case tagUserdata:
		return L.g.udata(v.handle()).value
	case tagLightUserdata:
		return v.p
	}
	return nil
}

// ToLightUserdata returns the payload of the light userdata at idx.
func (L *State) ToLightUserdata(idx int) (any, bool) {
	L.lock()
	defer L.unlock()
	if v := L.index2value(idx); v.tt == tagLightUserdata {
		return v.p, true
	}
	return nil, false
}

// ToThread returns the thread at idx, or nil.
func (L *State) ToThread(idx int) *State {
	L.lock()
	defer L.unlock()
	if v := L.index2value(idx); v.isThread() {
		return L.g.thread(v.handle())
	}
	return nil
}

// ToPointer returns an identity for the object at idx. It is only
// meaningful for comparisons and diagnostics.
func (L *State) ToPointer(idx int) uintptr {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	switch {
	case v.collectable():
		return uintptr(v.handle())
	case v.tt == tagLightFunc:
		return reflect.ValueOf(v.lightFunc()).Pointer()
	case v.tt == tagLightUserdata:
		if rv := reflect.ValueOf(v.p); rv.Kind() == reflect.Pointer {
			return rv.Pointer()
		}
	}
	return 0
}

// StringToNumber pushes the number denoted by s and returns len(s)+1, or
// pushes nothing and returns 0 when s is not a numeral.
func (L *State) StringToNumber(s string) int {
	L.lock()
	defer L.unlock()
	v, ok := str2num(s)
	if !ok {
		return 0
	}
	L.push(v)
	return len(s) + 1
}

// Push

func (L *State) PushNil() {
	L.lock()
	defer L.unlock()
	L.push(nilValue)
}

func (L *State) PushNumber(n float64) {
	L.lock()
	defer L.unlock()
	L.push(floatValue(n))
}

func (L *State) PushInteger(n int64) {
	L.lock()
	defer L.unlock()
	L.push(intValue(n))
}

func (L *State) PushBoolean(b bool) {
	L.lock()
	defer L.unlock()
	L.push(boolValue(b))
}

// PushString pushes a copy of s.
func (L *State) PushString(s string) {
	L.lock()
	defer L.unlock()
	v := L.newStringValue(s)
	L.push(v)
	L.checkGC()
}

// PushFString pushes a formatted string and returns it.
func (L *State) PushFString(format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	L.PushString(s)
	return s
}

// PushGoClosure pushes fn with the n values on top as its upvalues. With
// no upvalues the function is light and needs no allocation.
func (L *State) PushGoClosure(fn Function, n int) {
	L.lock()
	defer L.unlock()
	if n == 0 {
		L.push(lightFuncValue(fn))
		return
	}
	if !L.apiCheckNElems(n, "pushcclosure") ||
		!L.apiCheck(n <= config.MaxUpval, "pushcclosure", "upvalue index too large") {
		return
	}
	cl := L.newGoClosure(fn, n)
	L.top -= n
	copy(cl.upvalue, L.stack[L.top:L.top+n])
	L.stack[L.top] = cl.value()
	L.apiIncrTop()
	L.checkGC()
}

// PushGoFunction pushes fn as a light function. Light functions compare
// by code pointer, so closures of the same literal are equal. Use
// PushGoClosure with upvalues when distinct identities matter.
func (L *State) PushGoFunction(fn Function) {
	L.PushGoClosure(fn, 0)
}

// PushLightUserdata pushes a light userdata. p must be comparable so it
// can be used as a table key.
func (L *State) PushLightUserdata(p any) {
	L.lock()
	defer L.unlock()
	ok := p == nil || reflect.TypeOf(p).Comparable()
	if !L.apiCheck(ok, "pushlightuserdata", "value is not comparable") {
		return
	}
	L.push(lightUserdataValue(p))
}

// PushThread pushes L and reports whether it is the main thread.
func (L *State) PushThread() bool {
	L.lock()
	defer L.unlock()
	L.push(L.value())
	return L == L.g.mainThread
}

// Get

func (L *State) globals() Value {
	reg := L.g.tbl(L.g.registry.handle())
	return reg.getInt(config.RegistryGlobals)
}

func (L *State) auxGetStr(t Value, k string) Type {
	key := L.newStringValue(k)
	L.stack[L.top] = key
	L.apiIncrTop()
	v := L.getValue(t, key)
	L.stack[L.top-1] = v
	return v.tt.base()
}

// GetGlobal pushes the global name and returns its type.
func (L *State) GetGlobal(name string) Type {
	L.lock()
	defer L.unlock()
	return L.auxGetStr(L.globals(), name)
}

// GetTable replaces the key on top with t[key], where t is at idx.
func (L *State) GetTable(idx int) Type {
	L.lock()
	defer L.unlock()
	t := L.index2value(idx)
	v := L.getValue(t, L.stack[L.top-1])
	L.stack[L.top-1] = v
	return v.tt.base()
}

// GetField pushes t[k], where t is at idx.
func (L *State) GetField(idx int, k string) Type {
	L.lock()
	defer L.unlock()
	return L.auxGetStr(L.index2value(idx), k)
}

// GetI pushes t[n], where t is at idx.
func (L *State) GetI(idx int, n int64) Type {
	L.lock()
	defer L.unlock()
	t := L.index2value(idx)
	v := L.getValue(t, intValue(n))
	L.push(v)
	return v.tt.base()
}

func (L *State) tableAt(idx int, op string) *Table {
	v := L.index2value(idx)
	if !L.apiCheck(v.isTable(), op, "table expected") {
		return nil
	}
	return L.g.tbl(v.handle())
}

func (L *State) finishRawGet(v Value) Type {
	if v.isNil() {
		v = nilValue
	}
	L.push(v)
	return v.tt.base()
}

// RawGet is GetTable without metamethods.
func (L *State) RawGet(idx int) Type {
	L.lock()
	defer L.unlock()
	t := L.tableAt(idx, "rawget")
	if t == nil {
		return TypeNone
	}
	L.top--
	return L.finishRawGet(L.g.tableGet(t, L.stack[L.top]))
}

// RawGetI pushes t[n] without metamethods.
func (L *State) RawGetI(idx int, n int64) Type {
	L.lock()
	defer L.unlock()
	t := L.tableAt(idx, "rawgeti")
	if t == nil {
		return TypeNone
	}
	return L.finishRawGet(t.getInt(n))
}

// RawGetP pushes t[p] for the light userdata key p, without metamethods.
func (L *State) RawGetP(idx int, p any) Type {
	L.lock()
	defer L.unlock()
	t := L.tableAt(idx, "rawgetp")
	if t == nil {
		return TypeNone
	}
	return L.finishRawGet(L.g.tableGet(t, lightUserdataValue(p)))
}

// CreateTable pushes a new table presized for narr array and nrec hash
// entries.
func (L *State) CreateTable(narr, nrec int) {
	L.lock()
	defer L.unlock()
	t := L.createTable(narr, nrec)
	L.push(t.value())
	L.checkGC()
}

func (L *State) NewTable() {
	L.CreateTable(0, 0)
}

func (L *State) newUserdata(u *Userdata) {
	for i := range u.uv {
		u.uv[i] = nilValue
	}
	h := L.newObject(u, tagUserdata, userdataSize(len(u.uv), len(u.data)))
	L.push(gcValue(tagUserdata, h))
	L.checkGC()
}

// NewUserdataUV pushes a full userdata with a zeroed block of size bytes
// and nuv user values, and returns the block.
func (L *State) NewUserdataUV(size, nuv int) []byte {
	L.lock()
	defer L.unlock()
	if !L.apiCheck(nuv >= 0 && nuv <= maxUserValues, "newuserdata", "invalid value") {
		return nil
	}
	u := &Userdata{data: make([]byte, size), uv: make([]Value, nuv)}
	L.newUserdata(u)
	return u.data
}

// NewUserdataValue pushes a full userdata holding the Go value v.
func (L *State) NewUserdataValue(v any, nuv int) {
	L.lock()
	defer L.unlock()
	if !L.apiCheck(nuv >= 0 && nuv <= maxUserValues, "newuserdata", "invalid value") {
		return
	}
	L.newUserdata(&Userdata{value: v, uv: make([]Value, nuv)})
}

const maxUserValues = 1<<16 - 1

// GetMetatable pushes the metatable of the value at idx. It pushes nothing
// and returns false when there is none.
func (L *State) GetMetatable(idx int) bool {
	L.lock()
	defer L.unlock()
	h := L.g.metaOf(L.index2value(idx))
	if h == 0 {
		return false
	}
	L.push(gcValue(tagTable, h))
	return true
}

// GetIUserValue pushes the n-th user value of the userdata at idx. It
// pushes nil and returns TypeNone when there is no such value.
func (L *State) GetIUserValue(idx, n int) Type {
	L.lock()
	defer L.unlock()
	v := L.index2value(idx)
	if !L.apiCheck(v.isUserdata(), "getiuservalue", "full userdata expected") {
		return TypeNone
	}
	u := L.g.udata(v.handle())
	if n <= 0 || n > len(u.uv) {
		L.push(nilValue)
		return TypeNone
	}
	L.push(u.uv[n-1])
	return u.uv[n-1].tt.base()
}

// Set

func (L *State) auxSetStr(t Value, k string) {
	key := L.newStringValue(k)
	L.stack[L.top] = key
	L.apiIncrTop()
	L.setValue(t, key, L.stack[L.top-2])
	L.top -= 2
}

// SetGlobal pops a value into the global name.
func (L *State) SetGlobal(name string) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "setglobal") {
		return
	}
	L.auxSetStr(L.globals(), name)
}

// SetTable does t[k] = v, where t is at idx, v on top and k below it, and
// pops both.
func (L *State) SetTable(idx int) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(2, "settable") {
		return
	}
	t := L.index2value(idx)
	L.setValue(t, L.stack[L.top-2], L.stack[L.top-1])
	L.top -= 2
}

// SetField pops a value into t[k], where t is at idx.
func (L *State) SetField(idx int, k string) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "setfield") {
		return
	}
	L.auxSetStr(L.index2value(idx), k)
}

// SetI pops a value into t[n], where t is at idx.
func (L *State) SetI(idx int, n int64) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "seti") {
		return
	}
	t := L.index2value(idx)
	L.setValue(t, intValue(n), L.stack[L.top-1])
	L.top--
}

func (L *State) rawSet(idx int, key Value, n int) {
	t := L.tableAt(idx, "rawset")
	if t == nil || !L.apiCheckNElems(n, "rawset") {
		return
	}
	v := L.stack[L.top-1]
	L.tableSet(t, key, v)
	L.g.barrierBack(t, v)
	L.top -= n
}

// RawSet is SetTable without metamethods.
func (L *State) RawSet(idx int) {
	L.lock()
	defer L.unlock()
	L.rawSet(idx, L.stack[L.top-2], 2)
}

// RawSetI pops a value into t[n] without metamethods.
func (L *State) RawSetI(idx int, n int64) {
	L.lock()
	defer L.unlock()
	L.rawSet(idx, intValue(n), 1)
}

// RawSetP pops a value into t[p] for the light userdata key p.
func (L *State) RawSetP(idx int, p any) {
	L.lock()
	defer L.unlock()
	L.rawSet(idx, lightUserdataValue(p), 1)
}

// SetMetatable pops a table or nil and makes it the metatable of the value
// at idx. Tables and full userdata have their own metatable; every other
// type shares one per type.
func (L *State) SetMetatable(idx int) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "setmetatable") {
		return
	}
	g := L.g
	obj := L.index2value(idx)
	top := L.stack[L.top-1]
	var mt handle
	if !top.isNil() {
		if !L.apiCheck(top.isTable(), "setmetatable", "table expected") {
			return
		}
		mt = top.handle()
	}
	switch obj.tt {
	case tagTable:
		t := g.tbl(obj.handle())
		t.meta = mt
		if mt != 0 {
			g.objBarrier(t, mt)
			L.checkFinalizer(obj.handle(), g.tbl(mt))
		}
	case tagUserdata:
		u := g.udata(obj.handle())
		u.meta = mt
		if mt != 0 {
			g.objBarrier(u, mt)
			L.checkFinalizer(obj.handle(), g.tbl(mt))
		}
	default:
		if t := obj.tt.base(); t >= 0 && t < numTypes {
			g.mt[t] = mt
		}
	}
	L.top--
}

// SetIUserValue pops a value into the n-th user value of the userdata at
// idx. It reports false when the userdata has no such value.
func (L *State) SetIUserValue(idx, n int) bool {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "setiuservalue") {
		return false
	}
	v := L.index2value(idx)
	if !L.apiCheck(v.isUserdata(), "setiuservalue", "full userdata expected") {
		return false
	}
	u := L.g.udata(v.handle())
	ok := n > 0 && n <= len(u.uv)
	if ok {
		u.uv[n-1] = L.stack[L.top-1]
		L.g.barrierBack(u, u.uv[n-1])
	}
	L.top--
	return ok
}

// Upvalues

// upvalueAt locates upvalue n of the function f. Exactly one of slot and
// uv is set on success.
func (L *State) upvalueAt(f Value, n int) (name string, owner object, slot *Value, uv *Upval) {
	g := L.g
	switch f.tt {
	case tagGoClosure:
		cl := g.gcl(f.handle())
		if n >= 1 && n <= len(cl.upvalue) {
			return "", cl, &cl.upvalue[n-1], nil
		}
	case tagLuaClosure:
		cl := g.lcl(f.handle())
		if n >= 1 && n <= len(cl.upvals) {
			name = "(no name)"
			if p := g.proto(cl.p); n <= len(p.upvals) && p.upvals[n-1].name != "" {
				name = p.upvals[n-1].name
			}
			u := g.upval(cl.upvals[n-1])
			return name, u, nil, u
		}
	}
	return "", nil, nil, nil
}

// GetUpvalue pushes upvalue n of the function at funcIdx and returns its
// name, "" for host functions. It pushes nothing when there is no such
// upvalue.
func (L *State) GetUpvalue(funcIdx, n int) (string, bool) {
	L.lock()
	defer L.unlock()
	name, owner, slot, uv := L.upvalueAt(L.index2value(funcIdx), n)
	if owner == nil {
		return "", false
	}
	if slot != nil {
		L.push(*slot)
	} else {
		L.push(uv.get())
	}
	return name, true
}

// SetUpvalue pops a value into upvalue n of the function at funcIdx.
func (L *State) SetUpvalue(funcIdx, n int) (string, bool) {
	L.lock()
	defer L.unlock()
	if !L.apiCheckNElems(1, "setupvalue") {
		return "", false
	}
	name, owner, slot, uv := L.upvalueAt(L.index2value(funcIdx), n)
	if owner == nil {
		return "", false
	}
	L.top--
	v := L.stack[L.top]
	if slot != nil {
		*slot = v
	} else {
		uv.set(v)
	}
	L.g.barrier(owner, v)
	return name, true
}

type goUpvalueID struct {
	cl handle
	n  int
}

// UpvalueID returns a comparable identity of upvalue n of the function at
// funcIdx. Closures sharing an upvalue return equal identities.
func (L *State) UpvalueID(funcIdx, n int) any {
	L.lock()
	defer L.unlock()
	f := L.index2value(funcIdx)
	switch f.tt {
	case tagLuaClosure:
		cl := L.g.lcl(f.handle())
		if n >= 1 && n <= len(cl.upvals) {
			return cl.upvals[n-1]
		}
	case tagGoClosure:
		cl := L.g.gcl(f.handle())
		if n >= 1 && n <= len(cl.upvalue) {
			return goUpvalueID{cl: f.handle(), n: n}
		}
	default:
		L.apiCheck(false, "upvalueid", "function expected")
	}
	return nil
}

// UpvalueJoin makes upvalue n1 of the interpreted function at f1 refer to
// upvalue n2 of the one at f2.
func (L *State) UpvalueJoin(f1, n1, f2, n2 int) {
	L.lock()
	defer L.unlock()
	v1, v2 := L.index2value(f1), L.index2value(f2)
	if !L.apiCheck(v1.isLuaClosure() && v2.isLuaClosure(), "upvaluejoin", "Lua function expected") {
		return
	}
	cl1, cl2 := L.g.lcl(v1.handle()), L.g.lcl(v2.handle())
	ok := n1 >= 1 && n1 <= len(cl1.upvals) && n2 >= 1 && n2 <= len(cl2.upvals)
	if !L.apiCheck(ok, "upvaluejoin", "invalid upvalue index") {
		return
	}
	cl1.upvals[n1-1] = cl2.upvals[n2-1]
	L.g.objBarrier(cl1, cl1.upvals[n1-1])
}
