package vm

import (
	"fmt"
	"math"
	"reflect"
)

// Type identifies the basic type of a value as the host sees it.
type Type int

const (
	TypeNone Type = iota - 1
	TypeNil
	TypeBoolean
	TypeLightUserdata
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeUserdata
	TypeThread

	numTypes
)

// Internal-only types, never visible through the API
const (
	typeUpval = numTypes
	typeProto = numTypes + 1
)

var typeNames = [...]string{
	"no value", "nil", "boolean", "userdata", "number", "string",
	"table", "function", "userdata", "thread", "upvalue", "proto",
}

func (t Type) String() string {
	if t < TypeNone || int(t+1) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t+1]
}

// Tag is a value's type discriminant:
// bits 0-3 base type, bits 4-5 variant, bit 6 collectable.
type Tag uint8

const bitCollectable Tag = 1 << 6

// Variant tags
const (
	tagNil       Tag = Tag(TypeNil)
	tagEmpty     Tag = Tag(TypeNil) | 1<<4 // stack or array slot never written
	tagAbsentKey Tag = Tag(TypeNil) | 2<<4 // key not present / no value

	tagFalse Tag = Tag(TypeBoolean)
	tagTrue  Tag = Tag(TypeBoolean) | 1<<4

	tagInt   Tag = Tag(TypeNumber)
	tagFloat Tag = Tag(TypeNumber) | 1<<4

	tagShortStr Tag = Tag(TypeString) | bitCollectable
	tagLongStr  Tag = Tag(TypeString) | 1<<4 | bitCollectable

	tagTable Tag = Tag(TypeTable) | bitCollectable

	tagLuaClosure Tag = Tag(TypeFunction) | bitCollectable
	tagLightFunc  Tag = Tag(TypeFunction) | 1<<4
	tagGoClosure  Tag = Tag(TypeFunction) | 2<<4 | bitCollectable

	tagLightUserdata Tag = Tag(TypeLightUserdata)
	tagUserdata      Tag = Tag(TypeUserdata) | bitCollectable

	tagThread Tag = Tag(TypeThread) | bitCollectable
	tagUpval  Tag = Tag(typeUpval) | bitCollectable
	tagProto  Tag = Tag(typeProto) | bitCollectable
)

func (t Tag) base() Type        { return Type(t & 0x0f) }
func (t Tag) variant() Tag      { return t & 0x3f }
func (t Tag) collectable() bool { return t&bitCollectable != 0 }

// Function is a host function callable from the runtime. It receives its
// arguments on the stack and returns how many results it left on top.
type Function func(L *State) int

// Value is a tagged runtime value. n holds integer bits, float bits, or an
// arena handle for collectable objects; p holds light userdata and light
// function payloads.
type Value struct {
	tt Tag
	n  uint64
	p  any
}

var (
	nilValue    = Value{tt: tagNil}
	emptyValue  = Value{tt: tagEmpty}
	absentValue = Value{tt: tagAbsentKey}
	falseValue  = Value{tt: tagFalse}
	trueValue   = Value{tt: tagTrue}
)

// Constructors

func boolValue(b bool) Value {
	if b {
		return trueValue
	}
	return falseValue
}

func intValue(i int64) Value {
	return Value{tt: tagInt, n: uint64(i)}
}

func floatValue(f float64) Value {
	return Value{tt: tagFloat, n: math.Float64bits(f)}
}

func lightUserdataValue(p any) Value {
	return Value{tt: tagLightUserdata, p: p}
}

// lightFuncValue identifies the function by reflect.Value.Pointer, its code
// pointer, so that two pushes of the same function compare equal. Go does
// not promise that this pointer names a single function: closures of one
// literal share it and so compare equal whatever they capture. Go closures
// with upvalues are heap objects and keep their own identity.
func lightFuncValue(f Function) Value {
	return Value{tt: tagLightFunc, n: uint64(reflect.ValueOf(f).Pointer()), p: f}
}

func gcValue(tt Tag, h handle) Value {
	return Value{tt: tt, n: uint64(h)}
}

// Accessors. Callers check the tag first.

func (v Value) ival() int64         { return int64(v.n) }
func (v Value) fval() float64       { return math.Float64frombits(v.n) }
func (v Value) handle() handle      { return handle(v.n) }
func (v Value) lightFunc() Function { return v.p.(Function) }

// Type checking helpers

func (v Value) isNil() bool        { return v.tt.base() == TypeNil }
func (v Value) isEmpty() bool      { return v.tt.base() == TypeNil }
func (v Value) isStrictNil() bool  { return v.tt == tagNil }
func (v Value) isAbsent() bool     { return v.tt == tagAbsentKey }
func (v Value) isFalse() bool      { return v.tt == tagFalse }
func (v Value) isFalsy() bool      { return v.tt == tagFalse || v.tt.base() == TypeNil }
func (v Value) isInt() bool        { return v.tt == tagInt }
func (v Value) isFloat() bool      { return v.tt == tagFloat }
func (v Value) isNumber() bool     { return v.tt.base() == TypeNumber }
func (v Value) isString() bool     { return v.tt.base() == TypeString }
func (v Value) isShortStr() bool   { return v.tt == tagShortStr }
func (v Value) isTable() bool      { return v.tt == tagTable }
func (v Value) isFunction() bool   { return v.tt.base() == TypeFunction }
func (v Value) isLuaClosure() bool { return v.tt == tagLuaClosure }
func (v Value) isGoFunction() bool { return v.tt == tagLightFunc || v.tt == tagGoClosure }
func (v Value) isUserdata() bool   { return v.tt == tagUserdata }
func (v Value) isThread() bool     { return v.tt == tagThread }
func (v Value) collectable() bool  { return v.tt.collectable() }

// numberValue returns the value as a float64 without string coercion.
func (v Value) numberValue() (float64, bool) {
	switch v.tt {
	case tagInt:
		return float64(v.ival()), true
	case tagFloat:
		return v.fval(), true
	}
	return 0, false
}

// goString renders a value for diagnostics without touching the heap.
func (v Value) goString() string {
	switch v.tt {
	case tagInt:
		return fmt.Sprintf("%d", v.ival())
	case tagFloat:
		return formatFloat(v.fval())
	case tagTrue:
		return "true"
	case tagFalse:
		return "false"
	case tagNil:
		return "nil"
	case tagEmpty:
		return "<empty>"
	case tagAbsentKey:
		return "<absent>"
	}
	return fmt.Sprintf("%s: 0x%08x", v.tt.base(), v.n)
}
