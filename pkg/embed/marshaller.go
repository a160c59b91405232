package funlua

import (
	"fmt"
	"math"
	"reflect"
)

var (
	anyType      = reflect.TypeOf((*any)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	stateType    = reflect.TypeOf((*State)(nil))
	functionType = reflect.TypeOf(Function(nil))
	bytesType    = reflect.TypeOf([]byte(nil))
)

// Marshaller converts between Go values and stack values.
//
// Going in, numbers, booleans and strings map to their runtime
// counterparts, slices and arrays become sequences, maps and structs
// become tables, functions become callable host functions, and anything
// else (pointers included) is wrapped in a full userdata that keeps the
// Go value. Coming out, integers default to int64, floats to float64,
// sequences to []any and other tables to map[any]any.
type Marshaller struct{}

func NewMarshaller() *Marshaller {
	return &Marshaller{}
}

// ToValue pushes the conversion of val onto L. On error nothing is pushed.
func (m *Marshaller) ToValue(L *State, val any) error {
	top := L.Top()
	if err := m.push(L, val); err != nil {
		L.SetTop(top)
		return err
	}
	return nil
}

func (m *Marshaller) push(L *State, val any) error {
	if !L.CheckStack(3) {
		return fmt.Errorf("stack overflow while converting %T", val)
	}
	switch x := val.(type) {
	case nil:
		L.PushNil()
		return nil
	case Function:
		L.PushGoFunction(x)
		return nil
	case func(*State) int:
		L.PushGoFunction(x)
		return nil
	case *State:
		if x.MainThread() != L.MainThread() {
			return fmt.Errorf("thread belongs to another runtime")
		}
		x.PushThread()
		x.XMove(L, 1)
		return nil
	case []byte:
		L.PushString(string(x))
		return nil
	}

	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		L.PushInteger(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		L.PushInteger(int64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		L.PushNumber(v.Float())
	case reflect.Bool:
		L.PushBoolean(v.Bool())
	case reflect.String:
		L.PushString(v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			L.PushNil()
			return nil
		}
		return m.sliceToTable(L, v)
	case reflect.Map:
		if v.IsNil() {
			L.PushNil()
			return nil
		}
		return m.mapToTable(L, v)
	case reflect.Struct:
		// Struct by value -> table (copy)
		return m.structToTable(L, v)
	case reflect.Func:
		if v.IsNil() {
			L.PushNil()
			return nil
		}
		L.PushGoFunction(m.goFunction(v))
	case reflect.Ptr, reflect.Interface, reflect.Chan:
		if v.IsNil() {
			L.PushNil()
			return nil
		}
		// Reference -> userdata
		L.NewUserdataValue(val, 0)
	default:
		L.NewUserdataValue(val, 0)
	}
	return nil
}

func (m *Marshaller) sliceToTable(L *State, v reflect.Value) error {
	n := v.Len()
	L.CreateTable(n, 0)
	for i := 0; i < n; i++ {
		if err := m.push(L, v.Index(i).Interface()); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		L.RawSetI(-2, int64(i+1))
	}
	return nil
}

func (m *Marshaller) mapToTable(L *State, v reflect.Value) error {
	L.CreateTable(0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().Interface()
		if isNilKey(key) {
			return fmt.Errorf("map key: nil or NaN cannot be a table key")
		}
		if err := m.push(L, key); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		if err := m.push(L, iter.Value().Interface()); err != nil {
			return fmt.Errorf("map value: %w", err)
		}
		L.RawSet(-3)
	}
	return nil
}

func isNilKey(key any) bool {
	if key == nil {
		return true
	}
	rv := reflect.ValueOf(key)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return math.IsNaN(rv.Float())
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// fieldName is the table key of a struct field: the `lua` tag when
// present, else the Go name. "-" skips the field.
func fieldName(f reflect.StructField) (string, bool) {
	if f.PkgPath != "" { // Skip unexported fields
		return "", false
	}
	name := f.Name
	if tag, ok := f.Tag.Lookup("lua"); ok {
		if tag == "-" {
			return "", false
		}
		if tag != "" {
			name = tag
		}
	}
	return name, true
}

func (m *Marshaller) structToTable(L *State, v reflect.Value) error {
	t := v.Type()
	L.CreateTable(0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, ok := fieldName(t.Field(i))
		if !ok {
			continue
		}
		if err := m.push(L, v.Field(i).Interface()); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		L.SetField(-2, name)
	}
	return nil
}

// FromValue converts the value at idx to a Go value.
// targetType is optional; if provided, tries to convert to that type.
func (m *Marshaller) FromValue(L *State, idx int, targetType reflect.Type) (any, error) {
	idx = L.AbsIndex(idx)
	if targetType == anyType {
		targetType = nil
	}

	switch L.Type(idx) {
	case TypeNone, TypeNil:
		return nil, nil
	case TypeBoolean:
		return L.ToBoolean(idx), nil
	case TypeNumber:
		return m.fromNumber(L, idx, targetType)
	case TypeString:
		s, _ := L.ToString(idx)
		if targetType == bytesType {
			return []byte(s), nil
		}
		return s, nil
	case TypeTable:
		return m.fromTable(L, idx, targetType)
	case TypeUserdata:
		if v := L.ToUserdataValue(idx); v != nil {
			return v, nil
		}
		return L.ToUserdata(idx), nil
	case TypeLightUserdata:
		v, _ := L.ToLightUserdata(idx)
		return v, nil
	case TypeThread:
		return L.ToThread(idx), nil
	case TypeFunction:
		if f := L.ToGoFunction(idx); f != nil && (targetType == nil || targetType == functionType) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unsupported type for conversion: %s", L.TypeName(L.Type(idx)))
}

func (m *Marshaller) fromNumber(L *State, idx int, targetType reflect.Type) (any, error) {
	if targetType == nil {
		if L.IsInteger(idx) {
			n, _ := L.ToInteger(idx)
			return n, nil
		}
		f, _ := L.ToNumber(idx)
		return f, nil
	}
	out := reflect.New(targetType).Elem()
	switch targetType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := L.ToInteger(idx)
		if !ok {
			return nil, fmt.Errorf("number has no integer representation")
		}
		if out.OverflowInt(n) {
			return nil, fmt.Errorf("number %d overflows %s", n, targetType)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := L.ToInteger(idx)
		if !ok {
			return nil, fmt.Errorf("number has no integer representation")
		}
		if n < 0 || out.OverflowUint(uint64(n)) {
			return nil, fmt.Errorf("number %d overflows %s", n, targetType)
		}
		out.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, _ := L.ToNumber(idx)
		out.SetFloat(f)
	case reflect.String:
		// convert a copy, the original slot may be a table key
		L.PushValue(idx)
		s, _ := L.ToString(-1)
		L.Pop(1)
		out.SetString(s)
	default:
		return m.fromNumber(L, idx, nil)
	}
	return out.Interface(), nil
}

// isSequence reports whether the table at idx has exactly the keys 1..n
// for some n > 0.
func isSequence(L *State, idx int) bool {
	n := L.RawLen(idx)
	if n == 0 {
		return false
	}
	count := 0
	L.PushNil()
	for L.Next(idx) {
		count++
		L.Pop(1)
	}
	return count == n
}

func (m *Marshaller) fromTable(L *State, idx int, targetType reflect.Type) (any, error) {
	if !L.CheckStack(4) {
		return nil, fmt.Errorf("stack overflow while converting table")
	}
	if targetType != nil {
		switch targetType.Kind() {
		case reflect.Slice:
			return m.tableToSlice(L, idx, targetType)
		case reflect.Map:
			return m.tableToMap(L, idx, targetType)
		case reflect.Struct:
			return m.tableToStruct(L, idx, targetType)
		case reflect.Ptr:
			if targetType.Elem().Kind() == reflect.Struct {
				s, err := m.tableToStruct(L, idx, targetType.Elem())
				if err != nil {
					return nil, err
				}
				p := reflect.New(targetType.Elem())
				p.Elem().Set(reflect.ValueOf(s))
				return p.Interface(), nil
			}
		}
	}
	if isSequence(L, idx) {
		return m.tableToSlice(L, idx, nil)
	}
	return m.tableToMap(L, idx, nil)
}

func (m *Marshaller) tableToSlice(L *State, idx int, targetType reflect.Type) (any, error) {
	// If targetType is nil, default to []any
	elemType := anyType
	if targetType != nil {
		elemType = targetType.Elem()
	}
	n := L.RawLen(idx)
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), 0, n)
	for i := 1; i <= n; i++ {
		L.RawGetI(idx, int64(i))
		el, err := m.assignFrom(L, -1, elemType)
		L.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		slice = reflect.Append(slice, el)
	}
	return slice.Interface(), nil
}

func (m *Marshaller) tableToMap(L *State, idx int, targetType reflect.Type) (any, error) {
	if targetType == nil {
		targetType = reflect.TypeOf(map[any]any(nil))
	}
	keyType := targetType.Key()
	valType := targetType.Elem()
	result := reflect.MakeMap(targetType)
	L.PushNil()
	for L.Next(idx) {
		L.PushValue(-2)
		kv, err := m.assignFrom(L, -1, keyType)
		L.Pop(1)
		if err != nil {
			L.Pop(2)
			return nil, fmt.Errorf("map key: %w", err)
		}
		vv, err := m.assignFrom(L, -1, valType)
		L.Pop(1)
		if err != nil {
			L.Pop(1)
			return nil, fmt.Errorf("map value: %w", err)
		}
		if !kv.Type().Comparable() {
			L.Pop(1)
			return nil, fmt.Errorf("map key: %s is not comparable", kv.Type())
		}
		result.SetMapIndex(kv, vv)
	}
	return result.Interface(), nil
}

func (m *Marshaller) tableToStruct(L *State, idx int, targetType reflect.Type) (any, error) {
	out := reflect.New(targetType).Elem()
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		name, ok := fieldName(field)
		if !ok {
			continue
		}
		L.GetField(idx, name)
		fv, err := m.assignFrom(L, -1, field.Type)
		L.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out.Field(i).Set(fv)
	}
	return out.Interface(), nil
}

// assignFrom converts the value at idx into a reflect.Value usable where
// a t is expected.
func (m *Marshaller) assignFrom(L *State, idx int, t reflect.Type) (reflect.Value, error) {
	val, err := m.FromValue(L, idx, t)
	if err != nil {
		return reflect.Value{}, err
	}
	return assign(val, t)
}

func assign(val any, t reflect.Type) (reflect.Value, error) {
	if val == nil {
		// Handle nil for pointers/interfaces
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Kind() != reflect.String && rv.Type().ConvertibleTo(t) && t.Kind() != reflect.String {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", rv.Type(), t)
}
