// Package thrift implements the wire dialect LINE speaks: standard Thrift
// binary protocol plus a compact variant with little-endian doubles and a
// fixed call header. Payloads are dynamic field-id structures rather than
// generated IDL types, so unknown fields survive a decode/encode round trip.
package thrift

import "fmt"

// Type identifies a wire value type. The numeric values are the Thrift
// TType constants and appear verbatim in binary-protocol field headers.
type Type byte

const (
	TypeStop   Type = 0
	TypeBool   Type = 2
	TypeByte   Type = 3
	TypeDouble Type = 4
	TypeI16    Type = 6
	TypeI32    Type = 8
	TypeI64    Type = 10
	TypeBinary Type = 11
	TypeStruct Type = 12
	TypeMap    Type = 13
	TypeSet    Type = 14
	TypeList   Type = 15
)

func (t Type) String() string {
	switch t {
	case TypeStop:
		return "stop"
	case TypeBool:
		return "bool"
	case TypeByte:
		return "byte"
	case TypeDouble:
		return "double"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeBinary:
		return "binary"
	case TypeStruct:
		return "struct"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypeList:
		return "list"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

func (t Type) valid() bool {
	switch t {
	case TypeBool, TypeByte, TypeDouble, TypeI16, TypeI32, TypeI64,
		TypeBinary, TypeStruct, TypeMap, TypeSet, TypeList:
		return true
	}
	return false
}

// Value is a tagged union over every wire type. Exactly the slot selected
// by Type is meaningful; integer widths i8 through i64 all share Int.
type Value struct {
	Type   Type
	Bool   bool
	Int    int64
	Double float64
	Binary []byte

	// Type == TypeStruct
	Fields Struct

	// Type == TypeList or TypeSet
	Elem Type
	List []Value

	// Type == TypeMap
	Key   Type
	Val   Type
	Pairs []Pair
}

// Pair is one map entry.
type Pair struct {
	K Value
	V Value
}

// Field is one struct field. IDs are positive and unique within a struct.
type Field struct {
	ID    int16
	Value Value
}

// Struct is an ordered field list. Order is preserved on encode so a
// decoded message re-encodes byte-compatibly under the same protocol.
type Struct []Field

func NewBool(v bool) Value    { return Value{Type: TypeBool, Bool: v} }
func NewI8(v int8) Value      { return Value{Type: TypeByte, Int: int64(v)} }
func NewI16(v int16) Value    { return Value{Type: TypeI16, Int: int64(v)} }
func NewI32(v int32) Value    { return Value{Type: TypeI32, Int: int64(v)} }
func NewI64(v int64) Value    { return Value{Type: TypeI64, Int: v} }
func NewDouble(v float64) Value { return Value{Type: TypeDouble, Double: v} }

// NewString wraps s as a binary value. Thrift strings and blobs share one
// wire type; String() is the view back.
func NewString(s string) Value  { return Value{Type: TypeBinary, Binary: []byte(s)} }
func NewBinary(b []byte) Value  { return Value{Type: TypeBinary, Binary: b} }
func NewStruct(s Struct) Value  { return Value{Type: TypeStruct, Fields: s} }

func NewList(elem Type, elems ...Value) Value {
	return Value{Type: TypeList, Elem: elem, List: elems}
}

func NewSet(elem Type, elems ...Value) Value {
	return Value{Type: TypeSet, Elem: elem, List: elems}
}

func NewMap(key, val Type, pairs ...Pair) Value {
	return Value{Type: TypeMap, Key: key, Val: val, Pairs: pairs}
}

// NewStringList is the common list<string> case.
func NewStringList(elems []string) Value {
	vs := make([]Value, len(elems))
	for i, s := range elems {
		vs[i] = NewString(s)
	}
	return Value{Type: TypeList, Elem: TypeBinary, List: vs}
}

// F builds a field, keeping request literals compact.
func F(id int16, v Value) Field { return Field{ID: id, Value: v} }

// String renders the value's binary payload, empty for other types.
func (v Value) String() string {
	if v.Type != TypeBinary {
		return ""
	}
	return string(v.Binary)
}

// Get returns the first field with the given id.
func (s Struct) Get(id int16) (Value, bool) {
	for _, f := range s {
		if f.ID == id {
			return f.Value, true
		}
	}
	return Value{}, false
}

// FieldString returns the string payload of field id, or "" if absent or
// not a binary value.
func (s Struct) FieldString(id int16) string {
	v, ok := s.Get(id)
	if !ok || v.Type != TypeBinary {
		return ""
	}
	return string(v.Binary)
}

// FieldInt returns the integer payload of field id across any integer
// width, or 0 if absent.
func (s Struct) FieldInt(id int16) int64 {
	v, ok := s.Get(id)
	if !ok {
		return 0
	}
	switch v.Type {
	case TypeByte, TypeI16, TypeI32, TypeI64:
		return v.Int
	}
	return 0
}

// FieldBool returns the bool payload of field id, or false if absent.
func (s Struct) FieldBool(id int16) bool {
	v, ok := s.Get(id)
	return ok && v.Type == TypeBool && v.Bool
}

// FieldStruct returns the nested struct at field id, or nil.
func (s Struct) FieldStruct(id int16) Struct {
	v, ok := s.Get(id)
	if !ok || v.Type != TypeStruct {
		return nil
	}
	return v.Fields
}

// FieldList returns the list or set elements at field id, or nil.
func (s Struct) FieldList(id int16) []Value {
	v, ok := s.Get(id)
	if !ok || (v.Type != TypeList && v.Type != TypeSet) {
		return nil
	}
	return v.List
}

// FieldStringMap flattens a map<string,string> field into a Go map, nil if
// absent. Non-string pairs are skipped.
func (s Struct) FieldStringMap(id int16) map[string]string {
	v, ok := s.Get(id)
	if !ok || v.Type != TypeMap {
		return nil
	}
	m := make(map[string]string, len(v.Pairs))
	for _, p := range v.Pairs {
		if p.K.Type == TypeBinary && p.V.Type == TypeBinary {
			m[string(p.K.Binary)] = string(p.V.Binary)
		}
	}
	return m
}
