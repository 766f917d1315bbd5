package thrift

import (
	"encoding/binary"
	"math"
)

// Compact protocol, LINE dialect. Differences from stock Thrift compact:
// doubles are little-endian and collection bools are plain 0/1 bytes.

const (
	compactTrue   = 0x01
	compactFalse  = 0x02
	compactByte   = 0x03
	compactI16    = 0x04
	compactI32    = 0x05
	compactI64    = 0x06
	compactDouble = 0x07
	compactBinary = 0x08
	compactList   = 0x09
	compactSet    = 0x0A
	compactMap    = 0x0B
	compactStruct = 0x0C
)

func compactTypeOf(t Type) byte {
	switch t {
	case TypeBool:
		return compactTrue
	case TypeByte:
		return compactByte
	case TypeI16:
		return compactI16
	case TypeI32:
		return compactI32
	case TypeI64:
		return compactI64
	case TypeDouble:
		return compactDouble
	case TypeBinary:
		return compactBinary
	case TypeList:
		return compactList
	case TypeSet:
		return compactSet
	case TypeMap:
		return compactMap
	case TypeStruct:
		return compactStruct
	}
	return 0
}

func typeOfCompact(c byte) Type {
	switch c {
	case compactTrue, compactFalse:
		return TypeBool
	case compactByte:
		return TypeByte
	case compactI16:
		return TypeI16
	case compactI32:
		return TypeI32
	case compactI64:
		return TypeI64
	case compactDouble:
		return TypeDouble
	case compactBinary:
		return TypeBinary
	case compactList:
		return TypeList
	case compactSet:
		return TypeSet
	case compactMap:
		return TypeMap
	case compactStruct:
		return TypeStruct
	}
	return TypeStop
}

type compactEncoder struct {
	buf     []byte
	lastFID int16
}

func (e *compactEncoder) uvarint(v uint64) { e.buf = appendUvarint(e.buf, v) }
func (e *compactEncoder) varint(v int64)   { e.buf = appendVarint(e.buf, v) }

func (e *compactEncoder) messageBegin(name string, kind MessageKind, seq int32) {
	e.buf = append(e.buf, compactProtocolID, byte(compactVersion1)|byte(kind)<<5)
	e.uvarint(uint64(uint32(seq)))
	e.uvarint(uint64(len(name)))
	e.buf = append(e.buf, name...)
}

func (e *compactEncoder) fieldHeader(ctype byte, id int16) {
	delta := int(id) - int(e.lastFID)
	if delta > 0 && delta <= 15 {
		e.buf = append(e.buf, byte(delta)<<4|ctype)
	} else {
		e.buf = append(e.buf, ctype)
		e.varint(int64(id))
	}
	e.lastFID = id
}

func (e *compactEncoder) structFields(s Struct) error {
	saved := e.lastFID
	e.lastFID = 0
	for _, f := range s {
		if f.ID < 0 {
			return malformedf("negative field id %d", f.ID)
		}
		ctype := compactTypeOf(f.Value.Type)
		if ctype == 0 {
			return malformedf("cannot encode type %s", f.Value.Type)
		}
		if f.Value.Type == TypeBool {
			// Bool value lives in the field header.
			if !f.Value.Bool {
				ctype = compactFalse
			}
			e.fieldHeader(ctype, f.ID)
			continue
		}
		e.fieldHeader(ctype, f.ID)
		if err := e.value(f.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, 0x00)
	e.lastFID = saved
	return nil
}

// value encodes a headerless value, as found inside collections and after
// non-bool field headers.
func (e *compactEncoder) value(v Value) error {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case TypeByte:
		e.buf = append(e.buf, byte(v.Int))
	case TypeI16, TypeI32, TypeI64:
		e.varint(v.Int)
	case TypeDouble:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v.Double))
	case TypeBinary:
		e.uvarint(uint64(len(v.Binary)))
		e.buf = append(e.buf, v.Binary...)
	case TypeStruct:
		return e.structFields(v.Fields)
	case TypeList, TypeSet:
		ctype := compactTypeOf(v.Elem)
		if ctype == 0 {
			return malformedf("invalid element type %s", v.Elem)
		}
		if len(v.List) <= 14 {
			e.buf = append(e.buf, byte(len(v.List))<<4|ctype)
		} else {
			e.buf = append(e.buf, 0xF0|ctype)
			e.uvarint(uint64(len(v.List)))
		}
		for _, el := range v.List {
			if el.Type != v.Elem {
				return malformedf("element type %s in %s collection", el.Type, v.Elem)
			}
			if err := e.value(el); err != nil {
				return err
			}
		}
	case TypeMap:
		if len(v.Pairs) == 0 {
			e.buf = append(e.buf, 0x00)
			return nil
		}
		kctype, vctype := compactTypeOf(v.Key), compactTypeOf(v.Val)
		if kctype == 0 || vctype == 0 {
			return malformedf("invalid map types %s:%s", v.Key, v.Val)
		}
		e.uvarint(uint64(len(v.Pairs)))
		e.buf = append(e.buf, kctype<<4|vctype)
		for _, p := range v.Pairs {
			if p.K.Type != v.Key || p.V.Type != v.Val {
				return malformedf("pair type %s:%s in %s:%s map", p.K.Type, p.V.Type, v.Key, v.Val)
			}
			if err := e.value(p.K); err != nil {
				return err
			}
			if err := e.value(p.V); err != nil {
				return err
			}
		}
	default:
		return malformedf("cannot encode type %s", v.Type)
	}
	return nil
}

type compactDecoder struct {
	r       *reader
	lastFID int16
}

func (d *compactDecoder) structFields() (Struct, error) {
	saved := d.lastFID
	d.lastFID = 0
	var s Struct
	for {
		hb, err := d.r.u8()
		if err != nil {
			return nil, malformedf("struct missing STOP")
		}
		if hb == 0 {
			d.lastFID = saved
			return s, nil
		}
		ctype := hb & 0x0F
		delta := int16(hb >> 4)
		var id int16
		if delta == 0 {
			n, err := d.r.varint()
			if err != nil {
				return nil, err
			}
			id = int16(n)
		} else {
			id = d.lastFID + delta
		}
		d.lastFID = id

		var v Value
		switch ctype {
		case compactTrue:
			v = NewBool(true)
		case compactFalse:
			v = NewBool(false)
		default:
			t := typeOfCompact(ctype)
			if t == TypeStop {
				return nil, malformedf("invalid compact type 0x%02x", ctype)
			}
			v, err = d.value(t)
			if err != nil {
				return nil, err
			}
		}
		s = append(s, Field{ID: id, Value: v})
	}
}

func (d *compactDecoder) value(t Type) (Value, error) {
	switch t {
	case TypeBool:
		b, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		return NewBool(b != 0), nil
	case TypeByte:
		b, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		return NewI8(int8(b)), nil
	case TypeI16, TypeI32, TypeI64:
		n, err := d.r.varint()
		if err != nil {
			return Value{}, err
		}
		switch t {
		case TypeI16:
			return NewI16(int16(n)), nil
		case TypeI32:
			return NewI32(int32(n)), nil
		default:
			return NewI64(n), nil
		}
	case TypeDouble:
		f, err := d.r.doubleLE()
		if err != nil {
			return Value{}, err
		}
		return NewDouble(f), nil
	case TypeBinary:
		n, err := d.r.length()
		if err != nil {
			return Value{}, err
		}
		b, err := d.r.take(n)
		if err != nil {
			return Value{}, err
		}
		return NewBinary(b), nil
	case TypeStruct:
		s, err := d.structFields()
		if err != nil {
			return Value{}, err
		}
		return NewStruct(s), nil
	case TypeList, TypeSet:
		hb, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		size := int(hb >> 4)
		elem := typeOfCompact(hb & 0x0F)
		if elem == TypeStop {
			return Value{}, malformedf("invalid compact element type 0x%02x", hb&0x0F)
		}
		if size == 15 {
			size, err = d.r.length()
			if err != nil {
				return Value{}, err
			}
		}
		if size > d.r.remaining() {
			return Value{}, malformedf("collection size %d exceeds %d remaining bytes", size, d.r.remaining())
		}
		v := Value{Type: t, Elem: elem}
		for i := 0; i < size; i++ {
			el, err := d.value(elem)
			if err != nil {
				return Value{}, err
			}
			v.List = append(v.List, el)
		}
		return v, nil
	case TypeMap:
		size, err := d.r.length()
		if err != nil {
			return Value{}, err
		}
		if size == 0 {
			return Value{Type: TypeMap, Key: TypeBinary, Val: TypeBinary}, nil
		}
		tb, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		key, val := typeOfCompact(tb>>4), typeOfCompact(tb&0x0F)
		if key == TypeStop || val == TypeStop {
			return Value{}, malformedf("invalid compact map types 0x%02x", tb)
		}
		v := Value{Type: TypeMap, Key: key, Val: val}
		for i := 0; i < size; i++ {
			k, err := d.value(key)
			if err != nil {
				return Value{}, err
			}
			p, err := d.value(val)
			if err != nil {
				return Value{}, err
			}
			v.Pairs = append(v.Pairs, Pair{K: k, V: p})
		}
		return v, nil
	default:
		return Value{}, malformedf("cannot decode type %s", t)
	}
}
