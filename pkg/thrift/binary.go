package thrift

import (
	"encoding/binary"
	"math"
)

// Binary protocol: fixed-width big-endian scalars, explicit type and field
// id bytes, structs terminated by a STOP byte.

type binaryEncoder struct {
	buf []byte
}

func (e *binaryEncoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *binaryEncoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *binaryEncoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *binaryEncoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *binaryEncoder) messageBegin(name string, kind MessageKind, seq int32) {
	e.u32(binaryVersion1 | uint32(kind))
	e.bytes([]byte(name))
	e.u32(uint32(seq))
}

func (e *binaryEncoder) value(v Value) error {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case TypeByte:
		e.buf = append(e.buf, byte(v.Int))
	case TypeI16:
		e.u16(uint16(v.Int))
	case TypeI32:
		e.u32(uint32(v.Int))
	case TypeI64:
		e.u64(uint64(v.Int))
	case TypeDouble:
		e.u64(math.Float64bits(v.Double))
	case TypeBinary:
		e.bytes(v.Binary)
	case TypeStruct:
		return e.structFields(v.Fields)
	case TypeList, TypeSet:
		if !v.Elem.valid() {
			return malformedf("invalid element type %s", v.Elem)
		}
		e.buf = append(e.buf, byte(v.Elem))
		e.u32(uint32(len(v.List)))
		for _, el := range v.List {
			if el.Type != v.Elem {
				return malformedf("element type %s in %s collection", el.Type, v.Elem)
			}
			if err := e.value(el); err != nil {
				return err
			}
		}
	case TypeMap:
		if !v.Key.valid() || !v.Val.valid() {
			return malformedf("invalid map types %s:%s", v.Key, v.Val)
		}
		e.buf = append(e.buf, byte(v.Key), byte(v.Val))
		e.u32(uint32(len(v.Pairs)))
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

func (e *binaryEncoder) structFields(s Struct) error {
	for _, f := range s {
		if f.ID < 0 {
			return malformedf("negative field id %d", f.ID)
		}
		e.buf = append(e.buf, byte(f.Value.Type))
		e.u16(uint16(f.ID))
		if err := e.value(f.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, byte(TypeStop))
	return nil
}

type binaryDecoder struct {
	r *reader
}

func (d *binaryDecoder) value(t Type) (Value, error) {
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
	case TypeI16:
		u, err := d.r.u16()
		if err != nil {
			return Value{}, err
		}
		return NewI16(int16(u)), nil
	case TypeI32:
		u, err := d.r.u32()
		if err != nil {
			return Value{}, err
		}
		return NewI32(int32(u)), nil
	case TypeI64:
		u, err := d.r.u64()
		if err != nil {
			return Value{}, err
		}
		return NewI64(int64(u)), nil
	case TypeDouble:
		f, err := d.r.doubleBE()
		if err != nil {
			return Value{}, err
		}
		return NewDouble(f), nil
	case TypeBinary:
		n, err := d.binaryLen()
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
		eb, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		elem := Type(eb)
		if !elem.valid() {
			return Value{}, malformedf("invalid element type %d", eb)
		}
		size, err := d.collectionLen()
		if err != nil {
			return Value{}, err
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
		kb, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		vb, err := d.r.u8()
		if err != nil {
			return Value{}, err
		}
		key, val := Type(kb), Type(vb)
		if !key.valid() || !val.valid() {
			return Value{}, malformedf("invalid map types %d:%d", kb, vb)
		}
		size, err := d.collectionLen()
		if err != nil {
			return Value{}, err
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

func (d *binaryDecoder) binaryLen() (int, error) {
	u, err := d.r.u32()
	if err != nil {
		return 0, err
	}
	n := int(int32(u))
	if n < 0 || n > d.r.remaining() {
		return 0, malformedf("binary length %d exceeds %d remaining bytes", n, d.r.remaining())
	}
	return n, nil
}

func (d *binaryDecoder) collectionLen() (int, error) {
	u, err := d.r.u32()
	if err != nil {
		return 0, err
	}
	n := int(int32(u))
	// One byte per element is the wire minimum.
	if n < 0 || n > d.r.remaining() {
		return 0, malformedf("collection size %d exceeds %d remaining bytes", n, d.r.remaining())
	}
	return n, nil
}

func (d *binaryDecoder) structFields() (Struct, error) {
	var s Struct
	for {
		tb, err := d.r.u8()
		if err != nil {
			return nil, malformedf("struct missing STOP")
		}
		t := Type(tb)
		if t == TypeStop {
			return s, nil
		}
		if !t.valid() {
			return nil, malformedf("invalid field type %d", tb)
		}
		id, err := d.r.u16()
		if err != nil {
			return nil, err
		}
		v, err := d.value(t)
		if err != nil {
			return nil, err
		}
		s = append(s, Field{ID: int16(id), Value: v})
	}
}
