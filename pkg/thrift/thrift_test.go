package thrift

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStruct() Struct {
	return Struct{
		F(1, NewBool(true)),
		F(2, NewI8(-7)),
		F(3, NewI16(1024)),
		F(4, NewI32(-123456)),
		F(5, NewI64(1 << 40)),
		F(6, NewDouble(3.25)),
		F(7, NewString("hello")),
		F(8, NewStruct(Struct{
			F(1, NewString("nested")),
			F(300, NewBool(false)),
		})),
		F(9, NewList(TypeBinary, NewString("a"), NewString("b"))),
		F(10, NewSet(TypeI32, NewI32(1), NewI32(2), NewI32(3))),
		F(11, NewMap(TypeBinary, TypeBinary,
			Pair{K: NewString("k"), V: NewString("v")},
		)),
		F(12, NewMap(TypeBinary, TypeBinary)),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, proto := range []Protocol{ProtocolBinary, ProtocolCompact} {
		msg := Message{Name: "fetchSquareChatEvents", Kind: KindCall, Seq: 0, Body: sampleStruct()}
		data, err := EncodeMessage(proto, msg)
		require.NoError(t, err)

		got, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got, "protocol %d", proto)
	}
}

func TestRoundTripLargeCollection(t *testing.T) {
	var elems []Value
	for i := 0; i < 40; i++ {
		elems = append(elems, NewI64(int64(i)*1e9))
	}
	body := Struct{F(1, Value{Type: TypeList, Elem: TypeI64, List: elems})}
	for _, proto := range []Protocol{ProtocolBinary, ProtocolCompact} {
		data, err := EncodeCall(proto, "m", body)
		require.NoError(t, err)
		got, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, body, got.Body)
	}
}

func TestBinaryCallHeader(t *testing.T) {
	data, err := EncodeCall(ProtocolBinary, "loginZ", nil)
	require.NoError(t, err)

	want := []byte{
		0x80, 0x01, 0x00, 0x01, // strict version, call
		0x00, 0x00, 0x00, 0x06, 'l', 'o', 'g', 'i', 'n', 'Z',
		0x00, 0x00, 0x00, 0x00, // seq
		0x00, // stop
	}
	assert.Equal(t, want, data)
}

func TestCompactCallHeader(t *testing.T) {
	data, err := EncodeCall(ProtocolCompact, "createSession", nil)
	require.NoError(t, err)

	require.True(t, len(data) > 4)
	assert.Equal(t, byte(0x82), data[0])
	assert.Equal(t, byte(0x21), data[1]) // version 1, call
	assert.Equal(t, byte(0x00), data[2]) // seq 0
	assert.Equal(t, byte(13), data[3])
	assert.Equal(t, "createSession", string(data[4:17]))
	assert.Equal(t, byte(0x00), data[17]) // empty args struct
}

func TestCompactInlineBoolAndDelta(t *testing.T) {
	data, err := EncodeCall(ProtocolCompact, "m", Struct{
		F(1, NewString("x")),
		F(4, NewBool(true)),
		F(5, NewBool(false)),
	})
	require.NoError(t, err)

	body := data[4+1:] // header, name "m"
	assert.Equal(t, byte(0x18), body[0]) // delta 1, binary
	assert.Equal(t, byte(0x01), body[1]) // len 1
	assert.Equal(t, byte('x'), body[2])
	assert.Equal(t, byte(0x31), body[3]) // delta 3, true
	assert.Equal(t, byte(0x12), body[4]) // delta 1, false
	assert.Equal(t, byte(0x00), body[5]) // stop
}

func TestCompactDoubleLittleEndian(t *testing.T) {
	data, err := EncodeCall(ProtocolCompact, "m", Struct{F(1, NewDouble(1.0))})
	require.NoError(t, err)
	// 1.0 is 0x3FF0000000000000; little-endian puts the zeros first.
	assert.True(t, bytes.HasSuffix(data[:len(data)-1],
		[]byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}))
}

func TestCompactLargeFieldID(t *testing.T) {
	body := Struct{F(4000, NewI32(9))}
	data, err := EncodeCall(ProtocolCompact, "m", body)
	require.NoError(t, err)
	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestNestedStructResetsFieldDelta(t *testing.T) {
	// Inner struct ids restart from zero; outer delta chain resumes after.
	body := Struct{
		F(10, NewStruct(Struct{F(1, NewI32(1))})),
		F(11, NewI32(2)),
	}
	data, err := EncodeCall(ProtocolCompact, "m", body)
	require.NoError(t, err)
	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestDecodeResponseSuccess(t *testing.T) {
	reply := Message{Name: "getProfile", Kind: KindReply, Body: Struct{
		F(0, NewStruct(Struct{F(1, NewString("u1234"))})),
	}}
	for _, proto := range []Protocol{ProtocolBinary, ProtocolCompact} {
		data, err := EncodeMessage(proto, reply)
		require.NoError(t, err)

		v, err := DecodeResponse(data)
		require.NoError(t, err)
		require.Equal(t, TypeStruct, v.Type)
		assert.Equal(t, "u1234", v.Fields.FieldString(1))
	}
}

func TestDecodeResponseVoid(t *testing.T) {
	data, err := EncodeMessage(ProtocolCompact, Message{Name: "noop", Kind: KindReply})
	require.NoError(t, err)
	v, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeStop, v.Type)
}

func TestDecodeResponseException(t *testing.T) {
	reply := Message{Name: "sendMessage", Kind: KindReply, Body: Struct{
		F(1, NewStruct(Struct{
			F(1, NewI32(81)),
			F(2, NewString("NOT_AVAILABLE_USER")),
			F(3, NewMap(TypeBinary, TypeBinary,
				Pair{K: NewString("serverTime"), V: NewString("0")},
			)),
		})),
	}}
	data, err := EncodeMessage(ProtocolBinary, reply)
	require.NoError(t, err)

	_, err = DecodeResponse(data)
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "sendMessage", appErr.Method)
	assert.Equal(t, int32(81), appErr.Code)
	assert.Equal(t, "NOT_AVAILABLE_USER", appErr.Message)
	assert.Equal(t, map[string]string{"serverTime": "0"}, appErr.Metadata)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := EncodeCall(ProtocolCompact, "m", sampleStruct())
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":            nil,
		"unknown protocol": {0x05, 0x01},
		"bad binary ver":   {0x90, 0x02, 0x00, 0x01},
		"truncated":        valid[:len(valid)/2],
		"missing stop":     valid[:len(valid)-1],
		"huge string": {
			0x82, 0x21, 0x00, 0x01, 'm',
			0x18, 0xFF, 0xFF, 0x07, // field 1 binary, absurd length
		},
		"runaway varint": {
			0x82, 0x21, 0x00, 0x01, 'm',
			0x15, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80,
		},
		"bad compact type": {
			0x82, 0x21, 0x00, 0x01, 'm',
			0x1F, 0x00,
		},
	}
	for name, data := range cases {
		_, err := DecodeMessage(data)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}
