package thrift

import "fmt"

// Protocol selects the wire encoding for a call. The values match the
// protocol numbers LINE endpoints are keyed by.
type Protocol byte

const (
	ProtocolBinary  Protocol = 3
	ProtocolCompact Protocol = 4
)

// MessageKind is the Thrift message type.
type MessageKind byte

const (
	KindCall      MessageKind = 1
	KindReply     MessageKind = 2
	KindException MessageKind = 3
	KindOneway    MessageKind = 4
)

const (
	binaryVersion1    = uint32(0x80010000)
	binaryVersionMask = uint32(0xFFFF0000)
	compactProtocolID = byte(0x82)
	compactVersion1   = byte(0x01)
)

// Message is a decoded RPC envelope. Body holds the argument or result
// struct with field ids intact.
type Message struct {
	Name string
	Kind MessageKind
	Seq  int32
	Body Struct
}

// ApplicationError is a declared server exception: field 1 code, field 2
// message, field 3 metadata. The full struct is retained in Raw.
type ApplicationError struct {
	Method   string
	Code     int32
	Message  string
	Metadata map[string]string
	Raw      Struct
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: server error %d", e.Method, e.Code)
}

// EncodeMessage serializes a full message envelope under the given
// protocol.
func EncodeMessage(p Protocol, msg Message) ([]byte, error) {
	switch p {
	case ProtocolBinary:
		e := &binaryEncoder{}
		e.messageBegin(msg.Name, msg.Kind, msg.Seq)
		if err := e.structFields(msg.Body); err != nil {
			return nil, err
		}
		return e.buf, nil
	case ProtocolCompact:
		e := &compactEncoder{}
		e.messageBegin(msg.Name, msg.Kind, msg.Seq)
		if err := e.structFields(msg.Body); err != nil {
			return nil, err
		}
		return e.buf, nil
	default:
		return nil, malformedf("unknown protocol %d", p)
	}
}

// EncodeCall serializes a request with sequence number 0, which is what
// the endpoints expect.
func EncodeCall(p Protocol, method string, args Struct) ([]byte, error) {
	return EncodeMessage(p, Message{Name: method, Kind: KindCall, Body: args})
}

// DecodeMessage parses a message under whichever protocol the first byte
// announces: 0x82 compact, 0x80 strict binary.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, malformedf("empty message")
	}
	r := &reader{buf: data}
	switch {
	case data[0] == compactProtocolID:
		return decodeCompactMessage(r)
	case data[0]&0x80 != 0:
		return decodeBinaryMessage(r)
	default:
		return Message{}, malformedf("unknown protocol byte 0x%02x", data[0])
	}
}

func decodeBinaryMessage(r *reader) (Message, error) {
	head, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	if head&binaryVersionMask != binaryVersion1 {
		return Message{}, malformedf("bad binary version 0x%08x", head)
	}
	kind := MessageKind(head & 0xFF)
	nameLen, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	name, err := r.take(int(int32(nameLen)))
	if err != nil {
		return Message{}, err
	}
	seq, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	d := &binaryDecoder{r: r}
	body, err := d.structFields()
	if err != nil {
		return Message{}, err
	}
	return Message{Name: string(name), Kind: kind, Seq: int32(seq), Body: body}, nil
}

func decodeCompactMessage(r *reader) (Message, error) {
	if _, err := r.u8(); err != nil { // protocol id, already checked
		return Message{}, err
	}
	vt, err := r.u8()
	if err != nil {
		return Message{}, err
	}
	if vt&0x1F != compactVersion1 {
		return Message{}, malformedf("bad compact version 0x%02x", vt)
	}
	kind := MessageKind(vt >> 5 & 0x07)
	seq, err := r.uvarint()
	if err != nil {
		return Message{}, err
	}
	nameLen, err := r.length()
	if err != nil {
		return Message{}, err
	}
	name, err := r.take(nameLen)
	if err != nil {
		return Message{}, err
	}
	d := &compactDecoder{r: r}
	body, err := d.structFields()
	if err != nil {
		return Message{}, err
	}
	return Message{Name: string(name), Kind: kind, Seq: int32(seq), Body: body}, nil
}

// EncodeStruct serializes a bare struct with no message envelope. Push
// channel frames carry structs this way.
func EncodeStruct(p Protocol, s Struct) ([]byte, error) {
	switch p {
	case ProtocolBinary:
		e := &binaryEncoder{}
		if err := e.structFields(s); err != nil {
			return nil, err
		}
		return e.buf, nil
	case ProtocolCompact:
		e := &compactEncoder{}
		if err := e.structFields(s); err != nil {
			return nil, err
		}
		return e.buf, nil
	default:
		return nil, malformedf("unknown protocol %d", p)
	}
}

// DecodeStruct parses a bare struct with no message envelope.
func DecodeStruct(p Protocol, data []byte) (Struct, error) {
	r := &reader{buf: data}
	switch p {
	case ProtocolBinary:
		d := &binaryDecoder{r: r}
		return d.structFields()
	case ProtocolCompact:
		d := &compactDecoder{r: r}
		return d.structFields()
	default:
		return nil, malformedf("unknown protocol %d", p)
	}
}

// DecodeResponse parses a server reply and splits the success/exception
// branch: field 0 carries the return value, field 1 a declared exception.
// A void reply returns a zero Value.
func DecodeResponse(data []byte) (Value, error) {
	msg, err := DecodeMessage(data)
	if err != nil {
		return Value{}, err
	}
	if v, ok := msg.Body.Get(0); ok {
		return v, nil
	}
	if v, ok := msg.Body.Get(1); ok && v.Type == TypeStruct {
		return Value{}, applicationError(msg.Name, v.Fields)
	}
	if msg.Kind == KindException && len(msg.Body) > 0 {
		return Value{}, applicationError(msg.Name, msg.Body)
	}
	return Value{}, nil
}

func applicationError(method string, s Struct) *ApplicationError {
	return &ApplicationError{
		Method:   method,
		Code:     int32(s.FieldInt(1)),
		Message:  s.FieldString(2),
		Metadata: s.FieldStringMap(3),
		Raw:      s,
	}
}
