// Package push maintains the long-lived LEGY push channel: one duplex
// HTTP/2 stream carrying length-prefixed frames in both directions.
// Pushes for subscribed services arrive here; everything else in the
// client stays request/response.
package push

import (
	"encoding/binary"
	"fmt"
)

// FrameKind is the first byte of every frame payload.
type FrameKind byte

const (
	FrameStatus         FrameKind = 0
	FramePing           FrameKind = 1
	FrameSignOnRequest  FrameKind = 2
	FrameSignOnResponse FrameKind = 3
	FramePush           FrameKind = 4
)

func (k FrameKind) String() string {
	switch k {
	case FrameStatus:
		return "status"
	case FramePing:
		return "ping"
	case FrameSignOnRequest:
		return "signOnRequest"
	case FrameSignOnResponse:
		return "signOnResponse"
	case FramePush:
		return "push"
	}
	return fmt.Sprintf("frame(%d)", byte(k))
}

// PushKind is the first payload byte of a push frame.
const (
	pushAck         = 1
	pushAckRequired = 2
)

// ServiceKind identifies a push service on the channel.
type ServiceKind byte

const (
	ServiceSquare   ServiceKind = 3
	ServiceTalkSync ServiceKind = 8
)

// Mask folds services into the subscription bitmask sent in the request
// URL.
func Mask(services ...ServiceKind) int {
	m := 0
	for _, s := range services {
		m |= 1 << (int(s) - 1)
	}
	return m
}

const (
	sizeMask = 0x7FFF
	finBit   = 0x8000

	maxFrameSize = sizeMask
)

// Frame is one decoded channel frame. Payload excludes the kind byte.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// appendFrame writes [size:u16][kind:u8][payload]. The size counts the
// payload only, not the kind byte.
func appendFrame(dst []byte, kind FrameKind, payload []byte) ([]byte, error) {
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("push: frame payload %d exceeds limit", len(payload))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, byte(kind))
	return append(dst, payload...), nil
}

// EncodeStatus builds the status frame announcing foreground state and
// the ping interval in seconds.
func EncodeStatus(foreground bool, intervalSec byte) []byte {
	fg := byte(0)
	if foreground {
		fg = 1
	}
	out, _ := appendFrame(nil, FrameStatus, []byte{0, fg, intervalSec})
	return out
}

// Ping is a decoded ping frame. Sub 2 is a server probe that must be
// answered with sub 1 and the same id.
type Ping struct {
	Sub byte
	ID  uint16
}

// DecodePing parses a ping frame payload.
func DecodePing(payload []byte) (Ping, error) {
	if len(payload) < 3 {
		return Ping{}, fmt.Errorf("push: short ping frame (%d bytes)", len(payload))
	}
	return Ping{Sub: payload[0], ID: binary.BigEndian.Uint16(payload[1:3])}, nil
}

// EncodePing builds a ping frame.
func EncodePing(p Ping) []byte {
	buf := []byte{p.Sub, 0, 0}
	binary.BigEndian.PutUint16(buf[1:], p.ID)
	out, _ := appendFrame(nil, FramePing, buf)
	return out
}

// EncodeSignOn builds a sign-on request carrying an encoded thrift call
// for the given service.
func EncodeSignOn(requestID uint16, service ServiceKind, body []byte) ([]byte, error) {
	payload := make([]byte, 0, 6+len(body))
	payload = binary.BigEndian.AppendUint16(payload, requestID)
	payload = append(payload, byte(service), 0)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(body)))
	payload = append(payload, body...)
	return appendFrame(nil, FrameSignOnRequest, payload)
}

// SignOnResponse is one fragment of a sign-on reply. The thrift reply is
// complete once a fragment with Final set has arrived.
type SignOnResponse struct {
	RequestID uint16
	Final     bool
	Data      []byte
}

// DecodeSignOnResponse parses a sign-on response payload.
func DecodeSignOnResponse(payload []byte) (SignOnResponse, error) {
	if len(payload) < 2 {
		return SignOnResponse{}, fmt.Errorf("push: short sign-on response (%d bytes)", len(payload))
	}
	id := binary.BigEndian.Uint16(payload[:2])
	return SignOnResponse{
		RequestID: id & sizeMask,
		Final:     id&finBit != 0,
		Data:      payload[2:],
	}, nil
}

// Push is a decoded push frame.
type Push struct {
	Kind    byte
	Service ServiceKind
	ID      int32
	Body    []byte
}

// AckRequired reports whether the server expects an ack before the push
// is considered delivered.
func (p Push) AckRequired() bool { return p.Kind == pushAckRequired }

// DecodePush parses a push frame payload.
func DecodePush(payload []byte) (Push, error) {
	if len(payload) < 6 {
		return Push{}, fmt.Errorf("push: short push frame (%d bytes)", len(payload))
	}
	return Push{
		Kind:    payload[0],
		Service: ServiceKind(payload[1]),
		ID:      int32(binary.BigEndian.Uint32(payload[2:6])),
		Body:    payload[6:],
	}, nil
}

// EncodeAck builds the delivery ack for a push.
func EncodeAck(service ServiceKind, id int32) []byte {
	payload := make([]byte, 6)
	payload[0] = pushAck
	payload[1] = byte(service)
	binary.BigEndian.PutUint32(payload[2:], uint32(id))
	out, _ := appendFrame(nil, FramePush, payload)
	return out
}

// frameScanner splits a byte stream into frames across arbitrary read
// boundaries.
type frameScanner struct {
	buf []byte
}

func (s *frameScanner) feed(data []byte) {
	s.buf = append(s.buf, data...)
}

// next returns the next complete frame, or false if more bytes are
// needed.
func (s *frameScanner) next() (Frame, bool) {
	if len(s.buf) < 3 {
		return Frame{}, false
	}
	n := int(binary.BigEndian.Uint16(s.buf[:2]) & sizeMask)
	if len(s.buf) < 3+n {
		return Frame{}, false
	}
	f := Frame{Kind: FrameKind(s.buf[2]), Payload: append([]byte(nil), s.buf[3:3+n]...)}
	s.buf = s.buf[3+n:]
	return f, true
}
