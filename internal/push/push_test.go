package push

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linego-dev/linego/internal/device"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

func TestStatusFrameBytes(t *testing.T) {
	got := EncodeStatus(true, 30)
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x00, 0x01, 0x1E}, got)

	got = EncodeStatus(false, 30)
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x1E}, got)
}

func TestPingRoundTrip(t *testing.T) {
	frame := EncodePing(Ping{Sub: 1, ID: 0x0107})
	assert.Equal(t, []byte{0x00, 0x03, 0x01, 0x01, 0x01, 0x07}, frame)

	p, err := DecodePing(frame[3:])
	require.NoError(t, err)
	assert.Equal(t, Ping{Sub: 1, ID: 0x0107}, p)

	_, err = DecodePing([]byte{1})
	assert.Error(t, err)
}

func TestSignOnFrameLayout(t *testing.T) {
	body := []byte{0x82, 0x21, 0x00}
	frame, err := EncodeSignOn(9, ServiceSquare, body)
	require.NoError(t, err)

	want := []byte{
		0x00, 0x09, // payload size, kind byte not counted
		0x02,       // sign-on request
		0x00, 0x09, // request id
		0x03, 0x00, // service, reserved
		0x00, 0x03, // body length
		0x82, 0x21, 0x00,
	}
	assert.Equal(t, want, frame)
}

func TestSignOnResponseFinBit(t *testing.T) {
	resp, err := DecodeSignOnResponse([]byte{0x80, 0x05, 0xAA})
	require.NoError(t, err)
	assert.True(t, resp.Final)
	assert.Equal(t, uint16(5), resp.RequestID)
	assert.Equal(t, []byte{0xAA}, resp.Data)

	resp, err = DecodeSignOnResponse([]byte{0x00, 0x05, 0xBB})
	require.NoError(t, err)
	assert.False(t, resp.Final)
}

func TestPushAndAck(t *testing.T) {
	payload := []byte{pushAckRequired, byte(ServiceSquare), 0x00, 0x00, 0x00, 0x2A, 0xDE, 0xAD}
	p, err := DecodePush(payload)
	require.NoError(t, err)
	assert.True(t, p.AckRequired())
	assert.Equal(t, ServiceSquare, p.Service)
	assert.Equal(t, int32(42), p.ID)
	assert.Equal(t, []byte{0xDE, 0xAD}, p.Body)

	ack := EncodeAck(ServiceSquare, 42)
	assert.Equal(t, []byte{0x00, 0x06, 0x04, 0x01, 0x03, 0x00, 0x00, 0x00, 0x2A}, ack)
}

func TestServiceMask(t *testing.T) {
	assert.Equal(t, 4, Mask(ServiceSquare))
	assert.Equal(t, 128, Mask(ServiceTalkSync))
	assert.Equal(t, 132, Mask(ServiceSquare, ServiceTalkSync))
}

func TestScannerPartialFeeds(t *testing.T) {
	frame := EncodePing(Ping{Sub: 2, ID: 3})
	s := &frameScanner{}

	// One byte at a time.
	for i, b := range frame {
		s.feed([]byte{b})
		f, ok := s.next()
		if i < len(frame)-1 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, FramePing, f.Kind)
	}

	// Two frames in one read.
	s.feed(append(EncodeStatus(true, 30), EncodeAck(ServiceSquare, 7)...))
	f, ok := s.next()
	require.True(t, ok)
	assert.Equal(t, FrameStatus, f.Kind)
	f, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, FramePush, f.Kind)
	_, ok = s.next()
	assert.False(t, ok)
}

func TestScannerServerLayout(t *testing.T) {
	// Size field counts the payload only; the kind byte sits outside it.
	s := &frameScanner{}
	s.feed([]byte{
		0x00, 0x03, 0x01, 0x02, 0x00, 0x07, // ping sub 2 id 7
		0x00, 0x03, 0x00, 0x00, 0x00, 0x1E, // status
	})

	f, ok := s.next()
	require.True(t, ok)
	require.Equal(t, FramePing, f.Kind)
	p, err := DecodePing(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, Ping{Sub: 2, ID: 7}, p)

	f, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, FrameStatus, f.Kind)
	assert.Equal(t, []byte{0x00, 0x00, 0x1E}, f.Payload)

	_, ok = s.next()
	assert.False(t, ok)
}

// fakeConn is one in-memory push stream. The test plays the server on
// the far ends.
type fakeConn struct {
	clientR *io.PipeReader
	clientW *io.PipeWriter
	serverR *io.PipeReader
	serverW *io.PipeWriter

	frames chan Frame
}

func newFakeConn() *fakeConn {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	fc := &fakeConn{clientR: cr, clientW: cw, serverR: sr, serverW: sw, frames: make(chan Frame, 32)}
	go func() {
		s := &frameScanner{}
		buf := make([]byte, 1024)
		for {
			n, err := fc.serverR.Read(buf)
			if n > 0 {
				s.feed(buf[:n])
				for {
					f, ok := s.next()
					if !ok {
						break
					}
					fc.frames <- f
				}
			}
			if err != nil {
				close(fc.frames)
				return
			}
		}
	}()
	return fc
}

func (fc *fakeConn) send(t *testing.T, frame []byte) {
	t.Helper()
	_, err := fc.serverW.Write(frame)
	require.NoError(t, err)
}

func (fc *fakeConn) recv(t *testing.T) Frame {
	t.Helper()
	select {
	case f, ok := <-fc.frames:
		require.True(t, ok, "client stream closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
		return Frame{}
	}
}

func (fc *fakeConn) closeServer() {
	fc.serverW.Close()
	fc.serverR.Close()
}

type sessionHarness struct {
	session *Session
	conns   chan *fakeConn
	signOns chan int64
	pushes  chan Push
	replies chan []byte
	noops   chan struct{}

	mu  sync.Mutex
	log []string
}

func (h *sessionHarness) record(event string) {
	h.mu.Lock()
	h.log = append(h.log, event)
	h.mu.Unlock()
}

func (h *sessionHarness) logSnapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.log...)
}

// recordingWriter logs each outgoing frame before it reaches the pipe,
// so write order versus callback order is observable without races.
type recordingWriter struct {
	h *sessionHarness
	w io.WriteCloser
	s frameScanner
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	rw.h.mu.Lock()
	rw.s.feed(p)
	for {
		f, ok := rw.s.next()
		if !ok {
			break
		}
		rw.h.log = append(rw.h.log, "write:"+f.Kind.String())
	}
	rw.h.mu.Unlock()
	return rw.w.Write(p)
}

func (rw *recordingWriter) Close() error { return rw.w.Close() }

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		conns:   make(chan *fakeConn, 4),
		signOns: make(chan int64, 4),
		pushes:  make(chan Push, 16),
		replies: make(chan []byte, 4),
		noops:   make(chan struct{}, 4),
	}
	profile, err := device.NewProfile(device.DesktopWin, "")
	require.NoError(t, err)
	tr := transport.New(transport.Options{Profile: profile, Logger: zerolog.Nop()})
	tr.SetAccessToken("acc-token")

	h.session = NewSession(Options{
		Transport: tr,
		Logger:    zerolog.Nop(),
		SignOnBody: func(subID int64) ([]byte, error) {
			h.signOns <- subID
			return thrift.EncodeCall(thrift.ProtocolCompact, "fetchMyEvents", nil)
		},
		OnPush: func(p Push) {
			h.record("dispatch")
			h.pushes <- p
		},
		OnSignOnReply: func(data []byte) { h.replies <- data },
		OnKeepAlive:   func(context.Context) { h.noops <- struct{}{} },
		Dial: func(ctx context.Context, url string, header http.Header) (Conn, error) {
			assert.Equal(t, "acc-token", header.Get("x-line-access"))
			assert.Contains(t, url, "/PUSH/1/subs?m=4")
			fc := newFakeConn()
			h.conns <- fc
			return Conn{R: fc.clientR, W: &recordingWriter{h: h, w: fc.clientW}}, nil
		},
		ReconnectDelay: 10 * time.Millisecond,
		Now:            func() time.Time { return time.UnixMilli(1700000000000) },
	})
	return h
}

func (h *sessionHarness) conn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case fc := <-h.conns:
		return fc
	case <-time.After(2 * time.Second):
		t.Fatal("no connection attempt")
		return nil
	}
}

func squarePushFrame(t *testing.T, id int32, fields thrift.Struct) []byte {
	t.Helper()
	body, err := thrift.EncodeStruct(thrift.ProtocolCompact, fields)
	require.NoError(t, err)
	payload := []byte{pushAckRequired, byte(ServiceSquare)}
	payload = append(payload, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	payload = append(payload, body...)
	frame, err := appendFrame(nil, FramePush, payload)
	require.NoError(t, err)
	return frame
}

func TestSessionHandshakeAndAckOrdering(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	defer h.session.Stop()

	fc := h.conn(t)

	// Handshake: status then sign-on.
	f := fc.recv(t)
	require.Equal(t, FrameStatus, f.Kind)
	assert.Equal(t, []byte{0, 0, 30}, f.Payload)

	f = fc.recv(t)
	require.Equal(t, FrameSignOnRequest, f.Kind)
	assert.Equal(t, int64(1700000000000), <-h.signOns)

	// An ack-required push is acked before dispatch.
	fc.send(t, squarePushFrame(t, 42, thrift.Struct{thrift.F(2, thrift.NewString("x"))}))
	f = fc.recv(t)
	require.Equal(t, FramePush, f.Kind)
	ack, err := DecodePush(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, byte(pushAck), ack.Kind)
	assert.Equal(t, int32(42), ack.ID)

	p := <-h.pushes
	assert.Equal(t, int32(42), p.ID)

	log := h.logSnapshot()
	ackAt, dispatchAt := -1, -1
	for i, e := range log {
		switch {
		case e == "write:push" && ackAt < 0:
			ackAt = i
		case e == "dispatch" && dispatchAt < 0:
			dispatchAt = i
		}
	}
	require.GreaterOrEqual(t, ackAt, 0)
	require.GreaterOrEqual(t, dispatchAt, 0)
	assert.Less(t, ackAt, dispatchAt, "ack must be written before dispatch")
}

func TestSessionAnswersPingsAndKeepsAlive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	defer h.session.Stop()

	fc := h.conn(t)
	fc.recv(t) // status
	fc.recv(t) // sign-on

	for i := uint16(1); i <= 3; i++ {
		fc.send(t, EncodePing(Ping{Sub: 2, ID: i}))
		f := fc.recv(t)
		require.Equal(t, FramePing, f.Kind)
		p, err := DecodePing(f.Payload)
		require.NoError(t, err)
		assert.Equal(t, Ping{Sub: 1, ID: i}, p)
	}

	select {
	case <-h.noops:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive after third ping")
	}
}

func TestSessionReassemblesSignOnReply(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	defer h.session.Stop()

	fc := h.conn(t)
	fc.recv(t)
	fc.recv(t)

	part1, err := appendFrame(nil, FrameSignOnResponse, []byte{0x00, 0x01, 0xAA, 0xBB})
	require.NoError(t, err)
	part2, err := appendFrame(nil, FrameSignOnResponse, []byte{0x80, 0x01, 0xCC})
	require.NoError(t, err)
	fc.send(t, part1)
	fc.send(t, part2)

	select {
	case data := <-h.replies:
		assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("no sign-on reply")
	}
}

func TestSessionMintsFreshSubscriptionPerConnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	defer h.session.Stop()

	fc := h.conn(t)
	fc.recv(t)
	fc.recv(t)
	assert.Equal(t, int64(1700000000000), <-h.signOns)

	// Server renews the subscription, then drops the stream. The renewed
	// id dies with the stream; the next connect mints its own.
	fc.send(t, squarePushFrame(t, 7, thrift.Struct{thrift.F(1, thrift.NewI64(424242))}))
	fc.recv(t) // ack
	<-h.pushes
	assert.Equal(t, int64(424242), h.session.subID.Load())
	fc.closeServer()

	fc2 := h.conn(t)
	fc2.recv(t)
	fc2.recv(t)
	assert.Equal(t, int64(1700000000000), <-h.signOns)
}
