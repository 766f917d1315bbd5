package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linego-dev/linego/internal/device"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// fakeGateway replies with canned thrift per method name.
type fakeGateway struct {
	t       *testing.T
	replies map[string][]byte
	status  int
	calls   []string
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	msg, err := thrift.DecodeMessage(body)
	require.NoError(f.t, err)
	f.calls = append(f.calls, msg.Name)

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	reply, ok := f.replies[msg.Name]
	require.True(f.t, ok, "no canned reply for %s", msg.Name)
	w.Write(reply)
}

func newInvoker(t *testing.T, gw *fakeGateway) *Invoker {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	profile, err := device.NewProfile(device.DesktopWin, "")
	require.NoError(t, err)

	tr := transport.New(transport.Options{
		Host:       u.Host,
		Scheme:     "http",
		Profile:    profile,
		Logger:     zerolog.Nop(),
		HTTPClient: srv.Client(),
	})
	return NewInvoker(tr, zerolog.Nop(), nil)
}

func reply(t *testing.T, method string, result thrift.Value) []byte {
	t.Helper()
	data, err := thrift.EncodeMessage(thrift.ProtocolCompact, thrift.Message{
		Name: method,
		Kind: thrift.KindReply,
		Body: thrift.Struct{thrift.F(0, result)},
	})
	require.NoError(t, err)
	return data
}

func exceptionReply(t *testing.T, method string, code int32, message string) []byte {
	t.Helper()
	data, err := thrift.EncodeMessage(thrift.ProtocolCompact, thrift.Message{
		Name: method,
		Kind: thrift.KindReply,
		Body: thrift.Struct{
			thrift.F(1, thrift.NewStruct(thrift.Struct{
				thrift.F(1, thrift.NewI32(code)),
				thrift.F(2, thrift.NewString(message)),
			})),
		},
	})
	require.NoError(t, err)
	return data
}

func TestGetProfile(t *testing.T) {
	gw := &fakeGateway{t: t, replies: map[string][]byte{
		"getProfile": reply(t, "getProfile", thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString("u0123")),
			thrift.F(20, thrift.NewString("alice")),
			thrift.F(24, thrift.NewString("hello")),
		})),
	}}
	talk := NewTalk(newInvoker(t, gw))

	p, err := talk.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u0123", p.MID)
	assert.Equal(t, "alice", p.DisplayName)
	assert.Equal(t, "hello", p.StatusMessage)
}

func TestFetchChatEventsDecoding(t *testing.T) {
	message := thrift.NewStruct(thrift.Struct{
		thrift.F(1, thrift.NewString("u-sender")),
		thrift.F(4, thrift.NewString("msg-1")),
		thrift.F(10, thrift.NewString("hi there")),
		thrift.F(15, thrift.NewI32(0)),
	})
	event := thrift.NewStruct(thrift.Struct{
		thrift.F(1, thrift.NewI64(1700000000000)),
		thrift.F(2, thrift.NewI32(EventReceiveMessage)),
		thrift.F(3, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewStruct(thrift.Struct{
				thrift.F(1, thrift.NewString("m-chat")),
				thrift.F(2, thrift.NewStruct(thrift.Struct{thrift.F(1, message)})),
				thrift.F(3, thrift.NewString("bob")),
			})),
		})),
	})
	gw := &fakeGateway{t: t, replies: map[string][]byte{
		"fetchSquareChatEvents": reply(t, "fetchSquareChatEvents", thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewList(thrift.TypeStruct, event)),
			thrift.F(2, thrift.NewString("sync-2")),
		})),
	}}
	sq := NewSquare(newInvoker(t, gw))

	page, err := sq.FetchChatEvents(context.Background(), "m-chat", "sync-1", "", 50, FetchTypePrefetchByServer)
	require.NoError(t, err)
	assert.Equal(t, "sync-2", page.SyncToken)
	assert.Empty(t, page.ContinuationToken)
	require.Len(t, page.Events, 1)

	ev := page.Events[0]
	assert.Equal(t, EventReceiveMessage, ev.Type)
	assert.Equal(t, "m-chat", ev.ChatMid)
	assert.Equal(t, "bob", ev.SenderDisplayName)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hi there", ev.Message.Text)
	assert.Equal(t, "msg-1", ev.Message.ID)
	assert.Equal(t, "u-sender", ev.Message.From)
}

func TestFetchMyEventsSubscription(t *testing.T) {
	gw := &fakeGateway{t: t, replies: map[string][]byte{
		"fetchMyEvents": reply(t, "fetchMyEvents", thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewStruct(thrift.Struct{
				thrift.F(1, thrift.NewI64(1699999999999)),
				thrift.F(2, thrift.NewI64(3600000)),
			})),
			thrift.F(3, thrift.NewString("g-sync")),
		})),
	}}
	sq := NewSquare(newInvoker(t, gw))

	page, err := sq.FetchMyEvents(context.Background(), 1699999999999, "", "", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1699999999999), page.SubscriptionID)
	assert.Equal(t, int64(3600000), page.TTLMillis)
	assert.Equal(t, "g-sync", page.SyncToken)
}

func TestServerExceptionClassification(t *testing.T) {
	cases := []struct {
		name string
		code int32
		msg  string
		want Kind
	}{
		{"auth failed", 1, "AUTHENTICATION_FAILED", KindAuth},
		{"must refresh", 8, "MUST_REFRESH_V3_TOKEN", KindAuth},
		{"rate limited", 20, "Too many requests", KindRateLimit},
		{"other", 81, "NOT_AVAILABLE_USER", KindServer},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gw := &fakeGateway{t: t, replies: map[string][]byte{
				"noop": exceptionReply(t, "noop", c.code, c.msg),
			}}
			talk := NewTalk(newInvoker(t, gw))

			err := talk.Noop(context.Background())
			require.Error(t, err)
			assert.Equal(t, c.want, KindOf(err))

			var appErr *thrift.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, c.code, appErr.Code)
		})
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusInternalServerError, KindServer},
	}
	for _, c := range cases {
		gw := &fakeGateway{t: t, status: c.status}
		talk := NewTalk(newInvoker(t, gw))
		err := talk.Noop(context.Background())
		require.Error(t, err)
		assert.Equal(t, c.want, KindOf(err), "status %d", c.status)
		if c.want == KindRateLimit {
			assert.True(t, IsRateLimit(err))
		}
	}
}

func TestCodecErrorClassification(t *testing.T) {
	gw := &fakeGateway{t: t, replies: map[string][]byte{"noop": {0xDE, 0xAD}}}
	talk := NewTalk(newInvoker(t, gw))
	err := talk.Noop(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindCodec, KindOf(err))
}

func TestRefreshRequestShape(t *testing.T) {
	var captured thrift.Struct
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg, err := thrift.DecodeMessage(body)
		require.NoError(t, err)
		captured = msg.Body
		w.Write(reply(t, "refresh", thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString("acc-new")),
			thrift.F(2, thrift.NewI64(3600)),
		})))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	profile, err := device.NewProfile(device.DesktopWin, "")
	require.NoError(t, err)
	tr := transport.New(transport.Options{
		Host: u.Host, Scheme: "http", Profile: profile,
		Logger: zerolog.Nop(), HTTPClient: srv.Client(),
	})
	auth := NewAuth(NewInvoker(tr, zerolog.Nop(), nil))

	res, err := auth.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-new", res.AccessToken)
	assert.Equal(t, int64(3600), res.DurationSec)

	req := captured.FieldStruct(1)
	require.NotNil(t, req)
	assert.Equal(t, "ref-1", req.FieldString(1))
}
