package transport

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linego-dev/linego/internal/device"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	profile, err := device.NewProfile(device.DesktopWin, "")
	require.NoError(t, err)

	return New(Options{
		Host:       u.Host,
		Scheme:     "http",
		Profile:    profile,
		Logger:     zerolog.Nop(),
		HTTPClient: srv.Client(),
	})
}

func TestThriftHeaders(t *testing.T) {
	var got http.Header
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	})
	c.SetAccessToken("tok-1")

	body, err := c.Thrift(context.Background(), "/S4", []byte{0x82}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)

	assert.Equal(t, "Line/9.2.0.3403", got.Get("User-Agent"))
	assert.Equal(t, "DESKTOPWIN\t9.2.0.3403\tWINDOWS\t10.0.0-NT-x64", got.Get("x-line-application"))
	assert.Equal(t, "ja_JP", got.Get("x-lal"))
	assert.Equal(t, "1", got.Get("x-lpv"))
	assert.Equal(t, "POST", got.Get("x-lhm"))
	assert.Equal(t, "application/x-thrift", got.Get("Content-Type"))
	assert.Equal(t, "application/x-thrift", got.Get("Accept"))
	assert.Equal(t, "tok-1", got.Get("x-line-access"))
	assert.Equal(t, "gzip", got.Get("Accept-Encoding"))
}

func TestCallOptionOverrides(t *testing.T) {
	var got http.Header
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write(nil)
	})
	c.SetAccessToken("stored")

	_, err := c.Thrift(context.Background(), "/acct/lp/lgn/sq/v1", nil, CallOptions{
		LogicalMethod: "GET",
		AccessToken:   "sqr-session",
		Headers:       map[string]string{"x-lst": "180000"},
	})
	require.NoError(t, err)

	assert.Equal(t, "GET", got.Get("x-lhm"))
	assert.Equal(t, "sqr-session", got.Get("x-line-access"))
	assert.Equal(t, "180000", got.Get("x-lst"))
}

func TestGzipResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"result":{"verifier":"v-9"}}`))
		gz.Close()
	})

	var out struct {
		Result struct {
			Verifier string `json:"verifier"`
		} `json:"result"`
	}
	err := c.JSON(context.Background(), "/Q", &out, CallOptions{LogicalMethod: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "v-9", out.Result.Verifier)
}

func TestStatusError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := c.Thrift(context.Background(), "/S4", nil, CallOptions{})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
	assert.False(t, IsStatus(err, http.StatusUnauthorized))
}

func TestPerCallTimeout(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	start := time.Now()
	_, err := c.Thrift(context.Background(), "/S4", nil, CallOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
