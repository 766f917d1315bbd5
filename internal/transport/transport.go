// Package transport is the HTTP/2 edge: it owns the header set LINE
// gateways require, per-host connection pooling, and gzip handling. RPC
// bodies are opaque here; encoding belongs to pkg/thrift.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/linego-dev/linego/internal/device"
)

// DefaultHost is the main LINE gateway.
const DefaultHost = "legy.line-apps.com"

const defaultTimeout = 30 * time.Second

// StatusError reports a non-2xx gateway response.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: status %d: %s", e.Code, truncate(e.Body, 120))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Options configures a Client.
type Options struct {
	Host    string
	Scheme  string // "https" unless a test says otherwise
	Profile device.Profile
	Timeout time.Duration
	Logger  zerolog.Logger

	// HTTPClient overrides the pooled per-host clients. Tests use it to
	// point at loopback servers.
	HTTPClient *http.Client
}

// Client issues requests with LINE's header protocol. Safe for concurrent
// use.
type Client struct {
	host    string
	scheme  string
	profile device.Profile
	timeout time.Duration
	logger  zerolog.Logger
	custom  *http.Client

	mu    sync.Mutex
	pools map[string]*http.Client

	tokenMu sync.RWMutex
	token   string
}

// New builds a Client. Zero option fields get production defaults.
func New(opts Options) *Client {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		host:    opts.Host,
		scheme:  opts.Scheme,
		profile: opts.Profile,
		timeout: opts.Timeout,
		logger:  opts.Logger.With().Str("component", "transport").Logger(),
		custom:  opts.HTTPClient,
		pools:   make(map[string]*http.Client),
	}
}

// Host returns the default gateway host.
func (c *Client) Host() string { return c.host }

// Profile returns the device identity the client presents.
func (c *Client) Profile() device.Profile { return c.profile }

// SetAccessToken installs the x-line-access value for subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// AccessToken returns the current x-line-access value.
func (c *Client) AccessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// CallOptions tweak a single request.
type CallOptions struct {
	// Host overrides the gateway host for this call.
	Host string
	// LogicalMethod goes to x-lhm; defaults to the HTTP method used.
	LogicalMethod string
	// Timeout overrides the client default.
	Timeout time.Duration
	// AccessToken replaces the stored token for this call. QR login uses
	// the session id here before any real token exists.
	AccessToken string
	// Headers are set verbatim after the standard set.
	Headers map[string]string
}

// Thrift POSTs an encoded RPC body and returns the raw reply bytes.
func (c *Client) Thrift(ctx context.Context, path string, body []byte, opts CallOptions) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, "application/x-thrift", opts)
}

// JSON GETs a JSON endpoint (the PIN verification long polls) and decodes
// the object into out.
func (c *Client) JSON(ctx context.Context, path string, out any, opts CallOptions) error {
	data, err := c.do(ctx, http.MethodGet, path, nil, "", opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("transport: decode json from %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, opts CallOptions) ([]byte, error) {
	host := c.host
	if opts.Host != "" {
		host = opts.Host
	}
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.scheme+"://"+host+path, rd)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	c.setHeaders(req, method, contentType, opts)

	start := time.Now()
	resp, err := c.client(host).Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("transport: read %s: %w", path, err)
	}

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: data}
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, method, contentType string, opts CallOptions) {
	h := req.Header
	h.Set("User-Agent", c.profile.UserAgent())
	h.Set("x-line-application", c.profile.AppName())
	h.Set("x-lal", "ja_JP")
	h.Set("x-lpv", "1")
	if opts.LogicalMethod != "" {
		h.Set("x-lhm", opts.LogicalMethod)
	} else {
		h.Set("x-lhm", method)
	}
	h.Set("Accept-Encoding", "gzip")
	if contentType != "" {
		h.Set("Content-Type", contentType)
		h.Set("Accept", contentType)
	}
	token := opts.AccessToken
	if token == "" {
		token = c.AccessToken()
	}
	if token != "" {
		h.Set("x-line-access", token)
	}
	for k, v := range opts.Headers {
		h.Set(k, v)
	}
}

func (c *Client) client(host string) *http.Client {
	if c.custom != nil {
		return c.custom
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.pools[host]; ok {
		return cl
	}
	cl := &http.Client{Transport: &http2.Transport{}}
	c.pools[host] = cl
	return cl
}

func readBody(resp *http.Response) ([]byte, error) {
	var rd io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		rd = gz
	}
	return io.ReadAll(rd)
}
