// Package service wraps the raw Thrift endpoints in typed facades and a
// single error taxonomy. Responses stay field-id structures internally;
// typing happens once, at this edge.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/linego-dev/linego/internal/circuitbreaker"
	"github.com/linego-dev/linego/internal/metrics"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// Endpoint paths.
const (
	PathTalk         = "/S4"
	PathSquare       = "/SQ1"
	PathChannel      = "/CH4"
	PathTokenRefresh = "/EXT/auth/tokenrefresh/v1"
)

// Invoker executes one RPC: encode, POST, decode, classify. All facades
// share one instance.
type Invoker struct {
	tr       *transport.Client
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	breakers *circuitbreaker.Group
}

// NewInvoker builds the shared RPC core. Metrics may be nil.
func NewInvoker(tr *transport.Client, logger zerolog.Logger, m *metrics.Metrics) *Invoker {
	logger = logger.With().Str("component", "service").Logger()
	return &Invoker{
		tr:       tr,
		logger:   logger,
		metrics:  m,
		breakers: circuitbreaker.NewGroup(circuitbreaker.Config{Logger: logger}),
	}
}

// Transport exposes the underlying HTTP client for flows that need raw
// access (login long polls).
func (inv *Invoker) Transport() *transport.Client { return inv.tr }

// Call performs a request/reply RPC against path using proto.
func (inv *Invoker) Call(ctx context.Context, path string, proto thrift.Protocol, method string, args thrift.Struct) (thrift.Value, error) {
	return inv.CallOpts(ctx, path, proto, method, args, transport.CallOptions{})
}

// CallOpts is Call with per-request transport options.
func (inv *Invoker) CallOpts(ctx context.Context, path string, proto thrift.Protocol, method string, args thrift.Struct, opts transport.CallOptions) (thrift.Value, error) {
	body, err := thrift.EncodeCall(proto, method, args)
	if err != nil {
		return thrift.Value{}, E(KindCodec, method, err)
	}

	br := inv.breakers.Get(path)
	if err := br.Allow(); err != nil {
		cerr := E(KindTransport, method, err)
		inv.observe(method, cerr)
		return thrift.Value{}, cerr
	}

	start := time.Now()
	raw, err := inv.tr.Thrift(ctx, path, body, opts)
	if err != nil {
		cerr := classify(method, err)
		br.Record(!endpointDown(cerr))
		inv.observe(method, cerr)
		return thrift.Value{}, cerr
	}

	v, err := thrift.DecodeResponse(raw)
	if err != nil {
		cerr := classify(method, err)
		br.Record(true)
		inv.observe(method, cerr)
		return thrift.Value{}, cerr
	}

	br.Record(true)
	inv.observe(method, nil)
	inv.logger.Debug().
		Str("method", method).
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("rpc done")
	return v, nil
}

// endpointDown reports whether an error should count against the
// endpoint's circuit. Auth refusals and rate limits mean the gateway is
// alive; expired deadlines are the caller's timeout, not the server's
// fault (the verification long polls expire by design).
func endpointDown(err *Error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch err.Kind {
	case KindTransport, KindServer:
		return true
	}
	return false
}

func (inv *Invoker) observe(method string, err *Error) {
	if inv.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = err.Kind.String()
	}
	inv.metrics.RPCCalls.WithLabelValues(method, outcome).Inc()
}
