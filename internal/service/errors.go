package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// Kind classifies a failed operation for retry and surfacing decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig: the request could never be valid (bad device, missing
	// credentials before a call that needs them).
	KindConfig
	// KindTransport: connection, TLS, or timeout trouble below HTTP.
	KindTransport
	// KindCodec: the reply bytes did not parse.
	KindCodec
	// KindAuth: the server rejected the credentials.
	KindAuth
	// KindFlowTimeout: an interactive flow ran out its outer deadline.
	KindFlowTimeout
	// KindRateLimit: the server asked us to back off.
	KindRateLimit
	// KindServer: a declared server exception not covered above.
	KindServer
	// KindState: the caller used the API out of order.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindCodec:
		return "codec"
	case KindAuth:
		return "auth"
	case KindFlowTimeout:
		return "flow_timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error carries the classification alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification, KindUnknown if err was never
// classified.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsRateLimit reports whether err should trigger the slow retry path.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// Thrift exception codes that mean the token is no good.
const (
	codeAuthFailed       = 1
	codeMustRefreshToken = 8
)

// classify maps a raw RPC failure onto the taxonomy.
func classify(op string, err error) *Error {
	var appErr *thrift.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case codeAuthFailed, codeMustRefreshToken:
			return E(KindAuth, op, err)
		}
		if rateLimited(appErr.Message) {
			return E(KindRateLimit, op, err)
		}
		return E(KindServer, op, err)
	}
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusTooManyRequests:
			return E(KindRateLimit, op, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return E(KindAuth, op, err)
		}
		return E(KindServer, op, err)
	}
	if errors.Is(err, thrift.ErrMalformed) {
		return E(KindCodec, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return E(KindTransport, op, err)
	}
	return E(KindTransport, op, err)
}

func rateLimited(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "rate") || strings.Contains(m, "too many") || strings.Contains(m, "429")
}
