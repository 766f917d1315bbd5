package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/linego-dev/linego/internal/metrics"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// DefaultHost is the push gateway.
const DefaultHost = "gd2.line.naver.jp"

const (
	defaultReconnectDelay = 3 * time.Second
	defaultIdleTimeout    = 2 * time.Minute

	// h2-level liveness probe interval for the long-lived stream.
	readIdleTimeout = 30 * time.Second

	// Advertised in the status frame; the server pings around this often.
	pingIntervalSec = 30

	// A noop RPC rides along every Nth server ping to keep the session
	// registered upstream.
	noopEveryNPings = 3
)

// Conn is one established push stream.
type Conn struct {
	R io.ReadCloser
	W io.WriteCloser
}

func (c Conn) Close() {
	c.W.Close()
	c.R.Close()
}

// Dialer opens a push stream. The default dialer speaks HTTP/2 to the
// push gateway; tests substitute in-memory pipes.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// Options configures a Session.
type Options struct {
	// Transport supplies the device identity and access token for the
	// stream headers.
	Transport *transport.Client
	Host      string
	Services  []ServiceKind
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	// SignOnBody builds the thrift call announced after connecting,
	// keyed by the subscription id for this attempt.
	SignOnBody func(subscriptionID int64) ([]byte, error)
	// OnPush delivers a push after it has been acked.
	OnPush func(p Push)
	// OnSignOnReply delivers the reassembled sign-on reply bytes.
	OnSignOnReply func(data []byte)
	// OnKeepAlive fires when the session wants a lightweight RPC issued
	// on the normal gateway.
	OnKeepAlive func(ctx context.Context)

	Dial           Dialer
	ReconnectDelay time.Duration
	IdleTimeout    time.Duration
	Now            func() time.Time
}

// Session keeps the push channel alive, reconnecting until stopped.
type Session struct {
	tr      *transport.Client
	host    string
	mask    int
	logger  zerolog.Logger
	metrics *metrics.Metrics

	signOnBody    func(int64) ([]byte, error)
	onPush        func(Push)
	onSignOnReply func([]byte)
	onKeepAlive   func(context.Context)

	dial           Dialer
	reconnectDelay time.Duration
	idleTimeout    time.Duration
	now            func() time.Time

	subID atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewSession builds a Session. Zero option fields get production
// defaults.
func NewSession(opts Options) *Session {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if len(opts.Services) == 0 {
		opts.Services = []ServiceKind{ServiceSquare}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{
		tr:             opts.Transport,
		host:           opts.Host,
		mask:           Mask(opts.Services...),
		logger:         opts.Logger.With().Str("component", "push").Logger(),
		metrics:        opts.Metrics,
		signOnBody:     opts.SignOnBody,
		onPush:         opts.OnPush,
		onSignOnReply:  opts.OnSignOnReply,
		onKeepAlive:    opts.OnKeepAlive,
		dial:           opts.Dial,
		reconnectDelay: opts.ReconnectDelay,
		idleTimeout:    opts.IdleTimeout,
		now:            opts.Now,
	}
	if s.dial == nil {
		s.dial = s.dialH2
	}
	return s
}

// Start launches the connect loop. It returns an error if the session is
// already running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("push: session already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx)
	return nil
}

// Stop tears the session down and waits for the loop to exit.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.runConn(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("push stream lost")
		}
		if ctx.Err() != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.Reconnects.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Session) dialH2(ctx context.Context, url string, header http.Header) (Conn, error) {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pw.Close()
		return Conn{}, err
	}
	req.Header = header
	h2 := &http2.Transport{ReadIdleTimeout: readIdleTimeout}
	resp, err := h2.RoundTrip(req)
	if err != nil {
		pw.Close()
		return Conn{}, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		pw.Close()
		return Conn{}, fmt.Errorf("push: gateway status %d", resp.StatusCode)
	}
	return Conn{R: resp.Body, W: pw}, nil
}

func (s *Session) header() http.Header {
	h := http.Header{}
	profile := s.tr.Profile()
	h.Set("User-Agent", profile.UserAgent())
	h.Set("x-line-application", profile.AppName())
	h.Set("x-line-access", s.tr.AccessToken())
	return h
}

// runConn drives one stream: status, sign-on, then the frame loop until
// the stream dies or the context ends.
func (s *Session) runConn(ctx context.Context) error {
	url := fmt.Sprintf("https://%s/PUSH/1/subs?m=%d", s.host, s.mask)
	conn, err := s.dial(ctx, url, s.header())
	if err != nil {
		return err
	}
	defer conn.Close()

	// Every connect presents a fresh subscription id; a server renewal
	// only applies within the stream that received it.
	subID := s.now().UnixMilli()
	s.subID.Store(subID)
	s.logger.Info().Int64("subscription", subID).Msg("push stream open")

	var writeMu sync.Mutex
	write := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.W.Write(frame)
		return err
	}

	if err := write(EncodeStatus(false, pingIntervalSec)); err != nil {
		return fmt.Errorf("push: write status: %w", err)
	}
	if s.signOnBody != nil {
		body, err := s.signOnBody(subID)
		if err != nil {
			return fmt.Errorf("push: build sign-on: %w", err)
		}
		frame, err := EncodeSignOn(1, ServiceSquare, body)
		if err != nil {
			return err
		}
		if err := write(frame); err != nil {
			return fmt.Errorf("push: write sign-on: %w", err)
		}
	}

	var lastActivity atomic.Int64
	lastActivity.Store(s.now().UnixNano())

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		t := time.NewTicker(s.idleTimeout / 4)
		defer t.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-t.C:
				idle := time.Duration(s.now().UnixNano() - lastActivity.Load())
				if idle > s.idleTimeout {
					s.logger.Warn().Dur("idle", idle).Msg("push stream idle, forcing reconnect")
					conn.Close()
					return
				}
			}
		}
	}()
	go func() {
		<-watchCtx.Done()
		conn.Close()
	}()

	scanner := &frameScanner{}
	fragments := map[uint16][]byte{}
	pings := 0
	buf := make([]byte, 4096)
	for {
		n, err := conn.R.Read(buf)
		if n > 0 {
			lastActivity.Store(s.now().UnixNano())
			scanner.feed(buf[:n])
			for {
				frame, ok := scanner.next()
				if !ok {
					break
				}
				if s.metrics != nil {
					s.metrics.FramesReceived.WithLabelValues(frame.Kind.String()).Inc()
				}
				if herr := s.handleFrame(ctx, frame, write, fragments, &pings); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("push: read stream: %w", err)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame, write func([]byte) error, fragments map[uint16][]byte, pings *int) error {
	switch frame.Kind {
	case FramePing:
		p, err := DecodePing(frame.Payload)
		if err != nil {
			return err
		}
		if p.Sub != 2 {
			return nil
		}
		if err := write(EncodePing(Ping{Sub: 1, ID: p.ID})); err != nil {
			return fmt.Errorf("push: answer ping: %w", err)
		}
		*pings++
		if *pings%noopEveryNPings == 0 && s.onKeepAlive != nil {
			go s.onKeepAlive(ctx)
		}

	case FrameSignOnResponse:
		resp, err := DecodeSignOnResponse(frame.Payload)
		if err != nil {
			return err
		}
		fragments[resp.RequestID] = append(fragments[resp.RequestID], resp.Data...)
		if !resp.Final {
			return nil
		}
		data := fragments[resp.RequestID]
		delete(fragments, resp.RequestID)
		if s.metrics != nil {
			s.metrics.SignOnResponses.Inc()
		}
		if s.onSignOnReply != nil {
			s.onSignOnReply(data)
		}

	case FramePush:
		p, err := DecodePush(frame.Payload)
		if err != nil {
			return err
		}
		// Ack first: delivery must be confirmed to the server before any
		// downstream work can fail.
		if p.AckRequired() {
			if err := write(EncodeAck(p.Service, p.ID)); err != nil {
				return fmt.Errorf("push: ack %d: %w", p.ID, err)
			}
			if s.metrics != nil {
				s.metrics.PushAcksSent.Inc()
			}
		}
		if p.Service == ServiceSquare {
			if st, err := thrift.DecodeStruct(thrift.ProtocolCompact, p.Body); err == nil {
				if renewed := st.FieldInt(1); renewed > 0 {
					s.subID.Store(renewed)
				}
			}
		}
		if s.onPush != nil {
			s.onPush(p)
		}

	case FrameStatus, FrameSignOnRequest:
		// Server does not send these.

	default:
		s.logger.Debug().Str("kind", frame.Kind.String()).Msg("unhandled frame")
	}
	return nil
}
