// Package line is the client entry point. A Client bundles the session
// store, the typed service facades, the login flows, and the two event
// delivery modes (push channel or polling) behind one lifecycle.
package line

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/linego-dev/linego/internal/auth"
	"github.com/linego-dev/linego/internal/device"
	"github.com/linego-dev/linego/internal/dispatch"
	"github.com/linego-dev/linego/internal/fetcher"
	"github.com/linego-dev/linego/internal/metrics"
	"github.com/linego-dev/linego/internal/push"
	"github.com/linego-dev/linego/internal/service"
	"github.com/linego-dev/linego/internal/storage"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// Handler consumes delivered chat events.
type Handler = dispatch.Handler

// Options configures a Client. Zero fields get production defaults.
type Options struct {
	// Device selects the identity presented to the gateway. Defaults to
	// DESKTOPWIN.
	Device     device.Kind
	AppVersion string
	SystemName string
	Host       string
	PushHost   string

	// Store holds the session. When nil, StorePath selects a file store,
	// and failing that everything stays in memory.
	Store     storage.Store
	StorePath string

	Logger zerolog.Logger
	// Registry enables prometheus instrumentation when set.
	Registry prometheus.Registerer

	// Secrets drives E2EE during login. When nil a fresh key pair is
	// generated.
	Secrets auth.SecretProvider

	// Handler receives every dispatched event. When nil, events are
	// delivered on the Events channel instead.
	Handler      Handler
	QueueSize    int
	PollInterval time.Duration

	// Test seams.
	HTTPClient *http.Client
	Scheme     string
	PushDial   push.Dialer
	Now        func() time.Time
}

type mode int

const (
	modeIdle mode = iota
	modePush
	modePolling
)

// Client is a logged-in (or loggable-in) LINE self client.
type Client struct {
	profile device.Profile
	store   storage.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	tr      *transport.Client
	inv     *service.Invoker
	talk    *service.Talk
	square  *service.Square
	channel *service.Channel
	authSvc *service.Auth
	login   *auth.Manager

	dispatcher *dispatch.Dispatcher
	fetcher    *fetcher.Manager

	events   chan service.Event
	closing  chan struct{}
	stopOnce sync.Once

	pushHost string
	pushDial push.Dialer

	mu      sync.Mutex
	mode    mode
	session *push.Session
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Device == "" {
		opts.Device = device.DesktopWin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	profile, err := device.NewProfile(opts.Device, opts.AppVersion)
	if err != nil {
		return nil, service.E(service.KindConfig, "new", err)
	}

	store := opts.Store
	if store == nil {
		if opts.StorePath != "" {
			store, err = storage.OpenFile(opts.StorePath)
			if err != nil {
				return nil, service.E(service.KindConfig, "new", err)
			}
		} else {
			store = storage.NewMemory()
		}
	}

	var m *metrics.Metrics
	if opts.Registry != nil {
		m = metrics.New(opts.Registry)
	}

	logger := opts.Logger.With().Str("device", string(opts.Device)).Logger()
	tr := transport.New(transport.Options{
		Host:       opts.Host,
		Scheme:     opts.Scheme,
		Profile:    profile,
		Logger:     logger,
		HTTPClient: opts.HTTPClient,
	})
	inv := service.NewInvoker(tr, logger, m)

	secrets := opts.Secrets
	if secrets == nil {
		secrets, err = auth.NewCurve25519Provider()
		if err != nil {
			return nil, service.E(service.KindConfig, "new", err)
		}
	}

	c := &Client{
		profile:  profile,
		store:    store,
		logger:   logger,
		metrics:  m,
		now:      opts.Now,
		tr:       tr,
		inv:      inv,
		talk:     service.NewTalk(inv),
		square:   service.NewSquare(inv),
		channel:  service.NewChannel(inv),
		authSvc:  service.NewAuth(inv),
		pushHost: opts.PushHost,
		pushDial: opts.PushDial,
	}
	c.login = auth.NewManager(auth.Options{
		Invoker:    inv,
		Store:      store,
		Secrets:    secrets,
		SystemName: opts.SystemName,
		Logger:     logger,
		Now:        opts.Now,
	})
	handler := opts.Handler
	if handler == nil {
		size := opts.QueueSize
		if size <= 0 {
			size = 64
		}
		c.events = make(chan service.Event, size)
		c.closing = make(chan struct{})
		handler = func(ev service.Event) {
			select {
			case c.events <- ev:
			case <-c.closing:
			}
		}
	}
	c.dispatcher = dispatch.New(dispatch.Options{
		Handler:   handler,
		QueueSize: opts.QueueSize,
		Logger:    logger,
		Metrics:   m,
	})
	c.fetcher = fetcher.NewManager(fetcher.Options{
		Source:       c.square,
		Store:        store,
		Sink:         c.dispatcher,
		Logger:       logger,
		Metrics:      m,
		PollInterval: opts.PollInterval,
	})
	return c, nil
}

// Profile returns the device identity this client presents.
func (c *Client) Profile() device.Profile { return c.profile }

// Events returns the delivery channel used when no Handler was set. It
// is closed by Stop. Nil when a Handler consumes events instead.
func (c *Client) Events() <-chan service.Event { return c.events }

// Talk returns the 1:1 and group messaging facade.
func (c *Client) Talk() *service.Talk { return c.talk }

// Square returns the open-chat facade.
func (c *Client) Square() *service.Square { return c.square }

// Channel returns the channel-token facade.
func (c *Client) Channel() *service.Channel { return c.channel }

// Store returns the session store.
func (c *Client) Store() storage.Store { return c.store }

// Prompts returns the login prompt channels.
func (c *Client) Prompts() auth.Prompts { return c.login.Prompts() }

// AccessToken returns the token currently presented to the gateway.
func (c *Client) AccessToken() string { return c.tr.AccessToken() }

// AutoLogin resumes a stored session and verifies it with a profile
// fetch. It fails with an auth error when no usable session exists.
func (c *Client) AutoLogin(ctx context.Context) (service.Profile, error) {
	const op = "autoLogin"
	creds := storage.LoadCredentials(c.store)
	if !creds.Valid(c.now()) {
		return service.Profile{}, service.Errorf(service.KindAuth, op, "no stored session")
	}
	c.tr.SetAccessToken(creds.AuthToken)
	profile, err := c.talk.GetProfile(ctx)
	if err != nil {
		c.tr.SetAccessToken("")
		return service.Profile{}, err
	}
	if creds.MID == "" {
		if err := c.store.Set(storage.KeyMID, profile.MID); err != nil {
			return service.Profile{}, service.E(service.KindConfig, op, err)
		}
	}
	c.logger.Info().Str("mid", profile.MID).Msg("session resumed")
	return profile, nil
}

// LoginWithQR runs the QR flow and installs the resulting token.
func (c *Client) LoginWithQR(ctx context.Context) (auth.Result, error) {
	res, err := c.login.LoginWithQR(ctx)
	if err != nil {
		return auth.Result{}, err
	}
	c.tr.SetAccessToken(res.AccessToken)
	return res, nil
}

// LoginWithEmail runs the credential flow and installs the resulting
// token.
func (c *Client) LoginWithEmail(ctx context.Context, email, password, pin string) (auth.Result, error) {
	res, err := c.login.LoginWithEmail(ctx, email, password, pin)
	if err != nil {
		return auth.Result{}, err
	}
	c.tr.SetAccessToken(res.AccessToken)
	return res, nil
}

// RefreshAccessToken rotates the access token through the refresh
// endpoint. Primary devices hold long-lived tokens, so the call is a
// no-op for them and never touches the network. The store is only
// written after the exchange succeeds.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	const op = "refreshAccessToken"
	if c.profile.IsPrimary() {
		return c.tr.AccessToken(), nil
	}
	creds := storage.LoadCredentials(c.store)
	if creds.RefreshToken == "" {
		return "", service.Errorf(service.KindState, op, "no refresh token stored")
	}

	res, err := c.authSvc.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return "", err
	}
	var expiresAt time.Time
	if res.DurationSec > 0 {
		expiresAt = c.now().Add(time.Duration(res.DurationSec) * time.Second)
	}
	if err := storage.SaveTokens(c.store, res.AccessToken, res.RefreshToken, expiresAt); err != nil {
		return "", service.E(service.KindConfig, op, err)
	}
	c.tr.SetAccessToken(res.AccessToken)

	if err := c.authSvc.ReportRefreshedAccessToken(ctx, res.AccessToken); err != nil {
		c.logger.Warn().Err(err).Msg("report refreshed token failed")
	}
	return res.AccessToken, nil
}

// Watch subscribes a square chat for event delivery.
func (c *Client) Watch(chatMid string) { c.fetcher.Watch(chatMid) }

// Unwatch stops delivery for a chat, keeping its cursor.
func (c *Client) Unwatch(chatMid string) { c.fetcher.Unwatch(chatMid) }

// StartPush opens the push channel and fetches on server notice. It is
// mutually exclusive with StartPolling.
func (c *Client) StartPush(ctx context.Context) error {
	const op = "startPush"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != modeIdle {
		return service.Errorf(service.KindState, op, "event delivery already running")
	}
	if err := c.fetcher.Start(ctx, false); err != nil {
		return service.E(service.KindState, op, err)
	}
	c.session = push.NewSession(push.Options{
		Transport:     c.tr,
		Host:          c.pushHost,
		Logger:        c.logger,
		Metrics:       c.metrics,
		SignOnBody:    c.signOnBody,
		OnPush:        c.onPush,
		OnSignOnReply: c.onSignOnReply,
		OnKeepAlive:   c.onKeepAlive,
		Dial:          c.pushDial,
		Now:           c.now,
	})
	if err := c.session.Start(ctx); err != nil {
		c.fetcher.Stop()
		c.session = nil
		return service.E(service.KindState, op, err)
	}
	c.mode = modePush
	return nil
}

// StartPolling fetches watched chats on an interval. It is mutually
// exclusive with StartPush.
func (c *Client) StartPolling(ctx context.Context) error {
	const op = "startPolling"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != modeIdle {
		return service.Errorf(service.KindState, op, "event delivery already running")
	}
	if err := c.fetcher.Start(ctx, true); err != nil {
		return service.E(service.KindState, op, err)
	}
	c.mode = modePolling
	return nil
}

// Stop shuts delivery down: push session first, then fetchers, then the
// dispatcher drains.
func (c *Client) Stop() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	running := c.mode != modeIdle
	c.mode = modeIdle
	c.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if running {
		c.fetcher.Stop()
	}
	c.stopOnce.Do(func() {
		if c.closing != nil {
			close(c.closing)
		}
		c.dispatcher.Stop()
		if c.events != nil {
			close(c.events)
		}
	})
}

func (c *Client) signOnBody(subscriptionID int64) ([]byte, error) {
	req := thrift.Struct{thrift.F(1, thrift.NewI64(subscriptionID))}
	if sync, ok := c.store.Get(storage.KeyMyEventsSync); ok && sync != "" {
		req = append(req, thrift.F(2, thrift.NewString(sync)))
	}
	req = append(req, thrift.F(3, thrift.NewI32(100)))
	args := thrift.Struct{thrift.F(1, thrift.NewStruct(req))}
	return thrift.EncodeCall(thrift.ProtocolCompact, "fetchMyEvents", args)
}

func (c *Client) saveMyEventsSync(token string) {
	if token == "" {
		return
	}
	if err := c.store.Set(storage.KeyMyEventsSync, token); err != nil {
		c.logger.Warn().Err(err).Msg("persist myEvents sync token")
	}
}

func (c *Client) onSignOnReply(data []byte) {
	v, err := thrift.DecodeResponse(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad sign-on reply")
		return
	}
	page := service.MyEventsPageFrom(v.Fields)
	c.saveMyEventsSync(page.SyncToken)
	c.logger.Debug().
		Int64("subscription", page.SubscriptionID).
		Int("events", len(page.Events)).
		Msg("push subscription established")
	c.triggerFor(page.Events)
}

func (c *Client) onPush(p push.Push) {
	if p.Service != push.ServiceSquare {
		return
	}
	st, err := thrift.DecodeStruct(thrift.ProtocolCompact, p.Body)
	if err != nil {
		c.fetcher.TriggerAll()
		return
	}
	page := service.MyEventsPageFrom(st)
	c.saveMyEventsSync(page.SyncToken)
	if len(page.Events) == 0 {
		c.fetcher.TriggerAll()
		return
	}
	c.triggerFor(page.Events)
}

// triggerFor wakes the fetchers for the chats named in a notification,
// falling back to all watched chats when none are named.
func (c *Client) triggerFor(events []service.Event) {
	triggered := false
	for _, ev := range events {
		if ev.ChatMid == "" {
			continue
		}
		c.fetcher.Trigger(ev.ChatMid)
		triggered = true
	}
	if !triggered {
		c.fetcher.TriggerAll()
	}
}

func (c *Client) onKeepAlive(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.talk.Noop(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("keep-alive noop failed")
	}
}
