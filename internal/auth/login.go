// Package auth runs the interactive login flows: email with RSA-wrapped
// credentials, QR approval with certificate fast path, and PIN
// verification. Flows never block on a UI; whatever a human must see
// goes out on the prompt channels.
package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/linego-dev/linego/internal/device"
	"github.com/linego-dev/linego/internal/service"
	"github.com/linego-dev/linego/internal/storage"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// Login endpoints.
const (
	pathTalkLegacy   = "/api/v3/TalkService.do"
	pathAuthRS       = "/api/v3p/rs"
	pathQR           = "/acct/lgn/sq/v1"
	pathQRPoll       = "/acct/lp/lgn/sq/v1"
	pathVerifyE2EE   = "/LF1"
	pathVerifyLegacy = "/Q"
)

const (
	defaultPollTimeout = 20 * time.Second
	defaultFlowTimeout = 5 * time.Minute

	// Sent as x-lst on verification long polls.
	longPollMillis = "20000"

	modelName = "System Product Name"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// Login type values in the wire request.
const (
	loginTypePlain    int32 = 0
	loginTypeVerifier int32 = 1
	loginTypeE2EE     int32 = 2
)

// Prompts carries values a human must act on. Buffered size one; a newer
// prompt replaces an unconsumed older one.
type Prompts struct {
	QR  chan string
	PIN chan string
}

// NewPrompts allocates the prompt channels.
func NewPrompts() Prompts {
	return Prompts{QR: make(chan string, 1), PIN: make(chan string, 1)}
}

func emit(ch chan string, v string) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Result is a completed login.
type Result struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	MID          string
	Certificate  string
}

// Options configures a Manager.
type Options struct {
	Invoker *service.Invoker
	Store   storage.Store
	// Secrets may be nil; then QR URLs carry no secret and email login
	// skips the E2EE secret field.
	Secrets    SecretProvider
	SystemName string
	Logger     zerolog.Logger

	PollTimeout time.Duration
	FlowTimeout time.Duration
	Now         func() time.Time
}

// Manager drives login flows against the gateway.
type Manager struct {
	inv     *service.Invoker
	store   storage.Store
	secrets SecretProvider
	profile device.Profile
	system  string
	logger  zerolog.Logger
	prompts Prompts

	pollTimeout time.Duration
	flowTimeout time.Duration
	now         func() time.Time
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.FlowTimeout <= 0 {
		opts.FlowTimeout = defaultFlowTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SystemName == "" {
		opts.SystemName = "linego"
	}
	return &Manager{
		inv:         opts.Invoker,
		store:       opts.Store,
		secrets:     opts.Secrets,
		profile:     opts.Invoker.Transport().Profile(),
		system:      opts.SystemName,
		logger:      opts.Logger.With().Str("component", "auth").Logger(),
		prompts:     NewPrompts(),
		pollTimeout: opts.PollTimeout,
		flowTimeout: opts.FlowTimeout,
		now:         opts.Now,
	}
}

// Prompts returns the prompt channels for the UI to drain.
func (m *Manager) Prompts() Prompts { return m.prompts }

// LoginWithEmail authenticates with account credentials. pin is the
// 6-digit code shown on the primary device if verification is required.
func (m *Manager) LoginWithEmail(ctx context.Context, email, password, pin string) (Result, error) {
	const op = "loginWithEmail"
	if !emailPattern.MatchString(email) {
		return Result{}, service.Errorf(service.KindConfig, op, "invalid email address")
	}
	if len(password) < 6 {
		return Result{}, service.Errorf(service.KindConfig, op, "password too short")
	}
	if len(pin) != 6 {
		return Result{}, service.Errorf(service.KindConfig, op, "pin must be 6 digits")
	}
	ctx, cancel := context.WithTimeout(ctx, m.flowTimeout)
	defer cancel()

	keyInfo, err := m.getRSAKeyInfo(ctx)
	if err != nil {
		return Result{}, err
	}
	encrypted, err := EncryptCredentials(keyInfo, email, password)
	if err != nil {
		return Result{}, service.E(service.KindConfig, op, err)
	}

	var secret []byte
	if m.secrets != nil {
		secret, err = m.secrets.EncryptPinSecret(pin)
		if err != nil {
			return Result{}, service.E(service.KindConfig, op, err)
		}
	}
	cert, _ := m.store.Get(storage.CertKey(email))

	var res Result
	if m.profile.SupportsTokenV3() {
		res, err = m.emailLoginV2(ctx, keyInfo.KeyName, encrypted, secret, cert, pin)
	} else {
		res, err = m.emailLoginZ(ctx, keyInfo.KeyName, encrypted, secret, cert, pin)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Certificate != "" {
		if err := m.store.Set(storage.CertKey(email), res.Certificate); err != nil {
			return Result{}, service.E(service.KindConfig, op, err)
		}
	}
	if err := m.persist(res); err != nil {
		return Result{}, service.E(service.KindConfig, op, err)
	}
	return res, nil
}

func (m *Manager) getRSAKeyInfo(ctx context.Context) (RSAKeyInfo, error) {
	args := thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(2, thrift.NewI32(1)), // identity provider LINE
		})),
	}
	v, err := m.inv.Call(ctx, pathTalkLegacy, thrift.ProtocolBinary, "getRSAKeyInfo", args)
	if err != nil {
		return RSAKeyInfo{}, err
	}
	return rsaKeyInfoFrom(v.Fields), nil
}

func (m *Manager) loginRequest(loginType int32, keynm, encrypted string, secret []byte, cert, verifier string) thrift.Struct {
	return thrift.Struct{
		thrift.F(2, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewI32(loginType)),
			thrift.F(2, thrift.NewI32(1)), // identityProvider LINE
			thrift.F(3, thrift.NewString(keynm)),
			thrift.F(4, thrift.NewString(encrypted)),
			thrift.F(5, thrift.NewBool(false)), // keepLoggedIn
			thrift.F(6, thrift.NewString("")),  // accessLocation
			thrift.F(7, thrift.NewString(m.system)),
			thrift.F(8, thrift.NewString(cert)),
			thrift.F(9, thrift.NewString(verifier)),
			thrift.F(10, thrift.NewBinary(secret)),
			thrift.F(11, thrift.NewI32(1)),
			thrift.F(12, thrift.NewString(modelName)),
		})),
	}
}

// emailLoginZ is the legacy flow: loginZ, then PIN verification on /Q
// with the verifier token if the server withholds the auth token.
func (m *Manager) emailLoginZ(ctx context.Context, keynm, encrypted string, secret []byte, cert, pin string) (Result, error) {
	loginType := loginTypePlain
	if secret != nil {
		loginType = loginTypeE2EE
	}
	v, err := m.inv.Call(ctx, pathTalkLegacy, thrift.ProtocolBinary, "loginZ",
		m.loginRequest(loginType, keynm, encrypted, secret, cert, ""))
	if err != nil {
		return Result{}, err
	}
	resp := v.Fields

	token := resp.FieldString(1)
	if token == "" {
		verifier := resp.FieldString(3)
		shownPin := resp.FieldString(4)
		if shownPin == "" {
			shownPin = pin
		}
		emit(m.prompts.PIN, shownPin)
		m.logger.Info().Msg("waiting for pin verification")

		verified, err := m.waitVerifier(ctx, pathVerifyLegacy, verifier)
		if err != nil {
			return Result{}, err
		}
		v, err = m.inv.Call(ctx, pathTalkLegacy, thrift.ProtocolBinary, "loginZ",
			m.loginRequest(loginTypeVerifier, keynm, encrypted, secret, cert, verified))
		if err != nil {
			return Result{}, err
		}
		resp = v.Fields
		token = resp.FieldString(1)
	}
	if token == "" {
		return Result{}, service.Errorf(service.KindAuth, "loginZ", "no auth token in response")
	}
	return Result{AccessToken: token, Certificate: resp.FieldString(2)}, nil
}

// emailLoginV2 is the token-v3 flow on /api/v3p/rs; verification runs on
// /LF1 and the reply carries a TokenInfo instead of a bare token.
func (m *Manager) emailLoginV2(ctx context.Context, keynm, encrypted string, secret []byte, cert, pin string) (Result, error) {
	v, err := m.inv.Call(ctx, pathAuthRS, thrift.ProtocolBinary, "loginV2",
		m.loginRequest(loginTypeE2EE, keynm, encrypted, secret, cert, ""))
	if err != nil {
		return Result{}, err
	}
	resp := v.Fields

	info := resp.FieldStruct(9)
	if info == nil {
		verifier := resp.FieldString(3)
		emit(m.prompts.PIN, pin)
		m.logger.Info().Msg("waiting for pin verification")

		verified, err := m.waitVerifier(ctx, pathVerifyE2EE, verifier)
		if err != nil {
			return Result{}, err
		}
		v, err = m.inv.Call(ctx, pathAuthRS, thrift.ProtocolBinary, "loginV2",
			m.loginRequest(loginTypeVerifier, keynm, encrypted, secret, cert, verified))
		if err != nil {
			return Result{}, err
		}
		resp = v.Fields
		info = resp.FieldStruct(9)
	}
	if info == nil {
		return Result{}, service.Errorf(service.KindAuth, "loginV2", "no token info in response")
	}
	ti := service.TokenInfoFrom(info)
	return Result{
		AccessToken:  ti.AccessToken,
		RefreshToken: ti.RefreshToken,
		ExpiresAt:    tokenExpiry(m.now(), ti),
		Certificate:  resp.FieldString(2),
	}, nil
}

// waitVerifier long-polls a JSON verification endpoint until the primary
// device confirms the PIN. Timeouts keep polling; the flow context bounds
// the whole wait.
func (m *Manager) waitVerifier(ctx context.Context, path, verifier string) (string, error) {
	tr := m.inv.Transport()
	for {
		if err := ctx.Err(); err != nil {
			return "", service.Errorf(service.KindFlowTimeout, "pinVerification", "verification not confirmed in time")
		}
		var out struct {
			Result struct {
				Verifier string `json:"verifier"`
			} `json:"result"`
		}
		err := tr.JSON(ctx, path, &out, transport.CallOptions{
			LogicalMethod: "GET",
			AccessToken:   verifier,
			Timeout:       m.pollTimeout,
			Headers:       map[string]string{"x-lst": longPollMillis},
		})
		if err == nil {
			if out.Result.Verifier != "" {
				return out.Result.Verifier, nil
			}
			return verifier, nil
		}
		if fatal := verificationFatal("pinVerification", err); fatal != nil {
			return "", fatal
		}
	}
}

// verificationFatal separates benign long-poll expiry from real refusals.
func verificationFatal(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	switch service.KindOf(err) {
	case service.KindAuth, service.KindServer, service.KindRateLimit:
		return err
	}
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == 401 || statusErr.Code == 403:
			return service.E(service.KindAuth, op, err)
		case statusErr.Code == 404 || statusErr.Code >= 500:
			// Gateway churn during a long poll; retry.
			return nil
		default:
			return service.E(service.KindServer, op, err)
		}
	}
	// Connection resets and timeouts keep the poll alive.
	return nil
}

func (m *Manager) persist(res Result) error {
	if err := storage.SaveTokens(m.store, res.AccessToken, res.RefreshToken, res.ExpiresAt); err != nil {
		return err
	}
	if res.MID != "" {
		if err := m.store.Set(storage.KeyMID, res.MID); err != nil {
			return err
		}
	}
	return nil
}

func tokenExpiry(now time.Time, ti service.TokenInfo) time.Time {
	if ti.ExpiresInSec <= 0 {
		return time.Time{}
	}
	issued := now
	if ti.IssuedAtSec > 0 {
		issued = time.Unix(ti.IssuedAtSec, 0)
	}
	return issued.Add(time.Duration(ti.ExpiresInSec) * time.Second)
}
