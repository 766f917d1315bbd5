package auth

import (
	"context"

	"github.com/linego-dev/linego/internal/service"
	"github.com/linego-dev/linego/internal/storage"
	"github.com/linego-dev/linego/internal/transport"
	"github.com/linego-dev/linego/pkg/thrift"
)

// LoginWithQR runs the secondary-device QR flow: mint a session, publish
// the QR URL, wait for the scan, then clear verification with the stored
// certificate or a fresh PIN. Token-v3 devices finish with qrCodeLoginV2.
func (m *Manager) LoginWithQR(ctx context.Context) (Result, error) {
	const op = "loginWithQR"
	ctx, cancel := context.WithTimeout(ctx, m.flowTimeout)
	defer cancel()

	sqr, err := m.createSession(ctx)
	if err != nil {
		return Result{}, err
	}
	qrURL, err := m.createQrCode(ctx, sqr)
	if err != nil {
		return Result{}, err
	}
	if m.secrets != nil {
		qrURL += m.secrets.QRSuffix()
	}
	emit(m.prompts.QR, qrURL)
	m.logger.Info().Msg("waiting for qr scan")

	if err := m.pollVerified(ctx, "checkQrCodeVerified", sqr); err != nil {
		return Result{}, err
	}

	// Certificate fast path; on refusal fall back to a PIN round.
	qrCert, _ := m.store.Get(storage.KeyQRCertificate)
	if err := m.verifyCertificate(ctx, sqr, qrCert); err != nil {
		if service.KindOf(err) == service.KindTransport || service.KindOf(err) == service.KindFlowTimeout {
			return Result{}, err
		}
		pin, err := m.createPinCode(ctx, sqr)
		if err != nil {
			return Result{}, err
		}
		emit(m.prompts.PIN, pin)
		m.logger.Info().Msg("waiting for pin entry")
		if err := m.pollVerified(ctx, "checkPinCodeVerified", sqr); err != nil {
			return Result{}, err
		}
	}

	var res Result
	if m.profile.SupportsTokenV3() {
		res, err = m.qrCodeLoginV2(ctx, sqr)
	} else {
		res, err = m.qrCodeLogin(ctx, sqr)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Certificate != "" {
		if err := m.store.Set(storage.KeyQRCertificate, res.Certificate); err != nil {
			return Result{}, service.E(service.KindConfig, op, err)
		}
	}
	if err := m.persist(res); err != nil {
		return Result{}, service.E(service.KindConfig, op, err)
	}
	return res, nil
}

func (m *Manager) createSession(ctx context.Context) (string, error) {
	v, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "createSession", nil)
	if err != nil {
		return "", err
	}
	sqr := v.Fields.FieldString(1)
	if sqr == "" {
		return "", service.Errorf(service.KindServer, "createSession", "no session id in response")
	}
	return sqr, nil
}

func (m *Manager) createQrCode(ctx context.Context, sqr string) (string, error) {
	v, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "createQrCode", qrRequest(sqr))
	if err != nil {
		return "", err
	}
	return v.Fields.FieldString(1), nil
}

func (m *Manager) createPinCode(ctx context.Context, sqr string) (string, error) {
	v, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "createPinCode", qrRequest(sqr))
	if err != nil {
		return "", err
	}
	return v.Fields.FieldString(1), nil
}

func (m *Manager) verifyCertificate(ctx context.Context, sqr, cert string) error {
	args := thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString(sqr)),
			thrift.F(2, thrift.NewString(cert)),
		})),
	}
	_, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "verifyCertificate", args)
	return err
}

// pollVerified long-polls the QR gateway until the method returns
// success. The session id rides in x-line-access.
func (m *Manager) pollVerified(ctx context.Context, method, sqr string) error {
	for {
		if ctx.Err() != nil {
			return service.Errorf(service.KindFlowTimeout, method, "not verified in time")
		}
		_, err := m.inv.CallOpts(ctx, pathQRPoll, thrift.ProtocolCompact, method, qrRequest(sqr),
			transport.CallOptions{
				AccessToken: sqr,
				Timeout:     m.pollTimeout,
				Headers:     map[string]string{"x-lst": longPollMillis},
			})
		if err == nil {
			return nil
		}
		if fatal := verificationFatal(method, err); fatal != nil {
			return fatal
		}
	}
}

func (m *Manager) qrCodeLogin(ctx context.Context, sqr string) (Result, error) {
	args := thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString(sqr)),
			thrift.F(2, thrift.NewString(string(m.profile.Kind))),
			thrift.F(3, thrift.NewBool(true)), // autoLoginIsRequired
		})),
	}
	v, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "qrCodeLogin", args)
	if err != nil {
		return Result{}, err
	}
	token := v.Fields.FieldString(2)
	if token == "" {
		return Result{}, service.Errorf(service.KindAuth, "qrCodeLogin", "no auth token in response")
	}
	return Result{
		AccessToken: token,
		Certificate: v.Fields.FieldString(1),
	}, nil
}

func (m *Manager) qrCodeLoginV2(ctx context.Context, sqr string) (Result, error) {
	args := thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString(sqr)),
			thrift.F(2, thrift.NewString(m.system)),
			thrift.F(3, thrift.NewString(modelName)),
			thrift.F(4, thrift.NewBool(true)), // autoLoginIsRequired
		})),
	}
	v, err := m.inv.Call(ctx, pathQR, thrift.ProtocolCompact, "qrCodeLoginV2", args)
	if err != nil {
		return Result{}, err
	}
	info := v.Fields.FieldStruct(3)
	if info == nil {
		return Result{}, service.Errorf(service.KindAuth, "qrCodeLoginV2", "no token info in response")
	}
	ti := service.TokenInfoFrom(info)
	if ti.AccessToken == "" {
		return Result{}, service.Errorf(service.KindAuth, "qrCodeLoginV2", "no access token in token info")
	}
	return Result{
		AccessToken:  ti.AccessToken,
		RefreshToken: ti.RefreshToken,
		ExpiresAt:    tokenExpiry(m.now(), ti),
		MID:          v.Fields.FieldString(4),
		Certificate:  v.Fields.FieldString(1),
	}, nil
}

func qrRequest(sqr string) thrift.Struct {
	return thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewString(sqr)),
		})),
	}
}
