package service

import (
	"context"

	"github.com/linego-dev/linego/pkg/thrift"
)

// RefreshResult is a refresh grant: a new access token, its lifetime, and
// optionally a rotated refresh token.
type RefreshResult struct {
	AccessToken  string
	DurationSec  int64
	RefreshToken string
	Raw          thrift.Struct
}

// Auth is the token-lifecycle facade over the refresh endpoint.
type Auth struct {
	inv *Invoker
}

// NewAuth builds the Auth facade.
func NewAuth(inv *Invoker) *Auth { return &Auth{inv: inv} }

// Refresh exchanges a refresh token for a fresh access token.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	req := thrift.Struct{thrift.F(1, thrift.NewString(refreshToken))}
	v, err := a.inv.Call(ctx, PathTokenRefresh, thrift.ProtocolCompact, "refresh", wrap(req))
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{
		AccessToken:  v.Fields.FieldString(1),
		DurationSec:  v.Fields.FieldInt(2),
		RefreshToken: v.Fields.FieldString(3),
		Raw:          v.Fields,
	}, nil
}

// ReportRefreshedAccessToken tells the server the new token is in use.
func (a *Auth) ReportRefreshedAccessToken(ctx context.Context, accessToken string) error {
	req := thrift.Struct{thrift.F(1, thrift.NewString(accessToken))}
	_, err := a.inv.Call(ctx, PathTokenRefresh, thrift.ProtocolCompact, "reportRefreshedAccessToken", wrap(req))
	return err
}
