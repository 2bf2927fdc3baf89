package auth

import (
	"context"

	"github.com/jrsteele09/go-session-keeper/credentials"
)

// Provider performs the login protocol for one external target.
//
// Login must positively confirm the session is authenticated before returning
// material; an ambiguous response is an error, never a success. Probe reports
// whether previously issued material is still accepted by the target, returning
// an error only when it could not find out (network failure, 5xx). Logout is
// best-effort.
type Provider interface {
	Login(ctx context.Context, credential credentials.Credential) (*Material, error)
	Probe(ctx context.Context, material *Material) (bool, error)
	Logout(ctx context.Context, material *Material) error
}

// ProviderFunc adapts plain functions to a Provider. Nil functions behave as a
// provider that cannot log in, always probes false and ignores logout.
type ProviderFunc struct {
	LoginFunc  func(ctx context.Context, credential credentials.Credential) (*Material, error)
	ProbeFunc  func(ctx context.Context, material *Material) (bool, error)
	LogoutFunc func(ctx context.Context, material *Material) error
}

var _ Provider = ProviderFunc{}

func (p ProviderFunc) Login(ctx context.Context, credential credentials.Credential) (*Material, error) {
	if p.LoginFunc == nil {
		return nil, ErrNoLogin
	}
	return p.LoginFunc(ctx, credential)
}

func (p ProviderFunc) Probe(ctx context.Context, material *Material) (bool, error) {
	if p.ProbeFunc == nil {
		return false, nil
	}
	return p.ProbeFunc(ctx, material)
}

func (p ProviderFunc) Logout(ctx context.Context, material *Material) error {
	if p.LogoutFunc == nil {
		return nil
	}
	return p.LogoutFunc(ctx, material)
}
