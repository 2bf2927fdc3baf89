// Package oauthapi keeps bearer-token sessions against APIs that issue tokens
// through the OAuth2 password grant.
package oauthapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

const (
	maxBodySize = 4 << 20

	tokenAccess  = "access_token"
	tokenRefresh = "refresh_token"
	tokenType    = "token_type"
	dataSubject  = "subject"
)

// API is the auth.Provider and commands.Sender for one token API.
type API struct {
	settings   Settings
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	keySet     oidc.KeySet
	httpClient *http.Client
	nowTime    func() time.Time
	logger     zerolog.Logger
}

type Option func(*API)

func WithHTTPClient(c *http.Client) Option {
	return func(a *API) {
		a.httpClient = c
	}
}

// WithKeySet replaces the remote JWKS used to verify ID tokens.
func WithKeySet(ks oidc.KeySet) Option {
	return func(a *API) {
		a.keySet = ks
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(a *API) {
		a.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

func New(settings Settings, options ...Option) (*API, error) {
	settings = settings.withDefaults()
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("[oauthapi.New] %w", err)
	}

	a := &API{
		settings: settings,
		oauth: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Scopes:       settings.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  settings.TokenURL,
				AuthStyle: authStyle(settings.AuthStyle),
			},
		},
		httpClient: &http.Client{Timeout: settings.RequestTimeout},
		nowTime:    time.Now,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(a)
	}

	if settings.Issuer != "" {
		if a.keySet == nil {
			ctx := oidc.ClientContext(context.Background(), a.httpClient)
			a.keySet = oidc.NewRemoteKeySet(ctx, settings.JWKSURL)
		}
		a.verifier = oidc.NewVerifier(settings.Issuer, a.keySet, &oidc.Config{
			ClientID: settings.ClientID,
			Now:      a.nowTime,
		})
	}
	return a, nil
}

func authStyle(s string) oauth2.AuthStyle {
	switch strings.ToLower(s) {
	case "header":
		return oauth2.AuthStyleInHeader
	case "params":
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleAutoDetect
}

// Login runs the password grant. A token response with an ID token is only
// accepted once the ID token verifies against the configured issuer.
func (a *API) Login(ctx context.Context, cred credentials.Credential) (*auth.Material, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.oauth.PasswordCredentialsToken(ctx, cred.Username, cred.Secret)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "invalid_grant", "invalid_client", "unauthorized_client":
				return nil, fmt.Errorf("[API.Login] %w: %s", kerrors.ErrLoginFailed, re.ErrorCode)
			}
		}
		return nil, fmt.Errorf("[API.Login] token request: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("[API.Login] %w: empty access token", kerrors.ErrAmbiguousResponse)
	}

	material := &auth.Material{
		Tokens: map[string]string{
			tokenAccess: tok.AccessToken,
			tokenType:   tok.Type(),
		},
		Data:       map[string]string{},
		ObtainedAt: a.nowTime(),
		ExpiresAt:  tok.Expiry,
	}
	if tok.RefreshToken != "" {
		material.Tokens[tokenRefresh] = tok.RefreshToken
	}
	if material.ExpiresAt.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			material.ExpiresAt = exp
		}
	}

	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" && a.verifier != nil {
		idToken, err := a.verifier.Verify(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("[API.Login] %w: id token: %v", kerrors.ErrAmbiguousResponse, err)
		}
		material.Data[dataSubject] = idToken.Subject
	}

	a.logger.Debug().Str("tenant", cred.TenantID).Time("expires_at", material.ExpiresAt).Msg("token issued")
	return material, nil
}

// Probe checks the token expiry locally before asking the API.
func (a *API) Probe(ctx context.Context, m *auth.Material) (bool, error) {
	if m == nil || m.Token(tokenAccess) == "" {
		return false, nil
	}
	now := a.nowTime()
	if m.Expired(now) {
		return false, nil
	}
	if exp, ok := jwtExpiry(m.Token(tokenAccess)); ok && !now.Before(exp) {
		return false, nil
	}

	req, err := a.request(ctx, http.MethodGet, a.settings.ProbePath, nil, m)
	if err != nil {
		return false, fmt.Errorf("[API.Probe] %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("[API.Probe] %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("[API.Probe] api returned %d", resp.StatusCode)
	}
	return false, fmt.Errorf("[API.Probe] %w: status %d", kerrors.ErrAmbiguousResponse, resp.StatusCode)
}

// Logout revokes the access token when a revocation endpoint is configured.
func (a *API) Logout(ctx context.Context, m *auth.Material) error {
	if m == nil || a.settings.RevokeURL == "" {
		return nil
	}
	form := url.Values{"token": {m.Token(tokenAccess)}, "token_type_hint": {tokenAccess}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.settings.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[API.Logout] %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(a.settings.ClientID), url.QueryEscape(a.settings.ClientSecret))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("[API.Logout] %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("[API.Logout] revoke returned %d", resp.StatusCode)
	}
	return nil
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

type apiResult struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Send posts the command with the bearer token. 401 is the not-authenticated
// signature; other 4xx are business rejections.
func (a *API) Send(ctx context.Context, m *auth.Material, cmd commands.Command) (*commands.Result, error) {
	if m == nil || m.Token(tokenAccess) == "" {
		return nil, kerrors.ErrNotAuthenticated
	}
	payload, err := json.Marshal(cmd.Args)
	if err != nil {
		return nil, fmt.Errorf("[API.Send] marshal: %w", err)
	}
	path := strings.ReplaceAll(a.settings.CommandPath, "{name}", url.PathEscape(cmd.Name))
	req, err := a.request(ctx, http.MethodPost, path, payload, m)
	if err != nil {
		return nil, fmt.Errorf("[API.Send] %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[API.Send] %s: %w", cmd.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("[API.Send] %s: read: %w", cmd.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, kerrors.ErrNotAuthenticated
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("[API.Send] %s: api returned %d", cmd.Name, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		var e apiError
		_ = json.Unmarshal(body, &e)
		code, message := e.Code, e.Message
		if code == "" {
			code = e.Error
		}
		if message == "" {
			message = e.ErrorDescription
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &kerrors.CommandRejectedError{Code: code, Message: message, Payload: body}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("[API.Send] %s: %w: status %d", cmd.Name, kerrors.ErrAmbiguousResponse, resp.StatusCode)
	}

	result := &commands.Result{Status: resp.StatusCode}
	if len(bytes.TrimSpace(body)) == 0 {
		return result, nil
	}
	var r apiResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("[API.Send] %s: %w: %v", cmd.Name, kerrors.ErrAmbiguousResponse, err)
	}
	result.Message = r.Message
	result.Data = r.Data
	return result, nil
}

func (a *API) request(ctx context.Context, method, path string, body []byte, m *auth.Material) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.settings.APIBaseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	typ := m.Token(tokenType)
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	req.Header.Set("Authorization", typ+" "+m.Token(tokenAccess))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// jwtExpiry reads exp from a JWT access token without verifying it. Opaque
// tokens report false.
func jwtExpiry(raw string) (time.Time, bool) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

var (
	_ auth.Provider   = (*API)(nil)
	_ commands.Sender = (*API)(nil)
)
