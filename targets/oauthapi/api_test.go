package oauthapi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "keeper"
)

var agent = credentials.Credential{TenantID: "tenant-1", TargetID: "api", Username: "agent", Secret: "hunter2"}

type tokenAPI struct {
	srv        *httptest.Server
	signingKey *rsa.PrivateKey
	revoked    atomic.Bool
	probes     atomic.Int32
	issueID    bool
}

func newTokenAPI(t *testing.T) *tokenAPI {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	api := &tokenAPI{signingKey: key, issueID: true}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", api.token)
	mux.HandleFunc("GET /me", api.me)
	mux.HandleFunc("POST /commands/{name}", api.command)
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, _ *http.Request) {
		api.revoked.Store(true)
	})
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *tokenAPI) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("password") != "hunter2" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
		return
	}
	now := time.Now()
	access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agent",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("api-secret"))

	resp := map[string]any{"access_token": access, "token_type": "bearer"}
	if a.issueID {
		id, _ := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testClientID},
			Subject:   "user-42",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}).SignedString(a.signingKey)
		resp["id_token"] = id
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *tokenAPI) authed(r *http.Request) bool {
	return !a.revoked.Load() && len(r.Header.Get("Authorization")) > len("Bearer ") &&
		r.Header.Get("Authorization")[:7] == "Bearer "
}

func (a *tokenAPI) me(w http.ResponseWriter, r *http.Request) {
	a.probes.Add(1)
	if !a.authed(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(`{"id":"agent"}`))
}

func (a *tokenAPI) command(w http.ResponseWriter, r *http.Request) {
	if !a.authed(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.PathValue("name") {
	case "renew":
		_, _ = w.Write([]byte(`{"message":"renewed","data":{"ok":true}}`))
	case "overdrawn":
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"insufficient_balance","error_description":"balance too low"}`))
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func newTestAPI(t *testing.T, srv *tokenAPI, keys []crypto.PublicKey, options ...Option) *API {
	t.Helper()
	options = append(options, WithKeySet(&oidc.StaticKeySet{PublicKeys: keys}))
	a, err := New(Settings{
		TokenURL:     srv.srv.URL + "/token",
		ClientID:     testClientID,
		ClientSecret: "client-secret",
		AuthStyle:    "header",
		Issuer:       testIssuer,
		APIBaseURL:   srv.srv.URL,
		RevokeURL:    srv.srv.URL + "/revoke",
	}, options...)
	require.NoError(t, err)
	return a
}

func TestLoginProbeSend(t *testing.T) {
	srv := newTokenAPI(t)
	a := newTestAPI(t, srv, []crypto.PublicKey{&srv.signingKey.PublicKey})
	ctx := context.Background()

	m, err := a.Login(ctx, agent)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Token(tokenAccess))
	assert.Equal(t, "user-42", m.Data[dataSubject])
	assert.False(t, m.ExpiresAt.IsZero())

	alive, err := a.Probe(ctx, m)
	require.NoError(t, err)
	assert.True(t, alive)

	res, err := a.Send(ctx, m, commands.Command{Name: "renew"})
	require.NoError(t, err)
	assert.Equal(t, "renewed", res.Message)
	assert.Equal(t, http.StatusOK, res.Status)

	_, err = a.Send(ctx, m, commands.Command{Name: "overdrawn"})
	var rejected *kerrors.CommandRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "insufficient_balance", rejected.Code)
	assert.Equal(t, "balance too low", rejected.Message)

	_, err = a.Send(ctx, m, commands.Command{Name: "flaky"})
	require.Error(t, err)
	assert.True(t, kerrors.IsRetryable(err))

	require.NoError(t, a.Logout(ctx, m))
	alive, err = a.Probe(ctx, m)
	require.NoError(t, err)
	assert.False(t, alive)

	_, err = a.Send(ctx, m, commands.Command{Name: "renew"})
	assert.ErrorIs(t, err, kerrors.ErrNotAuthenticated)
}

func TestLogin_InvalidGrant(t *testing.T) {
	srv := newTokenAPI(t)
	a := newTestAPI(t, srv, []crypto.PublicKey{&srv.signingKey.PublicKey})

	bad := agent
	bad.Secret = "wrong"
	_, err := a.Login(context.Background(), bad)
	require.ErrorIs(t, err, kerrors.ErrLoginFailed)
}

func TestLogin_IDTokenFromWrongKey(t *testing.T) {
	srv := newTokenAPI(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	a := newTestAPI(t, srv, []crypto.PublicKey{&other.PublicKey})

	_, err = a.Login(context.Background(), agent)
	assert.ErrorIs(t, err, kerrors.ErrAmbiguousResponse)
}

func TestProbe_ExpiredTokenSkipsNetwork(t *testing.T) {
	srv := newTokenAPI(t)
	srv.issueID = false
	a := newTestAPI(t, srv, nil)
	m, err := a.Login(context.Background(), agent)
	require.NoError(t, err)

	later := newTestAPI(t, srv, nil, WithNowTime(func() time.Time { return time.Now().Add(2 * time.Hour) }))
	alive, err := later.Probe(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.EqualValues(t, 0, srv.probes.Load())
}

func TestProbe_NoMaterial(t *testing.T) {
	srv := newTokenAPI(t)
	a := newTestAPI(t, srv, nil)

	alive, err := a.Probe(context.Background(), &auth.Material{})
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).
		SignedString([]byte("k"))
	require.NoError(t, err)

	got, ok := jwtExpiry(raw)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = jwtExpiry("opaque-token")
	assert.False(t, ok)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Settings{ClientID: "c", APIBaseURL: "http://x"})
	assert.Error(t, err)
	_, err = New(Settings{TokenURL: "http://x/token", APIBaseURL: "http://x"})
	assert.Error(t, err)
}
