package sessions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-keeper/auth/providerfakes"
	"github.com/jrsteele09/go-session-keeper/credentials"
	credentialrepofakes "github.com/jrsteele09/go-session-keeper/credentials/repofakes"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/sessions/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTenantID = "tenant-1"
	testTargetID = "renewals-panel"
)

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type sessionFixture struct {
	provider *providerfakes.FakeProvider
	creds    *credentialrepofakes.FakeCredentialRepo
	store    *memory.Store
	clock    *clock
	key      sessions.Key
}

func setupSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	return &sessionFixture{
		provider: providerfakes.NewFakeProvider(),
		creds: credentialrepofakes.NewFakeCredentialRepo(&credentials.Credential{
			TenantID: testTenantID,
			TargetID: testTargetID,
			Username: "reseller",
			Secret:   "hunter2",
		}),
		store: memory.New(),
		clock: newClock(),
		key:   sessions.NewKey(testTenantID, testTargetID),
	}
}

func (f *sessionFixture) newSession(t *testing.T, opts ...sessions.Option) *sessions.Session {
	t.Helper()
	opts = append([]sessions.Option{
		sessions.WithNowTime(f.clock.Now),
		sessions.WithStaleAfter(4 * time.Minute),
	}, opts...)
	s, err := sessions.New(f.key, sessions.Deps{Provider: f.provider, Credentials: f.creds, Store: f.store}, opts...)
	require.NoError(t, err)
	return s
}

func TestEnsureActiveLogsInAndPersists(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()

	assert.Equal(t, sessions.StateUninitialized, s.Info().State)

	require.NoError(t, s.EnsureActive(ctx))
	info := s.Info()
	assert.Equal(t, sessions.StateActive, info.State)
	assert.Equal(t, 1, info.LoginCount)
	assert.Equal(t, f.clock.Now(), info.LastProbeAt)
	assert.Equal(t, 1, f.provider.Logins())

	rec, err := f.store.Load(ctx, f.key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, s.ID(), rec.SessionID)
	assert.Equal(t, "token-1", rec.Material.Token("session"))

	// Idempotent while fresh.
	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, 1, f.provider.Logins())
	assert.Equal(t, 0, f.provider.Probes())
}

func TestEnsureActiveProbesStaleSession(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, 1, f.provider.Probes())
	assert.Equal(t, 1, f.provider.Logins())
	assert.Equal(t, f.clock.Now(), s.Info().LastProbeAt)

	f.clock.Advance(5 * time.Minute)
	f.provider.RevokeAll()
	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, 2, f.provider.Logins())
	assert.Equal(t, sessions.StateActive, s.Info().State)
}

func TestProbeFailureExpiresAndReloginResetsCounters(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	f.provider.RevokeAll()
	alive, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Equal(t, sessions.StateExpired, s.Info().State)

	f.provider.FailLogins(kerrors.ErrChallengeTimeout)
	require.ErrorIs(t, s.EnsureActive(ctx), kerrors.ErrChallengeTimeout)
	info := s.Info()
	assert.Equal(t, sessions.StateFailed, info.State)
	assert.Equal(t, 1, info.ConsecutiveFailedReauths)
	assert.False(t, info.Retired)

	require.NoError(t, s.EnsureActive(ctx))
	info = s.Info()
	assert.Equal(t, sessions.StateActive, info.State)
	assert.Equal(t, 2, info.LoginCount)
	assert.Equal(t, 0, info.ConsecutiveFailedReauths)
}

func TestReloginLogsOutReplacedMaterial(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	f.provider.QueueProbe(false, nil)
	alive, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, 2, f.provider.Logins())
	assert.Equal(t, 1, f.provider.Logouts())
	assert.Equal(t, []string{"token-1"}, f.provider.LoggedOut())
	assert.Equal(t, sessions.StateActive, s.Info().State)

	// A failed login has nothing left to release.
	f.provider.QueueProbe(false, nil)
	_, _ = s.Probe(ctx)
	f.provider.FailLogins(kerrors.ErrChallengeTimeout)
	require.Error(t, s.EnsureActive(ctx))
	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, []string{"token-1", "token-2"}, f.provider.LoggedOut())
}

func TestProbeErrorCountsAsExpired(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	f.provider.QueueProbe(false, errors.New("502 bad gateway"))
	alive, err := s.Probe(ctx)
	require.Error(t, err)
	assert.False(t, alive)
	assert.Equal(t, sessions.StateExpired, s.Info().State)
}

func TestLoginFailureIsNotTerminal(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()

	f.provider.FailLogins(kerrors.Wrapf(kerrors.ErrLoginFailed, "bad password"))
	err := s.EnsureActive(ctx)
	require.ErrorIs(t, err, kerrors.ErrLoginFailed)
	info := s.Info()
	assert.Equal(t, sessions.StateFailed, info.State)
	assert.Equal(t, 0, info.ConsecutiveFailedReauths)

	rec, err := f.store.Load(ctx, f.key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.EnsureActive(ctx))
	assert.Equal(t, sessions.StateActive, s.Info().State)
}

func TestMissingCredential(t *testing.T) {
	f := setupSessionFixture(t)
	require.NoError(t, f.creds.Delete(context.Background(), testTenantID, testTargetID))
	s := f.newSession(t)

	err := s.EnsureActive(context.Background())
	require.ErrorIs(t, err, kerrors.ErrCredentialMissing)
	assert.Equal(t, 0, f.provider.Logins())
}

func TestLoginTimeoutLeavesNoMaterial(t *testing.T) {
	f := setupSessionFixture(t)
	f.provider.LoginDelay = time.Second
	s := f.newSession(t, sessions.WithLoginTimeout(20*time.Millisecond))

	err := s.EnsureActive(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sessions.StateFailed, s.Info().State)

	err = s.Guarded(context.Background(), func(g *sessions.Guard) error {
		assert.Nil(t, g.Material())
		return nil
	})
	require.NoError(t, err)
}

func TestRestoreSkipsLogin(t *testing.T) {
	f := setupSessionFixture(t)
	ctx := context.Background()
	first := f.newSession(t)
	require.NoError(t, first.EnsureActive(ctx))

	rec, err := f.store.Load(ctx, f.key)
	require.NoError(t, err)

	restarted := f.newSession(t)
	restored, err := restarted.Restore(ctx, rec)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, 1, f.provider.Logins())
	assert.Equal(t, sessions.StateActive, restarted.Info().State)
	assert.Equal(t, 1, restarted.Info().LoginCount)

	f.provider.RevokeAll()
	again := f.newSession(t)
	restored, err = again.Restore(ctx, rec)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, sessions.StateUninitialized, again.Info().State)
}

func TestCloseLogsOutAndDeletesRecord(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, f.provider.Logouts())
	assert.Equal(t, sessions.StateUninitialized, s.Info().State)
	rec, err := f.store.Load(ctx, f.key)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRetireIsTerminal(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	require.NoError(t, s.Retire(ctx, kerrors.ErrChallengeTimeout))
	info := s.Info()
	assert.Equal(t, sessions.StateFailed, info.State)
	assert.True(t, info.Retired)

	err := s.EnsureActive(ctx)
	require.ErrorIs(t, err, kerrors.ErrSessionFailed)
	assert.Equal(t, 1, f.provider.Logins())

	rec, err := f.store.Load(ctx, f.key)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGuardSerializesOperations(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureActive(ctx))

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Guarded(ctx, func(g *sessions.Guard) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := s.Probe(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.provider.Probes())

	close(release)
	alive, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestGuardMarkExpiredAndTouch(t *testing.T) {
	f := setupSessionFixture(t)
	s := f.newSession(t)
	ctx := context.Background()

	err := s.Guarded(ctx, func(g *sessions.Guard) error {
		assert.Nil(t, g.Material())
		require.NoError(t, g.EnsureActive(ctx))
		assert.Equal(t, "token-1", g.Material().Token("session"))
		f.clock.Advance(time.Second)
		g.Touch()
		g.MarkExpired("unauthenticated response")
		assert.Equal(t, sessions.StateExpired, g.State())
		assert.Nil(t, g.Material())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), s.Info().LastActivityAt)
	assert.Equal(t, sessions.StateExpired, s.Info().State)
}

func TestNewValidates(t *testing.T) {
	f := setupSessionFixture(t)
	_, err := sessions.New(sessions.NewKey("", "x"), sessions.Deps{Provider: f.provider, Credentials: f.creds})
	require.Error(t, err)
	_, err = sessions.New(f.key, sessions.Deps{Credentials: f.creds})
	require.Error(t, err)
}
