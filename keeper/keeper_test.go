package keeper_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credentialrepofakes "github.com/jrsteele09/go-session-keeper/credentials/repofakes"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/targets"
)

func TestNewValidatesDeps(t *testing.T) {
	_, err := keeper.New(keeper.DefaultConfig(), keeper.Deps{})
	assert.Error(t, err)

	registry, err := targets.NewRegistry()
	require.NoError(t, err)
	_, err = keeper.New(keeper.DefaultConfig(), keeper.Deps{Targets: registry})
	assert.Error(t, err)

	_, err = keeper.New(keeper.Config{}, keeper.Deps{Targets: registry, Credentials: credentialrepofakes.NewFakeCredentialRepo()})
	assert.NoError(t, err)
}

func TestStartWarmsUpTargets(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.warmUp = true
	})
	f.addTenant("tenant-1")
	f.addTenant("tenant-2")

	require.NoError(t, f.keeper.Start(f.ctx))
	assert.Error(t, f.keeper.Start(f.ctx))

	assert.Len(t, f.keeper.Sessions(), 2)
	assert.Equal(t, 2, f.provider.Logins())
}

func TestNotifyDisconnectedRecovers(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.notify = true
	})
	key := f.addTenant("tenant-1")
	require.NoError(t, f.keeper.Start(f.ctx))
	s := f.open(key)

	f.notifier.Drop("tenant-1", "token-1")
	require.Eventually(t, func() bool {
		return s.Info().LoginCount == 2
	}, 2*time.Second, 5*time.Millisecond)
	f.waitRecovery(key)

	assert.Equal(t, sessions.StateActive, s.Info().State)
	assert.Equal(t, []time.Duration{10 * time.Second}, f.sleeper.Delays())

	// Drops for tenants without a session are ignored.
	f.notifier.Drop("tenant-unknown", "token-9")
}

func TestNotifyDisconnectedIgnoresConnectionNotHeld(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.notify = true
	})
	key := f.addTenant("tenant-1")
	require.NoError(t, f.keeper.Start(f.ctx))
	s := f.open(key)

	// A legacy run logs in on its own throwaway connection, token-2.
	out, err := f.keeper.Run(f.ctx, "tenant-1", testTargetID, commandRenew(), keeper.WithMode(keeper.ModeLegacy))
	require.NoError(t, err)
	assert.Equal(t, keeper.ModeLegacy, out.Mode)
	require.Equal(t, 2, f.provider.Logins())

	f.notifier.Drop("tenant-1", "token-2")
	assert.Never(t, func() bool {
		return s.Info().State != sessions.StateActive || f.keeper.Recovery().Running(key)
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, s.Info().LoginCount)
	assert.Empty(t, f.sleeper.Delays())
}

func TestStopPersistsLiveSessions(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	s := f.open(key)
	require.NoError(t, f.store.Delete(f.ctx, key))

	require.NoError(t, f.keeper.Stop(f.ctx))

	rec, err := f.store.Load(f.ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, s.ID(), rec.SessionID)
}

func TestFailuresNewestFirst(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.FailureLogSize = 2
	})
	transient := errors.New("connection reset")
	for _, tenantID := range []string{"tenant-1", "tenant-2", "tenant-3"} {
		key := f.addTenant(tenantID)
		f.open(key)
		f.provider.FailLogins(transient, transient, transient, transient, transient)
		f.provider.RevokeAll()
		f.clock.Advance(probeInterval)
		f.keeper.Heartbeat().Tick(f.ctx)
		f.waitRecovery(key)
	}

	failures := f.keeper.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "tenant-3", failures[0].Key.TenantID)
	assert.Equal(t, "tenant-2", failures[1].Key.TenantID)
	assert.Len(t, f.hookedFailures(), 3)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "30s")
	t.Setenv("DEFAULT_MODE", "legacy")
	t.Setenv("RECOVERY_MAX_ATTEMPTS", "3")

	cfg := keeper.ConfigFrom(config.New())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, keeper.ModeLegacy, cfg.DefaultMode)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Recovery.BaseDelay)
}
