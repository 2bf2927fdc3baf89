package keeper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

func TestGetOrCreateSharesOneLogin(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.provider.LoginDelay = 50 * time.Millisecond

	const callers = 16
	var (
		wg   sync.WaitGroup
		got  = make([]*sessions.Session, callers)
		errs = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = f.keeper.Registry().GetOrCreate(f.ctx, key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, 1, f.provider.Logins())
	assert.Len(t, f.keeper.Registry().ListLive(), 1)
}

func TestGetOrCreateFirstRunLogsInAndPersists(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")

	s := f.open(key)

	info := s.Info()
	assert.Equal(t, sessions.StateActive, info.State)
	assert.Equal(t, 1, info.LoginCount)
	assert.Equal(t, 1, f.provider.Logins())

	rec, err := f.store.Load(f.ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, s.ID(), rec.SessionID)
	assert.Equal(t, "token-1", rec.Material.Token("session"))
	assert.Equal(t, 1, rec.LoginCount)
}

func TestGetOrCreateRestoresAfterRestart(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.open(key)

	f.restart()
	f.clock.Advance(time.Hour)

	s := f.open(key)
	assert.Equal(t, 0, f.provider.Logins())
	assert.Equal(t, 1, f.provider.Probes())
	info := s.Info()
	assert.Equal(t, sessions.StateActive, info.State)
	assert.Equal(t, 1, info.LoginCount)

	// The restored material is what commands use.
	_, err := f.keeper.Executor().Execute(f.ctx, s, commandRenew())
	require.NoError(t, err)
	assert.Equal(t, []string{"token-1"}, f.sender.Tokens())
}

func TestGetOrCreateLogsInWhenRecordTooOld(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.open(key)

	f.restart()
	f.clock.Advance(f.cfg.RestoreMaxAge + time.Minute)

	s := f.open(key)
	assert.Equal(t, 1, f.provider.Logins())
	assert.Equal(t, 0, f.provider.Probes())
	assert.Equal(t, 1, s.Info().LoginCount)
}

func TestGetOrCreateLogsInWhenRestoreRejected(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.open(key)

	f.restart()
	f.provider.QueueProbe(false, nil)

	s := f.open(key)
	assert.Equal(t, 1, f.provider.Logins())
	assert.Equal(t, sessions.StateActive, s.Info().State)
}

func TestGetOrCreateErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.keeper.Registry().GetOrCreate(f.ctx, sessions.NewKey("tenant-1", "nowhere"))
	assert.ErrorIs(t, err, kerrors.ErrUnknownTarget)

	_, err = f.keeper.Registry().GetOrCreate(f.ctx, sessions.NewKey("", testTargetID))
	assert.Error(t, err)

	key := sessions.NewKey("tenant-without-credential", testTargetID)
	_, err = f.keeper.Registry().GetOrCreate(f.ctx, key)
	assert.ErrorIs(t, err, kerrors.ErrCredentialMissing)
	_, ok := f.keeper.Registry().Lookup(key)
	assert.False(t, ok)
	assert.Equal(t, 0, f.provider.Logins())
}

func TestGetOrCreateNormalisesTarget(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	s := f.open(key)

	again, err := f.keeper.Registry().GetOrCreate(f.ctx, sessions.Key{TenantID: "tenant-1", TargetID: " PORTAL/ "})
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, f.provider.Logins())
}

func TestGetOrCreateCallerCancelled(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.provider.LoginDelay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := f.keeper.Registry().GetOrCreate(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared login carries on for the next caller.
	s := f.open(key)
	assert.Equal(t, sessions.StateActive, s.Info().State)
	assert.Equal(t, 1, f.provider.Logins())
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	key := f.addTenant("tenant-1")
	f.open(key)

	require.NoError(t, f.keeper.Disconnect(f.ctx, "tenant-1", testTargetID))

	assert.Equal(t, 1, f.provider.Logouts())
	assert.Empty(t, f.keeper.Sessions())
	rec, err := f.store.Load(f.ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	err = f.keeper.Disconnect(f.ctx, "tenant-1", testTargetID)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestWarmUp(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.addTenant(fmt.Sprintf("tenant-%d", i))
	}
	f.open(sessions.NewKey("tenant-1", testTargetID))
	f.provider.FailLogins(fmt.Errorf("wrong password: %w", kerrors.ErrLoginFailed))

	report, err := f.keeper.Registry().WarmUp(f.ctx, testTargetID)
	require.NoError(t, err)

	assert.Equal(t, testTargetID, report.TargetID)
	assert.Equal(t, 0, report.Restored)
	assert.Equal(t, 1, report.LoggedIn)
	assert.Len(t, report.Failed, 1)
	assert.Len(t, f.keeper.Sessions(), 2)
	assert.Equal(t, 3, f.provider.Logins())
}

func TestWarmUpRestores(t *testing.T) {
	f := newFixture(t)
	f.open(f.addTenant("tenant-1"))
	f.open(f.addTenant("tenant-2"))

	f.restart()
	report, err := f.keeper.Registry().WarmUp(f.ctx, testTargetID)
	require.NoError(t, err)
	assert.Equal(t, &keeper.WarmUpReport{TargetID: testTargetID, Restored: 2}, report)
	assert.Equal(t, 0, f.provider.Logins())
}

func TestWarmUpUnknownTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.keeper.Registry().WarmUp(f.ctx, "nowhere")
	assert.True(t, errors.Is(err, kerrors.ErrUnknownTarget))
}

// hangingStore never answers Load until its context ends.
type hangingStore struct {
	sessions.Store
}

func (hangingStore) Load(ctx context.Context, _ sessions.Key) (*sessions.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetOrCreateBoundsHungStoreLoad(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.ProbeTimeout = 50 * time.Millisecond
		f.wrapStore = func(s sessions.Store) sessions.Store { return hangingStore{Store: s} }
	})
	key := f.addTenant("tenant-1")

	done := make(chan error, 1)
	go func() {
		_, err := f.keeper.Registry().GetOrCreate(context.Background(), key)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("open stayed blocked on the store")
	}
	s, ok := f.keeper.Registry().Lookup(key)
	require.True(t, ok)
	assert.Equal(t, sessions.StateActive, s.Info().State)
	assert.Equal(t, 1, f.provider.Logins())
}
