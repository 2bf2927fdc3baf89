package keeper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/auth/providerfakes"
	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	credentialrepofakes "github.com/jrsteele09/go-session-keeper/credentials/repofakes"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/sessions/memory"
	"github.com/jrsteele09/go-session-keeper/targets"
	"github.com/jrsteele09/go-session-keeper/tenants"
	tenantrepofakes "github.com/jrsteele09/go-session-keeper/tenants/repofakes"
)

const (
	testTargetID  = "portal"
	probeInterval = 2 * time.Minute
)

type clock struct {
	lock sync.Mutex
	now  time.Time
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

// sleeper records recovery waits. When block is set every wait parks until it
// is closed.
type sleeper struct {
	lock   sync.Mutex
	delays []time.Duration
	block  chan struct{}
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.lock.Lock()
	s.delays = append(s.delays, d)
	block := s.block
	s.lock.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (s *sleeper) Delays() []time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type sendResult struct {
	result *commands.Result
	err    error
}

type fakeSender struct {
	lock   sync.Mutex
	queue  []sendResult
	tokens []string
}

func (s *fakeSender) Queue(result *commands.Result, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.queue = append(s.queue, sendResult{result: result, err: err})
}

func (s *fakeSender) Send(_ context.Context, material *auth.Material, command commands.Command) (*commands.Result, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tokens = append(s.tokens, material.Token("session"))
	if len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		return r.result, r.err
	}
	return &commands.Result{Status: 200, Message: command.Name + " done"}, nil
}

// Tokens lists the session token each send was made with.
func (s *fakeSender) Tokens() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.tokens...)
}

// notifyingProvider is a provider whose transport reports drops. Each login
// stands for a connection named after its session token.
type notifyingProvider struct {
	*providerfakes.FakeProvider

	lock sync.Mutex
	fn   func(tenantID, connID string)
}

func (p *notifyingProvider) Login(ctx context.Context, credential credentials.Credential) (*auth.Material, error) {
	m, err := p.FakeProvider.Login(ctx, credential)
	if err != nil {
		return nil, err
	}
	m.Data = map[string]string{auth.DataConnectionID: m.Token("session")}
	return m, nil
}

func (p *notifyingProvider) OnDisconnect(fn func(tenantID, connID string)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.fn = fn
}

// Drop reports connID of tenantID as dropped.
func (p *notifyingProvider) Drop(tenantID, connID string) {
	p.lock.Lock()
	fn := p.fn
	p.lock.Unlock()
	if fn != nil {
		fn(tenantID, connID)
	}
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock
	sleeper   *sleeper
	provider  *providerfakes.FakeProvider
	sender    *fakeSender
	creds     *credentialrepofakes.FakeCredentialRepo
	store     *memory.Store
	directory *tenantrepofakes.FakeDirectory
	cfg       keeper.Config
	warmUp    bool
	notify    bool
	notifier  *notifyingProvider
	wrapStore func(sessions.Store) sessions.Store

	failureLock sync.Mutex
	failures    []keeper.FailureReport

	keeper *keeper.Keeper
}

func newFixture(t *testing.T, setup ...func(f *fixture)) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		clock:     &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		sleeper:   &sleeper{},
		creds:     credentialrepofakes.NewFakeCredentialRepo(),
		store:     memory.New(),
		directory: tenantrepofakes.NewFakeDirectory(),
		cfg:       keeper.DefaultConfig(),
	}
	f.cfg.LoginRatePerMinute = 0
	for _, fn := range setup {
		fn(f)
	}
	f.build()
	return f
}

// build constructs a keeper over the fixture's store and credentials with a
// fresh provider, as a restarted process would have.
func (f *fixture) build() {
	f.t.Helper()
	f.provider = providerfakes.NewFakeProvider()
	f.sender = &fakeSender{}
	var provider auth.Provider = f.provider
	if f.notify {
		f.notifier = &notifyingProvider{FakeProvider: f.provider}
		provider = f.notifier
	}
	registry, err := targets.NewRegistry(&targets.Target{
		ID:            testTargetID,
		Type:          "panel",
		Provider:      provider,
		Sender:        f.sender,
		ProbeInterval: probeInterval,
		WarmUp:        f.warmUp,
	})
	require.NoError(f.t, err)

	var store sessions.Store = f.store
	if f.wrapStore != nil {
		store = f.wrapStore(store)
	}
	deps := keeper.Deps{
		Targets:     registry,
		Credentials: f.creds,
		Store:       store,
	}
	if f.directory != nil {
		deps.Directory = f.directory
	}
	k, err := keeper.New(f.cfg, deps,
		keeper.WithNowTime(f.clock.Now),
		keeper.WithSleep(f.sleeper.Sleep),
		keeper.WithLogger(zerolog.Nop()),
		keeper.WithFailureHook(func(r keeper.FailureReport) {
			f.failureLock.Lock()
			defer f.failureLock.Unlock()
			f.failures = append(f.failures, r)
		}),
	)
	require.NoError(f.t, err)
	f.keeper = k
	f.t.Cleanup(func() {
		_ = k.Stop(context.Background())
	})
}

func (f *fixture) restart() {
	f.t.Helper()
	require.NoError(f.t, f.keeper.Stop(f.ctx))
	f.build()
}

func (f *fixture) addTenant(tenantID string) sessions.Key {
	f.t.Helper()
	require.NoError(f.t, f.creds.Upsert(f.ctx, &credentials.Credential{
		TenantID: tenantID,
		TargetID: testTargetID,
		Username: tenantID + "-user",
		Secret:   "s3cret",
	}))
	if f.directory != nil {
		f.directory.Upsert(&tenants.Tenant{ID: tenantID})
	}
	return sessions.NewKey(tenantID, testTargetID)
}

func (f *fixture) open(key sessions.Key) *sessions.Session {
	f.t.Helper()
	s, err := f.keeper.Registry().GetOrCreate(f.ctx, key)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) hookedFailures() []keeper.FailureReport {
	f.failureLock.Lock()
	defer f.failureLock.Unlock()
	return append([]keeper.FailureReport(nil), f.failures...)
}

// waitRecovery waits for the runner for key to finish.
func (f *fixture) waitRecovery(key sessions.Key) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return !f.keeper.Recovery().Running(key)
	}, 2*time.Second, 5*time.Millisecond)
}
