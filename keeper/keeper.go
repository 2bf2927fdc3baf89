// Package keeper keeps tenants' sessions against external targets alive and
// runs commands over them.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/targets"
	"github.com/jrsteele09/go-session-keeper/tenants"
)

// Deps are the keeper's collaborators. Store and Directory are optional: without
// a store nothing survives a restart, without a directory nothing is reaped.
type Deps struct {
	Targets     *targets.Registry
	Credentials credentials.Repo
	Store       sessions.Store
	Directory   tenants.Directory
}

// Keeper wires the registry, heartbeat, recovery, executor and reaper together.
type Keeper struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	nowTime func() time.Time
	sleep   SleepFunc
	hooks   []FailureHook

	registry  *Registry
	recovery  *Recovery
	heartbeat *Heartbeat
	executor  *Executor
	selector  *Selector
	reaper    *Reaper
	failures  *failureLog

	lock    sync.Mutex
	started bool
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(k *Keeper) {
		k.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(k *Keeper) {
		k.logger = logger
	}
}

// WithSleep replaces the wait between recovery attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(k *Keeper) {
		k.sleep = sleep
	}
}

// WithFailureHook registers fn to be called for every retired session.
func WithFailureHook(fn FailureHook) Option {
	return func(k *Keeper) {
		k.hooks = append(k.hooks, fn)
	}
}

func New(cfg Config, deps Deps, options ...Option) (*Keeper, error) {
	if deps.Targets == nil {
		return nil, errors.New("[keeper.New] targets are required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("[keeper.New] credentials repo is required")
	}
	k := &Keeper{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		logger:  log.Logger,
		nowTime: time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range options {
		opt(k)
	}
	k.logger = k.logger.With().Str("component", "keeper").Logger()

	k.failures = newFailureLog(k.cfg.FailureLogSize)
	k.registry = newRegistry(deps, k.cfg, k.nowTime, k.logger)
	k.recovery = newRecovery(k.registry, k.cfg.Recovery, k.sleep, k.nowTime, k.logger, k.failures, k.hooks)
	k.heartbeat = newHeartbeat(k.registry, k.recovery, k.cfg, k.nowTime, k.logger)
	k.executor = newExecutor(deps.Targets, k.cfg, k.nowTime, k.logger, func(key sessions.Key, cause error) {
		k.recovery.Trigger(key, cause)
	})
	k.selector = newSelector(k.registry, k.executor, k.cfg, k.logger)
	k.reaper = newReaper(k.registry, deps, k.cfg, k.nowTime, k.logger)
	return k, nil
}

func (k *Keeper) Registry() *Registry   { return k.registry }
func (k *Keeper) Recovery() *Recovery   { return k.recovery }
func (k *Keeper) Heartbeat() *Heartbeat { return k.heartbeat }
func (k *Keeper) Executor() *Executor   { return k.executor }
func (k *Keeper) Selector() *Selector   { return k.selector }
func (k *Keeper) Reaper() *Reaper       { return k.reaper }

// Start subscribes to transport disconnects, warms up the targets that ask for
// it and starts the periodic loops. Warm-up failures are logged, not returned.
func (k *Keeper) Start(ctx context.Context) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	if k.started {
		return errors.New("[Keeper.Start] already started")
	}
	k.started = true

	for _, target := range k.deps.Targets.All() {
		if notifier, ok := target.Provider.(targets.DisconnectNotifier); ok {
			targetID := target.ID
			notifier.OnDisconnect(func(tenantID, connID string) {
				k.NotifyDisconnected(sessions.NewKey(tenantID, targetID), connID)
			})
		}
	}

	for _, target := range k.deps.Targets.All() {
		if !target.WarmUp {
			continue
		}
		if _, err := k.registry.WarmUp(ctx, target.ID); err != nil {
			k.logger.Warn().Err(err).Str("target", target.ID).Msg("warm-up incomplete")
		}
	}

	k.heartbeat.Start(ctx)
	k.reaper.Start(ctx)
	k.logger.Info().
		Dur("heartbeat_interval", k.cfg.HeartbeatInterval).
		Str("default_mode", string(k.cfg.DefaultMode)).
		Bool("legacy_fallback", k.cfg.LegacyFallback).
		Msg("keeper started")
	return nil
}

// Stop halts the loops and recovery, then persists every live session. Sessions
// still busy when ctx ends are skipped.
func (k *Keeper) Stop(ctx context.Context) error {
	k.heartbeat.Stop()
	k.reaper.Stop()
	k.recovery.Stop()

	live := k.registry.snapshot()
	var errs []error
	for _, s := range live {
		if err := s.Persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	k.logger.Info().Int("sessions", len(live)).Msg("keeper stopped")
	if len(errs) > 0 {
		return fmt.Errorf("[Keeper.Stop] %w", errors.Join(errs...))
	}
	return nil
}

// Run executes a command for a tenant on a target. See Selector.Run.
func (k *Keeper) Run(ctx context.Context, tenantID, targetID string, command commands.Command, options ...RunOption) (*Outcome, error) {
	return k.selector.Run(ctx, tenantID, targetID, command, options...)
}

// NotifyDisconnected is called by transports that learn on their own that a
// session was dropped. The session is marked expired and recovered, unless
// connID names a connection other than the one the session holds. An empty
// connID matches any.
func (k *Keeper) NotifyDisconnected(key sessions.Key, connID string) {
	s, ok := k.registry.Lookup(key)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), k.cfg.LoginTimeout)
		defer cancel()
		var expired bool
		err := s.Guarded(ctx, func(g *sessions.Guard) error {
			if held := g.Material().ConnectionID(); connID != "" && held != connID {
				k.logger.Debug().Str("key", key.String()).Str("conn_id", connID).Msg("ignoring drop of a connection the session no longer holds")
				return nil
			}
			g.MarkExpired("transport disconnected")
			expired = g.State() == sessions.StateExpired
			return nil
		})
		if err != nil {
			k.logger.Warn().Err(err).Str("key", key.String()).Msg("marking disconnected session failed")
			return
		}
		if expired {
			k.recovery.Trigger(key, nil)
		}
	}()
}

// Sessions lists the live sessions.
func (k *Keeper) Sessions() []sessions.Info {
	return k.registry.ListLive()
}

// Failures lists recently retired sessions, newest first.
func (k *Keeper) Failures() []FailureReport {
	return k.failures.list()
}

func (k *Keeper) Disconnect(ctx context.Context, tenantID, targetID string) error {
	return k.registry.Disconnect(ctx, sessions.NewKey(tenantID, targetID))
}

func (k *Keeper) Reap(ctx context.Context) (*ReapReport, error) {
	return k.reaper.Reap(ctx)
}
