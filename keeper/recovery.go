package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/recovery"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FailureHook is called for every session that is given up on.
type FailureHook func(FailureReport)

// Recovery brings expired sessions back, one runner per key. Every way of
// noticing an expiry (heartbeat probe, command response, transport event)
// funnels into Trigger so the same backoff applies.
type Recovery struct {
	registry *Registry
	policy   recovery.Policy
	sleep    SleepFunc
	nowTime  func() time.Time
	logger   zerolog.Logger
	failures *failureLog
	hooks    []FailureHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lock    sync.Mutex
	running map[sessions.Key]struct{}
	stopped bool
}

func newRecovery(registry *Registry, policy recovery.Policy, sleep SleepFunc, nowTime func() time.Time, logger zerolog.Logger, failures *failureLog, hooks []FailureHook) *Recovery {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recovery{
		registry: registry,
		policy:   policy.WithDefaults(),
		sleep:    sleep,
		nowTime:  nowTime,
		logger:   logger,
		failures: failures,
		hooks:    hooks,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[sessions.Key]struct{}),
	}
}

// Trigger starts a runner for key unless one is already going. cause is what
// made the caller give up on the session, nil when the target simply stopped
// accepting it. It reports whether a new runner was started.
func (r *Recovery) Trigger(key sessions.Key, cause error) bool {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return false
	}
	if _, ok := r.running[key]; ok {
		return false
	}
	r.running[key] = struct{}{}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.lock.Lock()
			delete(r.running, key)
			r.lock.Unlock()
		}()
		r.run(r.ctx, key, cause)
	}()
	return true
}

// Running reports whether a runner is active for key.
func (r *Recovery) Running(key sessions.Key) bool {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.running[key]
	return ok
}

// Stop cancels every runner and waits for them to return.
func (r *Recovery) Stop() {
	r.lock.Lock()
	r.stopped = true
	r.lock.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Recovery) policyFor(targetID string) recovery.Policy {
	if t, err := r.registry.targets.Lookup(targetID); err == nil && t.Recovery != nil {
		return t.Recovery.WithDefaults()
	}
	return r.policy
}

func (r *Recovery) run(ctx context.Context, key sessions.Key, cause error) {
	s, ok := r.registry.Lookup(key)
	if !ok {
		return
	}
	logger := r.logger.With().Str("key", key.String()).Str("session_id", s.ID()).Logger()
	if cause != nil && !kerrors.IsRetryable(cause) {
		r.giveUp(ctx, s, 0, cause)
		return
	}

	policy := r.policyFor(key.TargetID)
	lastErr := cause
	for attempt := 0; !policy.Exhausted(attempt); attempt++ {
		delay := policy.Delay(attempt)
		logger.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("recovery waiting")
		if err := r.sleep(ctx, delay); err != nil {
			return
		}
		// Disconnected or reaped while waiting.
		if current, ok := r.registry.Lookup(key); !ok || current != s {
			return
		}

		err := s.EnsureActive(ctx)
		if err == nil {
			recoveriesTotal.WithLabelValues(key.TargetID, resultOK).Inc()
			logger.Info().Int("attempts", attempt+1).Msg("session recovered")
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("recovery attempt failed")
		if !kerrors.IsRetryable(err) {
			r.giveUp(ctx, s, attempt+1, err)
			return
		}
	}
	r.giveUp(ctx, s, policy.MaxAttempts, lastErr)
}

func (r *Recovery) giveUp(ctx context.Context, s *sessions.Session, attempts int, cause error) {
	key := s.Key()
	failed := &kerrors.SessionFailedError{Key: key.String(), Attempts: attempts, Cause: cause}
	if err := r.registry.Retire(ctx, key, failed); err != nil {
		r.logger.Warn().Err(err).Str("key", key.String()).Msg("retiring session failed")
	}
	recoveriesTotal.WithLabelValues(key.TargetID, resultError).Inc()

	report := FailureReport{
		Key:       key,
		SessionID: s.ID(),
		Attempts:  attempts,
		At:        r.nowTime(),
	}
	if cause != nil {
		report.Error = cause.Error()
	}
	r.failures.add(report)
	r.logger.Error().
		Err(cause).
		Str("key", key.String()).
		Int("attempts", attempts).
		Msg("session retired")
	for _, hook := range r.hooks {
		hook(report)
	}
}
