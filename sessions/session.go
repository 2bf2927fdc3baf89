package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	defaultLoginTimeout = 3 * time.Minute
	defaultProbeTimeout = 20 * time.Second
	defaultStaleAfter   = 4 * time.Minute
)

// Deps are the collaborators a session needs. Store may be nil for throwaway
// sessions that must never be persisted.
type Deps struct {
	Provider    auth.Provider
	Credentials credentials.Repo
	Store       Store
}

// Info is an immutable snapshot of a session, published on every transition so
// it can be read without taking the session guard. It never carries material.
type Info struct {
	ID                       string    `json:"id"`
	Key                      Key       `json:"key"`
	State                    State     `json:"state"`
	Retired                  bool      `json:"retired"`
	LoginCount               int       `json:"login_count"`
	ConsecutiveFailedReauths int       `json:"consecutive_failed_reauths"`
	CreatedAt                time.Time `json:"created_at"`
	LastProbeAt              time.Time `json:"last_probe_at,omitempty"`
	LastActivityAt           time.Time `json:"last_activity_at,omitempty"`
	LastError                string    `json:"last_error,omitempty"`

	err error
}

// Err returns the error behind LastError, if any.
func (i Info) Err() error {
	return i.err
}

// Session is one authenticated context for a (tenant, target) pair.
//
// Every read or write of the material and the state happens while holding the
// guard, a weighted semaphore of size one so that waiting for it honours the
// caller's context.
type Session struct {
	id     string
	key    Key
	deps   Deps
	guard  *semaphore.Weighted
	logger zerolog.Logger

	nowTime      func() time.Time
	loginTimeout time.Duration
	probeTimeout time.Duration
	staleAfter   time.Duration

	// guarded
	state          State
	retired        bool
	material       *auth.Material
	loginCount     int
	failedReauths  int
	createdAt      time.Time
	lastProbeAt    time.Time
	lastActivityAt time.Time
	lastErr        error

	info atomic.Pointer[Info]
}

// Option configures a Session.
type Option func(*Session)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Session) {
		s.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithLoginTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.loginTimeout = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithStaleAfter sets how long an ACTIVE session may go unprobed before it must
// be probed again ahead of use. Callers pass twice the target's probe interval.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// New builds an UNINITIALIZED session. Nothing touches the network until
// EnsureActive or Restore is called.
func New(key Key, deps Deps, options ...Option) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("[sessions.New] %w", err)
	}
	if deps.Provider == nil {
		return nil, errors.New("[sessions.New] provider is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("[sessions.New] credentials repo is required")
	}

	s := &Session{
		id:           uuid.New().String(),
		key:          key,
		deps:         deps,
		guard:        semaphore.NewWeighted(1),
		logger:       log.Logger,
		nowTime:      time.Now,
		loginTimeout: defaultLoginTimeout,
		probeTimeout: defaultProbeTimeout,
		staleAfter:   defaultStaleAfter,
		state:        StateUninitialized,
	}
	for _, opt := range options {
		opt(s)
	}
	s.createdAt = s.nowTime()
	s.logger = s.logger.With().
		Str("tenant", key.TenantID).
		Str("target", key.TargetID).
		Str("session_id", s.id).
		Logger()
	s.publish()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Key() Key {
	return s.key
}

// Info returns the latest published snapshot.
func (s *Session) Info() Info {
	return *s.info.Load()
}

// Guarded runs fn while holding the session guard. The Guard handed to fn is
// only valid for the duration of the call.
func (s *Session) Guarded(ctx context.Context, fn func(g *Guard) error) error {
	if err := s.guard.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("[Session.Guarded] %s: waiting for session: %w", s.key, err)
	}
	g := &Guard{s: s}
	defer func() {
		g.s = nil
		s.guard.Release(1)
	}()
	return fn(g)
}

// EnsureActive returns once the session is ACTIVE, logging in if needed. It is
// idempotent: an ACTIVE, recently probed session returns immediately.
func (s *Session) EnsureActive(ctx context.Context) error {
	return s.Guarded(ctx, func(g *Guard) error {
		return g.EnsureActive(ctx)
	})
}

// Probe asks the target whether the current material is still accepted. A false
// result moves an ACTIVE session to EXPIRED.
func (s *Session) Probe(ctx context.Context) (bool, error) {
	var alive bool
	err := s.Guarded(ctx, func(g *Guard) error {
		var err error
		alive, err = s.probeLocked(ctx)
		return err
	})
	return alive, err
}

// Restore seeds the session from a persisted record and probes it. It returns
// true when the target still accepts the material, leaving the session ACTIVE
// without a login. Otherwise the session is reset to UNINITIALIZED.
func (s *Session) Restore(ctx context.Context, rec *Record) (bool, error) {
	if rec == nil || rec.Material == nil {
		return false, nil
	}
	var restored bool
	err := s.Guarded(ctx, func(_ *Guard) error {
		s.material = rec.Material.Clone()
		s.loginCount = rec.LoginCount
		s.failedReauths = rec.ConsecutiveFailedReauths
		if !rec.CreatedAt.IsZero() {
			s.createdAt = rec.CreatedAt
		}
		s.lastActivityAt = rec.LastActivityAt

		alive, err := s.callProbe(ctx)
		if err != nil || !alive {
			s.material = nil
			s.state = StateUninitialized
			s.lastErr = err
			s.publish()
			return err
		}
		s.state = StateActive
		s.lastProbeAt = s.nowTime()
		s.lastErr = nil
		s.publish()
		restored = true
		_ = s.persistLocked(ctx)
		return nil
	})
	return restored, err
}

// Persist writes the current record if the session is ACTIVE.
func (s *Session) Persist(ctx context.Context) error {
	return s.Guarded(ctx, func(_ *Guard) error {
		return s.persistLocked(ctx)
	})
}

// Close logs out (best-effort), resets the session and deletes its record.
func (s *Session) Close(ctx context.Context) error {
	return s.Guarded(ctx, func(_ *Guard) error {
		s.releaseLocked(ctx)
		s.state = StateUninitialized
		s.publish()
		return s.deleteLocked(ctx)
	})
}

// Retire moves the session to its terminal FAILED state and deletes its record.
// A retired session never logs in again.
func (s *Session) Retire(ctx context.Context, cause error) error {
	return s.Guarded(ctx, func(_ *Guard) error {
		s.retired = true
		s.releaseLocked(ctx)
		s.state = StateFailed
		if cause != nil {
			s.lastErr = cause
		}
		s.publish()
		return s.deleteLocked(ctx)
	})
}

func (s *Session) ensureActiveLocked(ctx context.Context) error {
	if s.retired {
		return &kerrors.SessionFailedError{Key: s.key.String(), Attempts: s.failedReauths, Cause: s.lastErr}
	}
	if s.state == StateActive && s.material != nil {
		now := s.nowTime()
		if now.Sub(s.lastProbeAt) <= s.staleAfter && !s.material.Expired(now) {
			return nil
		}
		if alive, _ := s.probeLocked(ctx); alive {
			return nil
		}
	}
	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) error {
	// The upstream login being replaced would otherwise stay open.
	s.releaseLocked(ctx)
	s.state = StateLoggingIn
	s.publish()

	cred, err := s.deps.Credentials.Get(ctx, s.key.TenantID, s.key.TargetID)
	if err != nil {
		return s.loginFailed(fmt.Errorf("credential lookup: %w", err))
	}
	if cred == nil {
		return s.loginFailed(kerrors.ErrCredentialMissing)
	}

	lctx, cancel := context.WithTimeout(ctx, s.loginTimeout)
	defer cancel()
	start := s.nowTime()
	material, err := s.deps.Provider.Login(lctx, *cred)
	if err == nil && material == nil {
		err = kerrors.Wrapf(kerrors.ErrLoginFailed, "provider returned no material")
	}
	if err != nil {
		if errors.Is(lctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", s.loginTimeout, err)
		}
		return s.loginFailed(err)
	}

	now := s.nowTime()
	if material.ObtainedAt.IsZero() {
		material.ObtainedAt = now
	}
	s.material = material.Clone()
	s.state = StateActive
	s.loginCount++
	s.failedReauths = 0
	s.lastProbeAt = now
	s.lastErr = nil
	s.publish()
	s.logger.Info().Int("login_count", s.loginCount).Dur("took", now.Sub(start)).Msg("session logged in")

	_ = s.persistLocked(ctx)
	return nil
}

// releaseLocked logs the current material out, best-effort, and drops it.
func (s *Session) releaseLocked(ctx context.Context) {
	if s.material == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	if err := s.deps.Provider.Logout(lctx, s.material.Clone()); err != nil {
		s.logger.Warn().Err(err).Msg("logout failed")
	}
	s.material = nil
}

func (s *Session) loginFailed(err error) error {
	s.material = nil
	s.state = StateFailed
	if s.loginCount > 0 {
		s.failedReauths++
	}
	s.lastErr = err
	s.publish()
	s.logger.Warn().Err(err).Int("failed_reauths", s.failedReauths).Msg("session login failed")
	return fmt.Errorf("[Session.login] %s: %w", s.key, err)
}

func (s *Session) probeLocked(ctx context.Context) (bool, error) {
	if s.material == nil {
		if s.state == StateActive {
			s.markExpiredLocked("no material")
		}
		return false, nil
	}
	alive, err := s.callProbe(ctx)
	if err != nil || !alive {
		// Unknown counts as gone: reusing material the target may have dropped
		// surfaces as confusing command failures.
		s.lastErr = err
		s.markExpiredLocked("probe failed")
		return false, err
	}
	s.lastProbeAt = s.nowTime()
	s.publish()
	_ = s.persistLocked(ctx)
	return true, nil
}

func (s *Session) callProbe(ctx context.Context) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	alive, err := s.deps.Provider.Probe(pctx, s.material.Clone())
	if err != nil {
		return false, fmt.Errorf("[Session.probe] %s: %w", s.key, err)
	}
	return alive, nil
}

func (s *Session) markExpiredLocked(reason string) {
	if s.state != StateActive {
		return
	}
	s.state = StateExpired
	s.publish()
	s.logger.Info().Str("reason", reason).Msg("session expired")
}

func (s *Session) persistLocked(ctx context.Context) error {
	if s.deps.Store == nil || s.state != StateActive || s.material == nil {
		return nil
	}
	if err := s.deps.Store.Save(ctx, s.key, s.recordLocked()); err != nil {
		s.logger.Warn().Err(err).Msg("persisting session record failed")
		return fmt.Errorf("[Session.persist] %s: %w", s.key, err)
	}
	return nil
}

func (s *Session) deleteLocked(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	if err := s.deps.Store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("[Session.delete] %s: %w", s.key, err)
	}
	return nil
}

func (s *Session) recordLocked() *Record {
	return &Record{
		Key:                      s.key,
		SessionID:                s.id,
		Material:                 s.material.Clone(),
		LoginCount:               s.loginCount,
		ConsecutiveFailedReauths: s.failedReauths,
		CreatedAt:                s.createdAt,
		LastProbeAt:              s.lastProbeAt,
		LastActivityAt:           s.lastActivityAt,
		UpdatedAt:                s.nowTime(),
	}
}

func (s *Session) publish() {
	info := &Info{
		ID:                       s.id,
		Key:                      s.key,
		State:                    s.state,
		Retired:                  s.retired,
		LoginCount:               s.loginCount,
		ConsecutiveFailedReauths: s.failedReauths,
		CreatedAt:                s.createdAt,
		LastProbeAt:              s.lastProbeAt,
		LastActivityAt:           s.lastActivityAt,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
		info.err = s.lastErr
	}
	s.info.Store(info)
}
