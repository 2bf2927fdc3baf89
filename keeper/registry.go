package keeper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/targets"
)

// Registry owns the live sessions, at most one per key.
type Registry struct {
	targets     *targets.Registry
	credentials credentials.Repo
	store       sessions.Store
	cfg         Config
	nowTime     func() time.Time
	logger      zerolog.Logger

	lock     sync.RWMutex
	sessions map[sessions.Key]*sessions.Session
	inflight singleflight.Group

	limiterLock sync.Mutex
	limiters    map[string]*rate.Limiter
}

func newRegistry(deps Deps, cfg Config, nowTime func() time.Time, logger zerolog.Logger) *Registry {
	return &Registry{
		targets:     deps.Targets,
		credentials: deps.Credentials,
		store:       deps.Store,
		cfg:         cfg,
		nowTime:     nowTime,
		logger:      logger,
		sessions:    make(map[sessions.Key]*sessions.Session),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// GetOrCreate returns the live session for key. A missing session is restored
// from the store when the target still accepts the persisted material, or
// logged in otherwise. Concurrent callers for the same key share one attempt.
func (r *Registry) GetOrCreate(ctx context.Context, key sessions.Key) (*sessions.Session, error) {
	s, _, err := r.getOrCreate(ctx, key)
	return s, err
}

type openResult struct {
	session  *sessions.Session
	restored bool
}

func (r *Registry) getOrCreate(ctx context.Context, key sessions.Key) (*sessions.Session, bool, error) {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	if err := key.Validate(); err != nil {
		return nil, false, fmt.Errorf("[Registry.GetOrCreate] %w", err)
	}
	if s, ok := r.Lookup(key); ok {
		return s, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("[Registry.GetOrCreate] %s: %w", key, err)
	}
	target, err := r.targets.Lookup(key.TargetID)
	if err != nil {
		return nil, false, fmt.Errorf("[Registry.GetOrCreate] %w", err)
	}

	// The shared attempt must outlive any single caller, so it runs on a
	// context detached from the first caller's cancellation; each caller still
	// stops waiting when its own context ends.
	ch := r.inflight.DoChan(key.String(), func() (any, error) {
		if s, ok := r.Lookup(key); ok {
			return openResult{session: s}, nil
		}
		res, err := r.open(context.WithoutCancel(ctx), key, target)
		if err != nil {
			return nil, err
		}
		r.lock.Lock()
		r.sessions[key] = res.session
		r.lock.Unlock()
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("[Registry.GetOrCreate] %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		or := res.Val.(openResult)
		return or.session, or.restored, nil
	}
}

func (r *Registry) open(ctx context.Context, key sessions.Key, target *targets.Target) (openResult, error) {
	s, err := r.newSession(key, target, r.store)
	if err != nil {
		return openResult{}, err
	}

	if r.store != nil {
		// The open is detached from its callers, so the store gets its own deadline.
		lctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		rec, err := r.store.Load(lctx, key)
		cancel()
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("key", key.String()).Msg("loading persisted session failed")
		case rec != nil && rec.Fresh(r.nowTime(), r.cfg.RestoreMaxAge):
			restored, err := s.Restore(ctx, rec)
			if restored {
				sessionsOpened.WithLabelValues(target.ID, "restored").Inc()
				r.logger.Info().Str("key", key.String()).Msg("session restored")
				return openResult{session: s, restored: true}, nil
			}
			r.logger.Info().Err(err).Str("key", key.String()).Msg("persisted session no longer accepted")
		case rec != nil:
			r.logger.Debug().Str("key", key.String()).Msg("persisted session too old to restore")
		}
	}

	if err := r.waitLogin(ctx, target.ID); err != nil {
		return openResult{}, fmt.Errorf("[Registry.open] %s: %w", key, err)
	}
	if err := s.EnsureActive(ctx); err != nil {
		sessionOpenFailures.WithLabelValues(target.ID).Inc()
		return openResult{}, err
	}
	sessionsOpened.WithLabelValues(target.ID, "login").Inc()
	return openResult{session: s}, nil
}

// newSession builds an unregistered session for target. store may be nil.
func (r *Registry) newSession(key sessions.Key, target *targets.Target, store sessions.Store) (*sessions.Session, error) {
	return sessions.New(key,
		sessions.Deps{Provider: target.Provider, Credentials: r.credentials, Store: store},
		sessions.WithNowTime(r.nowTime),
		sessions.WithLogger(r.logger),
		sessions.WithLoginTimeout(r.cfg.LoginTimeout),
		sessions.WithProbeTimeout(r.cfg.ProbeTimeout),
		sessions.WithStaleAfter(2*target.ProbeInterval),
	)
}

// waitLogin blocks until the target's login rate allows another login.
func (r *Registry) waitLogin(ctx context.Context, targetID string) error {
	if r.cfg.LoginRatePerMinute <= 0 {
		return nil
	}
	r.limiterLock.Lock()
	l, ok := r.limiters[targetID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.cfg.LoginRatePerMinute)), r.cfg.LoginRatePerMinute)
		r.limiters[targetID] = l
	}
	r.limiterLock.Unlock()
	return l.Wait(ctx)
}

func (r *Registry) Lookup(key sessions.Key) (*sessions.Session, bool) {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	r.lock.RLock()
	defer r.lock.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// ListLive returns a snapshot of every registered session, ordered by key.
func (r *Registry) ListLive() []sessions.Info {
	live := r.snapshot()
	infos := make([]sessions.Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.Info())
	}
	return infos
}

func (r *Registry) snapshot() []*sessions.Session {
	r.lock.RLock()
	live := make([]*sessions.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.lock.RUnlock()
	sort.Slice(live, func(i, j int) bool {
		return live[i].Key().String() < live[j].Key().String()
	})
	return live
}

// Remove drops the session from memory without touching the target or the store.
func (r *Registry) Remove(_ context.Context, key sessions.Key) bool {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.sessions[key]
	delete(r.sessions, key)
	return ok
}

// Disconnect logs the session out, deletes its record and forgets it. It is
// what a tenant asking to stop being kept logged in triggers.
func (r *Registry) Disconnect(ctx context.Context, key sessions.Key) error {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	s, ok := r.Lookup(key)
	if !ok {
		if r.store != nil {
			if err := r.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("[Registry.Disconnect] %w", err)
			}
		}
		return kerrors.Wrapf(kerrors.ErrNotFound, "[Registry.Disconnect] %s", key)
	}
	r.Remove(ctx, key)
	if err := s.Close(ctx); err != nil {
		return fmt.Errorf("[Registry.Disconnect] %w", err)
	}
	r.logger.Info().Str("key", key.String()).Msg("session disconnected")
	return nil
}

// Retire fails the session for good and forgets it.
func (r *Registry) Retire(ctx context.Context, key sessions.Key, cause error) error {
	key = sessions.NewKey(key.TenantID, key.TargetID)
	s, ok := r.Lookup(key)
	if !ok {
		return nil
	}
	r.Remove(ctx, key)
	if err := s.Retire(ctx, cause); err != nil {
		return fmt.Errorf("[Registry.Retire] %w", err)
	}
	return nil
}

// WarmUpReport summarises a WarmUp run.
type WarmUpReport struct {
	TargetID string            `json:"target_id"`
	Restored int               `json:"restored"`
	LoggedIn int               `json:"logged_in"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// WarmUp opens a session for every tenant holding a credential for targetID.
// Individual failures are reported, not returned.
func (r *Registry) WarmUp(ctx context.Context, targetID string) (*WarmUpReport, error) {
	target, err := r.targets.Lookup(targetID)
	if err != nil {
		return nil, fmt.Errorf("[Registry.WarmUp] %w", err)
	}
	creds, err := r.credentials.ListAll(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("[Registry.WarmUp] list credentials: %w", err)
	}

	var (
		restored, loggedIn atomic.Int64
		failedLock         sync.Mutex
		failed             = make(map[string]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.WarmUpConcurrency)
	for _, c := range creds {
		key := sessions.NewKey(c.TenantID, target.ID)
		g.Go(func() error {
			if _, ok := r.Lookup(key); ok {
				return nil
			}
			_, wasRestored, err := r.getOrCreate(gctx, key)
			switch {
			case err != nil:
				failedLock.Lock()
				failed[key.TenantID] = err.Error()
				failedLock.Unlock()
			case wasRestored:
				restored.Add(1)
			default:
				loggedIn.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &WarmUpReport{
		TargetID: target.ID,
		Restored: int(restored.Load()),
		LoggedIn: int(loggedIn.Load()),
	}
	if len(failed) > 0 {
		report.Failed = failed
	}
	r.logger.Info().
		Str("target", target.ID).
		Int("restored", report.Restored).
		Int("logged_in", report.LoggedIn).
		Int("failed", len(failed)).
		Msg("warm-up finished")
	return report, ctx.Err()
}
