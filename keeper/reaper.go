package keeper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/tenants"
)

// ReapReport summarises a Reap run.
type ReapReport struct {
	StartedAt          time.Time `json:"started_at"`
	TenantsChecked     int       `json:"tenants_checked"`
	TenantsReaped      []string  `json:"tenants_reaped,omitempty"`
	TenantsUnknown     []string  `json:"tenants_unknown,omitempty"`
	RecordsDeleted     int       `json:"records_deleted"`
	CredentialsDeleted int       `json:"credentials_deleted"`
	SessionsRemoved    int       `json:"sessions_removed"`
}

// Reaper deletes sessions and credentials of tenants the directory no longer
// knows about.
type Reaper struct {
	registry    *Registry
	store       sessions.Store
	credentials credentials.Repo
	directory   tenants.Directory
	interval    time.Duration
	timeout     time.Duration
	nowTime     func() time.Time
	logger      zerolog.Logger

	lock   sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func newReaper(registry *Registry, deps Deps, cfg Config, nowTime func() time.Time, logger zerolog.Logger) *Reaper {
	return &Reaper{
		registry:    registry,
		store:       deps.Store,
		credentials: deps.Credentials,
		directory:   deps.Directory,
		interval:    cfg.ReapInterval,
		timeout:     cfg.ProbeTimeout,
		nowTime:     nowTime,
		logger:      logger,
	}
}

// Reap runs one pass. A tenant the directory cannot answer for is left alone.
func (r *Reaper) Reap(ctx context.Context) (*ReapReport, error) {
	report := &ReapReport{StartedAt: r.nowTime()}
	if r.directory == nil {
		return report, nil
	}

	owned, err := r.collect(ctx)
	if err != nil {
		return nil, err
	}
	tenantIDs := make([]string, 0, len(owned))
	for id := range owned {
		tenantIDs = append(tenantIDs, id)
	}
	sort.Strings(tenantIDs)

	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.TenantsChecked++
		exists, err := r.directory.Exists(ctx, tenantID)
		if err != nil {
			r.logger.Warn().Err(err).Str("tenant", tenantID).Msg("tenant directory unavailable, keeping tenant")
			report.TenantsUnknown = append(report.TenantsUnknown, tenantID)
			continue
		}
		if exists {
			continue
		}
		r.reapTenant(ctx, tenantID, owned[tenantID], report)
		report.TenantsReaped = append(report.TenantsReaped, tenantID)
		reapedTotal.Inc()
	}

	r.logger.Info().
		Int("checked", report.TenantsChecked).
		Int("reaped", len(report.TenantsReaped)).
		Int("unknown", len(report.TenantsUnknown)).
		Msg("reap finished")
	return report, nil
}

type tenantKeys struct {
	records     map[sessions.Key]struct{}
	credentials map[sessions.Key]struct{}
	live        map[sessions.Key]struct{}
}

func (r *Reaper) collect(ctx context.Context) (map[string]*tenantKeys, error) {
	owned := make(map[string]*tenantKeys)
	entry := func(tenantID string) *tenantKeys {
		tk, ok := owned[tenantID]
		if !ok {
			tk = &tenantKeys{
				records:     make(map[sessions.Key]struct{}),
				credentials: make(map[sessions.Key]struct{}),
				live:        make(map[sessions.Key]struct{}),
			}
			owned[tenantID] = tk
		}
		return tk
	}

	if r.store != nil {
		keys, err := r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("[Reaper.Reap] list records: %w", err)
		}
		for _, key := range keys {
			entry(key.TenantID).records[key] = struct{}{}
		}
	}
	for _, target := range r.registry.targets.All() {
		creds, err := r.credentials.ListAll(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("[Reaper.Reap] list credentials for %s: %w", target.ID, err)
		}
		for _, c := range creds {
			entry(c.TenantID).credentials[sessions.NewKey(c.TenantID, target.ID)] = struct{}{}
		}
	}
	for _, info := range r.registry.ListLive() {
		entry(info.Key.TenantID).live[info.Key] = struct{}{}
	}
	return owned, nil
}

func (r *Reaper) reapTenant(ctx context.Context, tenantID string, keys *tenantKeys, report *ReapReport) {
	logger := r.logger.With().Str("tenant", tenantID).Logger()
	for key := range keys.live {
		if s, ok := r.registry.Lookup(key); ok && r.registry.Remove(ctx, key) {
			report.SessionsRemoved++
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			if err := s.Close(cctx); err != nil {
				logger.Warn().Err(err).Str("key", key.String()).Msg("closing reaped session failed")
			}
			cancel()
		}
	}
	for key := range keys.records {
		if err := r.store.Delete(ctx, key); err != nil {
			logger.Warn().Err(err).Str("key", key.String()).Msg("deleting session record failed")
			continue
		}
		report.RecordsDeleted++
	}
	for key := range keys.credentials {
		if err := r.credentials.Delete(ctx, key.TenantID, key.TargetID); err != nil {
			logger.Warn().Err(err).Str("key", key.String()).Msg("deleting credential failed")
			continue
		}
		report.CredentialsDeleted++
	}
	logger.Info().Msg("tenant reaped")
}

// Start runs Reap every interval until Stop is called or ctx ends.
func (r *Reaper) Start(ctx context.Context) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop(ctx, r.stopCh, r.doneCh)
}

func (r *Reaper) Stop() {
	r.lock.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stopCh, r.doneCh = nil, nil
	r.lock.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (r *Reaper) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reap failed")
			}
		}
	}
}
