package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-session-keeper/sessions"
)

// Heartbeat probes sessions that are due and hands dead ones to Recovery.
type Heartbeat struct {
	registry *Registry
	recovery *Recovery
	interval time.Duration
	timeout  time.Duration
	nowTime  func() time.Time
	logger   zerolog.Logger

	lock   sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func newHeartbeat(registry *Registry, rec *Recovery, cfg Config, nowTime func() time.Time, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		registry: registry,
		recovery: rec,
		interval: cfg.HeartbeatInterval,
		timeout:  cfg.ProbeTimeout,
		nowTime:  nowTime,
		logger:   logger,
	}
}

// Start runs Tick every interval until Stop is called or ctx ends.
func (h *Heartbeat) Start(ctx context.Context) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.stopCh != nil {
		return
	}
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.loop(ctx, h.stopCh, h.doneCh)
}

func (h *Heartbeat) Stop() {
	h.lock.Lock()
	stopCh, doneCh := h.stopCh, h.doneCh
	h.stopCh, h.doneCh = nil, nil
	h.lock.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (h *Heartbeat) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat pass. Due sessions are probed concurrently and each
// probe is bounded, so a slow target only delays its own sessions.
func (h *Heartbeat) Tick(ctx context.Context) {
	now := h.nowTime()
	counts := make(map[string]map[sessions.State]int)

	var g errgroup.Group
	for _, s := range h.registry.snapshot() {
		info := s.Info()
		key := info.Key
		if counts[key.TargetID] == nil {
			counts[key.TargetID] = make(map[sessions.State]int)
		}
		counts[key.TargetID][info.State]++

		switch {
		case info.Retired:
		case info.State == sessions.StateExpired, info.State == sessions.StateFailed:
			h.recovery.Trigger(key, info.Err())
		case info.State == sessions.StateActive && h.due(info, now):
			g.Go(func() error {
				h.probe(ctx, s)
				return nil
			})
		}
	}
	_ = g.Wait()

	liveSessions.Reset()
	for target, states := range counts {
		for state, n := range states {
			liveSessions.WithLabelValues(target, string(state)).Set(float64(n))
		}
	}
}

func (h *Heartbeat) due(info sessions.Info, now time.Time) bool {
	target, err := h.registry.targets.Lookup(info.Key.TargetID)
	if err != nil {
		return false
	}
	return now.Sub(info.LastProbeAt) >= target.ProbeInterval
}

func (h *Heartbeat) probe(ctx context.Context, s *sessions.Session) {
	key := s.Key()
	// Waiting for a busy guard counts against the probe as well.
	pctx, cancel := context.WithTimeout(ctx, h.timeout+h.interval)
	defer cancel()

	alive, err := s.Probe(pctx)
	if alive {
		probesTotal.WithLabelValues(key.TargetID, resultAlive).Inc()
		return
	}
	probesTotal.WithLabelValues(key.TargetID, resultDead).Inc()
	if ctx.Err() != nil {
		return
	}
	if s.Info().State == sessions.StateExpired {
		h.logger.Info().Err(err).Str("key", key.String()).Msg("heartbeat found session expired")
		h.recovery.Trigger(key, err)
	}
}
