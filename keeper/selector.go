package keeper

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-keeper/commands"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

// Mode decides how a command gets a session.
type Mode string

const (
	// ModeKeeper reuses the registry's long-lived session.
	ModeKeeper Mode = "keeper"
	// ModeLegacy logs in for the one command and logs out afterwards.
	ModeLegacy Mode = "legacy"
)

// ParseMode reads a mode name, falling back to ModeKeeper.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeLegacy)) {
		return ModeLegacy
	}
	return ModeKeeper
}

type runOptions struct {
	mode     Mode
	fallback bool
}

// RunOption adjusts a single Run call.
type RunOption func(*runOptions)

func WithMode(mode Mode) RunOption {
	return func(o *runOptions) {
		if mode != "" {
			o.mode = mode
		}
	}
}

// WithoutFallback disables the legacy retry for this call.
func WithoutFallback() RunOption {
	return func(o *runOptions) {
		o.fallback = false
	}
}

// Outcome is a successful Run.
type Outcome struct {
	Result   *commands.Result `json:"result"`
	Mode     Mode             `json:"mode"`
	FellBack bool             `json:"fell_back"`
}

// Selector is the caller-facing way to run a command.
type Selector struct {
	registry *Registry
	executor *Executor
	cfg      Config
	logger   zerolog.Logger
}

func newSelector(registry *Registry, executor *Executor, cfg Config, logger zerolog.Logger) *Selector {
	return &Selector{registry: registry, executor: executor, cfg: cfg, logger: logger}
}

// Run executes command for tenantID on targetID. In keeper mode a failure that
// a fresh login might fix is retried once in legacy mode when fallback is on;
// the legacy outcome is returned as it is.
func (sel *Selector) Run(ctx context.Context, tenantID, targetID string, command commands.Command, options ...RunOption) (*Outcome, error) {
	opts := runOptions{mode: sel.cfg.DefaultMode, fallback: sel.cfg.LegacyFallback}
	for _, opt := range options {
		opt(&opts)
	}

	key := sessions.NewKey(tenantID, targetID)
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("[Selector.Run] %w", err)
	}
	if _, err := sel.registry.targets.Lookup(key.TargetID); err != nil {
		return nil, fmt.Errorf("[Selector.Run] %w", err)
	}

	if opts.mode == ModeLegacy {
		res, err := sel.runLegacy(ctx, key, command)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: res, Mode: ModeLegacy}, nil
	}

	res, err := sel.runKeeper(ctx, key, command)
	if err == nil {
		return &Outcome{Result: res, Mode: ModeKeeper}, nil
	}
	if !opts.fallback || !canFallBack(ctx, err) {
		return nil, err
	}

	fallbacksTotal.WithLabelValues(key.TargetID).Inc()
	sel.logger.Warn().Err(err).Str("key", key.String()).Str("command", command.Name).Msg("keeper mode failed, retrying in legacy mode")
	res, err = sel.runLegacy(ctx, key, command)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: res, Mode: ModeLegacy, FellBack: true}, nil
}

func canFallBack(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil,
		kerrors.Is(err, context.Canceled),
		kerrors.Is(err, kerrors.ErrCommandRejected),
		kerrors.Is(err, kerrors.ErrCredentialMissing),
		kerrors.Is(err, kerrors.ErrUnknownTarget):
		return false
	}
	return true
}

func (sel *Selector) runKeeper(ctx context.Context, key sessions.Key, command commands.Command) (*commands.Result, error) {
	s, err := sel.registry.GetOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("[Selector.runKeeper] %w", err)
	}
	return sel.executor.Execute(ctx, s, command)
}

// runLegacy uses a throwaway session that is never stored, registered or
// probed by the heartbeat.
func (sel *Selector) runLegacy(ctx context.Context, key sessions.Key, command commands.Command) (*commands.Result, error) {
	target, err := sel.registry.targets.Lookup(key.TargetID)
	if err != nil {
		return nil, fmt.Errorf("[Selector.runLegacy] %w", err)
	}
	s, err := sel.registry.newSession(key, target, nil)
	if err != nil {
		return nil, fmt.Errorf("[Selector.runLegacy] %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sel.cfg.ProbeTimeout)
		defer cancel()
		if err := s.Close(cctx); err != nil {
			sel.logger.Warn().Err(err).Str("key", key.String()).Msg("closing legacy session failed")
		}
	}()

	if err := sel.registry.waitLogin(ctx, key.TargetID); err != nil {
		return nil, fmt.Errorf("[Selector.runLegacy] %s: %w", key, err)
	}
	res, err := sel.executor.execute(ctx, s, command, ModeLegacy)
	if err != nil {
		return nil, fmt.Errorf("[Selector.runLegacy] %w", err)
	}
	return res, nil
}
