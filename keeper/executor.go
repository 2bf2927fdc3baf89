package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/commands"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/targets"
)

// Executor runs commands over a session, re-logging in once when the target
// says the session is gone.
type Executor struct {
	targets *targets.Registry
	timeout time.Duration
	nowTime func() time.Time
	logger  zerolog.Logger
	// onExpired is told about sessions left EXPIRED by a failed retry.
	onExpired func(key sessions.Key, cause error)
}

func newExecutor(registry *targets.Registry, cfg Config, nowTime func() time.Time, logger zerolog.Logger, onExpired func(sessions.Key, error)) *Executor {
	return &Executor{
		targets:   registry,
		timeout:   cfg.CommandTimeout,
		nowTime:   nowTime,
		logger:    logger,
		onExpired: onExpired,
	}
}

// Execute runs command on s, holding the session guard for the whole sequence
// so a concurrent probe or command never sees half-refreshed material.
func (e *Executor) Execute(ctx context.Context, s *sessions.Session, command commands.Command) (*commands.Result, error) {
	return e.execute(ctx, s, command, ModeKeeper)
}

func (e *Executor) execute(ctx context.Context, s *sessions.Session, command commands.Command, mode Mode) (*commands.Result, error) {
	key := s.Key()
	target, err := e.targets.Lookup(key.TargetID)
	if err != nil {
		return nil, fmt.Errorf("[Executor.Execute] %w", err)
	}

	start := e.nowTime()
	var (
		result     *commands.Result
		rejectedBy error
	)
	err = s.Guarded(ctx, func(g *sessions.Guard) error {
		if err := g.EnsureActive(ctx); err != nil {
			return err
		}
		res, err := e.send(ctx, target, g.Material(), command)
		if kerrors.Is(err, kerrors.ErrNotAuthenticated) {
			e.logger.Info().Err(err).Str("key", key.String()).Str("command", command.Name).Msg("target rejected session, logging in again")
			g.MarkExpired("command not authenticated")
			if err := g.EnsureActive(ctx); err != nil {
				return err
			}
			res, err = e.send(ctx, target, g.Material(), command)
			if kerrors.Is(err, kerrors.ErrNotAuthenticated) {
				g.MarkExpired("command not authenticated after re-login")
				rejectedBy = err
				return &kerrors.SessionFailedError{Key: key.String(), Attempts: 2, Cause: err}
			}
		}
		if err != nil {
			return err
		}
		g.Touch()
		result = res
		return nil
	})

	commandDuration.WithLabelValues(key.TargetID, string(mode)).Observe(e.nowTime().Sub(start).Seconds())
	switch {
	case err == nil:
		commandsTotal.WithLabelValues(key.TargetID, string(mode), resultOK).Inc()
		return result, nil
	case kerrors.Is(err, kerrors.ErrCommandRejected):
		commandsTotal.WithLabelValues(key.TargetID, string(mode), resultRejected).Inc()
		return nil, err
	}
	commandsTotal.WithLabelValues(key.TargetID, string(mode), resultError).Inc()
	if rejectedBy != nil && e.onExpired != nil && mode == ModeKeeper {
		e.onExpired(key, rejectedBy)
	}
	return nil, fmt.Errorf("[Executor.Execute] %s %s: %w", key, command.Name, err)
}

func (e *Executor) send(ctx context.Context, target *targets.Target, material *auth.Material, command commands.Command) (*commands.Result, error) {
	if material == nil {
		return nil, kerrors.Wrapf(kerrors.ErrNotAuthenticated, "no live material")
	}
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return target.Sender.Send(sctx, material, command)
}
