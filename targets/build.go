package targets

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/captcha"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/recovery"
	"github.com/jrsteele09/go-session-keeper/targets/oauthapi"
	"github.com/jrsteele09/go-session-keeper/targets/panel"
	"github.com/jrsteele09/go-session-keeper/targets/wschannel"
)

// BuildDeps are shared by every adapter built from the targets file.
type BuildDeps struct {
	Solver     captcha.Solver
	HTTPClient *http.Client
	// Logger defaults to the global logger when nil.
	Logger *zerolog.Logger
}

// Build turns a declared target into a bound Target.
func Build(spec config.TargetSpec, deps BuildDeps) (*Target, error) {
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("target", spec.ID).Logger()

	t := &Target{
		ID:            spec.ID,
		Type:          spec.Type,
		ProbeInterval: spec.ProbeInterval,
		WarmUp:        spec.WarmUp,
	}
	if spec.Recovery != nil {
		p := recovery.Policy{
			BaseDelay:   spec.Recovery.BaseDelay,
			MaxDelay:    spec.Recovery.MaxDelay,
			MaxAttempts: spec.Recovery.MaxAttempts,
		}.WithDefaults()
		t.Recovery = &p
	}

	switch spec.Type {
	case config.TargetTypePanel:
		var settings panel.Settings
		if err := spec.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		opts := []panel.Option{panel.WithLogger(logger)}
		if deps.HTTPClient != nil {
			opts = append(opts, panel.WithHTTPClient(deps.HTTPClient))
		}
		p, err := panel.New(settings, deps.Solver, opts...)
		if err != nil {
			return nil, fmt.Errorf("[targets.Build] %s: %w", spec.ID, err)
		}
		t.Provider, t.Sender = p, p
		if t.ProbeInterval <= 0 {
			t.ProbeInterval = DefaultPanelProbeInterval
		}

	case config.TargetTypeOAuthAPI:
		var settings oauthapi.Settings
		if err := spec.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		opts := []oauthapi.Option{oauthapi.WithLogger(logger)}
		if deps.HTTPClient != nil {
			opts = append(opts, oauthapi.WithHTTPClient(deps.HTTPClient))
		}
		a, err := oauthapi.New(settings, opts...)
		if err != nil {
			return nil, fmt.Errorf("[targets.Build] %s: %w", spec.ID, err)
		}
		t.Provider, t.Sender = a, a
		if t.ProbeInterval <= 0 {
			t.ProbeInterval = DefaultAPIProbeInterval
		}

	case config.TargetTypeWSChannel:
		var settings wschannel.Settings
		if err := spec.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		c, err := wschannel.New(settings, wschannel.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("[targets.Build] %s: %w", spec.ID, err)
		}
		t.Provider, t.Sender = c, c
		if t.ProbeInterval <= 0 {
			t.ProbeInterval = DefaultChannelProbeInterval
		}

	default:
		return nil, fmt.Errorf("[targets.Build] %s: unknown type %q", spec.ID, spec.Type)
	}
	return t, nil
}

// BuildAll builds every declared target into a Registry.
func BuildAll(specs []config.TargetSpec, deps BuildDeps) (*Registry, error) {
	r, _ := NewRegistry()
	for _, spec := range specs {
		t, err := Build(spec, deps)
		if err != nil {
			return nil, err
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
