package keeper

import (
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/recovery"
)

// Config holds the keeper's tunables.
type Config struct {
	HeartbeatInterval  time.Duration
	ProbeTimeout       time.Duration
	LoginTimeout       time.Duration
	CommandTimeout     time.Duration
	RestoreMaxAge      time.Duration
	DefaultMode        Mode
	LegacyFallback     bool
	WarmUpConcurrency  int
	LoginRatePerMinute int
	ReapInterval       time.Duration
	FailureLogSize     int
	Recovery           recovery.Policy
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  time.Minute,
		ProbeTimeout:       20 * time.Second,
		LoginTimeout:       3 * time.Minute,
		CommandTimeout:     45 * time.Second,
		RestoreMaxAge:      12 * time.Hour,
		DefaultMode:        ModeKeeper,
		LegacyFallback:     true,
		WarmUpConcurrency:  4,
		LoginRatePerMinute: 30,
		ReapInterval:       7 * 24 * time.Hour,
		FailureLogSize:     100,
		Recovery:           recovery.DefaultPolicy(),
	}
}

// ConfigFrom reads the keeper settings from the environment backed config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		HeartbeatInterval:  cfg.GetHeartbeatInterval(),
		ProbeTimeout:       cfg.GetProbeTimeout(),
		LoginTimeout:       cfg.GetLoginTimeout(),
		CommandTimeout:     cfg.GetCommandTimeout(),
		RestoreMaxAge:      cfg.GetRestoreMaxAge(),
		DefaultMode:        ParseMode(cfg.GetDefaultMode()),
		LegacyFallback:     cfg.GetLegacyFallback(),
		WarmUpConcurrency:  cfg.GetWarmUpConcurrency(),
		LoginRatePerMinute: cfg.GetLoginRatePerMinute(),
		ReapInterval:       cfg.GetReapInterval(),
		FailureLogSize:     cfg.GetFailureLogSize(),
		Recovery: recovery.Policy{
			BaseDelay:   cfg.GetRecoveryBaseDelay(),
			MaxDelay:    cfg.GetRecoveryMaxDelay(),
			MaxAttempts: cfg.GetRecoveryMaxAttempts(),
		}.WithDefaults(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.DefaultMode == "" {
		c.DefaultMode = d.DefaultMode
	}
	if c.WarmUpConcurrency <= 0 {
		c.WarmUpConcurrency = d.WarmUpConcurrency
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.FailureLogSize <= 0 {
		c.FailureLogSize = d.FailureLogSize
	}
	c.Recovery = c.Recovery.WithDefaults()
	return c
}
