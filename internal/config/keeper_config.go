package config

import "time"

type KeeperConfig interface {
	GetHeartbeatInterval() time.Duration
	GetProbeTimeout() time.Duration
	GetLoginTimeout() time.Duration
	GetCommandTimeout() time.Duration
	GetRestoreMaxAge() time.Duration
	GetDefaultMode() string
	GetLegacyFallback() bool
	GetWarmUpConcurrency() int
	GetLoginRatePerMinute() int
	GetReapInterval() time.Duration
	GetShutdownTimeout() time.Duration
}

type Keeper struct{}

var _ KeeperConfig = Keeper{}

// GetHeartbeatInterval is the scheduler tick. Each target's probe interval decides
// whether a session is due on a given tick.
func (Keeper) GetHeartbeatInterval() time.Duration {
	return GetEnvDuration("HEARTBEAT_INTERVAL", 1*time.Minute)
}

func (Keeper) GetProbeTimeout() time.Duration {
	return GetEnvDuration("PROBE_TIMEOUT", 20*time.Second)
}

// GetLoginTimeout covers the whole login, challenge solving included.
func (Keeper) GetLoginTimeout() time.Duration {
	return GetEnvDuration("LOGIN_TIMEOUT", 3*time.Minute)
}

func (Keeper) GetCommandTimeout() time.Duration {
	return GetEnvDuration("COMMAND_TIMEOUT", 45*time.Second)
}

func (Keeper) GetRestoreMaxAge() time.Duration {
	return GetEnvDuration("RESTORE_MAX_AGE", 12*time.Hour)
}

func (Keeper) GetDefaultMode() string {
	return GetEnv("DEFAULT_MODE", "keeper")
}

func (Keeper) GetLegacyFallback() bool {
	return GetEnvBool("LEGACY_FALLBACK", true)
}

func (Keeper) GetWarmUpConcurrency() int {
	return GetEnvInt("WARMUP_CONCURRENCY", 4)
}

// GetLoginRatePerMinute bounds logins per target; 0 disables the limit.
func (Keeper) GetLoginRatePerMinute() int {
	return GetEnvInt("LOGIN_RATE_PER_MINUTE", 30)
}

func (Keeper) GetReapInterval() time.Duration {
	return GetEnvDuration("REAP_INTERVAL", 7*24*time.Hour) // weekly
}

func (Keeper) GetShutdownTimeout() time.Duration {
	return GetEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
}
