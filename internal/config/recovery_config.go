package config

import "time"

type RecoveryConfig interface {
	GetRecoveryBaseDelay() time.Duration
	GetRecoveryMaxDelay() time.Duration
	GetRecoveryMaxAttempts() int
}

type Recovery struct{}

var _ RecoveryConfig = Recovery{}

func (Recovery) GetRecoveryBaseDelay() time.Duration {
	return GetEnvDuration("RECOVERY_BASE_DELAY", 10*time.Second)
}

func (Recovery) GetRecoveryMaxDelay() time.Duration {
	return GetEnvDuration("RECOVERY_MAX_DELAY", 5*time.Minute)
}

func (Recovery) GetRecoveryMaxAttempts() int {
	return GetEnvInt("RECOVERY_MAX_ATTEMPTS", 5)
}
