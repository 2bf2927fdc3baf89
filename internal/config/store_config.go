package config

const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
	StoreBackendBadger   = "badger"
	StoreBackendRedis    = "redis"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetDatabaseURL() string
	GetBadgerPath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetSealKey() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", StoreBackendMemory)
}

func (Store) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

func (Store) GetBadgerPath() string {
	return GetEnv("BADGER_PATH", "./data/sessions")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

// GetSealKey returns the hex encoded 32 byte key used to seal secrets at rest.
// Empty disables sealing.
func (Store) GetSealKey() string {
	return GetEnv("SEAL_KEY", "")
}
