package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/captcha"
	credentialspg "github.com/jrsteele09/go-session-keeper/credentials/postgres"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/internal/database/migrate"
	"github.com/jrsteele09/go-session-keeper/internal/sealer"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/sessions"
	"github.com/jrsteele09/go-session-keeper/sessions/badgerstore"
	"github.com/jrsteele09/go-session-keeper/sessions/memory"
	sessionspg "github.com/jrsteele09/go-session-keeper/sessions/postgres"
	"github.com/jrsteele09/go-session-keeper/sessions/redisstore"
	"github.com/jrsteele09/go-session-keeper/targets"
	"github.com/jrsteele09/go-session-keeper/tenants/httpdirectory"
)

// app owns everything newApp opened.
type app struct {
	keeper  *keeper.Keeper
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func openDB(ctx context.Context, c config.Config) (*sql.DB, error) {
	url := c.GetDatabaseURL()
	if url == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sl, err := sealer.New(c.GetSealKey())
	if err != nil {
		return nil, err
	}
	if sl == nil {
		log.Warn().Msg("SEAL_KEY not set, secrets and session records are stored unsealed")
	}

	db, err := openDB(ctx, c)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := migrate.Run(db); err != nil {
		return nil, err
	}

	store, err := newStore(ctx, c, db, sl, a)
	if err != nil {
		return nil, err
	}

	var solver captcha.Solver
	if url := c.GetCaptchaURL(); url != "" {
		solver = captcha.NewClient(url, c.GetCaptchaKey(),
			captcha.WithPollInterval(c.GetCaptchaPollInterval()),
			captcha.WithTimeout(c.GetCaptchaTimeout()),
		)
	}

	specs, err := config.LoadTargets(c.GetTargetsFile())
	if err != nil {
		return nil, err
	}
	registry, err := targets.BuildAll(specs, targets.BuildDeps{Solver: solver})
	if err != nil {
		return nil, err
	}
	for _, t := range registry.All() {
		if closer, isCloser := t.Provider.(interface{ Close() error }); isCloser {
			a.closers = append(a.closers, closer.Close)
		}
	}

	deps := keeper.Deps{
		Targets:     registry,
		Credentials: credentialspg.New(db, sl),
		Store:       store,
	}
	if url := c.GetTenantDirectoryURL(); url != "" {
		deps.Directory = httpdirectory.New(url, httpdirectory.WithToken(c.GetTenantDirectoryToken()))
	} else {
		log.Warn().Msg("TENANT_DIRECTORY_URL not set, ghost reaping is disabled")
	}

	k, err := keeper.New(keeper.ConfigFrom(c), deps)
	if err != nil {
		return nil, err
	}
	a.keeper = k
	ok = true
	return a, nil
}

func newStore(ctx context.Context, c config.Config, db *sql.DB, sl *sealer.Sealer, a *app) (sessions.Store, error) {
	switch backend := c.GetStoreBackend(); backend {
	case config.StoreBackendMemory:
		return memory.New(), nil
	case config.StoreBackendPostgres:
		return sessionspg.New(db, sl), nil
	case config.StoreBackendBadger:
		s, err := badgerstore.Open(badgerstore.DefaultConfig(c.GetBadgerPath()), sl)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client,
			redisstore.WithSealer(sl),
			redisstore.WithTTL(c.GetRestoreMaxAge()),
		), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
}
