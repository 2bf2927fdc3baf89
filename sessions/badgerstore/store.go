// Package badgerstore persists session records in an embedded BadgerDB, for
// single-node deployments that want restarts to reuse sessions without running
// a database server.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/internal/sealer"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

const keyPrefix = "session/"

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store implements sessions.Store on BadgerDB.
type Store struct {
	db     *badger.DB
	sealer *sealer.Sealer
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens (creating if needed) the database described by cfg. The caller
// must Close the store.
func Open(cfg Config, s *sealer.Sealer) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("[badgerstore.Open] path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("[badgerstore.Open] create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: log.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("[badgerstore.Open] open database: %w", err)
	}

	store := &Store{db: db, sealer: s}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		store.stopCh = make(chan struct{})
		store.doneCh = make(chan struct{})
		go store.runGC(cfg.GCInterval)
	}
	return store, nil
}

func (s *Store) Save(_ context.Context, key sessions.Key, rec *sessions.Record) error {
	data, err := sessions.EncodeRecord(rec, s.sealer)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("[badgerstore.Save] %s: %w", key, err)
	}
	return nil
}

// Load returns nil, nil when no record exists.
func (s *Store) Load(_ context.Context, key sessions.Key) (*sessions.Record, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[badgerstore.Load] %s: %w", key, err)
	}
	return sessions.DecodeRecord(data, s.sealer)
}

func (s *Store) Delete(_ context.Context, key sessions.Key) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
	})
	if err != nil {
		return fmt.Errorf("[badgerstore.Delete] %s: %w", key, err)
	}
	return nil
}

// List returns every persisted key in key order.
func (s *Store) List(_ context.Context) ([]sessions.Key, error) {
	var keys []sessions.Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			k, err := sessions.ParseKey(raw)
			if err != nil {
				log.Warn().Err(err).Str("key", raw).Msg("skipping malformed session key")
				continue
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("[badgerstore.List] %w", err)
	}
	return keys, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
		s.stopCh = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				// RunValueLogGC returns ErrNoRewrite once nothing is left to collect.
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func recordKey(key sessions.Key) []byte {
	return []byte(keyPrefix + key.String())
}

// badgerLogger routes badger's logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(strings.TrimSpace(format), args...)
}

var _ sessions.Store = (*Store)(nil)
