// Package redisstore persists session records in Redis so that several keeper
// replicas can share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/internal/sealer"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

const defaultPrefix = "keeper:session:"

// Store implements sessions.Store on Redis. Records are written with a TTL so a
// record nobody refreshes disappears on its own.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	sealer *sealer.Sealer
}

type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL sets the expiry applied on every save. Zero keeps records forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func WithSealer(sl *sealer.Sealer) Option {
	return func(s *Store) {
		s.sealer = sl
	}
}

func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		redis:  client,
		prefix: defaultPrefix,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) buildKey(key sessions.Key) string {
	return s.prefix + key.String()
}

func (s *Store) Save(ctx context.Context, key sessions.Key, rec *sessions.Record) error {
	data, err := sessions.EncodeRecord(rec, s.sealer)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.buildKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("[redisstore.Save] %s: %w", key, err)
	}
	return nil
}

// Load returns nil, nil when no record exists.
func (s *Store) Load(ctx context.Context, key sessions.Key) (*sessions.Record, error) {
	data, err := s.redis.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[redisstore.Load] %s: %w", key, err)
	}
	return sessions.DecodeRecord(data, s.sealer)
}

func (s *Store) Delete(ctx context.Context, key sessions.Key) error {
	if err := s.redis.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("[redisstore.Delete] %s: %w", key, err)
	}
	return nil
}

// List scans the keyspace for the store's prefix.
func (s *Store) List(ctx context.Context) ([]sessions.Key, error) {
	var keys []sessions.Key
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		k, err := s.parseKey(iter.Val())
		if err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("skipping malformed session key")
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("[redisstore.List] %w", err)
	}
	return keys, nil
}

func (s *Store) parseKey(raw string) (sessions.Key, error) {
	if !strings.HasPrefix(raw, s.prefix) {
		return sessions.Key{}, fmt.Errorf("key %q lacks prefix %q", raw, s.prefix)
	}
	return sessions.ParseKey(strings.TrimPrefix(raw, s.prefix))
}

var _ sessions.Store = (*Store)(nil)
