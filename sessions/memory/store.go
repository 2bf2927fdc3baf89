// Package memory provides an in-process session store. Records do not survive a
// restart; it is the store used when no persistence backend is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-session-keeper/sessions"
)

var _ sessions.Store = (*Store)(nil)

type Store struct {
	records map[sessions.Key]*sessions.Record
	lock    sync.RWMutex
}

func New() *Store {
	return &Store{
		records: make(map[sessions.Key]*sessions.Record),
	}
}

func (s *Store) Save(_ context.Context, key sessions.Key, record *sessions.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.records[key] = record.Clone()
	return nil
}

func (s *Store) Load(_ context.Context, key sessions.Key) (*sessions.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *Store) Delete(_ context.Context, key sessions.Key) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.records, key)
	return nil
}

func (s *Store) List(_ context.Context) ([]sessions.Key, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := make([]sessions.Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}
