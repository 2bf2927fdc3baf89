package sessions

import "context"

// Store persists session records keyed by (tenant, target).
// Load returns nil, nil when no record exists.
type Store interface {
	Save(ctx context.Context, key Key, record *Record) error
	Load(ctx context.Context, key Key) (*Record, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context) ([]Key, error)
}
