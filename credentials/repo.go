package credentials

import "context"

// Repo is the credential store. Get returns nil, nil when no credential is on file.
type Repo interface {
	Get(ctx context.Context, tenantID, targetID string) (*Credential, error)
	ListAll(ctx context.Context, targetID string) ([]*Credential, error)
	Upsert(ctx context.Context, credential *Credential) error
	Delete(ctx context.Context, tenantID, targetID string) error
}
