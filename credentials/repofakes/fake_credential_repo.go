package credentialrepofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-session-keeper/credentials"
)

var _ credentials.Repo = (*FakeCredentialRepo)(nil)

type credentialKey struct {
	tenantID string
	targetID string
}

type FakeCredentialRepo struct {
	credentials map[credentialKey]*credentials.Credential
	lock        sync.RWMutex

	// GetErr, when set, is returned by Get.
	GetErr error
}

func NewFakeCredentialRepo(creds ...*credentials.Credential) *FakeCredentialRepo {
	r := &FakeCredentialRepo{
		credentials: make(map[credentialKey]*credentials.Credential),
	}
	for _, c := range creds {
		_ = r.Upsert(context.Background(), c)
	}
	return r
}

func (r *FakeCredentialRepo) Get(_ context.Context, tenantID, targetID string) (*credentials.Credential, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	c, ok := r.credentials[credentialKey{tenantID, targetID}]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *FakeCredentialRepo) ListAll(_ context.Context, targetID string) ([]*credentials.Credential, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	creds := make([]*credentials.Credential, 0)
	for k, c := range r.credentials {
		if k.targetID == targetID {
			copied := *c
			creds = append(creds, &copied)
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].TenantID < creds[j].TenantID
	})
	return creds, nil
}

func (r *FakeCredentialRepo) Upsert(_ context.Context, credential *credentials.Credential) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := *credential
	r.credentials[credentialKey{credential.TenantID, credential.TargetID}] = &copied
	return nil
}

func (r *FakeCredentialRepo) Delete(_ context.Context, tenantID, targetID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.credentials, credentialKey{tenantID, targetID})
	return nil
}

// Len returns the number of stored credentials.
func (r *FakeCredentialRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.credentials)
}
