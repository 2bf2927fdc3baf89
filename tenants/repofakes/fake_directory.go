package tenantrepofakes

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/tenants"
)

var _ tenants.Directory = (*FakeDirectory)(nil)

type FakeDirectory struct {
	tenants map[string]*tenants.Tenant
	lock    sync.RWMutex

	// Err, when set, is returned by every Exists call.
	Err error
}

func NewFakeDirectory(ids ...string) *FakeDirectory {
	d := &FakeDirectory{
		tenants: make(map[string]*tenants.Tenant),
	}
	for _, id := range ids {
		d.Upsert(&tenants.Tenant{ID: id})
	}
	return d
}

func (d *FakeDirectory) Upsert(tenant *tenants.Tenant) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	d.tenants[tenant.ID] = tenant
}

func (d *FakeDirectory) Delete(tenantID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.tenants, tenantID)
}

func (d *FakeDirectory) SetErr(err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Err = err
}

func (d *FakeDirectory) Exists(_ context.Context, tenantID string) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if d.Err != nil {
		return false, d.Err
	}
	_, ok := d.tenants[tenantID]
	return ok, nil
}
