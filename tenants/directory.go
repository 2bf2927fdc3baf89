package tenants

import "context"

// Directory answers whether a tenant still exists. It is the source of truth the
// ghost reaper uses before deleting anything; an error means "unknown", never
// "absent".
type Directory interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
}
