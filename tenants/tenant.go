package tenants

// Tenant is the directory's view of a customer organisation. The keeper only
// cares whether it still exists.
type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}
