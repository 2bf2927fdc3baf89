package credentials

import "time"

// Credential is the secret material a tenant holds for one target. It is owned by
// the credential store; sessions read it only while logging in.
type Credential struct {
	TenantID  string    `json:"tenant_id"`
	TargetID  string    `json:"target_id"`
	Username  string    `json:"username"`
	Secret    string    `json:"-"` // never serialize
	UpdatedAt time.Time `json:"updated_at"`
}

// Redacted returns a copy safe to log.
func (c Credential) Redacted() Credential {
	if c.Secret != "" {
		c.Secret = "***"
	}
	return c
}
