package sessions

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Key identifies a session: one tenant against one target.
type Key struct {
	TenantID string `json:"tenant_id"`
	TargetID string `json:"target_id"`
}

// NewKey builds a Key with the target normalised so that aliases of the same
// address map to the same session.
func NewKey(tenantID, targetID string) Key {
	return Key{
		TenantID: strings.TrimSpace(tenantID),
		TargetID: NormalizeTarget(targetID),
	}
}

// NormalizeTarget lower-cases the target, drops trailing slashes and, for URLs,
// default ports and fragments.
func NormalizeTarget(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	if strings.Contains(t, "://") {
		if u, err := url.Parse(t); err == nil && u.Host != "" {
			host, port := u.Hostname(), u.Port()
			if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
				port = ""
			}
			if port != "" {
				host = net.JoinHostPort(host, port)
			} else if strings.Contains(host, ":") {
				host = "[" + host + "]"
			}
			u.Host = host
			u.Fragment = ""
			t = u.String()
		}
	}
	return strings.TrimRight(t, "/")
}

func (k Key) String() string {
	return url.PathEscape(k.TenantID) + "/" + url.PathEscape(k.TargetID)
}

func (k Key) Validate() error {
	if k.TenantID == "" {
		return fmt.Errorf("[Key.Validate] tenant id is required")
	}
	if k.TargetID == "" {
		return fmt.Errorf("[Key.Validate] target id is required")
	}
	return nil
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	tenant, target, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("[ParseKey] malformed key %q", s)
	}
	t, err := url.PathUnescape(tenant)
	if err != nil {
		return Key{}, fmt.Errorf("[ParseKey] tenant: %w", err)
	}
	g, err := url.PathUnescape(target)
	if err != nil {
		return Key{}, fmt.Errorf("[ParseKey] target: %w", err)
	}
	k := Key{TenantID: t, TargetID: g}
	return k, k.Validate()
}
