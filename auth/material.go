package auth

import (
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Cookie is the serialisable subset of http.Cookie kept in session material.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// DataConnectionID is the Data entry naming the transport connection a
// material stands for, set by providers whose connection is the session.
const DataConnectionID = "conn_id"

// Material is the opaque bag of credentials an AuthProvider hands back after a
// successful login. Apart from ConnectionID the keeper never interprets it;
// only the provider and the target's command sender do.
type Material struct {
	Cookies    []Cookie          `json:"cookies,omitempty"`
	Tokens     map[string]string `json:"tokens,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	ObtainedAt time.Time         `json:"obtained_at"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"` // zero when the target does not say
}

// ConnectionID returns the connection the material stands for, "" when it has none.
func (m *Material) ConnectionID() string {
	if m == nil {
		return ""
	}
	return m.Data[DataConnectionID]
}

// Clone returns a deep copy. Material is cloned whenever it crosses the session guard.
func (m *Material) Clone() *Material {
	if m == nil {
		return nil
	}
	c := *m
	c.Cookies = append([]Cookie(nil), m.Cookies...)
	c.Tokens = maps.Clone(m.Tokens)
	c.Data = maps.Clone(m.Data)
	return &c
}

// Token returns the named token or "".
func (m *Material) Token(name string) string {
	if m == nil || m.Tokens == nil {
		return ""
	}
	return m.Tokens[name]
}

// Expired reports whether the material carries an expiry that has passed.
func (m *Material) Expired(now time.Time) bool {
	return m != nil && !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// CookiesFromHTTP converts cookies as returned by a jar.
func CookiesFromHTTP(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// HTTPCookies converts the material's cookies back for use on a request.
func (m *Material) HTTPCookies() []*http.Cookie {
	if m == nil {
		return nil
	}
	out := make([]*http.Cookie, 0, len(m.Cookies))
	for _, c := range m.Cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// CookieJar builds a jar seeded with the material's cookies for baseURL.
func (m *Material) CookieJar(baseURL string) (http.CookieJar, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("[Material.CookieJar] parse %s: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("[Material.CookieJar] %w", err)
	}
	jar.SetCookies(u, m.HTTPCookies())
	return jar, nil
}
