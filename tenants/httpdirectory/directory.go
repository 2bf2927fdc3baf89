// Package httpdirectory looks tenants up in an HTTP tenant directory service.
package httpdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-keeper/tenants"
)

// Directory implements tenants.Directory with GET {base}/tenants/{id}.
type Directory struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Directory)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Directory) {
		d.httpClient = c
	}
}

// WithToken sends the token as a bearer credential.
func WithToken(token string) Option {
	return func(d *Directory) {
		d.token = token
	}
}

func New(baseURL string, options ...Option) *Directory {
	d := &Directory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Exists returns true on 200, false on 404 and an error for anything else.
func (d *Directory) Exists(ctx context.Context, tenantID string) (bool, error) {
	_, found, err := d.Get(ctx, tenantID)
	return found, err
}

// Get fetches the tenant document.
func (d *Directory) Get(ctx context.Context, tenantID string) (*tenants.Tenant, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/tenants/"+url.PathEscape(tenantID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("[Directory.Get] new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("[Directory.Get] %s: %w", tenantID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		tenant := &tenants.Tenant{ID: tenantID}
		// A body is optional; presence is decided by the status code.
		_ = json.NewDecoder(resp.Body).Decode(tenant)
		return tenant, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("[Directory.Get] %s: unexpected status %d", tenantID, resp.StatusCode)
	}
}

var _ tenants.Directory = (*Directory)(nil)
