// Package panel logs into renewal panels: HTML login forms protected by a CSRF
// token and, optionally, a captcha, with the session carried in cookies.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/captcha"
	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

const (
	maxBodySize = 4 << 20

	dataBaseURL   = "base_url"
	dataCSRFToken = "csrf_token"

	// statusPageExpired is sent by some panel frameworks when the CSRF token
	// bound to the session is no longer valid.
	statusPageExpired = 419
)

// Panel is both the auth.Provider and the commands.Sender for one panel.
type Panel struct {
	settings   Settings
	base       *url.URL
	solver     captcha.Solver
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Panel)

// WithHTTPClient sets the client whose transport is used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Panel) {
		p.httpClient = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Panel) {
		p.logger = logger
	}
}

// New builds a Panel. solver may be nil for panels that never show a captcha.
func New(settings Settings, solver captcha.Solver, options ...Option) (*Panel, error) {
	settings = settings.withDefaults()
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("[panel.New] %w", err)
	}
	base, _ := url.Parse(strings.TrimRight(settings.BaseURL, "/"))

	p := &Panel{
		settings:   settings,
		base:       base,
		solver:     solver,
		httpClient: &http.Client{Timeout: settings.RequestTimeout},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.With().Str("panel", base.Host).Logger()
	return p, nil
}

// Login fetches the login page, solves its challenge if there is one, submits
// the form and confirms the landing page shows the logged-in marker and no
// login form.
func (p *Panel) Login(ctx context.Context, cred credentials.Credential) (*auth.Material, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Login] cookie jar: %w", err)
	}
	client := p.client(jar, true)

	loginURL := p.resolve(p.settings.LoginPath)
	body, finalURL, err := p.fetch(ctx, client, http.MethodGet, loginURL, nil)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Login] login page: %w", err)
	}
	form, err := parsePage(body)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Login] parse login page: %w", err)
	}
	if !form.LoginForm {
		return nil, fmt.Errorf("[Panel.Login] %w: no login form at %s", kerrors.ErrAmbiguousResponse, finalURL)
	}

	values := url.Values{}
	for k, v := range form.Hidden {
		values[k] = append([]string(nil), v...)
	}
	values.Set(p.settings.UsernameField, cred.Username)
	values.Set(p.settings.PasswordField, cred.Secret)

	if err := p.solveChallenge(ctx, form, finalURL, values); err != nil {
		return nil, fmt.Errorf("[Panel.Login] %w", err)
	}

	action := finalURL
	if form.Action != "" {
		if ref, err := url.Parse(form.Action); err == nil {
			action = finalURL.ResolveReference(ref)
		}
	}
	landing, landedAt, err := p.fetch(ctx, client, http.MethodPost, action, values)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Login] submit: %w", err)
	}
	result, err := parsePage(landing)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Login] parse landing page: %w", err)
	}

	switch {
	case result.LoginForm && p.settings.InvalidCredentialsMarker != "" &&
		bytes.Contains(landing, []byte(p.settings.InvalidCredentialsMarker)):
		return nil, fmt.Errorf("[Panel.Login] %w: credentials rejected", kerrors.ErrLoginFailed)
	case result.LoginForm:
		return nil, fmt.Errorf("[Panel.Login] %w: login form shown again at %s", kerrors.ErrAmbiguousResponse, landedAt)
	case !bytes.Contains(landing, []byte(p.settings.LoggedInMarker)):
		return nil, fmt.Errorf("[Panel.Login] %w: logged-in marker missing at %s", kerrors.ErrAmbiguousResponse, landedAt)
	}

	material := &auth.Material{
		Cookies: auth.CookiesFromHTTP(jar.Cookies(p.base)),
		Data:    map[string]string{dataBaseURL: p.base.String()},
	}
	if result.CSRFToken != "" {
		material.Data[dataCSRFToken] = result.CSRFToken
	} else if form.CSRFToken != "" {
		material.Data[dataCSRFToken] = form.CSRFToken
	}
	p.logger.Debug().Str("tenant", cred.TenantID).Int("cookies", len(material.Cookies)).Msg("panel login confirmed")
	return material, nil
}

func (p *Panel) solveChallenge(ctx context.Context, form *page, pageURL *url.URL, values url.Values) error {
	var (
		challenge captcha.Challenge
		field     string
	)
	switch {
	case form.SiteKey != "":
		challenge = captcha.Challenge{Kind: captcha.KindRecaptchaV2, PageURL: pageURL.String(), SiteKey: form.SiteKey}
		field = p.settings.CaptchaField
	case form.CaptchaImage != "":
		challenge = captcha.Challenge{Kind: captcha.KindImage, PageURL: pageURL.String(), Image: form.CaptchaImage}
		field = p.settings.ImageCaptchaField
	default:
		return nil
	}
	if p.solver == nil {
		return fmt.Errorf("%w: login page has a challenge but no solver is configured", kerrors.ErrChallengeSolver)
	}
	answer, err := p.solver.Solve(ctx, challenge)
	if err != nil {
		return fmt.Errorf("solve challenge: %w", err)
	}
	values.Set(field, answer)
	return nil
}

// Probe loads the probe page without following redirects. A redirect, an auth
// status or a login form means the session is gone.
func (p *Panel) Probe(ctx context.Context, m *auth.Material) (bool, error) {
	if m == nil {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.resolve(p.settings.ProbePath).String(), nil)
	if err != nil {
		return false, fmt.Errorf("[Panel.Probe] %w", err)
	}
	addCookies(req, m)

	resp, err := p.client(nil, false).Do(req)
	if err != nil {
		return false, fmt.Errorf("[Panel.Probe] %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return false, fmt.Errorf("[Panel.Probe] read: %w", err)
	}

	switch {
	case isRedirect(resp.StatusCode), isAuthStatus(resp.StatusCode):
		return false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("[Panel.Probe] panel returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("[Panel.Probe] %w: status %d", kerrors.ErrAmbiguousResponse, resp.StatusCode)
	}
	if pg, err := parsePage(body); err == nil && pg.LoginForm {
		return false, nil
	}
	if !bytes.Contains(body, []byte(p.settings.LoggedInMarker)) {
		return false, fmt.Errorf("[Panel.Probe] %w: logged-in marker missing", kerrors.ErrAmbiguousResponse)
	}
	return true, nil
}

// Logout is best-effort; it only runs when a logout path is configured.
func (p *Panel) Logout(ctx context.Context, m *auth.Material) error {
	if m == nil || p.settings.LogoutPath == "" {
		return nil
	}
	jar, err := m.CookieJar(p.base.String())
	if err != nil {
		return fmt.Errorf("[Panel.Logout] %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.resolve(p.settings.LogoutPath).String(), nil)
	if err != nil {
		return fmt.Errorf("[Panel.Logout] %w", err)
	}
	resp, err := p.client(jar, true).Do(req)
	if err != nil {
		return fmt.Errorf("[Panel.Logout] %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	return resp.Body.Close()
}

type commandEnvelope struct {
	OK      *bool           `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts the command as JSON. The panel must answer with {"ok": true, ...};
// anything it cannot classify is ErrAmbiguousResponse.
func (p *Panel) Send(ctx context.Context, m *auth.Material, cmd commands.Command) (*commands.Result, error) {
	if m == nil {
		return nil, kerrors.ErrNotAuthenticated
	}
	payload, err := json.Marshal(cmd.Args)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Send] marshal: %w", err)
	}
	target := p.resolve(strings.ReplaceAll(p.settings.CommandPath, "{name}", url.PathEscape(cmd.Name)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("[Panel.Send] %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if token := m.Data[dataCSRFToken]; token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	addCookies(req, m)

	resp, err := p.client(nil, false).Do(req)
	if err != nil {
		return nil, fmt.Errorf("[Panel.Send] %s: %w", cmd.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("[Panel.Send] %s: read: %w", cmd.Name, err)
	}

	// 403 is left to the body: a JSON error envelope is a business refusal,
	// only a login form means the session is gone.
	switch {
	case isRedirect(resp.StatusCode), resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == statusPageExpired:
		return nil, kerrors.ErrNotAuthenticated
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("[Panel.Send] %s: panel returned %d", cmd.Name, resp.StatusCode)
	}

	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		if pg, perr := parsePage(body); perr == nil && pg.LoginForm {
			return nil, kerrors.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("[Panel.Send] %s: %w: status %d, non-JSON body", cmd.Name, kerrors.ErrAmbiguousResponse, resp.StatusCode)
	}

	rejected := resp.StatusCode >= http.StatusBadRequest || env.Error != nil || (env.OK != nil && !*env.OK)
	if rejected {
		code, message := env.Code, env.Message
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &kerrors.CommandRejectedError{Code: code, Message: message, Payload: body}
	}
	if env.OK == nil {
		return nil, fmt.Errorf("[Panel.Send] %s: %w: response has no ok flag", cmd.Name, kerrors.ErrAmbiguousResponse)
	}
	return &commands.Result{Status: resp.StatusCode, Message: env.Message, Data: env.Data}, nil
}

// fetch performs a request and returns the body and the final URL after
// redirects. 5xx is an error.
func (p *Panel) fetch(ctx context.Context, client *http.Client, method string, u *url.URL, form url.Values) ([]byte, *url.URL, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, nil, fmt.Errorf("%s %s returned %d", method, u.Path, resp.StatusCode)
	}
	return data, resp.Request.URL, nil
}

func (p *Panel) client(jar http.CookieJar, followRedirects bool) *http.Client {
	c := &http.Client{
		Transport: p.httpClient.Transport,
		Timeout:   p.httpClient.Timeout,
		Jar:       jar,
	}
	if !followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

func (p *Panel) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		return p.base
	}
	u := *p.base
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	u.Path = strings.TrimRight(p.base.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return &u
}

func addCookies(req *http.Request, m *auth.Material) {
	for _, c := range m.HTTPCookies() {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

var (
	_ auth.Provider   = (*Panel)(nil)
	_ commands.Sender = (*Panel)(nil)
)
