// Package wschannel keeps authenticated websocket connections to a messaging
// channel. The connection itself is the session: material only names it, and a
// connection the server drops is reported through OnDisconnect.
package wschannel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/credentials"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

// Channel is the auth.Provider and commands.Sender for one messaging channel.
type Channel struct {
	settings Settings
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	lock         sync.Mutex
	conns        map[string]*conn
	onDisconnect func(tenantID, connID string)
}

type Option func(*Channel)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

func New(settings Settings, options ...Option) (*Channel, error) {
	settings = settings.withDefaults()
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("[wschannel.New] %w", err)
	}
	c := &Channel{
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		logger: log.Logger,
		conns:  make(map[string]*conn),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// OnDisconnect registers the function told about connections the server (or
// the network) closed. Logouts are not reported.
func (c *Channel) OnDisconnect(fn func(tenantID, connID string)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onDisconnect = fn
}

// Login dials, authenticates and waits for the server's ready frame.
func (c *Channel) Login(ctx context.Context, cred credentials.Credential) (*auth.Material, error) {
	header := http.Header{}
	if c.settings.Origin != "" {
		header.Set("Origin", c.settings.Origin)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.settings.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("[Channel.Login] %w: handshake refused with %d", kerrors.ErrLoginFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("[Channel.Login] dial: %w", err)
	}

	cn := newConn(ws, cred.TenantID, c.logger)
	go cn.readLoop(c.dropped)

	rctx, cancel := context.WithTimeout(ctx, c.settings.ReadyTimeout)
	defer cancel()
	ready, err := cn.roundTrip(rctx, frame{Type: frameAuth, Username: cred.Username, Secret: cred.Secret})
	if err != nil {
		cn.close()
		return nil, fmt.Errorf("[Channel.Login] auth: %w", err)
	}

	switch {
	case ready.Type == frameReady:
	case ready.Type == frameError && ready.Code == codeInvalidCredentials:
		cn.close()
		return nil, fmt.Errorf("[Channel.Login] %w: %s", kerrors.ErrLoginFailed, ready.Message)
	default:
		cn.close()
		return nil, fmt.Errorf("[Channel.Login] %w: got %q frame instead of ready", kerrors.ErrAmbiguousResponse, ready.Type)
	}

	c.lock.Lock()
	c.conns[cn.id] = cn
	c.lock.Unlock()
	select {
	case <-cn.done:
		c.lock.Lock()
		delete(c.conns, cn.id)
		c.lock.Unlock()
		return nil, fmt.Errorf("[Channel.Login] %w right after ready", errClosed)
	default:
	}
	cn.logger.Debug().Msg("channel ready")

	return &auth.Material{Data: map[string]string{auth.DataConnectionID: cn.id}}, nil
}

// Probe pings over the connection. A connection that no longer exists (for
// instance after a restart) is simply not alive.
func (c *Channel) Probe(ctx context.Context, m *auth.Material) (bool, error) {
	cn := c.lookup(m)
	if cn == nil {
		return false, nil
	}
	resp, err := cn.roundTrip(ctx, frame{Type: framePing})
	if errors.Is(err, errClosed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[Channel.Probe] %w", err)
	}
	switch {
	case resp.Type == framePong:
		return true, nil
	case resp.Type == frameError && resp.Code == codeUnauthenticated:
		return false, nil
	}
	return false, fmt.Errorf("[Channel.Probe] %w: got %q frame", kerrors.ErrAmbiguousResponse, resp.Type)
}

func (c *Channel) Logout(_ context.Context, m *auth.Material) error {
	cn := c.lookup(m)
	if cn == nil {
		return nil
	}
	c.lock.Lock()
	delete(c.conns, cn.id)
	c.lock.Unlock()
	cn.close()
	return nil
}

// Send runs one command over the connection.
func (c *Channel) Send(ctx context.Context, m *auth.Material, cmd commands.Command) (*commands.Result, error) {
	cn := c.lookup(m)
	if cn == nil {
		return nil, kerrors.ErrNotAuthenticated
	}
	resp, err := cn.roundTrip(ctx, frame{Type: frameCommand, Name: cmd.Name, Args: cmd.Args})
	if errors.Is(err, errClosed) {
		return nil, kerrors.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("[Channel.Send] %s: %w", cmd.Name, err)
	}

	switch resp.Type {
	case frameResult:
		return &commands.Result{Status: resp.Status, Message: resp.Message, Data: resp.Data}, nil
	case frameError:
		if resp.Code == codeUnauthenticated {
			return nil, kerrors.ErrNotAuthenticated
		}
		return nil, &kerrors.CommandRejectedError{Code: resp.Code, Message: resp.Message, Payload: resp.raw}
	}
	return nil, fmt.Errorf("[Channel.Send] %s: %w: got %q frame", cmd.Name, kerrors.ErrAmbiguousResponse, resp.Type)
}

// Connections lists the tenants with a live connection.
func (c *Channel) Connections() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	tenants := make([]string, 0, len(c.conns))
	for _, cn := range c.conns {
		tenants = append(tenants, cn.tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// Close drops every connection without reporting disconnects.
func (c *Channel) Close() error {
	c.lock.Lock()
	conns := c.conns
	c.conns = make(map[string]*conn)
	c.lock.Unlock()
	for _, cn := range conns {
		cn.close()
	}
	return nil
}

func (c *Channel) lookup(m *auth.Material) *conn {
	if m == nil {
		return nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conns[m.ConnectionID()]
}

// dropped is called by a connection's read loop when it ends.
func (c *Channel) dropped(cn *conn) {
	c.lock.Lock()
	_, registered := c.conns[cn.id]
	delete(c.conns, cn.id)
	notify := c.onDisconnect
	c.lock.Unlock()

	if !registered || cn.closing.Load() || notify == nil {
		return
	}
	notify(cn.tenantID, cn.id)
}

var (
	_ auth.Provider   = (*Channel)(nil)
	_ commands.Sender = (*Channel)(nil)
)
