package providerfakes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/credentials"
)

var _ auth.Provider = (*FakeProvider)(nil)

// FakeProvider is a scriptable auth.Provider. Queued login and probe results are
// consumed in order; once a queue is empty the default behaviour applies
// (login succeeds, probe reports the material as alive unless it was revoked).
type FakeProvider struct {
	lock        sync.Mutex
	loginErrs   []error
	probeResult []probeResult
	revoked     map[string]bool
	loggedOut   []string

	// LoginDelay is slept (honouring ctx) inside every Login.
	LoginDelay time.Duration

	logins  atomic.Int64
	probes  atomic.Int64
	logouts atomic.Int64
}

type probeResult struct {
	alive bool
	err   error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{revoked: make(map[string]bool)}
}

// FailLogins queues errors returned by the next len(errs) logins.
func (p *FakeProvider) FailLogins(errs ...error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.loginErrs = append(p.loginErrs, errs...)
}

// QueueProbe queues the result of the next probe.
func (p *FakeProvider) QueueProbe(alive bool, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.probeResult = append(p.probeResult, probeResult{alive: alive, err: err})
}

// RevokeAll makes every material issued so far fail its probe.
func (p *FakeProvider) RevokeAll() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := int64(1); i <= p.logins.Load(); i++ {
		p.revoked[fmt.Sprintf("token-%d", i)] = true
	}
}

func (p *FakeProvider) Logins() int  { return int(p.logins.Load()) }
func (p *FakeProvider) Probes() int  { return int(p.probes.Load()) }
func (p *FakeProvider) Logouts() int { return int(p.logouts.Load()) }

func (p *FakeProvider) Login(ctx context.Context, credential credentials.Credential) (*auth.Material, error) {
	n := p.logins.Add(1)
	if p.LoginDelay > 0 {
		select {
		case <-time.After(p.LoginDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.lock.Lock()
	var err error
	if len(p.loginErrs) > 0 {
		err, p.loginErrs = p.loginErrs[0], p.loginErrs[1:]
	}
	p.lock.Unlock()
	if err != nil {
		return nil, err
	}

	return &auth.Material{
		Tokens: map[string]string{
			"session": fmt.Sprintf("token-%d", n),
			"user":    credential.Username,
		},
	}, nil
}

func (p *FakeProvider) Probe(_ context.Context, material *auth.Material) (bool, error) {
	p.probes.Add(1)
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.probeResult) > 0 {
		r := p.probeResult[0]
		p.probeResult = p.probeResult[1:]
		return r.alive, r.err
	}
	if material == nil {
		return false, nil
	}
	return !p.revoked[material.Token("session")], nil
}

func (p *FakeProvider) Logout(_ context.Context, material *auth.Material) error {
	p.logouts.Add(1)
	if material != nil {
		p.lock.Lock()
		p.loggedOut = append(p.loggedOut, material.Token("session"))
		p.lock.Unlock()
	}
	return nil
}

// LoggedOut returns the session tokens passed to Logout, in call order.
func (p *FakeProvider) LoggedOut() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string(nil), p.loggedOut...)
}
