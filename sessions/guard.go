package sessions

import (
	"context"

	"github.com/jrsteele09/go-session-keeper/auth"
)

// Guard is the handle passed to Session.Guarded. Its methods operate on the
// session while the guard is held and must not be used after the callback
// returns.
type Guard struct {
	s *Session
}

func (g *Guard) session() *Session {
	if g.s == nil {
		panic("sessions: Guard used outside Session.Guarded")
	}
	return g.s
}

func (g *Guard) Key() Key {
	return g.session().key
}

func (g *Guard) State() State {
	return g.session().state
}

// EnsureActive is Session.EnsureActive for a caller already holding the guard.
func (g *Guard) EnsureActive(ctx context.Context) error {
	return g.session().ensureActiveLocked(ctx)
}

// Material returns a copy of the live material, nil unless ACTIVE.
func (g *Guard) Material() *auth.Material {
	s := g.session()
	if s.state != StateActive {
		return nil
	}
	return s.material.Clone()
}

// MarkExpired moves an ACTIVE session to EXPIRED, e.g. when the target rejected
// a command as unauthenticated.
func (g *Guard) MarkExpired(reason string) {
	g.session().markExpiredLocked(reason)
}

// Touch records command activity.
func (g *Guard) Touch() {
	s := g.session()
	s.lastActivityAt = s.nowTime()
	s.publish()
}
