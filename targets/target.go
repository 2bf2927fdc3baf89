// Package targets binds each external target to the provider that logs into it,
// the sender that runs commands on it, and its per-target timing.
package targets

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/commands"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/recovery"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

const (
	DefaultPanelProbeInterval   = 2 * time.Minute
	DefaultChannelProbeInterval = 5 * time.Minute
	DefaultAPIProbeInterval     = 5 * time.Minute
)

// Target is everything the keeper needs to run sessions against one target.
type Target struct {
	ID            string
	Type          string
	Provider      auth.Provider
	Sender        commands.Sender
	ProbeInterval time.Duration
	// Recovery overrides the keeper's default policy when set.
	Recovery *recovery.Policy
	// WarmUp asks the keeper to log every tenant in at startup.
	WarmUp bool
}

// DisconnectNotifier is implemented by providers whose transport reports dropped
// sessions on its own, rather than only through probes. connID is the dropped
// connection's auth.DataConnectionID, so a drop can be told apart from the
// connection a session currently holds.
type DisconnectNotifier interface {
	OnDisconnect(fn func(tenantID, connID string))
}

// Registry holds the configured targets keyed by normalised ID.
type Registry struct {
	lock    sync.RWMutex
	targets map[string]*Target
}

func NewRegistry(targets ...*Target) (*Registry, error) {
	r := &Registry{targets: make(map[string]*Target)}
	for _, t := range targets {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Its ID is normalised the same way session keys are.
func (r *Registry) Register(t *Target) error {
	if t == nil || t.Provider == nil || t.Sender == nil {
		return fmt.Errorf("[Registry.Register] target needs a provider and a sender")
	}
	id := sessions.NormalizeTarget(t.ID)
	if id == "" {
		return fmt.Errorf("[Registry.Register] target id is required")
	}
	t.ID = id

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.targets[id]; ok {
		return fmt.Errorf("[Registry.Register] duplicate target %s", id)
	}
	r.targets[id] = t
	return nil
}

func (r *Registry) Lookup(targetID string) (*Target, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	t, ok := r.targets[sessions.NormalizeTarget(targetID)]
	if !ok {
		return nil, kerrors.Wrapf(kerrors.ErrUnknownTarget, "[Registry.Lookup] %s", targetID)
	}
	return t, nil
}

// All returns the targets ordered by ID.
func (r *Registry) All() []*Target {
	r.lock.RLock()
	defer r.lock.RUnlock()
	all := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})
	return all
}
