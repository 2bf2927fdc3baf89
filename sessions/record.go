package sessions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-keeper/auth"
	"github.com/jrsteele09/go-session-keeper/internal/sealer"
)

// Record is the persisted snapshot of a session, written after every successful
// login and probe so a restart can reuse a session the target still accepts.
type Record struct {
	Key                      Key            `json:"key"`
	SessionID                string         `json:"session_id"`
	Material                 *auth.Material `json:"material"`
	LoginCount               int            `json:"login_count"`
	ConsecutiveFailedReauths int            `json:"consecutive_failed_reauths"`
	CreatedAt                time.Time      `json:"created_at"`
	LastProbeAt              time.Time      `json:"last_probe_at"`
	LastActivityAt           time.Time      `json:"last_activity_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Material = r.Material.Clone()
	return &c
}

// Fresh reports whether the record was last confirmed within maxAge. A zero
// maxAge accepts any age.
func (r *Record) Fresh(now time.Time, maxAge time.Duration) bool {
	if r == nil || r.Material == nil {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	seen := r.LastProbeAt
	if seen.IsZero() {
		seen = r.UpdatedAt
	}
	return now.Sub(seen) <= maxAge
}

// EncodeRecord serialises and, when s is non-nil, seals a record.
func EncodeRecord(rec *Record, s *sealer.Sealer) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("[EncodeRecord] marshal: %w", err)
	}
	sealed, err := s.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("[EncodeRecord] seal: %w", err)
	}
	return sealed, nil
}

func DecodeRecord(data []byte, s *sealer.Sealer) (*Record, error) {
	plain, err := s.Open(data)
	if err != nil {
		return nil, fmt.Errorf("[DecodeRecord] open: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("[DecodeRecord] unmarshal: %w", err)
	}
	return &rec, nil
}
