package keeper

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/sessions"
)

// FailureReport is emitted when a session is given up on.
type FailureReport struct {
	Key       sessions.Key `json:"key"`
	SessionID string       `json:"session_id"`
	Attempts  int          `json:"attempts"`
	Error     string       `json:"error"`
	At        time.Time    `json:"at"`
}

// failureLog keeps the most recent reports for operators.
type failureLog struct {
	lock    sync.Mutex
	entries []FailureReport
	next    int
	full    bool
}

func newFailureLog(size int) *failureLog {
	if size <= 0 {
		size = 1
	}
	return &failureLog{entries: make([]FailureReport, size)}
}

func (l *failureLog) add(r FailureReport) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.entries[l.next] = r
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// list returns the reports newest first.
func (l *failureLog) list() []FailureReport {
	l.lock.Lock()
	defer l.lock.Unlock()
	n := l.next
	if l.full {
		n = len(l.entries)
	}
	out := make([]FailureReport, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
