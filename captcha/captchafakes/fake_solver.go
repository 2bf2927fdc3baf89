package captchafakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-keeper/captcha"
)

var _ captcha.Solver = (*FakeSolver)(nil)

// FakeSolver answers every challenge with Answer, or fails with Err.
type FakeSolver struct {
	Answer string
	Err    error

	lock       sync.Mutex
	challenges []captcha.Challenge
}

func NewFakeSolver(answer string) *FakeSolver {
	return &FakeSolver{Answer: answer}
}

func (s *FakeSolver) Solve(_ context.Context, challenge captcha.Challenge) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.challenges = append(s.challenges, challenge)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Answer, nil
}

// Challenges returns every challenge seen so far.
func (s *FakeSolver) Challenges() []captcha.Challenge {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]captcha.Challenge(nil), s.challenges...)
}
