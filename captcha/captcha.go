// Package captcha solves the interactive challenges some targets put in front of
// their login forms.
package captcha

import "context"

// Kind is the challenge family.
type Kind string

const (
	KindRecaptchaV2 Kind = "recaptcha_v2"
	KindImage       Kind = "image"
)

// Challenge describes one challenge as found on the target's login page.
type Challenge struct {
	Kind Kind
	// PageURL is the page the challenge is embedded in.
	PageURL string
	// SiteKey is the widget key for token challenges.
	SiteKey string
	// Image is the base64 encoded picture for image challenges.
	Image string
}

// Solver returns the answer for a challenge. An error is always a failure; a
// solver never reports that there was nothing to solve.
type Solver interface {
	Solve(ctx context.Context, challenge Challenge) (string, error)
}

// SolverFunc adapts a function to a Solver.
type SolverFunc func(ctx context.Context, challenge Challenge) (string, error)

func (f SolverFunc) Solve(ctx context.Context, challenge Challenge) (string, error) {
	return f(ctx, challenge)
}
