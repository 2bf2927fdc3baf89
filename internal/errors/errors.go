package errors

import (
	"context"
	"errors"
	"fmt"
)

// Common error types for the session keeper
var (
	// Credential and login errors
	ErrCredentialMissing = errors.New("credential missing")
	ErrLoginFailed       = errors.New("login failed")
	ErrChallengeTimeout  = errors.New("challenge timeout")
	ErrChallengeSolver   = errors.New("challenge solver error")

	// Session errors
	ErrSessionExpired = errors.New("session expired")
	ErrSessionFailed  = errors.New("session failed")

	// Command errors
	ErrCommandRejected   = errors.New("command rejected")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAmbiguousResponse = errors.New("ambiguous response")

	// Target errors
	ErrUnknownTarget = errors.New("unknown target")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported operation")
)

// SessionFailedError is returned once a session has been given up on. It carries
// enough context for an operator to act on.
type SessionFailedError struct {
	Key      string
	Attempts int
	Cause    error
}

func (e *SessionFailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("session %s failed after %d attempts", e.Key, e.Attempts)
	}
	return fmt.Sprintf("session %s failed after %d attempts: %v", e.Key, e.Attempts, e.Cause)
}

func (e *SessionFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSessionFailed}
	}
	return []error{ErrSessionFailed, e.Cause}
}

// CommandRejectedError is a business-level failure reported by the target. The
// payload is the target's own error body, passed through untouched.
type CommandRejectedError struct {
	Code    string
	Message string
	Payload []byte
}

func (e *CommandRejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("command rejected: %s", e.Message)
	}
	return fmt.Sprintf("command rejected (%s): %s", e.Code, e.Message)
}

func (e *CommandRejectedError) Unwrap() error {
	return ErrCommandRejected
}

// IsRetryable reports whether err is a transient failure that the recovery
// policy may retry. Terminal classes need tenant or operator action.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCredentialMissing),
		errors.Is(err, ErrLoginFailed),
		errors.Is(err, ErrSessionFailed),
		errors.Is(err, ErrCommandRejected),
		errors.Is(err, ErrUnknownTarget),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
