package commands

import (
	"context"
	"encoding/json"

	"github.com/jrsteele09/go-session-keeper/auth"
)

// Command is one domain operation to run against a target, e.g. "renew".
type Command struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// Result is what a target returned for a successful command.
type Result struct {
	Status  int             `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Sender issues a command using live session material.
//
// A response that shows the session is no longer authenticated must be reported
// as an error wrapping errors.ErrNotAuthenticated. A business failure must be a
// *errors.CommandRejectedError. Anything the sender cannot classify is an error
// wrapping errors.ErrAmbiguousResponse; it is never reported as success.
type Sender interface {
	Send(ctx context.Context, material *auth.Material, command Command) (*Result, error)
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, material *auth.Material, command Command) (*Result, error)

func (f SenderFunc) Send(ctx context.Context, material *auth.Material, command Command) (*Result, error) {
	return f(ctx, material, command)
}
