package wschannel

import "encoding/json"

const (
	frameAuth       = "auth"
	frameReady      = "ready"
	framePing       = "ping"
	framePong       = "pong"
	frameCommand    = "command"
	frameResult     = "result"
	frameError      = "error"
	frameDisconnect = "disconnect"

	codeUnauthenticated    = "unauthenticated"
	codeInvalidCredentials = "invalid_credentials"
)

// frame is the single JSON envelope used in both directions. Requests carry an
// ID that the server echoes on the matching response.
type frame struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Username string            `json:"username,omitempty"`
	Secret   string            `json:"secret,omitempty"`
	Name     string            `json:"name,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	Status   int               `json:"status,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Reason   string            `json:"reason,omitempty"`

	raw []byte
}
