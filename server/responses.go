package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

type rejectedResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeRunError maps a failed run onto a status. A rejection from the target
// carries the target's own payload back to the caller.
func writeRunError(w http.ResponseWriter, err error) {
	var rejected *kerrors.CommandRejectedError
	if errors.As(err, &rejected) {
		resp := rejectedResponse{Error: "command_rejected", Code: rejected.Code, Message: rejected.Message}
		if json.Valid(rejected.Payload) {
			resp.Payload = rejected.Payload
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	status, code := http.StatusBadGateway, "target_error"
	switch {
	case errors.Is(err, kerrors.ErrUnknownTarget):
		status, code = http.StatusNotFound, "unknown_target"
	case errors.Is(err, kerrors.ErrCredentialMissing):
		status, code = http.StatusNotFound, "credential_missing"
	case errors.Is(err, kerrors.ErrLoginFailed):
		status, code = http.StatusBadGateway, "login_failed"
	case errors.Is(err, kerrors.ErrSessionFailed):
		status, code = http.StatusServiceUnavailable, "session_failed"
	case errors.Is(err, kerrors.ErrChallengeTimeout), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, kerrors.ErrChallengeSolver):
		status, code = http.StatusBadGateway, "challenge_failed"
	case errors.Is(err, context.Canceled):
		status, code = 499, "cancelled"
	}
	writeJSONError(w, code, err.Error(), status)
}
