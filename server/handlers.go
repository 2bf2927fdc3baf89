package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-session-keeper/commands"
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/keeper"
)

// CommandRequest is the body of a command run.
type CommandRequest struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
	// Mode overrides the configured default, "keeper" or "legacy".
	Mode string `json:"mode,omitempty"`
	// Fallback set to false disables the legacy retry.
	Fallback *bool `json:"fallback,omitempty"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// RunCommandHandler runs one command for the tenant on the target.
func (s *Server) RunCommandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "body must be a JSON command", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			writeJSONError(w, "invalid_request", "command name is required", http.StatusBadRequest)
			return
		}

		var opts []keeper.RunOption
		if req.Mode != "" {
			opts = append(opts, keeper.WithMode(keeper.ParseMode(req.Mode)))
		}
		if req.Fallback != nil && !*req.Fallback {
			opts = append(opts, keeper.WithoutFallback())
		}

		tenantID, targetID := r.PathValue("tenant"), r.PathValue("target")
		out, err := s.keeper.Run(r.Context(), tenantID, targetID, commands.Command{Name: req.Name, Args: req.Args}, opts...)
		if err != nil {
			s.logger.Info().Err(err).
				Str("tenant", tenantID).
				Str("target", targetID).
				Str("command", req.Name).
				Msg("command failed")
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.keeper.Sessions()})
	}
}

func (s *Server) FailuresHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"failures": s.keeper.Failures()})
	}
}

// DisconnectHandler stops keeping the tenant logged in to the target.
func (s *Server) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.keeper.Disconnect(r.Context(), r.PathValue("tenant"), r.PathValue("target"))
		switch {
		case errors.Is(err, kerrors.ErrNotFound):
			writeJSONError(w, "not_found", "no live session", http.StatusNotFound)
		case err != nil:
			s.logger.Warn().Err(err).Msg("disconnect failed")
			writeJSONError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func (s *Server) ReapHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.keeper.Reap(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("reap failed")
			writeJSONError(w, "internal_error", err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
