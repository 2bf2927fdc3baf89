package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-session-keeper/commands"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/sessions"
)

// Keeper is the part of keeper.Keeper the operator API drives.
type Keeper interface {
	Run(ctx context.Context, tenantID, targetID string, command commands.Command, options ...keeper.RunOption) (*keeper.Outcome, error)
	Sessions() []sessions.Info
	Failures() []keeper.FailureReport
	Disconnect(ctx context.Context, tenantID, targetID string) error
	Reap(ctx context.Context) (*keeper.ReapReport, error)
}

var _ Keeper = (*keeper.Keeper)(nil)

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	keeper    Keeper
	tokenHash string
	logger    zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg config.Config, k Keeper, options ...Option) (*Server, error) {
	if k == nil {
		return nil, fmt.Errorf("[Server New] keeper is required")
	}
	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		keeper:    k,
		tokenHash: cfg.GetOperatorTokenHash(),
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.tokenHash == "" && s.env != "DEV" {
		return nil, fmt.Errorf("[Server New] OPERATOR_TOKEN_HASH is required outside DEV")
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		s.logger.Debug().Msgf("[%-19s] %s", colourMethod(method), path)
	}
}
