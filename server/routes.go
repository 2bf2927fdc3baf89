package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())

	s.RegisterRouteHandler("POST "+RouteCommands, ChainMiddleware(s.RunCommandHandler(), s.OperatorMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteSession, ChainMiddleware(s.DisconnectHandler(), s.OperatorMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessions, ChainMiddleware(s.SessionsHandler(), s.OperatorMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteFailures, ChainMiddleware(s.FailuresHandler(), s.OperatorMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteReap, ChainMiddleware(s.ReapHandler(), s.OperatorMiddleware()...))
}
