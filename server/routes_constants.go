package server

// Route path constants
const (
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Operator API
	RouteCommands = "/v1/tenants/{tenant}/targets/{target}/commands"
	RouteSession  = "/v1/tenants/{tenant}/targets/{target}/session"
	RouteSessions = "/v1/sessions"
	RouteFailures = "/v1/failures"
	RouteReap     = "/v1/reap"
)
