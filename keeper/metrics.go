package keeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_sessions_opened_total",
		Help: "Sessions brought into the registry, by how they became active",
	}, []string{"target", "how"})

	sessionOpenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_session_open_failures_total",
		Help: "Failed attempts to open a session",
	}, []string{"target"})

	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_probes_total",
		Help: "Heartbeat probes by outcome",
	}, []string{"target", "result"})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_recoveries_total",
		Help: "Finished recovery runs by outcome",
	}, []string{"target", "result"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_commands_total",
		Help: "Commands run by mode and outcome",
	}, []string{"target", "mode", "result"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keeper_command_duration_seconds",
		Help:    "Command latency including any re-login",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"target", "mode"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_legacy_fallbacks_total",
		Help: "Keeper mode failures retried in legacy mode",
	}, []string{"target"})

	reapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_reaped_tenants_total",
		Help: "Tenants whose sessions and credentials were reaped",
	})

	liveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keeper_live_sessions",
		Help: "Sessions in the registry by state",
	}, []string{"target", "state"})
)

// result labels
const (
	resultOK       = "ok"
	resultError    = "error"
	resultRejected = "rejected"
	resultAlive    = "alive"
	resultDead     = "dead"
)
