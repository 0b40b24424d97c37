// Package telemetry holds the process metrics exposed on /metrics.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	NotesCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "snippets_notes_created_total", Help: "Notes captured"})
	AgentDispatches   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "snippets_agent_dispatches_total", Help: "Agent gateway calls by outcome"}, []string{"outcome"})
	JobsStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "snippets_jobs_started_total", Help: "Agent action jobs dispatched"})
	JobsFinished      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "snippets_jobs_finished_total", Help: "Agent action jobs reaching a terminal status"}, []string{"status"})
	JobTimeouts       = prometheus.NewCounter(prometheus.CounterOpts{Name: "snippets_job_timeouts_total", Help: "Jobs failed because no callback arrived in time"})
	StaleJobsReaped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "snippets_jobs_reaped_total", Help: "Running jobs failed by the stale sweep"})
	CooldownRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "snippets_cooldown_rejects_total", Help: "Action runs refused by the cooldown gate"})
	RunningJobsGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "snippets_jobs_running", Help: "Jobs currently waiting for a callback"})
	PendingQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "snippets_pending_queue_depth", Help: "Notes waiting for agent processing"})
)

// Dispatch outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			NotesCreated,
			AgentDispatches,
			JobsStarted,
			JobsFinished,
			JobTimeouts,
			StaleJobsReaped,
			CooldownRejects,
			RunningJobsGauge,
			PendingQueueGauge,
		)
	})
	return promhttp.Handler()
}
