// Package observability holds the Prometheus collectors shared by castbot
// components and the optional HTTP server that exposes them.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_delivery_ticks_total", Help: "Scheduler ticks by outcome"},
		[]string{"result"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_delivery_job_runs_total", Help: "Job dispatch outcomes"},
		[]string{"result"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_delivery_sends_total", Help: "Per-destination sends"},
		[]string{"result"},
	)
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "castbot_delivery_job_seconds", Help: "Job run duration", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
	)
	Deactivations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "castbot_delivery_actor_deactivations_total", Help: "Actors whose jobs were deactivated for an expired credential"},
	)
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_gateway_requests_total", Help: "Gateway calls"},
		[]string{"op", "result"},
	)
	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "castbot_gateway_latency_seconds", Help: "Gateway call latency"},
		[]string{"op"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_notifications_total", Help: "Notification outcomes"},
		[]string{"result"},
	)
	Updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_router_updates_total", Help: "Inbound updates"},
		[]string{"kind", "result"},
	)
	UpdateLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "castbot_router_update_seconds", Help: "Update handling latency"},
	)
	WizardSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbot_wizard_steps_total", Help: "Wizard transitions by flow and resulting state"},
		[]string{"flow", "state"},
	)
	WizardSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "castbot_wizard_sessions", Help: "Conversations in flight"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Ticks, JobRuns, Sends, JobDuration, Deactivations,
		GatewayRequests, GatewayLatency, Notifications, Updates, UpdateLatency,
		WizardSteps, WizardSessions)
}
