package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values shared by the counters below.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultDelivered = "delivered"
	ResultNoSession = "no_session"
	ResultBackedUp  = "buffer_full"
)

// metrics variables
var (
	OSCCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocue_osc_commands_total",
			Help: "OSC commands attempted, by wire mode and result",
		},
		[]string{"mode", "result"},
	)

	CueOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocue_cue_outcomes_total",
			Help: "Executor outcomes per handled cue",
		},
		[]string{"outcome"},
	)

	QueueDrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autocue_executor_drain_duration_seconds",
			Help:    "Duration of one approved-cue queue drain",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
	)

	RelaySessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autocue_relay_sessions",
			Help: "Relay node sessions currently connected",
		},
	)

	RelayDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocue_relay_dispatch_total",
			Help: "Payloads handed to relay sessions, by result",
		},
		[]string{"type", "result"},
	)

	RelayAuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocue_relay_auth_failures_total",
			Help: "Relay connections rejected for a bad credential",
		},
	)
)

func init() {
	prometheus.MustRegister(OSCCommands)
	prometheus.MustRegister(CueOutcomes)
	prometheus.MustRegister(QueueDrainDuration)

	prometheus.MustRegister(RelaySessions)
	prometheus.MustRegister(RelayDispatches)
	prometheus.MustRegister(RelayAuthFailures)
}
