package metrics

import "github.com/prometheus/client_golang/prometheus"

// Simulation is the collector set the simulation engine drives. Construct
// one per engine against the metrics server's registry, or against a fresh
// private registry in tests.
type Simulation struct {
	CurrentDay           prometheus.Gauge
	BroadcastsSent       prometheus.Counter
	BroadcastsSuppressed *prometheus.CounterVec
	MessagesDeposited    prometheus.Counter
	MessagesFused        prometheus.Counter
	MessagesExpired      prometheus.Counter
	RiskLevels           prometheus.Histogram
}

// NewStandaloneSimulation returns collectors backed by a private registry,
// for engines that run without a metrics server (tests, library use).
func NewStandaloneSimulation() *Simulation {
	return NewSimulation(prometheus.NewRegistry())
}

// NewSimulation registers the simulation collectors with reg.
func NewSimulation(reg prometheus.Registerer) *Simulation {
	s := &Simulation{
		CurrentDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulation_current_day",
			Help: "Simulated day the engine is processing.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulation_broadcasts_sent_total",
			Help: "Admitted broadcasts (one per admitted sender per slot).",
		}),
		BroadcastsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulation_broadcasts_suppressed_total",
			Help: "Broadcast attempts rejected by the budget controller.",
		}, []string{"reason"}),
		MessagesDeposited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulation_messages_deposited_total",
			Help: "Update messages deposited into personal mailboxes.",
		}),
		MessagesFused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulation_messages_fused_total",
			Help: "Drained update messages fused into risk estimates.",
		}),
		MessagesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulation_messages_expired_total",
			Help: "Messages dropped by the retention cleanup.",
		}),
		RiskLevels: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulation_risk_levels",
			Help:    "Distribution of quantized risk levels observed at day rollover.",
			Buckets: prometheus.LinearBuckets(0, 1, 16),
		}),
	}
	reg.MustRegister(
		s.CurrentDay,
		s.BroadcastsSent,
		s.BroadcastsSuppressed,
		s.MessagesDeposited,
		s.MessagesFused,
		s.MessagesExpired,
		s.RiskLevels,
	)
	return s
}
