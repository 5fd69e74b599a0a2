package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the hub's Prometheus instrument set, registered on its own
// registry so tests can run many hubs without collector collisions.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal        prometheus.Counter
	ControlTicksTotal prometheus.Counter
	TickFailures      prometheus.Counter
	EventsRouted      prometheus.Counter
	LogEvictions      prometheus.Counter
	OverrunsTotal     prometheus.Counter
	Subscribers       prometheus.Gauge
	RegisteredGames   prometheus.Gauge
	TickDuration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_ticks_total",
		Help: "Base scheduler ticks executed.",
	})
	m.ControlTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_control_ticks_total",
		Help: "Control ticks executed.",
	})
	m.TickFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_tick_failures_total",
		Help: "Ticks that recovered from a task panic.",
	})
	m.EventsRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_events_routed_total",
		Help: "Events delivered to subscriber queues.",
	})
	m.LogEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_log_evictions_total",
		Help: "Entries evicted from the bounded event log.",
	})
	m.OverrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stat7hub_overruns_total",
		Help: "Subscribers disconnected for outbound queue overrun.",
	})
	m.Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stat7hub_subscribers",
		Help: "Currently attached subscribers.",
	})
	m.RegisteredGames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stat7hub_registered_games",
		Help: "Currently registered games.",
	})
	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stat7hub_tick_duration_seconds",
		Help:    "Wall time per control tick.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	m.Registry.MustRegister(
		m.TicksTotal, m.ControlTicksTotal, m.TickFailures,
		m.EventsRouted, m.LogEvictions, m.OverrunsTotal,
		m.Subscribers, m.RegisteredGames, m.TickDuration,
	)
	return m
}
