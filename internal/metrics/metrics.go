package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-session-service/internal/domain"
)

// Metrics holds the Prometheus collectors of the quiz session service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	EventsPublished   *prometheus.CounterVec
	CountdownTicks    prometheus.Counter
	ActiveCountdowns  prometheus.Gauge
	SessionsReaped    prometheus.Counter
	ProbeFailures     prometheus.Counter
	LeaderboardBuilds *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_published_total",
				Help:      "Events published to the message bus",
			},
			[]string{"step"},
		),
		CountdownTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "countdown_ticks_total",
			Help:      "Countdown ticks fired",
		}),
		ActiveCountdowns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_countdowns",
			Help:      "Question countdowns currently armed",
		}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "idle_reaped_total",
			Help:      "Sessions deactivated by the idle reaper",
		}),
		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "probe_failures_total",
			Help:      "Idle probes that failed or timed out",
		}),
		LeaderboardBuilds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "leaderboard",
				Name:      "build_duration_seconds",
				Help:      "Leaderboard build duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPublished(step domain.Step) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(string(step)).Inc()
}

func (m *Metrics) CountdownTick() {
	if m == nil {
		return
	}
	m.CountdownTicks.Inc()
}

func (m *Metrics) CountdownArmed() {
	if m == nil {
		return
	}
	m.ActiveCountdowns.Inc()
}

func (m *Metrics) CountdownDisarmed() {
	if m == nil {
		return
	}
	m.ActiveCountdowns.Dec()
}

func (m *Metrics) SessionReaped() {
	if m == nil {
		return
	}
	m.SessionsReaped.Inc()
}

func (m *Metrics) ProbeFailed() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

// LeaderboardBuilt records a build that started at start.
func (m *Metrics) LeaderboardBuilt(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LeaderboardBuilds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
