package ledger

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCommitted = "committed"
	outcomeRejected  = "rejected"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
)

// Metrics exposes Prometheus collectors for account commands.
type Metrics struct {
	commands  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the command metrics against registerer, or the default
// registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func (m *Metrics) observe(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_total",
		Help: "Account commands partitioned by operation and outcome.",
	}, []string{"op", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_command_conflicts_total",
		Help: "Optimistic concurrency conflicts observed while saving accounts.",
	}, []string{"op"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_command_duration_seconds",
		Help:    "Duration of account commands including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	registerer.MustRegister(commands, conflicts, duration)
	return &Metrics{commands: commands, conflicts: conflicts, duration: duration}
}
