package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Agent holds the collectors registered by cmd/meshagent.
type Agent struct {
	registry *prometheus.Registry

	BenchmarkDuration *prometheus.GaugeVec
	CurrentUsers      prometheus.Gauge
	MaxUsers          prometheus.Gauge
	ConnectTotal      *prometheus.CounterVec
	DisconnectTotal   prometheus.Counter
}

// NewAgent registers the agent's collectors on a fresh registry.
func NewAgent() *Agent {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Agent{
		registry: reg,
		BenchmarkDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshagent",
			Subsystem: "capacity",
			Name:      "benchmark_duration_seconds",
			Help:      "Wall time of each capacity benchmark axis, labeled by axis.",
		}, []string{"axis"}),
		CurrentUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshagent",
			Subsystem: "session",
			Name:      "current_users",
			Help:      "Current connected-user count.",
		}),
		MaxUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshagent",
			Subsystem: "session",
			Name:      "max_users",
			Help:      "Benchmarked maximum concurrent-user capacity.",
		}),
		ConnectTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshagent",
			Subsystem: "session",
			Name:      "connect_total",
			Help:      "Connect attempts, labeled by outcome (connected, full).",
		}, []string{"outcome"}),
		DisconnectTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshagent",
			Subsystem: "session",
			Name:      "disconnect_total",
			Help:      "Disconnect calls handled.",
		}),
	}
}

// Handler exposes the registry in the Prometheus exposition format.
func (a *Agent) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}
