// Package metrics builds the Prometheus collectors for both binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller holds the collectors registered by cmd/meshctl.
type Controller struct {
	registry *prometheus.Registry

	PollDuration     prometheus.Histogram
	NodesAlive       prometheus.Gauge
	NodesUnhealthy   prometheus.Gauge
	SelectionOutcome *prometheus.CounterVec
	ProxyRequests    *prometheus.CounterVec
	HistorySweeps    prometheus.Counter
}

// NewController registers the controller's collectors on a fresh registry.
func NewController() *Controller {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Controller{
		registry: reg,
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshctl",
			Subsystem: "monitor",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one full monitor tick across all nodes.",
			Buckets:   prometheus.DefBuckets,
		}),
		NodesAlive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "monitor",
			Name:      "nodes_alive",
			Help:      "Number of nodes marked alive after the most recent tick.",
		}),
		NodesUnhealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshctl",
			Subsystem: "monitor",
			Name:      "nodes_unhealthy",
			Help:      "Number of nodes marked unreachable after the most recent tick.",
		}),
		SelectionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "selection",
			Name:      "outcome_total",
			Help:      "Selection attempts, labeled by outcome.",
		}, []string{"outcome"}),
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests, labeled by response status class.",
		}, []string{"status_class"}),
		HistorySweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshctl",
			Subsystem: "history",
			Name:      "retention_sweeps_total",
			Help:      "Retention sweeps executed against the history store.",
		}),
	}
}

// Handler exposes the registry in the Prometheus exposition format.
func (c *Controller) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
