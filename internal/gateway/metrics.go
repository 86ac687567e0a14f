package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// metrics holds the gateway's Prometheus instrumentation on its own registry
// so tests can run multiple servers in one process.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	pushes   prometheus.Counter
}

func newMetrics(s *Server) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgate_requests_total",
			Help: "Handled JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpgate_push_frames_total",
			Help: "Upstream push frames fanned out to background streams.",
		}),
	}

	activeSessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcpgate_active_sessions",
		Help: "Currently live gateway sessions.",
	}, func() float64 { return float64(s.sessions.Count()) })

	aggregatedTools := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcpgate_aggregated_tools",
		Help: "Tools in the current aggregated catalog.",
	}, func() float64 { return float64(s.catalog.Count()) })

	m.registry.MustRegister(
		m.requests,
		m.pushes,
		activeSessions,
		aggregatedTools,
		&upstreamStatusCollector{registry: s.registry},
		collectors.NewGoCollector(),
	)
	return m
}

// observe counts one handled request.
func (m *metrics) observe(method string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var upstreamStatusDesc = prometheus.NewDesc(
	"mcpgate_upstream_status",
	"Upstream connector state (1 for the current state).",
	[]string{"upstream", "state"}, nil,
)

// upstreamStatusCollector exports each upstream's connector state as a
// one-hot gauge, read live from the registry at scrape time.
type upstreamStatusCollector struct {
	registry UpstreamDirectory
}

func (c *upstreamStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- upstreamStatusDesc
}

func (c *upstreamStatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.registry.Statuses() {
		ch <- prometheus.MustNewConstMetric(upstreamStatusDesc, prometheus.GaugeValue, 1,
			status.ID, string(status.State))
	}
}
