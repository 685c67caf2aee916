package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nuetzliches/beanbridge/internal/backend"
)

// bridgeMetrics is the Prometheus surface of the bridge: request
// counters by verb and status, a latency histogram, and gauges sampled
// from the backend on scrape.
type bridgeMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newBridgeMetrics(manager *backend.Manager) *bridgeMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &bridgeMetrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beanbridge",
			Name:      "requests_total",
			Help:      "Handled protocol requests by verb and envelope status.",
		}, []string{"verb", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "beanbridge",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency by verb.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "beanbridge",
		Name:      "history_entries",
		Help:      "Entries currently held by the history store.",
	}, func() float64 { return float64(manager.History().EntryCount()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "beanbridge",
		Name:      "history_keys",
		Help:      "Keys currently tracked by the history store.",
	}, func() float64 { return float64(manager.History().KeyCount()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "beanbridge",
		Name:      "registries",
		Help:      "Bean registries in the merged dispatch set.",
	}, func() float64 { return float64(len(manager.Servers().Snapshot())) }))

	return m
}

// Observer feeds the manager's request outcomes into the counters.
func (m *bridgeMetrics) Observer() backend.Observer {
	return func(verb string, status int, d time.Duration) {
		m.requestsTotal.WithLabelValues(verb, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(verb).Observe(d.Seconds())
	}
}

func (m *bridgeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
