package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vuln_notify"

// Metrics holds the collectors of the sync loop and the HTTP endpoints.
type Metrics struct {
	Registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Fetched       prometheus.Counter
	NewCVEs       prometheus.Counter
	Notifications *prometheus.CounterVec
	Tracked       prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	m.CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of poll cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.Fetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_cves_total",
			Help:      "Number of CVE records received from NVD",
		},
	)

	m.NewCVEs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_cves_total",
			Help:      "Number of CVEs not seen before",
		},
	)

	m.Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Number of handled new CVEs by result",
		},
		[]string{"result"},
	)

	m.Tracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_cves",
			Help:      "Number of CVE IDs in the seen set",
		},
	)

	m.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"handler", "code"},
	)

	m.Registry.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.Fetched,
		m.NewCVEs,
		m.Notifications,
		m.Tracked,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument counts requests served by h under the given handler label.
func (m *Metrics) Instrument(handler string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.HTTPRequests.MustCurryWith(prometheus.Labels{"handler": handler}), h)
}
