package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics groups the scanner's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	evaluated      prometheus.Counter
	risky          prometheus.Counter
	suspicious     prometheus.Counter
	geoLookups     *prometheus.CounterVec
	rateLimitWaits prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netwatch_scans_total",
			Help: "Scans by mode and outcome",
		}, []string{"mode", "outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netwatch_scan_duration_seconds",
			Help:    "Wall time of a scan, rate-limit sleeps included",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		evaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_connections_evaluated_total",
			Help: "Connections classified",
		}),
		risky: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_risky_connections_total",
			Help: "Connections classified risky",
		}),
		suspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_suspicious_processes_total",
			Help: "Connections whose process was classified suspicious",
		}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netwatch_geo_lookups_total",
			Help: "Geolocation lookups by outcome",
		}, []string{"outcome"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_ratelimit_waits_total",
			Help: "Times a scan slept for the geolocation rate limit",
		}),
	}
	m.registry.MustRegister(
		m.scans, m.scanDuration, m.evaluated, m.risky, m.suspicious, m.geoLookups, m.rateLimitWaits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records a finished scan. A nil receiver is a no-op.
func (m *Metrics) ObserveScan(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(mode, outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveResult(risky, suspicious bool) {
	if m == nil {
		return
	}
	m.evaluated.Inc()
	if risky {
		m.risky.Inc()
	}
	if suspicious {
		m.suspicious.Inc()
	}
}

// ObserveGeo counts a lookup; outcome is "ok", "error" or "skipped".
func (m *Metrics) ObserveGeo(outcome string) {
	if m == nil {
		return
	}
	m.geoLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddRateLimitWaits(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rateLimitWaits.Add(float64(n))
}
