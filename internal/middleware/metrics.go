package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus collectors for the HTTP surface.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	bans     prometheus.Counter
	limited  prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(service string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total HTTP requests by method, route and status.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Requests currently being served.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		bans: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "abuse_bans_total",
			Help:        "Requests rejected by the IP ban service.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "abuse_rate_limited_total",
			Help:        "Requests rejected by the rate limiter.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight, m.bans, m.limited)
	return m
}

// CountBan records a ban rejection.
func (m *Metrics) CountBan() { m.bans.Inc() }

// CountRateLimited records a quota rejection.
func (m *Metrics) CountRateLimited() { m.limited.Inc() }

// Handler returns the metrics middleware. The mux route template is
// preferred over the raw path to keep label cardinality bounded.
func (m *Metrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		wrapped := newStatusWriter(w)
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.Status())).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
