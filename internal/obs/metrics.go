package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by source, action and outcome.",
		},
		[]string{"source", "action", "outcome"},
	)

	tenantBypass = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_scope_bypass_total",
		Help: "Cross-tenant escape hatch activations.",
	})

	tenantContextMissing = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_context_missing_total",
		Help: "Scoped operations rejected because no tenant context was bound.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		authzDecisions,
		tenantBypass,
		tenantContextMissing,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision counts one permission resolution outcome.
func RecordDecision(source, action string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(source, action, outcome).Inc()
}

// RecordTenantBypass counts an escape hatch activation.
func RecordTenantBypass() { tenantBypass.Inc() }

// RecordContextMissing counts a scoped operation rejected for lack of context.
func RecordContextMissing() { tenantContextMissing.Inc() }

// CanonicalPath collapses identifier segments so metric labels stay bounded.
// Unknown routes pass through unchanged; the router 404s them anyway.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	seg := strings.Split(strings.Trim(p, "/"), "/")
	if len(seg) < 3 || seg[0] != "v1" {
		return p
	}
	switch seg[1] {
	case "orders", "users":
		seg[2] = ":id"
		if len(seg) == 5 && seg[3] == "assignments" {
			seg[4] = ":roleID"
		}
	case "groups":
		seg[2] = ":name"
	case "permissions":
		seg[2] = ":source"
		if len(seg) >= 4 {
			seg[3] = ":action"
		}
	default:
		return p
	}
	return "/" + strings.Join(seg, "/")
}

// Instrument wraps a handler with request count, latency and in-flight gauges.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
