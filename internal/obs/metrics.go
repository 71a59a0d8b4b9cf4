package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerOnce sync.Once

// HTTP metrics
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Domain metrics
var (
	delegatedCredentialsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegated_credentials_built_total",
			Help: "Delegated credentials synthesized from workspace delegations.",
		},
		[]string{"platform", "capability"},
	)

	csrfRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_rejections_total",
			Help: "Requests rejected by CSRF verification.",
		},
		[]string{"reason"},
	)

	internalNotesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "internal_notes_created_total",
			Help: "Booking internal notes persisted.",
		},
		[]string{"kind"},
	)
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			delegatedCredentialsBuilt, csrfRejections, internalNotesCreated,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// DelegatedCredentialBuilt counts one synthesized credential.
func DelegatedCredentialBuilt(platform, capability string) {
	delegatedCredentialsBuilt.WithLabelValues(platform, capability).Inc()
}

// CSRFRejected counts one rejected request.
func CSRFRejected(reason string) {
	csrfRejections.WithLabelValues(reason).Inc()
}

// InternalNoteCreated counts one persisted note ("freeform" or "preset").
func InternalNoteCreated(kind string) {
	internalNotesCreated.WithLabelValues(kind).Inc()
}

// Instrument measures request count, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses numeric and opaque path segments so label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "bookings":
			if len(parts) == 4 && parts[3] == "internal-notes" {
				return "/v1/bookings/:id/internal-notes"
			}
		case "delegations":
			if len(parts) == 4 && parts[3] == "check" {
				return "/v1/delegations/:id/check"
			}
		case "event-types":
			if len(parts) == 4 && parts[3] == "hosts" {
				return "/v1/event-types/:id/hosts"
			}
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
