package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "settlements",
			Name:      "attempts_total",
			Help:      "Total number of settlement attempts by terminal outcome.",
		},
		[]string{"outcome"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_layer",
			Subsystem: "settlements",
			Name:      "duration_seconds",
			Help:      "Duration of settlement attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3m
		},
		[]string{"outcome"},
	)

	ledgerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Total number of signed transaction broadcasts.",
		},
		[]string{"kind", "success"},
	)

	burnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "settlements",
			Name:      "burn_failures_total",
			Help:      "Settlements that completed with a failed compensating burn.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		settlements,
		settlementDuration,
		ledgerSubmissions,
		burnFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSettlement records one settlement attempt by terminal outcome.
func RecordSettlement(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	settlements.WithLabelValues(outcome).Inc()
	settlementDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLedgerSubmission records one signed broadcast by call kind.
func RecordLedgerSubmission(kind string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	ledgerSubmissions.WithLabelValues(kind, result).Inc()
}

// RecordBurnFailure records a settlement that succeeded with a failed burn.
func RecordBurnFailure() {
	burnFailures.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "vaults":
		if len(parts) == 1 {
			return "/vaults"
		}
		if len(parts) == 2 {
			return "/vaults/:member"
		}
		return "/vaults/:member/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
