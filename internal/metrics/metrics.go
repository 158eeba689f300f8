package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmchat_http_requests_total",
		Help: "Total HTTP requests processed by the API",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmchat_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llmchat_completion_streams_active",
		Help: "Completion streams currently open",
	})

	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmchat_completion_streams_total",
		Help: "Completion streams finished grouped by mode and terminal status",
	}, []string{"mode", "status"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmchat_completion_stream_duration_seconds",
		Help:    "Wall time of completion streams from open to close",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmchat_completion_heartbeats_total",
		Help: "Heartbeat comment frames written to completion streams",
	})

	creditDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmchat_credit_denials_total",
		Help: "Completion requests rejected for exhausted daily credits",
	}, []string{"tier"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency by chi route pattern so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// StreamOpened marks a completion stream open and returns the function
// that records its outcome.
func StreamOpened(mode string) func(status string) {
	if mode == "" {
		mode = "unknown"
	}
	start := time.Now()
	activeStreams.Inc()
	return func(status string) {
		if status == "" {
			status = "unknown"
		}
		activeStreams.Dec()
		streamsTotal.WithLabelValues(mode, status).Inc()
		streamDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

func ObserveHeartbeat() {
	heartbeatsTotal.Inc()
}

func ObserveCreditDenial(authenticated bool) {
	tier := "anonymous"
	if authenticated {
		tier = "authenticated"
	}
	creditDenialsTotal.WithLabelValues(tier).Inc()
}
