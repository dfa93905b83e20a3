// ABOUTME: Prometheus metrics for the inbox gateway
// ABOUTME: Provider calls, read transitions, webhooks, broadcasts, live connections and HTTP requests

package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbox Gateway Metrics
var (
	// Provider (WhatsApp Cloud API) calls
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total WhatsApp API calls",
		},
		[]string{"operation", "status"},
	)

	// Messages moved from unread to read
	MessagesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "readstate",
			Name:      "messages_read_total",
			Help:      "Total inbound messages marked read",
		},
		[]string{"mode"},
	)

	// Conversation status flips from recompute
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "readstate",
			Name:      "status_transitions_total",
			Help:      "Total conversation status changes caused by read-state recompute",
		},
		[]string{"to"},
	)

	// Webhook deliveries
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total webhook items processed",
		},
		[]string{"kind", "status"},
	)

	// Live-update events published
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "events",
			Name:      "broadcasts_total",
			Help:      "Total live-update events published",
		},
		[]string{"event"},
	)

	// Connected websocket clients
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inbox",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently connected websocket clients",
		},
	)

	// HTTP request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProviderCall records a WhatsApp API call outcome
func RecordProviderCall(operation string, err error) {
	ProviderCallsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordMessagesRead records n messages marked read by a single or bulk action
func RecordMessagesRead(mode string, n int) {
	if n <= 0 {
		return
	}
	MessagesReadTotal.WithLabelValues(mode).Add(float64(n))
}

// RecordStatusTransition records a conversation status flip
func RecordStatusTransition(to string) {
	StatusTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordWebhook records a processed webhook item
func RecordWebhook(kind string, err error) {
	WebhooksTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// RecordBroadcast records a published live-update event
func RecordBroadcast(event string) {
	BroadcastsTotal.WithLabelValues(event).Inc()
}

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// statusRecorder captures the response code for RecordRequest.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency labelled by the matched
// ServeMux pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
