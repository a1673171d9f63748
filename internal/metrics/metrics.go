package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama_chat",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ollama_chat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	// Streaming turns by terminal outcome (completed, failed, cancelled).
	StreamTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama_chat",
			Name:      "stream_turns_total",
			Help:      "Streaming turns by outcome",
		},
		[]string{"model", "outcome"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ollama_chat",
			Name:      "active_streams",
			Help:      "Currently active streaming turns",
		},
	)

	FragmentsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama_chat",
			Name:      "fragments_relayed_total",
			Help:      "Content fragments forwarded to callers",
		},
		[]string{"model"},
	)

	FirstFragmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ollama_chat",
			Name:      "first_fragment_seconds",
			Help:      "Time from stream start to the first content fragment",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	TitleGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama_chat",
			Name:      "title_generations_total",
			Help:      "Title generation jobs by outcome",
		},
		[]string{"outcome"},
	)

	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama_chat",
			Name:      "backend_health_checks_total",
			Help:      "Backend health checks by resulting status",
		},
		[]string{"backend", "status"},
	)

	BackendUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ollama_chat",
			Name:      "backend_up",
			Help:      "Backend health (1=online, 0=otherwise)",
		},
		[]string{"backend"},
	)

	BackendLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ollama_chat",
			Name:      "backend_latency_ms",
			Help:      "Last measured backend round trip in milliseconds",
		},
		[]string{"backend"},
	)
)

func RecordRequest(method, route string, status int, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordHealth(backend, status string, latencyMs *int) {
	HealthChecksTotal.WithLabelValues(backend, status).Inc()
	up := 0.0
	if status == "online" {
		up = 1
	}
	BackendUp.WithLabelValues(backend).Set(up)
	if latencyMs != nil {
		BackendLatency.WithLabelValues(backend).Set(float64(*latencyMs))
	}
}
