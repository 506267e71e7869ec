// Package metrics provides Prometheus metrics for the voice client
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the voice client. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Backend request metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Conversation metrics
	TurnsTotal    *prometheus.CounterVec
	MessagesTotal *prometheus.CounterVec

	// Audio metrics
	PlaybackLoadsTotal *prometheus.CounterVec
	RecordingsTotal    *prometheus.CounterVec

	// Companion server metrics
	HubClients prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.BackendRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceclient_backend_requests_total",
			Help: "Total number of requests sent to the assistant backend",
		},
		[]string{"endpoint", "status"},
	)

	m.BackendRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceclient_backend_request_duration_seconds",
			Help:    "Duration of assistant backend requests in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceclient_turns_total",
			Help: "Total number of conversation turns by input type and result",
		},
		[]string{"input", "result"},
	)

	m.MessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceclient_messages_total",
			Help: "Total number of messages appended to the conversation log",
		},
		[]string{"type"},
	)

	m.PlaybackLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceclient_playback_loads_total",
			Help: "Total number of playback source loads by result",
		},
		[]string{"result"},
	)

	m.RecordingsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceclient_recordings_total",
			Help: "Total number of finished recordings by result",
		},
		[]string{"result"},
	)

	m.HubClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "voiceclient_hub_clients",
			Help: "Number of connected event stream clients",
		},
	)

	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordBackendRequest records a backend request. status is the HTTP status
// code, or 0 when no response was received.
func (m *Metrics) RecordBackendRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTurn records the outcome of a conversation turn
func (m *Metrics) RecordTurn(input string, err error) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(input, result(err)).Inc()
}

// RecordMessage records an appended message
func (m *Metrics) RecordMessage(messageType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordPlaybackLoad records the outcome of a playback load
func (m *Metrics) RecordPlaybackLoad(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackLoadsTotal.WithLabelValues(outcome).Inc()
}

// RecordRecording records a finished recording
func (m *Metrics) RecordRecording(err error) {
	if m == nil {
		return
	}
	m.RecordingsTotal.WithLabelValues(result(err)).Inc()
}

// SetHubClients updates the connected client gauge
func (m *Metrics) SetHubClients(n int) {
	if m == nil {
		return
	}
	m.HubClients.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusClass collapses a status code into 2xx, 4xx, ... or "error"
func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
