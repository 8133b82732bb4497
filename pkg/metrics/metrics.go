// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks dev server HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total dev server HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks reply generation duration on the dev server.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	// ConversationsTotal tracks conversations created on the dev server.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks messages stored on the dev server.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages stored",
		},
		[]string{"role"},
	)

	// StreamsActive tracks open NDJSON response streams on the dev server.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "server_streams_active",
			Help: "Number of open reply streams",
		},
	)

	// ClientSendsTotal tracks exchanges started by the client.
	ClientSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_sends_total",
			Help: "Total exchanges by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// ClientSendDuration tracks how long an exchange took end to end.
	ClientSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "client_send_duration_seconds",
			Help:    "Exchange duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	// ClientStreamsActive tracks streamed exchanges in flight.
	ClientStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "client_streams_active",
			Help: "Number of streamed exchanges in flight",
		},
	)

	// StreamEventsTotal tracks decoded stream events by kind.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_stream_events_total",
			Help: "Decoded stream events by type",
		},
		[]string{"type"},
	)

	// DecodeErrorsTotal tracks dropped stream lines by reason.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_decode_errors_total",
			Help: "Stream lines dropped as soft decode errors",
		},
		[]string{"reason"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for a generated reply.
func RecordLLMStream(provider, status string, duration float64) {
	LLMStreamDuration.WithLabelValues(provider, status).Observe(duration)
}

// RecordSend records the outcome of a client exchange.
func RecordSend(mode, outcome string, duration float64) {
	ClientSendsTotal.WithLabelValues(mode, outcome).Inc()
	ClientSendDuration.WithLabelValues(mode).Observe(duration)
}

// RecordStreamEvent counts one decoded event.
func RecordStreamEvent(eventType string) {
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDecodeError counts one dropped line.
func RecordDecodeError(reason string) {
	DecodeErrorsTotal.WithLabelValues(reason).Inc()
}
