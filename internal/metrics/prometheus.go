package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice chat client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Recording session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	RecordingLength  prometheus.Histogram
	AutoStops        prometheus.Counter
	Restarts         prometheus.Counter
	ActiveRecording  prometheus.Gauge

	// Encoder metrics
	EncodedBytes prometheus.Histogram

	// Dispatch metrics
	DispatchRequests  *prometheus.CounterVec
	DispatchSuccesses *prometheus.CounterVec
	DispatchFailures  *prometheus.CounterVec
	DispatchRetries   prometheus.Counter
	DispatchDuration  prometheus.Histogram

	// Narration metrics
	Narrations *prometheus.CounterVec

	// Chat metrics
	HistoryMessages prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Recording session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_sessions_finished_total",
			Help: "Total number of recording sessions finished, by outcome",
		}, []string{"outcome"}),
		RecordingLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_recording_duration_seconds",
			Help:    "Duration of recordings in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		AutoStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_silence_auto_stops_total",
			Help: "Total number of recordings stopped by sustained silence",
		}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_conversation_restarts_total",
			Help: "Total number of conversation mode restarts",
		}),
		ActiveRecording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicechat_recording_active",
			Help: "1 while a recording session is active",
		}),

		// Encoder metrics
		EncodedBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_encoded_wav_bytes",
			Help:    "Size of encoded WAV recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		// Dispatch metrics
		DispatchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_dispatch_requests_total",
			Help: "Total number of messages dispatched, by message type",
		}, []string{"type"}),
		DispatchSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_dispatch_successes_total",
			Help: "Total number of successful dispatches, by reply kind",
		}, []string{"kind"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_dispatch_failures_total",
			Help: "Total number of failed dispatches, by reason",
		}, []string{"reason"}),
		DispatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_dispatch_retries_total",
			Help: "Total number of dispatch retries after transport errors",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_dispatch_duration_seconds",
			Help:    "Duration of dispatches including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}),

		// Narration metrics
		Narrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_narrations_total",
			Help: "Total number of narrated replies, by engine and outcome",
		}, []string{"engine", "outcome"}),

		// Chat metrics
		HistoryMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicechat_history_messages",
			Help: "Current number of messages in chat history",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveRecording.Set(1)
}

// RecordSessionFinished records a finished session and its recording length
func (m *Metrics) RecordSessionFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.RecordingLength.Observe(durationSeconds)
	m.ActiveRecording.Set(0)
}

// RecordPermissionDenied records a session that never acquired the microphone
func (m *Metrics) RecordPermissionDenied() {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues("permission_denied").Inc()
}

// RecordAutoStop increments the silence auto-stop counter
func (m *Metrics) RecordAutoStop() {
	if m == nil {
		return
	}
	m.AutoStops.Inc()
}

// RecordRestart increments the conversation restart counter
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

// RecordEncoded records the size of an encoded recording
func (m *Metrics) RecordEncoded(sizeBytes int) {
	if m == nil {
		return
	}
	m.EncodedBytes.Observe(float64(sizeBytes))
}

// RecordDispatchRequest increments dispatch requests for a message type
func (m *Metrics) RecordDispatchRequest(messageType string) {
	if m == nil {
		return
	}
	m.DispatchRequests.WithLabelValues(messageType).Inc()
}

// RecordDispatchSuccess records a successful dispatch
func (m *Metrics) RecordDispatchSuccess(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DispatchSuccesses.WithLabelValues(kind).Inc()
	m.DispatchDuration.Observe(durationSeconds)
}

// RecordDispatchFailure records a failed dispatch
func (m *Metrics) RecordDispatchFailure(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(reason).Inc()
	m.DispatchDuration.Observe(durationSeconds)
}

// RecordDispatchRetry increments the retry counter
func (m *Metrics) RecordDispatchRetry() {
	if m == nil {
		return
	}
	m.DispatchRetries.Inc()
}

// RecordNarration records a narration attempt
func (m *Metrics) RecordNarration(engine, outcome string) {
	if m == nil {
		return
	}
	m.Narrations.WithLabelValues(engine, outcome).Inc()
}

// SetHistoryMessages sets the current history length
func (m *Metrics) SetHistoryMessages(count int) {
	if m == nil {
		return
	}
	m.HistoryMessages.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
