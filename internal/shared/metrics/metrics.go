package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Admission metrics
	AdmissionResultsTotal *prometheus.CounterVec
	ProbeDuration         *prometheus.HistogramVec
	UploadBytesTotal      *prometheus.CounterVec

	// Transcription metrics
	TranscriptionJobsTotal *prometheus.CounterVec
	TranscriptionPolls     *prometheus.CounterVec
	TranscriptionLatency   prometheus.Histogram

	// Question answering metrics
	AssistantRequestsTotal *prometheus.CounterVec
	AssistantLatency       prometheus.Histogram

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec

	// Subscription metrics
	SubscriptionChangesTotal *prometheus.CounterVec
}

// New creates metrics registered on the default Prometheus registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		AdmissionResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_results_total",
				Help: "Upload admission outcomes by tier",
			},
			[]string{"tier", "result"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_probe_duration_seconds",
				Help:    "Time spent probing media duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"media_type"},
		),
		UploadBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_bytes_total",
				Help: "Bytes accepted into object storage",
			},
			[]string{"media_type"},
		),

		TranscriptionJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcription_jobs_total",
				Help: "Transcription jobs by lifecycle status",
			},
			[]string{"status"},
		),
		TranscriptionPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcription_polls_total",
				Help: "Transcription status polls by observed state",
			},
			[]string{"state"},
		),
		TranscriptionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transcription_latency_seconds",
				Help:    "Time from job start to terminal state",
				Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600, 7200, 14400},
			},
		),

		AssistantRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_requests_total",
				Help: "Question answering requests by outcome",
			},
			[]string{"status"},
		),
		AssistantLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_latency_seconds",
				Help:    "Language model completion latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),

		SubscriptionChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_changes_total",
				Help: "Subscription tier changes applied",
			},
			[]string{"tier", "active"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordAdmission counts one validator outcome. result is "accepted" or a rejection reason.
func (m *Metrics) RecordAdmission(tier, result string) {
	m.AdmissionResultsTotal.WithLabelValues(tier, result).Inc()
}

// RecordProbe records how long a duration probe took
func (m *Metrics) RecordProbe(mediaType string, duration time.Duration) {
	m.ProbeDuration.WithLabelValues(mediaType).Observe(duration.Seconds())
}

// RecordUpload records bytes written to object storage
func (m *Metrics) RecordUpload(mediaType string, bytes int64) {
	m.UploadBytesTotal.WithLabelValues(mediaType).Add(float64(bytes))
}

// RecordTranscriptionStarted records a started transcription job
func (m *Metrics) RecordTranscriptionStarted() {
	m.TranscriptionJobsTotal.WithLabelValues("started").Inc()
}

// RecordTranscriptionPoll records one status poll
func (m *Metrics) RecordTranscriptionPoll(state string) {
	m.TranscriptionPolls.WithLabelValues(state).Inc()
}

// RecordTranscriptionFinished records a terminal job state and its total latency
func (m *Metrics) RecordTranscriptionFinished(status string, latency time.Duration) {
	m.TranscriptionJobsTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		m.TranscriptionLatency.Observe(latency.Seconds())
	}
}

// RecordAssistantRequest records one completion call
func (m *Metrics) RecordAssistantRequest(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.AssistantRequestsTotal.WithLabelValues(status).Inc()
	m.AssistantLatency.Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordSubscriptionChange records a tier update
func (m *Metrics) RecordSubscriptionChange(tier string, active bool) {
	a := "false"
	if active {
		a = "true"
	}
	m.SubscriptionChangesTotal.WithLabelValues(tier, a).Inc()
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
