package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of a capture process. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Audio
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	BytesSent     prometheus.Counter

	// Backend messages
	MessagesReceived *prometheus.CounterVec
	ParseErrors      prometheus.Counter

	// Sessions
	SessionsStarted    prometheus.Counter
	ConnectionFailures prometheus.Counter
	SessionStatus      *prometheus.GaugeVec
	Capturing          prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_audio_frames_sent_total",
			Help: "Total number of audio frames sent to the backend",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_audio_frames_dropped_total",
			Help: "Total number of audio frames dropped because the channel was not open",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_audio_bytes_sent_total",
			Help: "Total number of PCM bytes sent to the backend",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabscribe_backend_messages_total",
			Help: "Total number of backend messages received by type",
		}, []string{"type"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_backend_parse_errors_total",
			Help: "Total number of backend messages that could not be parsed",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		ConnectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabscribe_connection_failures_total",
			Help: "Total number of sessions ended by a capture or connection failure",
		}),
		SessionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tabscribe_session_status",
			Help: "1 for the current session status, 0 otherwise",
		}, []string{"status"}),
		Capturing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tabscribe_capturing",
			Help: "1 while a session is active",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
	}
}

// RecordAudioSent counts one sent frame of n bytes.
func (m *Metrics) RecordAudioSent(n int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordConnectionFailure() {
	if m == nil {
		return
	}
	m.ConnectionFailures.Inc()
}

// SetStatus marks status as the current one out of all.
func (m *Metrics) SetStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.SessionStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetCapturing(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Capturing.Set(1)
	} else {
		m.Capturing.Set(0)
	}
}

func (m *Metrics) RecordHTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
}
