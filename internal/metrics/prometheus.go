package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pbx-monitor/internal/runstatus"
)

var sessionStates = []string{"disconnected", "connecting", "subscription_sent", "streaming", "closing"}

// PrometheusCollector implements Recorder backed by Prometheus.
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	healthy          prometheus.Gauge
	sessionState     *prometheus.GaugeVec
	sessions         prometheus.Counter
	reconnects       prometheus.Counter
	reconnectDelay   prometheus.Histogram
	heartbeatsSent   prometheus.Counter
	heartbeatAcks    prometheus.Counter
	frames           *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	events           *prometheus.CounterVec
	renewals         *prometheus.CounterVec
	credentialIssued prometheus.Gauge
	forwarded        *prometheus.CounterVec
}

var _ Recorder = (*PrometheusCollector)(nil)

// NewPrometheus registers the monitor metrics with reg. A nil reg gets a
// fresh private registry.
func NewPrometheus(reg *prometheus.Registry, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "pbx_monitor"
	}
	p := &PrometheusCollector{
		gatherer: reg,
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_healthy",
			Help:      "1 while the event stream is delivering, 0 otherwise.",
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "session_state",
			Help:      "Current stream session state (1 for the active state).",
		}, []string{"state"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Stream sessions started.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after a session ended.",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat frames written.",
		}),
		heartbeatAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeat_acks_total",
			Help:      "Heartbeat acknowledgments received.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Inbound frames by kind (envelope, heartbeat_ack, malformed).",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "decode_errors_total",
			Help:      "Frames or inner records that could not be decoded.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Decoded events by result (matched, dropped).",
		}, []string{"result"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "renewals_total",
			Help:      "Credential issuances by result (success, failure).",
		}, []string{"result"}),
		credentialIssued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "issued_timestamp_seconds",
			Help:      "Unix time the current credential was issued.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by result (success, failure, dropped).",
		}, []string{"result"}),
	}
	reg.MustRegister(
		p.healthy,
		p.sessionState,
		p.sessions,
		p.reconnects,
		p.reconnectDelay,
		p.heartbeatsSent,
		p.heartbeatAcks,
		p.frames,
		p.decodeErrors,
		p.events,
		p.renewals,
		p.credentialIssued,
		p.forwarded,
	)
	p.SetSessionState("disconnected")
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) SetStatus(status string) {
	if runstatus.Healthy(status) {
		p.healthy.Set(1)
		return
	}
	p.healthy.Set(0)
}

func (p *PrometheusCollector) SetSessionState(state string) {
	for _, known := range sessionStates {
		value := 0.0
		if known == state {
			value = 1
		}
		p.sessionState.WithLabelValues(known).Set(value)
	}
}

func (p *PrometheusCollector) IncSessions() {
	p.sessions.Inc()
}

func (p *PrometheusCollector) IncReconnects(delay time.Duration) {
	p.reconnects.Inc()
	p.reconnectDelay.Observe(delay.Seconds())
}

func (p *PrometheusCollector) IncHeartbeatsSent() {
	p.heartbeatsSent.Inc()
}

func (p *PrometheusCollector) IncHeartbeatAcks() {
	p.heartbeatAcks.Inc()
}

func (p *PrometheusCollector) IncFrames(kind string) {
	p.frames.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) IncDecodeErrors() {
	p.decodeErrors.Inc()
}

func (p *PrometheusCollector) IncEvents(result string) {
	p.events.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) IncRenewals(result string) {
	p.renewals.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) SetCredentialIssuedAt(t time.Time) {
	if t.IsZero() {
		return
	}
	p.credentialIssued.Set(float64(t.Unix()))
}

func (p *PrometheusCollector) IncForwarded(result string) {
	p.forwarded.WithLabelValues(result).Inc()
}
