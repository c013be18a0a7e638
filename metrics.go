package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	ProbesTotal            *prometheus.CounterVec   // by state and error kind
	ProbeDuration          *prometheus.HistogramVec // by state
	NotificationsTotal     *prometheus.CounterVec   // by severity
	NotificationsThrottled prometheus.Counter
	ChannelDeliveriesTotal *prometheus.CounterVec // by channel and status
	WebhookAttemptsTotal   *prometheus.CounterVec // by status and retry outcome
	WebhookRetryQueueDepth prometheus.Gauge
	EmailsTotal            *prometheus.CounterVec // by status
	PushStreams            prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmaster_probes_total",
			Help: "Total number of probes by resulting state and error kind",
		}, []string{"state", "error_kind"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pingmaster_probe_duration_seconds",
			Help:    "Probe latency from DNS resolution to the first terminal outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"state"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmaster_notifications_total",
			Help: "Total number of notifications created by severity",
		}, []string{"severity"}),
		NotificationsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingmaster_notifications_throttled_total",
			Help: "Total number of transition events suppressed by the throttle window",
		}),
		ChannelDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmaster_channel_deliveries_total",
			Help: "Total number of channel sends by channel and status",
		}, []string{"channel", "status"}),
		WebhookAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmaster_webhook_attempts_total",
			Help: "Total number of webhook delivery attempts by status and whether a retry was scheduled",
		}, []string{"status", "will_retry"}),
		WebhookRetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingmaster_webhook_retry_queue_depth",
			Help: "Number of webhook deliveries waiting for a retry",
		}),
		EmailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmaster_emails_total",
			Help: "Total number of email tasks by final status",
		}, []string{"status"}),
		PushStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingmaster_push_streams",
			Help: "Number of connected real-time push streams",
		}),
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProbesTotal,
		m.ProbeDuration,
		m.NotificationsTotal,
		m.NotificationsThrottled,
		m.ChannelDeliveriesTotal,
		m.WebhookAttemptsTotal,
		m.WebhookRetryQueueDepth,
		m.EmailsTotal,
		m.PushStreams,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors() {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors() {
		collector.Collect(ch)
	}
}

func (m *Metrics) ObserveProbe(state HealthState, errorKind ErrorKind, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(string(state), string(errorKind)).Inc()
	m.ProbeDuration.WithLabelValues(string(state)).Observe(latency.Seconds())
}

func (m *Metrics) ObserveNotification(severity Severity) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(string(severity)).Inc()
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.NotificationsThrottled.Inc()
}

func (m *Metrics) ObserveChannelDelivery(channel Channel, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ChannelDeliveriesTotal.WithLabelValues(string(channel), status).Inc()
}

func (m *Metrics) ObserveWebhookAttempt(status DeliveryStatus, willRetry bool) {
	if m == nil {
		return
	}
	m.WebhookAttemptsTotal.WithLabelValues(string(status), fmt.Sprint(willRetry)).Inc()
}

func (m *Metrics) SetRetryQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.WebhookRetryQueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveEmail(status string) {
	if m == nil {
		return
	}
	m.EmailsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddPushStreams(delta int) {
	if m == nil {
		return
	}
	m.PushStreams.Add(float64(delta))
}
