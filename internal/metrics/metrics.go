package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the service counters. A nil Collector is valid and
// drops every observation, which keeps test wiring small.
type Collector struct {
	registry *prometheus.Registry

	messagesConsumed  *prometheus.CounterVec
	messagesAcked     *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
	reconnects        prometheus.Counter
	notificationsSent prometheus.Counter
	refreshCycles     *prometheus.CounterVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		registry: registry,
		messagesConsumed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "notify_queue_messages_consumed_total",
			Help: "Messages delivered from the broker, by queue",
		}, []string{"queue"}),
		messagesAcked: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "notify_queue_messages_acked_total",
			Help: "Deliveries acknowledged, by queue",
		}, []string{"queue"}),
		handlerErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "notify_queue_handler_errors_total",
			Help: "Handler failures, by queue",
		}, []string{"queue"}),
		reconnects: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "notify_queue_reconnects_total",
			Help: "Broker connection attempts after the first",
		}),
		notificationsSent: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "notify_notifications_sent_total",
			Help: "Notification emails handed to the mail pool",
		}),
		refreshCycles: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "notify_currency_refresh_cycles_total",
			Help: "Currency refresh cycles, by outcome",
		}, []string{"status"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) MessageConsumed(queue string) {
	if c != nil {
		c.messagesConsumed.WithLabelValues(queue).Inc()
	}
}

func (c *Collector) MessageAcked(queue string) {
	if c != nil {
		c.messagesAcked.WithLabelValues(queue).Inc()
	}
}

func (c *Collector) HandlerError(queue string) {
	if c != nil {
		c.handlerErrors.WithLabelValues(queue).Inc()
	}
}

func (c *Collector) Reconnect() {
	if c != nil {
		c.reconnects.Inc()
	}
}

func (c *Collector) NotificationSent() {
	if c != nil {
		c.notificationsSent.Inc()
	}
}

func (c *Collector) RefreshCycle(status string) {
	if c != nil {
		c.refreshCycles.WithLabelValues(status).Inc()
	}
}
