// Package metrics exposes driver loop events as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
)

const namespace = "hermes"

// Collector implements driver.Observer.
type Collector struct {
	mu sync.Mutex

	sentTotal       *prometheus.CounterVec
	receivedTotal   *prometheus.CounterVec
	processedTotal  *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	ackFailures     *prometheus.CounterVec
	receiveFailures *prometheus.CounterVec
	stopsTotal      *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

var _ driver.Observer = (*Collector)(nil)

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a collector; nil registers with the default registerer.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Collector{
		registerer:      registerer,
		sentTotal:       newCounterVec("messages_sent_total", "Messages submitted to a driver", "driver", "type", "priority", "result"),
		receivedTotal:   newCounterVec("messages_received_total", "Deliveries taken from a driver", "driver", "priority"),
		processedTotal:  newCounterVec("messages_processed_total", "Messages handed to handlers", "driver", "type", "result"),
		ackFailures:     newCounterVec("ack_failures_total", "Deliveries that could not be acknowledged", "driver"),
		receiveFailures: newCounterVec("receive_failures_total", "Failed receive calls", "driver"),
		stopsTotal:      newCounterVec("loop_stops_total", "Wait loop exits by reason", "driver", "reason"),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_processing_seconds",
				Help:      "Handler duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"driver", "type"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}
	for _, col := range c.collectors() {
		if err := c.registerer.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	c.registered = true
	return nil
}

// Unregister removes the collectors again.
func (c *Collector) Unregister() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range c.collectors() {
		c.registerer.Unregister(col)
	}
	c.registered = false
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.sentTotal,
		c.receivedTotal,
		c.processedTotal,
		c.processDuration,
		c.ackFailures,
		c.receiveFailures,
		c.stopsTotal,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) MessageSent(drv, messageType string, priority driver.Priority, err error) {
	c.sentTotal.WithLabelValues(drv, messageType, priority.String(), result(err)).Inc()
}

func (c *Collector) MessageReceived(drv string, priority driver.Priority) {
	c.receivedTotal.WithLabelValues(drv, priority.String()).Inc()
}

func (c *Collector) MessageProcessed(drv, messageType string, duration time.Duration, err error) {
	c.processedTotal.WithLabelValues(drv, messageType, result(err)).Inc()
	c.processDuration.WithLabelValues(drv, messageType).Observe(duration.Seconds())
}

func (c *Collector) AckFailed(drv string, _ error) {
	c.ackFailures.WithLabelValues(drv).Inc()
}

func (c *Collector) ReceiveFailed(drv string, _ error) {
	c.receiveFailures.WithLabelValues(drv).Inc()
}

func (c *Collector) LoopStopped(drv string, reason lifecycle.Reason) {
	c.stopsTotal.WithLabelValues(drv, reason.String()).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
