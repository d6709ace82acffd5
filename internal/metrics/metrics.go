// Package metrics collects Prometheus metrics for the realtime layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the realtime delivery metrics. Create one per process
// with its own registry so tests can instantiate freely.
type Collector struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	framesSent       prometheus.Counter
	deliveryFailures prometheus.Counter
	dispatches       *prometheus.CounterVec
	unknownKinds     prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskflow_ws_connections",
			Help: "Current number of live websocket connections",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ws_frames_sent_total",
			Help: "Total number of frames delivered to clients",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ws_delivery_failures_total",
			Help: "Total number of failed frame deliveries",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_ws_dispatches_total",
			Help: "Total number of dispatched events by kind",
		}, []string{"kind"}),
		unknownKinds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ws_unknown_event_kinds_total",
			Help: "Total number of dispatch calls with an unknown event kind",
		}),
	}
	reg.MustRegister(c.connections, c.framesSent, c.deliveryFailures, c.dispatches, c.unknownKinds)
	return c
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }
func (c *Collector) FrameSent()        { c.framesSent.Inc() }
func (c *Collector) DeliveryFailed()   { c.deliveryFailures.Inc() }

func (c *Collector) Dispatched(kind string) { c.dispatches.WithLabelValues(kind).Inc() }
func (c *Collector) UnknownKind()           { c.unknownKinds.Inc() }

// Handler exposes the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
