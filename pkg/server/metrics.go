package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command dispatch outcomes used as the result label
const (
	resultOK             = "ok"
	resultUnknown        = "unknown"
	resultUnregistered   = "unregistered"
	resultNeedMoreParams = "needmoreparams"
)

// Metrics holds the prometheus collectors of one server. Each server owns its
// own registry so several servers can live in one process (tests do this).
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  *prometheus.CounterVec
	disconnectsTotal  *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	linesReceived     prometheus.Counter
	linesSent         prometheus.Counter
	sendqDrops        prometheus.Counter
	oversizedLines    prometheus.Counter
	activeClients     prometheus.Gauge
	registeredClients prometheus.Gauge
	channels          prometheus.Gauge
	batchSize         prometheus.Histogram
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircrelay_connections_total",
			Help: "Accepted connections by transport",
		}, []string{"transport"}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircrelay_disconnects_total",
			Help: "Disconnected clients by cause",
		}, []string{"cause"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircrelay_commands_total",
			Help: "Dispatched commands by name and outcome",
		}, []string{"command", "result"}),
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircrelay_lines_received_total",
			Help: "Complete lines read from clients",
		}),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircrelay_lines_sent_total",
			Help: "Lines queued for delivery to clients",
		}),
		sendqDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircrelay_sendq_drops_total",
			Help: "Lines refused because a client's send queue was full",
		}),
		oversizedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircrelay_oversized_lines_total",
			Help: "Input lines dropped for exceeding the line limit",
		}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ircrelay_clients",
			Help: "Connected clients",
		}),
		registeredClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ircrelay_registered_clients",
			Help: "Connected clients that completed registration",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ircrelay_channels",
			Help: "Channels with at least one member",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ircrelay_event_batch_size",
			Help:    "Events handled per event loop pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}

	m.registry.MustRegister(
		m.connectionsTotal,
		m.disconnectsTotal,
		m.commandsTotal,
		m.linesReceived,
		m.linesSent,
		m.sendqDrops,
		m.oversizedLines,
		m.activeClients,
		m.registeredClients,
		m.channels,
		m.batchSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordConnection(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordDisconnect(cause string) {
	m.disconnectsTotal.WithLabelValues(cause).Inc()
}

// RecordCommand counts one dispatch. Unknown command names are folded into a
// single label value to keep cardinality bounded.
func (m *Metrics) RecordCommand(command, result string) {
	if result == resultUnknown {
		command = "unknown"
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

func (m *Metrics) RecordMessageReceived() {
	m.linesReceived.Inc()
}

func (m *Metrics) RecordMessageSent() {
	m.linesSent.Inc()
}

func (m *Metrics) RecordSendQDrop() {
	m.sendqDrops.Inc()
}

func (m *Metrics) RecordOversizedLine() {
	m.oversizedLines.Inc()
}

func (m *Metrics) RecordBatch(size int) {
	m.batchSize.Observe(float64(size))
}

// SetCounts publishes the registry sizes. Only the event loop calls this.
func (m *Metrics) SetCounts(clients, registered, channels int) {
	m.activeClients.Set(float64(clients))
	m.registeredClients.Set(float64(registered))
	m.channels.Set(float64(channels))
}
