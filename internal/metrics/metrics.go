package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// States lists the connection states exported by the state gauge.
var States = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Metrics holds the calltracker collectors.
type Metrics struct {
	namespace   string
	registry    prometheus.Registerer
	constLabels prometheus.Labels
	buckets     []float64

	// Stream
	connectionState *prometheus.GaugeVec
	connects        prometheus.Counter
	reconnects      prometheus.Counter
	reconnectDelay  prometheus.Histogram
	messages        *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	serverErrors    prometheus.Counter
	visibleCalls    prometheus.Gauge

	// Seed
	seedRuns     *prometheus.CounterVec
	seedCalls    prometheus.Gauge
	seedDuration prometheus.Histogram

	// Archive
	archiveRows     prometheus.Counter
	archiveFlushes  *prometheus.CounterVec
	archiveDuration prometheus.Histogram
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace: "calltracker",
		registry:  prometheus.DefaultRegisterer,
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)

	m.connectionState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "connection_state",
		Help:        "1 for the current connection state, 0 otherwise",
		ConstLabels: m.constLabels,
	}, []string{"state"})
	m.connects = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "connects_total",
		Help:        "Successful stream connections",
		ConstLabels: m.constLabels,
	})
	m.reconnects = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "reconnects_scheduled_total",
		Help:        "Reconnect attempts scheduled after a transport failure",
		ConstLabels: m.constLabels,
	})
	m.reconnectDelay = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "reconnect_delay_seconds",
		Help:        "Backoff delay before each scheduled reconnect",
		Buckets:     []float64{1, 2, 4, 8, 16, 32, 64},
		ConstLabels: m.constLabels,
	})
	m.messages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "messages_total",
		Help:        "Inbound stream messages by type",
		ConstLabels: m.constLabels,
	}, []string{"type"})
	m.decodeFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "decode_failures_total",
		Help:        "Inbound frames that could not be decoded",
		ConstLabels: m.constLabels,
	})
	m.serverErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "server_errors_total",
		Help:        "Error messages reported by the server",
		ConstLabels: m.constLabels,
	})
	m.visibleCalls = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "stream",
		Name:        "visible_calls",
		Help:        "Calls in the visible set after the last merge",
		ConstLabels: m.constLabels,
	})

	m.seedRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "seed",
		Name:        "runs_total",
		Help:        "REST seed runs by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})
	m.seedCalls = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "seed",
		Name:        "calls",
		Help:        "Calls fetched by the last successful seed",
		ConstLabels: m.constLabels,
	})
	m.seedDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "seed",
		Name:        "duration_seconds",
		Help:        "Duration of successful seed runs",
		Buckets:     m.buckets,
		ConstLabels: m.constLabels,
	})

	m.archiveRows = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "archive",
		Name:        "rows_total",
		Help:        "Rows sent to the archive table",
		ConstLabels: m.constLabels,
	})
	m.archiveFlushes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "archive",
		Name:        "flushes_total",
		Help:        "Archive batch flushes by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})
	m.archiveDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "archive",
		Name:        "flush_duration_seconds",
		Help:        "Duration of successful archive flushes",
		Buckets:     m.buckets,
		ConstLabels: m.constLabels,
	})

	for _, s := range States {
		m.connectionState.WithLabelValues(s).Set(0)
	}

	return m
}

// ConnectionState marks state as the current connection state.
func (m *Metrics) ConnectionState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// Connected counts a successful connection.
func (m *Metrics) Connected() {
	m.connects.Inc()
}

// ReconnectScheduled counts a scheduled reconnect and its delay.
func (m *Metrics) ReconnectScheduled(delay time.Duration) {
	m.reconnects.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(msgType string) {
	m.messages.WithLabelValues(msgType).Inc()
}

// DecodeFailed counts an undecodable frame.
func (m *Metrics) DecodeFailed() {
	m.decodeFailures.Inc()
}

// ServerError counts a server error message.
func (m *Metrics) ServerError() {
	m.serverErrors.Inc()
}

// VisibleCalls sets the visible set size.
func (m *Metrics) VisibleCalls(n int) {
	m.visibleCalls.Set(float64(n))
}

// SeedCompleted records a successful seed.
func (m *Metrics) SeedCompleted(calls int, d time.Duration) {
	m.seedRuns.WithLabelValues("ok").Inc()
	m.seedCalls.Set(float64(calls))
	m.seedDuration.Observe(d.Seconds())
}

// SeedFailed records a failed seed.
func (m *Metrics) SeedFailed() {
	m.seedRuns.WithLabelValues("error").Inc()
}

// ArchiveFlushed records a successful archive flush.
func (m *Metrics) ArchiveFlushed(rows int, d time.Duration) {
	m.archiveRows.Add(float64(rows))
	m.archiveFlushes.WithLabelValues("ok").Inc()
	m.archiveDuration.Observe(d.Seconds())
}

// ArchiveFailed records a failed archive flush.
func (m *Metrics) ArchiveFailed() {
	m.archiveFlushes.WithLabelValues("error").Inc()
}
