package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// Prometheus collectors, shared across every flow's metrics instance and
// distinguished by the "flow"/"destination" labels. Registered once at
// package init so a flow's repeated restarts don't attempt re-registration.
var (
	promMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcengine_flow_messages_received_total",
		Help: "Change events received from the source connector.",
	}, []string{"flow"})
	promRecordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcengine_flow_records_processed_total",
		Help: "Change events handed to the fan-out writer, whatever the write outcome.",
	}, []string{"flow"})
	promErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcengine_flow_errors_total",
		Help: "Batches that errored while being written to a destination.",
	}, []string{"flow"})
	promWritesOK = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcengine_flow_writes_ok_total",
		Help: "Records acknowledged by a destination.",
	}, []string{"flow", "destination"})
	promWritesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcengine_flow_writes_failed_total",
		Help: "Records a destination failed to write after exhausting retries.",
	}, []string{"flow", "destination"})
)

func init() {
	prometheus.MustRegister(promMessagesReceived, promRecordsProcessed, promErrors, promWritesOK, promWritesFailed)
}

// metrics holds the live, mutable counters behind a FlowMetrics snapshot.
// Cleared only on supervisor recreation (restart), never on pause/resume,
// per spec §3. The same counts are mirrored into the package's Prometheus
// vectors, which are cumulative across restarts since Prometheus counters
// must never go backwards.
type metrics struct {
	flowName         string
	messagesReceived int64
	recordsProcessed int64
	errors           int64
	startedAt        atomic.Value // time.Time

	destMu sync.RWMutex
	dest   map[string]*destCounters
}

type destCounters struct {
	writesOK     int64
	writesFailed int64
}

func newMetrics(flowName string, destNames []string) *metrics {
	m := &metrics{flowName: flowName, dest: make(map[string]*destCounters, len(destNames))}
	for _, n := range destNames {
		m.dest[n] = &destCounters{}
	}
	m.startedAt.Store(time.Time{})
	return m
}

func (m *metrics) markStarted() { m.startedAt.Store(time.Now().UTC()) }

func (m *metrics) addMessagesReceived(n int64) {
	atomic.AddInt64(&m.messagesReceived, n)
	promMessagesReceived.WithLabelValues(m.flowName).Add(float64(n))
}

func (m *metrics) addRecordsProcessed(n int64) {
	atomic.AddInt64(&m.recordsProcessed, n)
	promRecordsProcessed.WithLabelValues(m.flowName).Add(float64(n))
}

func (m *metrics) addErrors(n int64) {
	atomic.AddInt64(&m.errors, n)
	promErrors.WithLabelValues(m.flowName).Add(float64(n))
}

func (m *metrics) addWritesOK(dest string, n int64) {
	m.destMu.RLock()
	c, ok := m.dest[dest]
	m.destMu.RUnlock()
	if ok {
		atomic.AddInt64(&c.writesOK, n)
		promWritesOK.WithLabelValues(m.flowName, dest).Add(float64(n))
	}
}

func (m *metrics) addWritesFailed(dest string, n int64) {
	m.destMu.RLock()
	c, ok := m.dest[dest]
	m.destMu.RUnlock()
	if ok {
		atomic.AddInt64(&c.writesFailed, n)
		promWritesFailed.WithLabelValues(m.flowName, dest).Add(float64(n))
	}
}

func (m *metrics) snapshot(flowName string) event.FlowMetrics {
	start, _ := m.startedAt.Load().(time.Time)
	var uptime float64
	if !start.IsZero() {
		uptime = time.Since(start).Seconds()
	}

	m.destMu.RLock()
	dests := make([]event.DestinationMetrics, 0, len(m.dest))
	for name, c := range m.dest {
		dests = append(dests, event.DestinationMetrics{
			Name:         name,
			WritesOK:     atomic.LoadInt64(&c.writesOK),
			WritesFailed: atomic.LoadInt64(&c.writesFailed),
		})
	}
	m.destMu.RUnlock()

	return event.FlowMetrics{
		FlowName:         flowName,
		MessagesReceived: atomic.LoadInt64(&m.messagesReceived),
		RecordsProcessed: atomic.LoadInt64(&m.recordsProcessed),
		Errors:           atomic.LoadInt64(&m.errors),
		StartedAt:        start,
		UptimeSeconds:    uptime,
		Destinations:     dests,
	}
}
