package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_users",
			Help: "Current number of waiting users per queue",
		},
		[]string{"queue_id"},
	)

	activeQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_active_total",
			Help: "Number of queues held in memory",
		},
	)

	knownUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_known_users_total",
			Help: "Number of user records held in memory",
		},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total dispatched actions",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_operation_duration_seconds",
			Help:    "Time spent handling an action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	fanoutRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_fanout_recipients",
			Help:    "Users notified per committed change",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_connected_clients",
			Help: "Open websocket connections",
		},
	)

	droppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_dropped_clients_total",
			Help: "Connections closed because their outbox was full",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// Stats is a point-in-time summary of engine state.
type Stats struct {
	Queues  int
	Users   int
	Waiting map[string]int
}

type StatsSource interface {
	Stats() Stats
}

type Monitor struct {
	source   StatsSource
	interval time.Duration
	seen     map[string]struct{}
}

func NewMonitor(source StatsSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{source: source, interval: interval, seen: map[string]struct{}{}}
}

// Run collects gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}

func (m *Monitor) Collect() {
	st := m.source.Stats()
	activeQueues.Set(float64(st.Queues))
	knownUsers.Set(float64(st.Users))

	for id := range m.seen {
		if _, ok := st.Waiting[id]; !ok {
			queueLength.DeleteLabelValues(id)
			delete(m.seen, id)
		}
	}
	for id, n := range st.Waiting {
		queueLength.WithLabelValues(id).Set(float64(n))
		m.seen[id] = struct{}{}
	}

	goroutineCount.Set(float64(runtime.NumGoroutine()))
	slog.Debug("Collected metrics", "queues", st.Queues, "users", st.Users)
}

// Track queue operations
func TrackQueueOperation(operation, status string, duration time.Duration) {
	queueOperations.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func ObserveFanout(recipients int) {
	fanoutRecipients.Observe(float64(recipients))
}

func ClientConnected()    { connectedClients.Inc() }
func ClientDisconnected() { connectedClients.Dec() }

func ClientDropped() { droppedClients.Inc() }
