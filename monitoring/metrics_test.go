package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fixedStats Stats

func (f fixedStats) Stats() Stats { return Stats(f) }

func TestMonitor_Collect(t *testing.T) {
	m := NewMonitor(fixedStats{Queues: 2, Users: 5, Waiting: map[string]int{"Q1": 3, "Q2": 0}}, time.Second)

	m.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(activeQueues))
	assert.Equal(t, 5.0, testutil.ToFloat64(knownUsers))
	assert.Equal(t, 3.0, testutil.ToFloat64(queueLength.WithLabelValues("Q1")))
}

func TestMonitor_CollectForgetsDeletedQueues(t *testing.T) {
	m := NewMonitor(fixedStats{Queues: 1, Waiting: map[string]int{"GONE": 4}}, time.Second)
	m.Collect()

	m.source = fixedStats{Queues: 0, Waiting: map[string]int{}}
	m.Collect()

	assert.NotContains(t, m.seen, "GONE")
	assert.Equal(t, 0.0, testutil.ToFloat64(activeQueues))
}

func TestTrackQueueOperation(t *testing.T) {
	before := testutil.ToFloat64(queueOperations.WithLabelValues("queue/join", "ok"))

	TrackQueueOperation("queue/join", "ok", 10*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(queueOperations.WithLabelValues("queue/join", "ok")))
}

func TestClientGauges(t *testing.T) {
	before := testutil.ToFloat64(connectedClients)

	ClientConnected()
	ClientConnected()
	ClientDisconnected()

	assert.Equal(t, before+1, testutil.ToFloat64(connectedClients))
}

func TestNewServer_ServesMetrics(t *testing.T) {
	srv := NewServer("0")
	ObserveFanout(3)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue_fanout_recipients")
}
