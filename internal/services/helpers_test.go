package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"queue-system/internal/storage"
	"queue-system/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeNetwork records every message per user.
type fakeNetwork struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][]models.Message
}

func newFakeNetwork(online ...string) *fakeNetwork {
	n := &fakeNetwork{online: map[string]bool{}, sent: map[string][]models.Message{}}
	for _, id := range online {
		n.online[id] = true
	}
	return n
}

func (n *fakeNetwork) NotifyUser(userID string, msg models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.online[userID] {
		n.sent[userID] = append(n.sent[userID], msg)
	}
}

func (n *fakeNetwork) HasUser(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[userID]
}

func (n *fakeNetwork) messages(userID string) []models.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Message(nil), n.sent[userID]...)
}

func (n *fakeNetwork) reset() {
	n.mu.Lock()
	n.sent = map[string][]models.Message{}
	n.mu.Unlock()
}

func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("Q%03d", next), nil
	}
}

type testEnv struct {
	queues  *QueueService
	users   *UserService
	network *fakeNetwork
	clock   *fakeClock
}

func newTestEnv(t *testing.T, backend storage.Backend, opts ...Option) *testEnv {
	t.Helper()
	clock := newFakeClock()
	network := newFakeNetwork()
	users := NewUserService(backend, clock.Now)
	opts = append([]Option{
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
		WithSecretCost(bcrypt.MinCost),
	}, opts...)
	return &testEnv{
		queues:  NewQueueService(users, backend, network, opts...),
		users:   users,
		network: network,
		clock:   clock,
	}
}

// createQueue creates a queue managed by "manager" and returns its id and
// plaintext manager secret.
func (e *testEnv) createQueue(t *testing.T, p CreatePayload) (string, string) {
	t.Helper()
	if p.Name == "" {
		p.Name = "Counter"
	}
	view, err := e.queues.Create(context.Background(), "manager", p)
	require.NoError(t, err)
	return view.ID, view.ManagerSecret
}

func (e *testEnv) join(t *testing.T, queueID string, users ...string) {
	t.Helper()
	for _, id := range users {
		_, err := e.queues.Join(context.Background(), id, JoinPayload{QueueID: queueID})
		require.NoError(t, err)
	}
}

func (e *testEnv) snapshot(t *testing.T, queueID string) *models.Queue {
	t.Helper()
	q, err := e.queues.Snapshot(context.Background(), queueID)
	require.NoError(t, err)
	return q
}

func (e *testEnv) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.users.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

// requireExclusivePositions checks that no user holds two positions.
func requireExclusivePositions(t *testing.T, q *models.Queue) {
	t.Helper()
	seen := map[string]bool{}
	for _, id := range q.Participants() {
		require.False(t, seen[id], "user %s holds more than one position", id)
		seen[id] = true
	}
}
