package storage

import (
	"context"
	"sync"

	"queue-system/models"
)

// Memory is a process-local Backend. Records are cloned on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	queues map[string]*models.Queue
}

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]*models.User),
		queues: make(map[string]*models.Queue),
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrExists
	}
	m.users[user.ID] = user.Clone()
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrNotFound
	}
	m.users[user.ID] = user.Clone()
	return nil
}

func (m *Memory) GetQueue(_ context.Context, id string) (*models.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return q.Clone(), nil
}

func (m *Memory) CreateQueue(_ context.Context, queue *models.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queue.ID]; ok {
		return ErrExists
	}
	m.queues[queue.ID] = queue.Clone()
	return nil
}

func (m *Memory) UpdateQueue(_ context.Context, queue *models.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queue.ID]; !ok {
		return ErrNotFound
	}
	m.queues[queue.ID] = queue.Clone()
	return nil
}

func (m *Memory) DeleteQueue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[id]; !ok {
		return ErrNotFound
	}
	delete(m.queues, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
