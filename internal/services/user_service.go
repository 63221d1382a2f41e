package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"queue-system/internal/status"
	"queue-system/internal/storage"
	"queue-system/models"
)

// UserService is the identity store. Records are created on first contact
// and never deleted.
type UserService struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	locks   *keyedMutex
	backend storage.Backend
	now     func() time.Time
}

func NewUserService(backend storage.Backend, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users:   make(map[string]*models.User),
		locks:   newKeyedMutex(),
		backend: backend,
		now:     now,
	}
}

// Get returns a copy of the user record, or nil when the id is unknown.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return u.Clone(), nil
	}
	if s.backend == nil {
		return nil, nil
	}

	u, err := s.backend.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, status.Internal("load user", err)
	}
	s.store(u)
	return u.Clone(), nil
}

// Cached returns the in-memory copy without touching the backend.
func (s *UserService) Cached(id string) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id].Clone()
}

func (s *UserService) GetOrCreate(ctx context.Context, id string) (*models.User, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.getOrCreate(ctx, id)
}

// Modify applies fn to a copy of the user record and writes it through,
// creating the record first when needed.
func (s *UserService) Modify(ctx context.Context, id string, fn func(u *models.User)) (*models.User, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	u, err := s.getOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(u)
	if s.backend != nil {
		if err := s.backend.UpdateUser(ctx, u); err != nil {
			return nil, status.Internal("save user", err)
		}
	}
	s.store(u)
	return u.Clone(), nil
}

func (s *UserService) getOrCreate(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil || u != nil {
		return u, err
	}

	u = models.NewUser(id, s.now())
	if s.backend != nil {
		err := s.backend.CreateUser(ctx, u)
		if errors.Is(err, storage.ErrExists) {
			// another process created it in between
			return s.Get(ctx, id)
		}
		if err != nil {
			return nil, status.Internal("create user", err)
		}
	}
	s.store(u)
	return u.Clone(), nil
}

func (s *UserService) store(u *models.User) {
	s.mu.Lock()
	s.users[u.ID] = u.Clone()
	s.mu.Unlock()
}

func (s *UserService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
