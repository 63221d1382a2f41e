package storage

import (
	"context"
	"errors"

	"queue-system/models"
	"queue-system/utils"
)

// Guarded trips a circuit breaker when the wrapped backend keeps failing.
// Missing and duplicate records are answers, not faults, so they do not count.
type Guarded struct {
	next    Backend
	breaker *utils.CircuitBreaker
}

func NewGuarded(next Backend, breaker *utils.CircuitBreaker) *Guarded {
	breaker.WithFailureFilter(func(err error) bool {
		return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExists)
	})
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Breaker() *utils.CircuitBreaker { return g.breaker }

func (g *Guarded) GetUser(ctx context.Context, id string) (user *models.User, err error) {
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		user, err = g.next.GetUser(ctx, id)
		return err
	})
	return user, err
}

func (g *Guarded) CreateUser(ctx context.Context, user *models.User) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.CreateUser(ctx, user)
	})
}

func (g *Guarded) UpdateUser(ctx context.Context, user *models.User) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.UpdateUser(ctx, user)
	})
}

func (g *Guarded) GetQueue(ctx context.Context, id string) (queue *models.Queue, err error) {
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		queue, err = g.next.GetQueue(ctx, id)
		return err
	})
	return queue, err
}

func (g *Guarded) CreateQueue(ctx context.Context, queue *models.Queue) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.CreateQueue(ctx, queue)
	})
}

func (g *Guarded) UpdateQueue(ctx context.Context, queue *models.Queue) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.UpdateQueue(ctx, queue)
	})
}

func (g *Guarded) DeleteQueue(ctx context.Context, id string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.DeleteQueue(ctx, id)
	})
}

func (g *Guarded) Ping(ctx context.Context) error {
	p, ok := g.next.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
