// Package storage persists queue and user snapshots. The engine keeps the
// authoritative copy in memory and writes through to a Backend when one is
// configured.
package storage

import (
	"context"
	"errors"

	"queue-system/models"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrExists   = errors.New("storage: record already exists")
)

type Backend interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error

	GetQueue(ctx context.Context, id string) (*models.Queue, error)
	CreateQueue(ctx context.Context, queue *models.Queue) error
	UpdateQueue(ctx context.Context, queue *models.Queue) error
	DeleteQueue(ctx context.Context, id string) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
