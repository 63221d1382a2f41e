package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"queue-system/models"
	"queue-system/utils"
)

func newSQLBackend(t *testing.T) *SQL {
	t.Helper()
	db, err := dbx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every pooled connection would otherwise get its own empty database
	db.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	backend := NewSQL(db)
	require.NoError(t, backend.EnsureSchema(context.Background()))
	return backend
}

// backendContract runs the same CRUD checks against any Backend.
func backendContract(t *testing.T, backend Backend) {
	ctx := context.Background()
	queue := sampleQueue()
	user := models.NewUser("u1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	_, err := backend.GetQueue(ctx, queue.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, backend.UpdateQueue(ctx, queue), ErrNotFound)
	assert.ErrorIs(t, backend.DeleteQueue(ctx, queue.ID), ErrNotFound)

	require.NoError(t, backend.CreateQueue(ctx, queue))
	assert.ErrorIs(t, backend.CreateQueue(ctx, queue), ErrExists)

	queue.Name = "Renamed"
	require.NoError(t, backend.UpdateQueue(ctx, queue))
	got, err := backend.GetQueue(ctx, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, queue.Waiting, got.Waiting)

	require.NoError(t, backend.DeleteQueue(ctx, queue.ID))
	_, err = backend.GetQueue(ctx, queue.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = backend.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, backend.CreateUser(ctx, user))
	assert.ErrorIs(t, backend.CreateUser(ctx, user), ErrExists)
	user.Manage("Q1")
	require.NoError(t, backend.UpdateUser(ctx, user))
	gotUser, err := backend.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1"}, gotUser.ManagingQueues)
}

func TestMemory_Contract(t *testing.T) {
	backendContract(t, NewMemory())
}

func TestSQL_Contract(t *testing.T) {
	backendContract(t, newSQLBackend(t))
}

func TestSQL_Ping(t *testing.T) {
	assert.NoError(t, newSQLBackend(t).Ping(context.Background()))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	queue := sampleQueue()
	require.NoError(t, backend.CreateQueue(ctx, queue))

	queue.Waiting = append(queue.Waiting, "u3")
	got, err := backend.GetQueue(ctx, queue.ID)
	require.NoError(t, err)
	got.Waiting[0] = "changed"

	again, err := backend.GetQueue(ctx, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, again.Waiting)
}

type failingBackend struct {
	Backend
	err error
}

func (f failingBackend) GetQueue(context.Context, string) (*models.Queue, error) {
	return nil, f.err
}

func TestGuarded_TripsOnFaults(t *testing.T) {
	ctx := context.Background()
	breaker := utils.NewCircuitBreaker("storage")
	guarded := NewGuarded(failingBackend{Backend: NewMemory(), err: errors.New("disk on fire")}, breaker)

	for i := 0; i < 100; i++ {
		_, _ = guarded.GetQueue(ctx, "Q1")
	}

	assert.Equal(t, utils.StateOpen, guarded.Breaker().State())
	_, err := guarded.GetQueue(ctx, "Q1")
	assert.ErrorIs(t, err, utils.ErrCircuitOpen)
}

func TestGuarded_IgnoresMisses(t *testing.T) {
	ctx := context.Background()
	guarded := NewGuarded(NewMemory(), utils.NewCircuitBreaker("storage"))

	for i := 0; i < 150; i++ {
		_, err := guarded.GetQueue(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	assert.Equal(t, utils.StateClosed, guarded.Breaker().State())
	assert.NoError(t, guarded.Ping(ctx))
}

func TestGuarded_PassesThrough(t *testing.T) {
	backendContract(t, NewGuarded(NewMemory(), utils.NewCircuitBreaker("storage")))
}
