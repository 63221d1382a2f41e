package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"queue-system/models"
)

const activeQueuesKey = "active_queues"

func queueKey(id string) string { return fmt.Sprintf("queue:%s", id) }

func userKey(id string) string { return fmt.Sprintf("user:%s", id) }

// Redis stores each snapshot as a JSON string and tracks live queue ids in
// the active_queues set.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.get(ctx, userKey(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Redis) CreateUser(ctx context.Context, user *models.User) error {
	return r.create(ctx, userKey(user.ID), user)
}

func (r *Redis) UpdateUser(ctx context.Context, user *models.User) error {
	return r.update(ctx, userKey(user.ID), user)
}

func (r *Redis) GetQueue(ctx context.Context, id string) (*models.Queue, error) {
	var queue models.Queue
	if err := r.get(ctx, queueKey(id), &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

func (r *Redis) CreateQueue(ctx context.Context, queue *models.Queue) error {
	if err := r.create(ctx, queueKey(queue.ID), queue); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, activeQueuesKey, queue.ID).Err(); err != nil {
		return fmt.Errorf("index queue %s: %w", queue.ID, err)
	}
	return nil
}

func (r *Redis) UpdateQueue(ctx context.Context, queue *models.Queue) error {
	return r.update(ctx, queueKey(queue.ID), queue)
}

func (r *Redis) DeleteQueue(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, queueKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete queue %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := r.client.SRem(ctx, activeQueuesKey, id).Err(); err != nil {
		return fmt.Errorf("unindex queue %s: %w", id, err)
	}
	return nil
}

// QueueIDs lists the ids of every stored queue.
func (r *Redis) QueueIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, activeQueuesKey).Result()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) get(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Redis) create(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ok, err := r.client.SetNX(ctx, key, string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *Redis) update(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ok, err := r.client.SetXX(ctx, key, string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
