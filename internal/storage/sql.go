package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"

	"queue-system/models"
)

const (
	QueueTable = "queue_snapshots"
	UserTable  = "queue_users"
)

// SchemaSQL creates the snapshot tables. Both tables hold one JSON document per id.
var SchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS ` + QueueTable + ` (
		id      TEXT PRIMARY KEY NOT NULL,
		data    TEXT NOT NULL,
		updated INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ` + UserTable + ` (
		id      TEXT PRIMARY KEY NOT NULL,
		data    TEXT NOT NULL,
		updated INTEGER NOT NULL DEFAULT 0
	)`,
}

// DropSQL reverts SchemaSQL.
var DropSQL = []string{
	`DROP TABLE IF EXISTS ` + QueueTable,
	`DROP TABLE IF EXISTS ` + UserTable,
}

// SQL persists snapshots through dbx, normally the PocketBase app database.
type SQL struct {
	db  dbx.Builder
	now func() time.Time
}

func NewSQL(db dbx.Builder) *SQL {
	return &SQL{db: db, now: time.Now}
}

// EnsureSchema runs SchemaSQL; the PocketBase migration does the same on app start.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaSQL {
		if _, err := s.db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.get(ctx, UserTable, id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQL) CreateUser(ctx context.Context, user *models.User) error {
	return s.insert(ctx, UserTable, user.ID, user)
}

func (s *SQL) UpdateUser(ctx context.Context, user *models.User) error {
	return s.update(ctx, UserTable, user.ID, user)
}

func (s *SQL) GetQueue(ctx context.Context, id string) (*models.Queue, error) {
	var queue models.Queue
	if err := s.get(ctx, QueueTable, id, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

func (s *SQL) CreateQueue(ctx context.Context, queue *models.Queue) error {
	return s.insert(ctx, QueueTable, queue.ID, queue)
}

func (s *SQL) UpdateQueue(ctx context.Context, queue *models.Queue) error {
	return s.update(ctx, QueueTable, queue.ID, queue)
}

func (s *SQL) DeleteQueue(ctx context.Context, id string) error {
	res, err := s.db.NewQuery("DELETE FROM " + QueueTable + " WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id}).
		Execute()
	if err != nil {
		return fmt.Errorf("delete queue %s: %w", id, err)
	}
	return affectedOrNotFound(res)
}

func (s *SQL) Ping(ctx context.Context) error {
	var one int
	return s.db.NewQuery("SELECT 1").WithContext(ctx).Row(&one)
}

func (s *SQL) get(ctx context.Context, table, id string, v any) error {
	var data string
	err := s.db.NewQuery("SELECT data FROM " + table + " WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id}).
		Row(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s %s: %w", table, id, err)
	}
	return nil
}

func (s *SQL) insert(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	res, err := s.db.NewQuery("INSERT INTO " + table + " (id, data, updated) VALUES ({:id}, {:data}, {:updated}) ON CONFLICT(id) DO NOTHING").
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "data": string(data), "updated": s.now().UnixMilli()}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQL) update(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	res, err := s.db.NewQuery("UPDATE " + table + " SET data = {:data}, updated = {:updated} WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "data": string(data), "updated": s.now().UnixMilli()}).
		Execute()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return affectedOrNotFound(res)
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
