package models

import (
	"maps"
	"slices"
	"time"
)

type QueueResult struct {
	Success     bool      `json:"success"`
	CompletedAt time.Time `json:"completedAt"`
}

type User struct {
	ID             string                 `json:"id"`
	Queues         []string               `json:"queues"`
	ManagingQueues []string               `json:"managingQueues"`
	QueueResults   map[string]QueueResult `json:"queueResults"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func NewUser(id string, now time.Time) *User {
	return &User{
		ID:             id,
		Queues:         []string{},
		ManagingQueues: []string{},
		QueueResults:   map[string]QueueResult{},
		CreatedAt:      now,
	}
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Queues = slices.Clone(u.Queues)
	c.ManagingQueues = slices.Clone(u.ManagingQueues)
	c.QueueResults = maps.Clone(u.QueueResults)
	if c.QueueResults == nil {
		c.QueueResults = map[string]QueueResult{}
	}
	return &c
}

func (u *User) JoinQueue(queueID string) {
	u.Queues = addToSet(u.Queues, queueID)
}

func (u *User) LeaveQueue(queueID string) {
	u.Queues = slices.DeleteFunc(u.Queues, func(id string) bool { return id == queueID })
}

func (u *User) Manage(queueID string) {
	u.ManagingQueues = addToSet(u.ManagingQueues, queueID)
}

func (u *User) Unmanage(queueID string) {
	u.ManagingQueues = slices.DeleteFunc(u.ManagingQueues, func(id string) bool { return id == queueID })
}

func (u *User) RecordResult(queueID string, success bool, at time.Time) {
	if u.QueueResults == nil {
		u.QueueResults = map[string]QueueResult{}
	}
	u.QueueResults[queueID] = QueueResult{Success: success, CompletedAt: at}
}

// addToSet keeps ids sorted and unique.
func addToSet(ids []string, id string) []string {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}
