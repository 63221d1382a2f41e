package services

import (
	"slices"
	"time"

	"queue-system/models"
	"queue-system/monitoring"
)

// Network delivers messages to connected users. NotifyUser is a no-op for
// users that are not online.
type Network interface {
	NotifyUser(userID string, msg models.Message)
	HasUser(userID string) bool
}

// ParticipantUpdate is the state/update payload for queue participants.
// Queue is null once the queue has been deleted.
type ParticipantUpdate struct {
	User    *models.User     `json:"user"`
	QueueID string           `json:"queueId"`
	Queue   *ParticipantView `json:"queue"`
}

// ManagerUpdate is the state/update payload for queue managers.
type ManagerUpdate struct {
	User    *models.User `json:"user"`
	QueueID string       `json:"queueId"`
	Manager *ManagerView `json:"manager"`
}

// Audience is everyone holding a position in old or next who is online,
// sorted. Either snapshot may be nil.
func Audience(old, next *models.Queue, online func(string) bool) []string {
	return onlineUnion(old.Participants(), next.Participants(), online)
}

// ManagerAudience is the online managers of old or next.
func ManagerAudience(old, next *models.Queue, online func(string) bool) []string {
	var before, after []string
	if old != nil {
		before = old.ManageUsers
	}
	if next != nil {
		after = next.ManageUsers
	}
	return onlineUnion(before, after, online)
}

func onlineUnion(a, b []string, online func(string) bool) []string {
	ids := make([]string, 0, len(a)+len(b))
	ids = append(ids, a...)
	ids = append(ids, b...)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return slices.DeleteFunc(ids, func(id string) bool { return !online(id) })
}

// Fanout pushes personalised projections after a committed change.
type Fanout struct {
	network Network
	users   *UserService
	now     func() time.Time
}

func NewFanout(network Network, users *UserService, now func() time.Time) *Fanout {
	if now == nil {
		now = time.Now
	}
	return &Fanout{network: network, users: users, now: now}
}

// Publish notifies the audience of a change from old to next. It only
// enqueues, so it is safe to call while holding the queue lock.
func (f *Fanout) Publish(action models.Action, queueID string, old, next *models.Queue) int {
	if f == nil || f.network == nil {
		return 0
	}
	public := action.Public(queueID)

	participants := Audience(old, next, f.network.HasUser)
	for _, id := range participants {
		update := ParticipantUpdate{User: f.users.Cached(id), QueueID: queueID}
		if next != nil {
			update.Queue = NewParticipantView(next, id)
		}
		f.network.NotifyUser(id, models.Message{Type: models.TypeStateUpdate, Payload: update})
		f.network.NotifyUser(id, models.Message{Type: string(public.Type), Payload: public.Payload, Meta: public.Meta})
	}

	managers := ManagerAudience(old, next, f.network.HasUser)
	if len(managers) > 0 {
		var view *ManagerView
		if next != nil {
			view = NewManagerView(next, f.now())
		}
		for _, id := range managers {
			update := ManagerUpdate{User: f.users.Cached(id), QueueID: queueID, Manager: view}
			f.network.NotifyUser(id, models.Message{Type: models.TypeStateUpdate, Payload: update})
		}
	}

	recipients := len(participants) + len(managers)
	monitoring.ObserveFanout(recipients)
	return recipients
}
