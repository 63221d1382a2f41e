package models

import (
	"fmt"
	"slices"
	"time"
)

// BellHistoryLimit caps bellsProcessed; the oldest entries are evicted first.
const BellHistoryLimit = 10

type Position string

const (
	PositionQueue         Position = "queue"
	PositionLane          Position = "lane"
	PositionBell          Position = "bell"
	PositionBellProcessed Position = "bellProcessed"
	PositionComplete      Position = "complete"
)

type Lane struct {
	Name       string    `json:"name"`
	AssignedAt time.Time `json:"assignedAt"`
	Occupant   string    `json:"occupant,omitempty"`
}

type UserData struct {
	JoinedAt    time.Time `json:"joinedAt"`
	Rank        int64     `json:"rank"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
}

type Queue struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	OTP            bool                `json:"otp"`
	OTPSecret      string              `json:"otpSecret"`
	UseBells       bool                `json:"useBells"`
	ManagerSecret  string              `json:"managerSecret"`
	Lanes          []Lane              `json:"lanes"`
	Waiting        []string            `json:"waiting"`
	Bells          []string            `json:"bells"`
	BellsProcessed []string            `json:"bellsProcessed"`
	UserData       map[string]UserData `json:"userData"`
	ManageUsers    []string            `json:"manageUsers"`
	ProcessedUsers int64               `json:"processedUsers"`
	ProcessedTime  int64               `json:"processedTime"`
	NextRank       int64               `json:"nextRank"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Clone returns a deep copy; handlers mutate clones, never published snapshots.
func (q *Queue) Clone() *Queue {
	if q == nil {
		return nil
	}
	c := *q
	c.Lanes = slices.Clone(q.Lanes)
	c.Waiting = slices.Clone(q.Waiting)
	c.Bells = slices.Clone(q.Bells)
	c.BellsProcessed = slices.Clone(q.BellsProcessed)
	c.ManageUsers = slices.Clone(q.ManageUsers)
	c.UserData = make(map[string]UserData, len(q.UserData))
	for id, data := range q.UserData {
		c.UserData[id] = data
	}
	return &c
}

// LaneOf returns the index of the lane occupied by userID, or -1.
func (q *Queue) LaneOf(userID string) int {
	return slices.IndexFunc(q.Lanes, func(l Lane) bool { return l.Occupant == userID })
}

// PositionOf tests membership in priority order: waiting, lane, bell, bellProcessed.
func (q *Queue) PositionOf(userID string) Position {
	switch {
	case slices.Contains(q.Waiting, userID):
		return PositionQueue
	case q.LaneOf(userID) != -1:
		return PositionLane
	case slices.Contains(q.Bells, userID):
		return PositionBell
	case slices.Contains(q.BellsProcessed, userID):
		return PositionBellProcessed
	}
	return PositionComplete
}

// Participants lists everyone holding any position in the queue.
func (q *Queue) Participants() []string {
	if q == nil {
		return nil
	}
	users := slices.Clone(q.Waiting)
	for _, lane := range q.Lanes {
		if lane.Occupant != "" {
			users = append(users, lane.Occupant)
		}
	}
	users = append(users, q.Bells...)
	users = append(users, q.BellsProcessed...)
	return users
}

func (q *Queue) IsParticipant(userID string) bool {
	return q.PositionOf(userID) != PositionComplete
}

func (q *Queue) IsManager(userID string) bool {
	return slices.Contains(q.ManageUsers, userID)
}

func (q *Queue) AddManager(userID string) {
	q.ManageUsers = addToSet(q.ManageUsers, userID)
}

// RemoveUser drops userID from whichever position currently holds it.
// It reports the position the user was removed from.
func (q *Queue) RemoveUser(userID string) Position {
	pos := q.PositionOf(userID)
	switch pos {
	case PositionQueue:
		q.Waiting = slices.DeleteFunc(q.Waiting, func(id string) bool { return id == userID })
	case PositionLane:
		i := q.LaneOf(userID)
		q.Lanes[i].Occupant = ""
		q.Lanes[i].AssignedAt = time.Time{}
	case PositionBell:
		q.Bells = slices.DeleteFunc(q.Bells, func(id string) bool { return id == userID })
	case PositionBellProcessed:
		q.BellsProcessed = slices.DeleteFunc(q.BellsProcessed, func(id string) bool { return id == userID })
	}
	return pos
}

// PushBellProcessed appends userID to the bell history and returns the
// users evicted to keep it within BellHistoryLimit.
func (q *Queue) PushBellProcessed(userID string) []string {
	q.BellsProcessed = append(q.BellsProcessed, userID)
	if over := len(q.BellsProcessed) - BellHistoryLimit; over > 0 {
		evicted := slices.Clone(q.BellsProcessed[:over])
		q.BellsProcessed = slices.Clone(q.BellsProcessed[over:])
		return evicted
	}
	return nil
}

// NewUserData issues the next display rank for a fresh queue episode.
func (q *Queue) NewUserData(now time.Time) UserData {
	q.NextRank++
	return UserData{
		JoinedAt:    now,
		Rank:        q.NextRank,
		DisplayName: fmt.Sprintf("%03d", q.NextRank),
	}
}

func (q *Queue) DisplayName(userID string) string {
	return q.UserData[userID].DisplayName
}
