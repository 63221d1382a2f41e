package models

import (
	"encoding/json"
	"strings"
)

type ActionType string

const (
	ActionConnect    ActionType = "connect"
	ActionDisconnect ActionType = "disconnect"

	ActionCreate ActionType = "queue/create"
	ActionDelete ActionType = "queue/delete"
	ActionUpdate ActionType = "queue/update"

	ActionJoin  ActionType = "queue/join"
	ActionLeave ActionType = "queue/leave"

	ActionJoinManager  ActionType = "queue/joinManager"
	ActionLeaveManager ActionType = "queue/leaveManager"

	ActionCreateLane ActionType = "queue/createLane"
	ActionRenameLane ActionType = "queue/renameLane"
	ActionDeleteLane ActionType = "queue/deleteLane"

	ActionNext        ActionType = "queue/next"
	ActionConfirm     ActionType = "queue/confirm"
	ActionConfirmBell ActionType = "queue/confirmBell"
)

// ActionTypes lists every action kind the dispatcher must route.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionConnect, ActionDisconnect,
		ActionCreate, ActionDelete, ActionUpdate,
		ActionJoin, ActionLeave,
		ActionJoinManager, ActionLeaveManager,
		ActionCreateLane, ActionRenameLane, ActionDeleteLane,
		ActionNext, ActionConfirm, ActionConfirmBell,
	}
}

// Reserved reports whether the type is internal and must never come from a client.
func (t ActionType) Reserved() bool {
	return strings.HasPrefix(string(t), "@")
}

// Outbound message types.
const (
	TypeResponseOK        = "response/ok"
	TypeResponseError     = "response/error"
	TypeResponseHandshake = "response/handshake"
	TypeStateUpdate       = "state/update"
)

type Meta struct {
	RequestOf  string `json:"requestOf,omitempty"`
	ResponseOf string `json:"responseOf,omitempty"`
	QueueID    string `json:"queueId,omitempty"`
}

type Action struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
}

func (a *Action) RequestOf() string {
	if a == nil || a.Meta == nil {
		return ""
	}
	return a.Meta.RequestOf
}

// PayloadOrEmpty returns the payload, defaulting an absent one to {}.
func (a *Action) PayloadOrEmpty() json.RawMessage {
	if a == nil || len(a.Payload) == 0 || string(a.Payload) == "null" {
		return json.RawMessage("{}")
	}
	return a.Payload
}

// sensitivePayloadKeys never leave the server in fanned-out actions.
var sensitivePayloadKeys = []string{"secret", "code"}

// Public returns a copy of the action safe to forward to other users:
// credentials are stripped from the payload and the queue id is stamped
// into the meta.
func (a *Action) Public(queueID string) Action {
	out := Action{Type: a.Type, Meta: &Meta{QueueID: queueID}}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(a.PayloadOrEmpty(), &fields); err != nil {
		return out
	}
	for _, key := range sensitivePayloadKeys {
		delete(fields, key)
	}
	if data, err := json.Marshal(fields); err == nil {
		out.Payload = data
	}
	return out
}

// Message is any server to client frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}
