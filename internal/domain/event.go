package domain

import "time"

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventMoved   EventType = "moved"
	EventDeleted EventType = "deleted"
)

// Actor attributes a mutation so subscribers can render it without a refetch.
type Actor struct {
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	ActionDescription string `json:"actionDescription"`
}

// Event is a committed task mutation. Task is nil for deleted events.
type Event struct {
	Type   EventType `json:"type"`
	TaskID int64     `json:"taskId"`
	Task   *Task     `json:"task,omitempty"`
	Actor  Actor     `json:"actor"`
	At     time.Time `json:"at"`

	// Previous is the record before the mutation. It feeds the activity log and is never sent to subscribers.
	Previous *Task `json:"-"`
}

func (t EventType) ActionType() ActionType {
	switch t {
	case EventCreated:
		return ActionCreate
	case EventMoved:
		return ActionMove
	case EventDeleted:
		return ActionDelete
	default:
		return ActionUpdate
	}
}
