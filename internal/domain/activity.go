package domain

import (
	"encoding/json"
	"time"
)

type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionMove   ActionType = "move"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

type ActivityEntry struct {
	ID                int64           `json:"id"`
	UserID            string          `json:"user_id"`
	TaskID            *int64          `json:"task_id,omitempty"`
	ActionType        ActionType      `json:"action_type"`
	ActionDescription string          `json:"action_description"`
	OldData           json.RawMessage `json:"old_data,omitempty"`
	NewData           json.RawMessage `json:"new_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
