package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true for states that end a run
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsValid returns true for known status values
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// StatusEntry is one persisted status transition
type StatusEntry struct {
	Status    TaskStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorEntry is one persisted error message
type ErrorEntry struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON tolerates legacy entries persisted as bare status strings
// (no timestamp wrapper) from before the history format carried timestamps.
func (e *StatusEntry) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		e.Status = TaskStatus(legacy)
		e.Timestamp = time.Time{}
		return nil
	}

	type alias StatusEntry
	var entry alias
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	*e = StatusEntry(entry)
	return nil
}

// UnmarshalJSON tolerates legacy entries persisted as bare error strings
func (e *ErrorEntry) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		e.Error = legacy
		e.Timestamp = time.Time{}
		return nil
	}

	type alias ErrorEntry
	var entry alias
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	*e = ErrorEntry(entry)
	return nil
}

// TaskRequest is the create-task request body
type TaskRequest struct {
	Prompt      string  `json:"prompt" validate:"required"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty" validate:"omitempty,gt=0"`
	Temperature float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// ApplyDefaults fills unset optional fields from configured defaults
func (r *TaskRequest) ApplyDefaults(model string, maxTokens int, temperature float64) {
	if r.Model == "" {
		r.Model = model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = maxTokens
	}
	if r.Temperature == 0 {
		r.Temperature = temperature
	}
}

// WebhookPayload is the delivery body the durable queue posts to the webhook endpoint
type WebhookPayload struct {
	TaskID      string  `json:"taskId"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}
