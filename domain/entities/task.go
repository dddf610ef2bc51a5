package entities

import "time"

// TaskStatus represents the status of a task run
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// FieldResult is the outcome of one field's recipe.
type FieldResult struct {
	Field string `json:"field"`
	OK    bool   `json:"ok"`
	Steps int    `json:"steps"`
	Error string `json:"error,omitempty"`
}

// PageResult is the outcome of one page run.
type PageResult struct {
	Page    string        `json:"page"`
	OK      bool          `json:"ok"`
	Fields  []FieldResult `json:"fields"`
	Missing []string      `json:"missing,omitempty"` // required but never located
	Extent  int           `json:"extent"`
	Error   string        `json:"error,omitempty"`
}

// TaskResult is the outcome of a whole task run.
type TaskResult struct {
	ID         string       `json:"id"`
	Task       string       `json:"task"`
	Status     TaskStatus   `json:"status"`
	Pages      []PageResult `json:"pages"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// OverlayState is the coarse state shown on the status surface.
type OverlayState string

const (
	OverlayReady   OverlayState = "ready"
	OverlayRunning OverlayState = "running"
	OverlayFailed  OverlayState = "failed"
	OverlayOff     OverlayState = "off"
)
