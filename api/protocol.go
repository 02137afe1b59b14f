package api

import (
	"time"

	"selfcare-api/domain"
)

const (
	maxBodySize = 64 * 1024 // 64 KiB

	headerIdempotencyKey = "Idempotency-Key"

	statusUnauthorized = "unauthorized"
	statusDuplicate    = "duplicate"
	statusUnavailable  = "unavailable"
)

// errorResponse is the failure envelope shared by every route.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Status  string `json:"status"`
}

// GET /api/tasks response body
type tasksResponse struct {
	Success bool                `json:"success"`
	Tasks   []domain.TaskStatus `json:"tasks"`
	Total   int                 `json:"total"`
}

// GET /api/levels response body
type levelsResponse struct {
	Success bool           `json:"success"`
	Levels  []domain.Level `json:"levels"`
}

// GET /api/levels/:level response body
type levelStatusResponse struct {
	Success bool               `json:"success"`
	Level   domain.LevelStatus `json:"level"`
}

// POST /api/start-timer request body
type startTimerRequest struct {
	TaskID   string `json:"taskId"`
	Duration int    `json:"duration"`
}

type startTimerResponse struct {
	Success bool         `json:"success"`
	Timer   domain.Timer `json:"timer"`
	Message string       `json:"message"`
}

// POST /api/complete-task request body
type completeTaskRequest struct {
	TaskID     string            `json:"taskId"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Difficulty domain.Difficulty `json:"difficulty,omitempty"`
}

type completeTaskResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	domain.CompletionOutcome
}

// GET /api/user-progress response body
type progressResponse struct {
	Success  bool            `json:"success"`
	Progress domain.Progress `json:"progress"`
}

// POST /api/reminder request body
type reminderRequest struct {
	TaskID       string     `json:"taskId"`
	ReminderTime *time.Time `json:"reminderTime"`
	Message      string     `json:"message,omitempty"`
}

type reminderResponse struct {
	Success  bool            `json:"success"`
	Reminder domain.Reminder `json:"reminder"`
	Message  string          `json:"message"`
}

// GET /api/reminder response body
type remindersResponse struct {
	Success      bool              `json:"success"`
	Reminders    []domain.Reminder `json:"reminders"`
	DueReminders []domain.Reminder `json:"dueReminders"`
}
