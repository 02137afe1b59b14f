package api

import (
	"context"
	"time"

	"selfcare-api/domain"
)

// Engine is the progress engine surface the handlers drive.
type Engine interface {
	Tasks(ctx context.Context, userID string, level int, mood string) ([]domain.TaskStatus, error)
	Levels() []domain.Level
	LevelStatus(ctx context.Context, userID string, level int) (domain.LevelStatus, error)
	StartTimer(ctx context.Context, userID, taskID string, durationMinutes int) (domain.Timer, error)
	CompleteTask(ctx context.Context, userID, taskID string, difficulty domain.Difficulty, completedAt *time.Time) (domain.CompletionOutcome, error)
	Progress(ctx context.Context, userID string) (domain.Progress, error)
	ScheduleReminder(ctx context.Context, userID, taskID string, when time.Time, message string) (domain.Reminder, error)
	Reminders(ctx context.Context, userID string) ([]domain.Reminder, error)
	DueReminders(ctx context.Context, userID string) ([]domain.Reminder, error)
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate completions.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
