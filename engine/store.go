package engine

import (
	"context"
	"time"

	"selfcare-api/domain"
)

// AwardFunc computes the XP to credit once the day's completion count is
// known. Returning zero leaves the progress record untouched.
type AwardFunc func(completedToday int) int

// Store abstracts persistence for the engine. Implementations apply each call
// as a single atomic step.
type Store interface {
	// StartTimer upserts the log for key, overwriting started-at and duration.
	StartTimer(ctx context.Context, key domain.LogKey, startedAt time.Time, durationMinutes int) (domain.TaskLog, error)
	// CompleteTask upserts the log for key with completedAt, counts the user's
	// completed logs for key.Day and credits award(count) in the same step.
	// award may run more than once when a store retries; the last call wins.
	CompleteTask(ctx context.Context, key domain.LogKey, completedAt time.Time, award AwardFunc) (domain.CompletionResult, error)
	// CreditXP adds amount to the user's total, creating the record if absent.
	CreditXP(ctx context.Context, userID string, amount int, activeOn string) (int, error)
	// Progress returns the user's record; a missing record yields a zero value.
	Progress(ctx context.Context, userID string) (domain.ProgressRecord, error)
	// TaskLogs lists the user's logs for one day.
	TaskLogs(ctx context.Context, userID, day string) ([]domain.TaskLog, error)
	// CompletionCounts returns completed-log counts per day in [from, to].
	CompletionCounts(ctx context.Context, userID, from, to string) (map[string]int, error)

	AddReminder(ctx context.Context, r domain.Reminder) error
	// Reminders lists reminders of userID, or of every user when userID is empty.
	Reminders(ctx context.Context, userID string) ([]domain.Reminder, error)
	// MarkReminderSent flips the sent flag if it is still false and reports
	// whether this call won the flip.
	MarkReminderSent(ctx context.Context, r domain.Reminder) (bool, error)

	Ping(ctx context.Context) error
}
