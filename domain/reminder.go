package domain

import "time"

// DefaultReminderMessage is used when a reminder is scheduled without text.
const DefaultReminderMessage = "Time for your self-care task!"

// Reminder is a scheduled nudge. Sent flips to true exactly once.
type Reminder struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	TaskID      string    `json:"taskId"`
	ScheduledAt time.Time `json:"reminderTime"`
	Message     string    `json:"message"`
	Sent        bool      `json:"sent"`

	// ETag carries the store's concurrency token between a read and a mark.
	ETag string `json:"-"`
}

// Due reports whether the reminder should be delivered at now.
func (r Reminder) Due(now time.Time) bool {
	return !r.Sent && !r.ScheduledAt.After(now)
}
