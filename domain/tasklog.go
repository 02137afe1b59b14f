package domain

import "time"

// LogKey identifies the single TaskLog kept per user, task and calendar day.
type LogKey struct {
	UserID string
	TaskID string
	Day    string
}

// String renders the key for lock and cache naming.
func (k LogKey) String() string {
	return k.UserID + "|" + k.TaskID + "|" + k.Day
}

// TaskLog records a user's timer and completion activity for one task on one day.
type TaskLog struct {
	UserID        string     `json:"userId"`
	TaskID        string     `json:"taskId"`
	Day           string     `json:"date"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	TimerDuration *int       `json:"timerDuration,omitempty"`
}

// Key returns the identity of the log.
func (l TaskLog) Key() LogKey {
	return LogKey{UserID: l.UserID, TaskID: l.TaskID, Day: l.Day}
}

// Completed reports whether the log carries a completion timestamp.
func (l TaskLog) Completed() bool { return l.CompletedAt != nil }

// Started reports whether a timer was started for the log.
func (l TaskLog) Started() bool { return l.StartedAt != nil }

// Timer describes a started countdown. The server keeps no running timer; clients
// count down to ExpectedEnd.
type Timer struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	TaskID          string    `json:"taskId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMinutes int       `json:"durationMinutes"`
	ExpectedEnd     time.Time `json:"expectedEnd"`
}

// CompletionResult is returned by stores after recording a completion.
type CompletionResult struct {
	CompletedToday int
	Credited       int
	TotalXP        int
}
