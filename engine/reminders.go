package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"selfcare-api/domain"
)

// ReminderQueue stores nudges and hands each due one out at most once.
type ReminderQueue struct {
	store  Store
	now    func() time.Time
	logger *log.Logger
}

// Schedule creates an unsent reminder.
func (q *ReminderQueue) Schedule(ctx context.Context, userID, taskID string, when time.Time, message string) (domain.Reminder, error) {
	if when.IsZero() {
		return domain.Reminder{}, fmt.Errorf("reminder time is required: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(message) == "" {
		message = domain.DefaultReminderMessage
	}
	r := domain.Reminder{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskID:      taskID,
		ScheduledAt: when.UTC(),
		Message:     message,
	}
	if err := q.store.AddReminder(ctx, r); err != nil {
		return domain.Reminder{}, internal("add reminder", err)
	}
	return r, nil
}

// List returns the user's reminders ordered by schedule.
func (q *ReminderQueue) List(ctx context.Context, userID string) ([]domain.Reminder, error) {
	rs, err := q.store.Reminders(ctx, userID)
	if err != nil {
		return nil, internal("list reminders", err)
	}
	sortReminders(rs)
	return rs, nil
}

// Due returns reminders whose time has passed and marks them sent. A reminder
// lost to a concurrent poller is skipped. Reminders already marked are returned
// even if marking a later one fails.
func (q *ReminderQueue) Due(ctx context.Context, userID string) ([]domain.Reminder, error) {
	rs, err := q.store.Reminders(ctx, userID)
	if err != nil {
		return nil, internal("list reminders", err)
	}
	now := q.now()
	due := make([]domain.Reminder, 0, len(rs))
	var markErr error
	for _, r := range rs {
		if !r.Due(now) {
			continue
		}
		won, err := q.store.MarkReminderSent(ctx, r)
		if err != nil {
			q.logger.WithError(err).WithField("reminder", r.ID).Error("failed to mark reminder sent")
			if markErr == nil {
				markErr = err
			}
			continue
		}
		if !won {
			q.logger.WithField("reminder", r.ID).Debug("reminder already delivered by another poller")
			continue
		}
		r.Sent = true
		r.ETag = ""
		due = append(due, r)
	}
	if markErr != nil && len(due) == 0 {
		return nil, internal("mark reminder sent", markErr)
	}
	sortReminders(due)
	return due, nil
}

func sortReminders(rs []domain.Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].ScheduledAt.Equal(rs[j].ScheduledAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].ScheduledAt.Before(rs[j].ScheduledAt)
	})
}
