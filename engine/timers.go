package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"selfcare-api/domain"
)

// TimerTracker owns the per user, task and day TaskLog rows.
type TimerTracker struct {
	store Store
	locks *keyLock
	now   func() time.Time
}

// MaxTimerMinutes is the longest countdown a timer may run.
const MaxTimerMinutes = 24 * 60

// Start upserts today's log with a fresh started-at. Restarting overwrites the
// previous start rather than adding a second row.
func (t *TimerTracker) Start(ctx context.Context, userID, taskID string, durationMinutes int) (domain.Timer, error) {
	if durationMinutes <= 0 || durationMinutes > MaxTimerMinutes {
		return domain.Timer{}, fmt.Errorf("duration %d must be between 1 and %d minutes: %w", durationMinutes, MaxTimerMinutes, domain.ErrInvalidArgument)
	}
	now := t.now().UTC()
	key := domain.LogKey{UserID: userID, TaskID: taskID, Day: domain.Day(now)}

	unlock := t.locks.Lock(key.String())
	defer unlock()

	if _, err := t.store.StartTimer(ctx, key, now, durationMinutes); err != nil {
		return domain.Timer{}, internal("start timer", err)
	}
	return domain.Timer{
		ID:              uuid.NewString(),
		UserID:          userID,
		TaskID:          taskID,
		StartedAt:       now,
		DurationMinutes: durationMinutes,
		ExpectedEnd:     now.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}

// Complete stamps the log of completedAt's day and returns how many tasks the
// user has completed that day. No XP is credited.
func (t *TimerTracker) Complete(ctx context.Context, userID, taskID string, completedAt time.Time) (int, error) {
	if completedAt.IsZero() {
		completedAt = t.now()
	}
	res, err := t.complete(ctx, userID, taskID, completedAt, nil)
	if err != nil {
		return 0, err
	}
	return res.CompletedToday, nil
}

func (t *TimerTracker) complete(ctx context.Context, userID, taskID string, completedAt time.Time, award AwardFunc) (domain.CompletionResult, error) {
	completedAt = completedAt.UTC()
	key := domain.LogKey{UserID: userID, TaskID: taskID, Day: domain.Day(completedAt)}

	unlock := t.locks.Lock(key.String())
	defer unlock()

	if award == nil {
		award = func(int) int { return 0 }
	}
	res, err := t.store.CompleteTask(ctx, key, completedAt, award)
	if err != nil {
		return domain.CompletionResult{}, internal("complete task", err)
	}
	return res, nil
}
