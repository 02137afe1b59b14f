// Package engine implements the self-care progress engine: timers, XP,
// level gating, streaks and reminders over a pluggable Store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"selfcare-api/catalog"
	"selfcare-api/domain"
)

// Engine is the sole mutator of progress state.
type Engine struct {
	catalog   *catalog.Catalog
	store     Store
	timers    *TimerTracker
	ledger    *Ledger
	reminders *ReminderQueue
	now       func() time.Time
	logger    *log.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine around store and cat.
func New(store Store, cat *catalog.Catalog, logger *log.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("engine.New: store is nil")
	}
	if cat == nil {
		panic("engine.New: catalog is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	e := &Engine{catalog: cat, store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	clock := func() time.Time { return e.now() }
	e.timers = &TimerTracker{store: store, locks: newKeyLock(), now: clock}
	e.ledger = &Ledger{store: store, now: clock}
	e.reminders = &ReminderQueue{store: store, now: clock, logger: logger}
	return e
}

// Timers exposes the timer tracker.
func (e *Engine) Timers() *TimerTracker { return e.timers }

// Ledger exposes the progress ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// ReminderQueue exposes the reminder queue.
func (e *Engine) ReminderQueue() *ReminderQueue { return e.reminders }

// ListTasks is a pure catalog read.
func (e *Engine) ListTasks(level int, mood string) []domain.Task {
	return e.catalog.ListTasks(level, mood)
}

// Levels returns the level descriptors.
func (e *Engine) Levels() []domain.Level {
	return e.catalog.Levels()
}

// Tasks returns catalog tasks annotated with the user's activity today. An
// empty userID returns the tasks without activity.
func (e *Engine) Tasks(ctx context.Context, userID string, level int, mood string) ([]domain.TaskStatus, error) {
	tasks := e.catalog.ListTasks(level, mood)
	out := make([]domain.TaskStatus, len(tasks))
	for i, t := range tasks {
		out[i] = domain.TaskStatus{Task: t}
	}
	if userID == "" {
		return out, nil
	}
	logs, err := e.store.TaskLogs(ctx, userID, domain.Day(e.now()))
	if err != nil {
		return nil, internal("list task logs", err)
	}
	byTask := make(map[string]domain.TaskLog, len(logs))
	for _, l := range logs {
		byTask[l.TaskID] = l
	}
	for i := range out {
		l, ok := byTask[out[i].ID]
		if !ok {
			continue
		}
		out[i].Completed = l.Completed()
		out[i].TimerStarted = l.Started()
		out[i].TimerCompleted = l.Completed()
	}
	return out, nil
}

// LevelStatus reports whether the user finished every task of level today and
// may therefore be shown the next level. Completions are never reset when the
// user moves between levels.
func (e *Engine) LevelStatus(ctx context.Context, userID string, level int) (domain.LevelStatus, error) {
	if err := requireID("user id", userID); err != nil {
		return domain.LevelStatus{}, err
	}
	if level < 1 || level > domain.MaxLevel {
		return domain.LevelStatus{}, fmt.Errorf("level %d: %w", level, domain.ErrInvalidArgument)
	}
	tasks, err := e.Tasks(ctx, userID, level, "")
	if err != nil {
		return domain.LevelStatus{}, err
	}
	st := domain.LevelStatus{Level: level, Tasks: tasks, Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			st.Completed++
		}
	}
	st.Complete = st.Total > 0 && st.Completed == st.Total
	st.CanAdvance = st.Complete && level < domain.MaxLevel
	return st, nil
}

// StartTimer starts (or restarts) the countdown for a catalog task.
func (e *Engine) StartTimer(ctx context.Context, userID, taskID string, durationMinutes int) (domain.Timer, error) {
	if err := e.validate(userID, taskID); err != nil {
		return domain.Timer{}, err
	}
	return e.timers.Start(ctx, userID, taskID, durationMinutes)
}

// CompleteTask records a completion, credits its XP and any level bonus. An
// empty difficulty falls back to the catalog difficulty of the task; a nil
// completedAt means now.
func (e *Engine) CompleteTask(ctx context.Context, userID, taskID string, difficulty domain.Difficulty, completedAt *time.Time) (domain.CompletionOutcome, error) {
	if err := e.validate(userID, taskID); err != nil {
		return domain.CompletionOutcome{}, err
	}
	if difficulty == "" {
		task, _ := e.catalog.Task(taskID)
		difficulty = task.Difficulty
	}
	xp, ok := difficulty.XP()
	if !ok {
		return domain.CompletionOutcome{}, fmt.Errorf("difficulty %q: %w", difficulty, domain.ErrInvalidArgument)
	}
	at := e.now()
	if completedAt != nil && !completedAt.IsZero() {
		at = *completedAt
	}

	var bonus int
	res, err := e.timers.complete(ctx, userID, taskID, at, func(completedToday int) int {
		bonus = domain.LevelCompletionBonus(completedToday)
		return xp + bonus
	})
	if err != nil {
		return domain.CompletionOutcome{}, err
	}

	fields := log.Fields{"user": userID, "task": taskID, "xp": xp, "completed_today": res.CompletedToday, "total_xp": res.TotalXP}
	if bonus > 0 {
		e.logger.WithFields(fields).WithField("bonus_xp", bonus).Info("level completion bonus credited")
	} else {
		e.logger.WithFields(fields).Debug("task completed")
	}

	return domain.CompletionOutcome{
		XPGained:       xp,
		BonusXP:        bonus,
		TotalXP:        res.TotalXP,
		CompletedToday: res.CompletedToday,
	}, nil
}

// CreditXP adds amount to the user's ledger.
func (e *Engine) CreditXP(ctx context.Context, userID string, amount int) (int, error) {
	if err := requireID("user id", userID); err != nil {
		return 0, err
	}
	return e.ledger.Credit(ctx, userID, amount)
}

// Streak returns the user's consecutive-day streak ending at asOf.
func (e *Engine) Streak(ctx context.Context, userID string, asOf time.Time) (int, error) {
	if err := requireID("user id", userID); err != nil {
		return 0, err
	}
	day := domain.Day(asOf)
	counts, err := e.store.CompletionCounts(ctx, userID, domain.AddDays(day, -(domain.StreakWindow-1)), day)
	if err != nil {
		return 0, internal("completion counts", err)
	}
	return domain.Streak(day, counts), nil
}

// Progress assembles the user's XP, derived level, streak and today's count.
func (e *Engine) Progress(ctx context.Context, userID string) (domain.Progress, error) {
	if err := requireID("user id", userID); err != nil {
		return domain.Progress{}, err
	}
	now := e.now()
	today := domain.Day(now)

	rec, err := e.ledger.Record(ctx, userID)
	if err != nil {
		return domain.Progress{}, err
	}
	counts, err := e.store.CompletionCounts(ctx, userID, domain.AddDays(today, -(domain.StreakWindow-1)), today)
	if err != nil {
		return domain.Progress{}, internal("completion counts", err)
	}

	last := rec.LastActiveDate
	if last == "" {
		last = today
	}
	return domain.Progress{
		TotalXP:        rec.TotalXP,
		CurrentLevel:   rec.Level(),
		Streak:         domain.Streak(today, counts),
		LastActiveDate: last,
		CompletedToday: counts[today],
	}, nil
}

// ScheduleReminder queues a nudge for a catalog task.
func (e *Engine) ScheduleReminder(ctx context.Context, userID, taskID string, when time.Time, message string) (domain.Reminder, error) {
	if err := e.validate(userID, taskID); err != nil {
		return domain.Reminder{}, err
	}
	return e.reminders.Schedule(ctx, userID, taskID, when, message)
}

// DueReminders returns and marks sent every due reminder, optionally for one user.
func (e *Engine) DueReminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	return e.reminders.Due(ctx, userID)
}

// Reminders lists a user's reminders.
func (e *Engine) Reminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}
	return e.reminders.List(ctx, userID)
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) validate(userID, taskID string) error {
	if err := requireID("user id", userID); err != nil {
		return err
	}
	if err := requireID("task id", taskID); err != nil {
		return err
	}
	_, err := e.catalog.Task(taskID)
	return err
}

func requireID(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required: %w", name, domain.ErrInvalidArgument)
	}
	return nil
}

// internal classifies store failures, keeping errors that already carry a class.
func internal(op string, err error) error {
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInternal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrInternal, err)
}
