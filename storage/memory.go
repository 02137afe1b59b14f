package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"selfcare-api/domain"
	"selfcare-api/engine"
)

// Memory keeps all state in keyed maps. Each user's logs and ledger entry are
// guarded by that user's mutex so per-user writes apply atomically; reminders
// share one mutex that makes the sent flip a compare-and-set.
type Memory struct {
	mu    sync.Mutex
	users map[string]*userState

	remMu     sync.Mutex
	reminders map[string]*domain.Reminder
	remOrder  []string
}

type userState struct {
	mu       sync.Mutex
	progress domain.ProgressRecord
	logs     map[string]map[string]*domain.TaskLog // day -> task -> log
}

var _ engine.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]*userState),
		reminders: make(map[string]*domain.Reminder),
	}
}

func (m *Memory) user(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = &userState{
			progress: domain.ProgressRecord{UserID: userID},
			logs:     make(map[string]map[string]*domain.TaskLog),
		}
		m.users[userID] = u
	}
	return u
}

func (u *userState) log(key domain.LogKey) *domain.TaskLog {
	day, ok := u.logs[key.Day]
	if !ok {
		day = make(map[string]*domain.TaskLog)
		u.logs[key.Day] = day
	}
	l, ok := day[key.TaskID]
	if !ok {
		l = &domain.TaskLog{UserID: key.UserID, TaskID: key.TaskID, Day: key.Day}
		day[key.TaskID] = l
	}
	return l
}

func (u *userState) completedOn(day string) int {
	n := 0
	for _, l := range u.logs[day] {
		if l.Completed() {
			n++
		}
	}
	return n
}

// StartTimer implements engine.Store.
func (m *Memory) StartTimer(_ context.Context, key domain.LogKey, startedAt time.Time, durationMinutes int) (domain.TaskLog, error) {
	u := m.user(key.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()

	l := u.log(key)
	started := startedAt
	duration := durationMinutes
	l.StartedAt = &started
	l.TimerDuration = &duration
	return *l, nil
}

// CompleteTask implements engine.Store.
func (m *Memory) CompleteTask(_ context.Context, key domain.LogKey, completedAt time.Time, award engine.AwardFunc) (domain.CompletionResult, error) {
	u := m.user(key.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()

	l := u.log(key)
	done := completedAt
	l.CompletedAt = &done

	res := domain.CompletionResult{CompletedToday: u.completedOn(key.Day)}
	if award != nil {
		res.Credited = award(res.CompletedToday)
	}
	if res.Credited > 0 {
		u.progress.TotalXP += res.Credited
		u.progress.LastActiveDate = key.Day
	}
	res.TotalXP = u.progress.TotalXP
	return res, nil
}

// CreditXP implements engine.Store.
func (m *Memory) CreditXP(_ context.Context, userID string, amount int, activeOn string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("xp amount %d: %w", amount, domain.ErrInvalidArgument)
	}
	u := m.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progress.TotalXP += amount
	if activeOn != "" {
		u.progress.LastActiveDate = activeOn
	}
	return u.progress.TotalXP, nil
}

// Progress implements engine.Store.
func (m *Memory) Progress(_ context.Context, userID string) (domain.ProgressRecord, error) {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return domain.ProgressRecord{UserID: userID}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress, nil
}

// TaskLogs implements engine.Store.
func (m *Memory) TaskLogs(_ context.Context, userID, day string) ([]domain.TaskLog, error) {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]domain.TaskLog, 0, len(u.logs[day]))
	for _, l := range u.logs[day] {
		out = append(out, *l)
	}
	return out, nil
}

// CompletionCounts implements engine.Store.
func (m *Memory) CompletionCounts(_ context.Context, userID, from, to string) (map[string]int, error) {
	counts := make(map[string]int)
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return counts, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for day := range u.logs {
		if day < from || day > to {
			continue
		}
		if n := u.completedOn(day); n > 0 {
			counts[day] = n
		}
	}
	return counts, nil
}

// AddReminder implements engine.Store.
func (m *Memory) AddReminder(_ context.Context, r domain.Reminder) error {
	m.remMu.Lock()
	defer m.remMu.Unlock()
	if _, exists := m.reminders[r.ID]; exists {
		return fmt.Errorf("reminder %s already exists", r.ID)
	}
	cpy := r
	m.reminders[r.ID] = &cpy
	m.remOrder = append(m.remOrder, r.ID)
	return nil
}

// Reminders implements engine.Store.
func (m *Memory) Reminders(_ context.Context, userID string) ([]domain.Reminder, error) {
	m.remMu.Lock()
	defer m.remMu.Unlock()
	out := make([]domain.Reminder, 0)
	for _, id := range m.remOrder {
		r := m.reminders[id]
		if userID != "" && r.UserID != userID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// MarkReminderSent implements engine.Store.
func (m *Memory) MarkReminderSent(_ context.Context, r domain.Reminder) (bool, error) {
	m.remMu.Lock()
	defer m.remMu.Unlock()
	cur, ok := m.reminders[r.ID]
	if !ok {
		return false, fmt.Errorf("reminder %s: %w", r.ID, domain.ErrNotFound)
	}
	if cur.Sent {
		return false, nil
	}
	cur.Sent = true
	return true, nil
}

// Ping implements engine.Store.
func (m *Memory) Ping(context.Context) error { return nil }
