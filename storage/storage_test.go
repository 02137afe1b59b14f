package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"selfcare-api/domain"
)

func newTestTables() (*Tables, *fakeTable, *fakeTable) {
	progress, reminders := newFakeTable(), newFakeTable()
	return newTables(progress, reminders), progress, reminders
}

func TestDayRangeSelectsOnlyDaysInRange(t *testing.T) {
	row := func(rk string) *fakeRow { return &fakeRow{pk: "u1", rk: rk} }
	filter := dayRange("u1", "2026-03-01", "2026-03-02")
	cases := map[string]bool{
		"log_2026-02-28_a": false,
		"log_2026-03-01_a": true,
		"log_2026-03-02_z": true,
		"log_2026-03-03_a": false,
		progressRowKey:     false,
	}
	for rk, want := range cases {
		got, err := matches(row(rk), filter)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if got != want {
			t.Fatalf("row %s: got %v want %v", rk, got, want)
		}
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	if got := quote("o'brien"); got != "'o''brien'" {
		t.Fatalf("quote = %s", got)
	}
}

func TestLogEntityRoundTripsMillis(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	data, err := json.Marshal(logEntity{
		entityKeys:    entityKeys{PartitionKey: "u1", RowKey: logRowKey("2026-03-01", "1-1")},
		TaskID:        "1-1",
		Day:           "2026-03-01",
		StartedAt:     millis(at),
		StartedAtType: ptr(edmInt64),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["StartedAt@odata.type"] != edmInt64 {
		t.Fatalf("missing type annotation: %s", data)
	}
	if _, ok := raw["CompletedAt"]; ok {
		t.Fatalf("unset completion should be omitted: %s", data)
	}
	var back logEntity
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := back.toDomain("u1")
	if got.StartedAt == nil || !got.StartedAt.Equal(at) || got.CompletedAt != nil {
		t.Fatalf("unexpected log %+v", got)
	}
}

func ptr[T any](v T) *T { return &v }

func TestTablesStartTimerOverwritesSingleRow(t *testing.T) {
	ctx := context.Background()
	s, progress, _ := newTestTables()
	key := domain.LogKey{UserID: "u1", TaskID: "1-1", Day: "2026-03-01"}
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := s.StartTimer(ctx, key, first, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := s.StartTimer(ctx, key, first.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !got.StartedAt.Equal(first.Add(time.Hour)) || *got.TimerDuration != 10 {
		t.Fatalf("expected overwrite, got %+v", got)
	}
	if len(progress.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(progress.rows))
	}
}

func TestTablesCompleteCreditsInOneTransaction(t *testing.T) {
	ctx := context.Background()
	s, progress, _ := newTestTables()
	day := "2026-03-01"
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	key := domain.LogKey{UserID: "u1", TaskID: "1-1", Day: day}
	if _, err := s.StartTimer(ctx, key, at.Add(-5*time.Minute), 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := s.CompleteTask(ctx, key, at, func(n int) int { return 10 * n })
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.CompletedToday != 1 || res.Credited != 10 || res.TotalXP != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
	if progress.submits != 1 {
		t.Fatalf("expected one transaction, got %d", progress.submits)
	}

	again, err := s.CompleteTask(ctx, key, at.Add(time.Minute), func(n int) int { return 10 * n })
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if again.CompletedToday != 1 || again.TotalXP != 20 {
		t.Fatalf("re-completion must not add a second log: %+v", again)
	}

	logs, err := s.TaskLogs(ctx, "u1", day)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || !logs[0].Started() || !logs[0].Completed() {
		t.Fatalf("unexpected logs %+v", logs)
	}
	rec, err := s.Progress(ctx, "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if rec.TotalXP != 20 || rec.LastActiveDate != day {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTablesCompleteRetriesOnConcurrentCredit(t *testing.T) {
	ctx := context.Background()
	s, progress, _ := newTestTables()
	if _, err := s.CreditXP(ctx, "u1", 50, "2026-03-01"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	progress.beforeSubmit = func() {
		progress.bump("u1", progressRowKey, map[string]any{"TotalXP": 70})
	}

	calls := 0
	res, err := s.CompleteTask(ctx, domain.LogKey{UserID: "u1", TaskID: "1-1", Day: "2026-03-01"}, time.Now(), func(int) int {
		calls++
		return 10
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if calls != 2 || progress.submits != 2 {
		t.Fatalf("expected one retry, award calls=%d submits=%d", calls, progress.submits)
	}
	if res.TotalXP != 80 {
		t.Fatalf("expected credit on top of concurrent write, got %+v", res)
	}
}

func TestTablesCompleteWithoutCreditLeavesLedger(t *testing.T) {
	ctx := context.Background()
	s, progress, _ := newTestTables()
	res, err := s.CompleteTask(ctx, domain.LogKey{UserID: "u1", TaskID: "1-1", Day: "2026-03-01"}, time.Now(), nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Credited != 0 || res.TotalXP != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := progress.rows[rowID("u1", progressRowKey)]; ok {
		t.Fatalf("progress row should not be created without credit")
	}
}

func TestTablesCompletionCounts(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestTables()
	for _, k := range []domain.LogKey{
		{UserID: "u1", TaskID: "a", Day: "2026-02-28"},
		{UserID: "u1", TaskID: "a", Day: "2026-03-01"},
		{UserID: "u1", TaskID: "b", Day: "2026-03-01"},
		{UserID: "u1", TaskID: "a", Day: "2026-03-03"},
		{UserID: "u2", TaskID: "a", Day: "2026-03-01"},
	} {
		if _, err := s.CompleteTask(ctx, k, time.Now(), nil); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if _, err := s.StartTimer(ctx, domain.LogKey{UserID: "u1", TaskID: "c", Day: "2026-03-02"}, time.Now(), 3); err != nil {
		t.Fatalf("start: %v", err)
	}

	counts, err := s.CompletionCounts(ctx, "u1", "2026-03-01", "2026-03-02")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 1 || counts["2026-03-01"] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestTablesCreditXPConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestTables()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreditXP(ctx, "u1", 25, "2026-03-01"); err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
	}
	wg.Wait()
	rec, err := s.Progress(ctx, "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if rec.TotalXP != 100 {
		t.Fatalf("expected 100 XP, got %d", rec.TotalXP)
	}
}

func TestTablesCreditXPRejectsNonPositive(t *testing.T) {
	s, _, _ := newTestTables()
	if _, err := s.CreditXP(context.Background(), "u1", -1, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestTablesProgressMissingIsZero(t *testing.T) {
	s, _, _ := newTestTables()
	rec, err := s.Progress(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if rec.TotalXP != 0 || rec.UserID != "nobody" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTablesRemindersMarkedOnce(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestTables()
	when := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	for _, r := range []domain.Reminder{
		{ID: "r1", UserID: "u1", TaskID: "1-1", ScheduledAt: when, Message: "stretch"},
		{ID: "r2", UserID: "u2", TaskID: "1-2", ScheduledAt: when, Message: "breathe"},
	} {
		if err := s.AddReminder(ctx, r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	mine, err := s.Reminders(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || !mine[0].ScheduledAt.Equal(when) || mine[0].Message != "stretch" || mine[0].ETag == "" {
		t.Fatalf("unexpected reminders %+v", mine)
	}

	won, err := s.MarkReminderSent(ctx, mine[0])
	if err != nil || !won {
		t.Fatalf("first mark: won=%v err=%v", won, err)
	}
	won, err = s.MarkReminderSent(ctx, mine[0])
	if err != nil || won {
		t.Fatalf("stale mark should lose: won=%v err=%v", won, err)
	}
	won, err = s.MarkReminderSent(ctx, domain.Reminder{ID: "r1", UserID: "u1"})
	if err != nil || won {
		t.Fatalf("mark without etag should see sent flag: won=%v err=%v", won, err)
	}

	all, err := s.Reminders(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(all))
	}
	for _, r := range all {
		if r.ID == "r1" && !r.Sent {
			t.Fatalf("r1 should be sent")
		}
		if r.ID == "r2" && r.Sent {
			t.Fatalf("r2 should be unsent")
		}
	}

	if _, err := s.MarkReminderSent(ctx, domain.Reminder{ID: "ghost", UserID: "u1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTablesPing(t *testing.T) {
	s, _, _ := newTestTables()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
