package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"selfcare-api/domain"
	"selfcare-api/engine"
)

const (
	progressRowKey = "progress"
	logRowPrefix   = "log_"
	// maxConflictRetries bounds optimistic-concurrency retries per write.
	maxConflictRetries = 8

	edmInt64 = "Edm.Int64"
)

// tableClient is the subset of *aztables.Client the store uses.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables persists progress in Azure Table Storage. A user's ledger entry and
// task logs share one partition so a completion and its XP credit commit in a
// single entity-group transaction.
type Tables struct {
	progress  tableClient
	reminders tableClient
}

var _ engine.Store = (*Tables)(nil)

// ClientOptions returns the retry policy shared by the table clients.
func ClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates a Tables store from the given connection string.
func New(connStr, progressTable, remindersTable string) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, ClientOptions())
	if err != nil {
		return nil, err
	}
	return newTables(svc.NewClient(progressTable), svc.NewClient(remindersTable)), nil
}

func newTables(progress, reminders tableClient) *Tables {
	return &Tables{progress: progress, reminders: reminders}
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type progressEntity struct {
	entityKeys
	TotalXP        int    `json:"TotalXP"`
	LastActiveDate string `json:"LastActiveDate,omitempty"`
}

type logEntity struct {
	entityKeys
	TaskID          string  `json:"TaskID"`
	Day             string  `json:"Day"`
	StartedAt       *int64  `json:"StartedAt,omitempty,string"`
	StartedAtType   *string `json:"StartedAt@odata.type,omitempty"`
	TimerDuration   *int    `json:"TimerDuration,omitempty"`
	CompletedAt     *int64  `json:"CompletedAt,omitempty,string"`
	CompletedAtType *string `json:"CompletedAt@odata.type,omitempty"`
}

type reminderEntity struct {
	entityKeys
	TaskID          string `json:"TaskID"`
	ScheduledAt     int64  `json:"ScheduledAt,string"`
	ScheduledAtType string `json:"ScheduledAt@odata.type"`
	Message         string `json:"Message"`
	Sent            bool   `json:"Sent"`
}

type reminderSentUpdate struct {
	entityKeys
	Sent bool `json:"Sent"`
}

type etagHolder struct {
	ETag string `json:"odata.etag"`
}

func logRowKey(day, taskID string) string {
	return logRowPrefix + day + "_" + taskID
}

// dayRange builds a filter over the log rows of days in [first, last]. Day
// strings have a fixed width and '`' sorts right after '_'.
func dayRange(userID, first, last string) string {
	return "PartitionKey eq " + quote(userID) +
		" and RowKey ge " + quote(logRowPrefix+first+"_") +
		" and RowKey lt " + quote(logRowPrefix+last+"`")
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func (e logEntity) toDomain(userID string) domain.TaskLog {
	return domain.TaskLog{
		UserID:        userID,
		TaskID:        e.TaskID,
		Day:           e.Day,
		StartedAt:     fromMillis(e.StartedAt),
		CompletedAt:   fromMillis(e.CompletedAt),
		TimerDuration: e.TimerDuration,
	}
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func isConflict(err error) bool {
	code := statusCode(err)
	return code == 409 || code == 412
}

func isNotFound(err error) bool {
	return statusCode(err) == 404
}

type listedEntity struct {
	raw  []byte
	etag azcore.ETag
}

func list(ctx context.Context, client tableClient, filter string) ([]listedEntity, error) {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = to.Ptr(filter)
	}
	pager := client.NewListEntitiesPager(opts)
	var out []listedEntity
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var h etagHolder
			if err := json.Unmarshal(e, &h); err != nil {
				return nil, err
			}
			out = append(out, listedEntity{raw: e, etag: azcore.ETag(h.ETag)})
		}
	}
	return out, nil
}

// StartTimer merges the timer fields into the log row, leaving any completion
// untouched.
func (s *Tables) StartTimer(ctx context.Context, key domain.LogKey, startedAt time.Time, durationMinutes int) (domain.TaskLog, error) {
	ent := logEntity{
		entityKeys:    entityKeys{PartitionKey: key.UserID, RowKey: logRowKey(key.Day, key.TaskID)},
		TaskID:        key.TaskID,
		Day:           key.Day,
		StartedAt:     millis(startedAt),
		StartedAtType: to.Ptr(edmInt64),
		TimerDuration: to.Ptr(durationMinutes),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.TaskLog{}, err
	}
	if _, err := s.progress.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.TaskLog{}, err
	}
	got, _, err := s.getLog(ctx, key)
	if err != nil {
		return domain.TaskLog{}, err
	}
	return got, nil
}

func (s *Tables) getLog(ctx context.Context, key domain.LogKey) (domain.TaskLog, azcore.ETag, error) {
	resp, err := s.progress.GetEntity(ctx, key.UserID, logRowKey(key.Day, key.TaskID), nil)
	if err != nil {
		return domain.TaskLog{}, "", err
	}
	var ent logEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.TaskLog{}, "", err
	}
	return ent.toDomain(key.UserID), resp.ETag, nil
}

func (s *Tables) getProgress(ctx context.Context, userID string) (progressEntity, azcore.ETag, bool, error) {
	resp, err := s.progress.GetEntity(ctx, userID, progressRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return progressEntity{entityKeys: entityKeys{PartitionKey: userID, RowKey: progressRowKey}}, "", false, nil
		}
		return progressEntity{}, "", false, err
	}
	var ent progressEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return progressEntity{}, "", false, err
	}
	return ent, resp.ETag, true, nil
}

// CompleteTask writes the completion and the XP credit in one transaction
// conditioned on the ETags read, retrying when another writer got there first.
func (s *Tables) CompleteTask(ctx context.Context, key domain.LogKey, completedAt time.Time, award engine.AwardFunc) (domain.CompletionResult, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		res, err := s.tryComplete(ctx, key, completedAt, award)
		if err == nil {
			return res, nil
		}
		if !isConflict(err) {
			return domain.CompletionResult{}, err
		}
	}
	return domain.CompletionResult{}, fmt.Errorf("complete %s: %w", key, domain.ErrConcurrencyConflict)
}

func (s *Tables) tryComplete(ctx context.Context, key domain.LogKey, completedAt time.Time, award engine.AwardFunc) (domain.CompletionResult, error) {
	rows, err := list(ctx, s.progress, dayRange(key.UserID, key.Day, key.Day))
	if err != nil {
		return domain.CompletionResult{}, err
	}
	rowKey := logRowKey(key.Day, key.TaskID)
	var (
		existing *listedEntity
		count    = 1
	)
	for i := range rows {
		var ent logEntity
		if err := json.Unmarshal(rows[i].raw, &ent); err != nil {
			return domain.CompletionResult{}, err
		}
		if ent.RowKey == rowKey {
			existing = &rows[i]
			continue
		}
		if ent.CompletedAt != nil {
			count++
		}
	}

	logPayload, err := json.Marshal(logEntity{
		entityKeys:      entityKeys{PartitionKey: key.UserID, RowKey: rowKey},
		TaskID:          key.TaskID,
		Day:             key.Day,
		CompletedAt:     millis(completedAt),
		CompletedAtType: to.Ptr(edmInt64),
	})
	if err != nil {
		return domain.CompletionResult{}, err
	}
	logAction := aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: logPayload}
	if existing != nil {
		etag := existing.etag
		logAction = aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: logPayload, IfMatch: &etag}
	}
	actions := []aztables.TransactionAction{logAction}

	res := domain.CompletionResult{CompletedToday: count}
	if award != nil {
		res.Credited = award(count)
	}
	prog, etag, found, err := s.getProgress(ctx, key.UserID)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	res.TotalXP = prog.TotalXP
	if res.Credited > 0 {
		prog.TotalXP += res.Credited
		prog.LastActiveDate = key.Day
		res.TotalXP = prog.TotalXP
		action, err := progressAction(prog, etag, found)
		if err != nil {
			return domain.CompletionResult{}, err
		}
		actions = append(actions, action)
	}
	if _, err := s.progress.SubmitTransaction(ctx, actions, nil); err != nil {
		return domain.CompletionResult{}, err
	}
	return res, nil
}

func progressAction(prog progressEntity, etag azcore.ETag, found bool) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(prog)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	if !found {
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}, nil
	}
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &etag}, nil
}

// CreditXP implements engine.Store.
func (s *Tables) CreditXP(ctx context.Context, userID string, amount int, activeOn string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("xp amount %d: %w", amount, domain.ErrInvalidArgument)
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		prog, etag, found, err := s.getProgress(ctx, userID)
		if err != nil {
			return 0, err
		}
		prog.TotalXP += amount
		if activeOn != "" {
			prog.LastActiveDate = activeOn
		}
		payload, err := json.Marshal(prog)
		if err != nil {
			return 0, err
		}
		if found {
			_, err = s.progress.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		} else {
			_, err = s.progress.AddEntity(ctx, payload, nil)
		}
		if err == nil {
			return prog.TotalXP, nil
		}
		if !isConflict(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("credit %s: %w", userID, domain.ErrConcurrencyConflict)
}

// Progress implements engine.Store.
func (s *Tables) Progress(ctx context.Context, userID string) (domain.ProgressRecord, error) {
	prog, _, _, err := s.getProgress(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	return domain.ProgressRecord{UserID: userID, TotalXP: prog.TotalXP, LastActiveDate: prog.LastActiveDate}, nil
}

// TaskLogs implements engine.Store.
func (s *Tables) TaskLogs(ctx context.Context, userID, day string) ([]domain.TaskLog, error) {
	rows, err := list(ctx, s.progress, dayRange(userID, day, day))
	if err != nil {
		return nil, err
	}
	logs := make([]domain.TaskLog, 0, len(rows))
	for _, row := range rows {
		var ent logEntity
		if err := json.Unmarshal(row.raw, &ent); err != nil {
			return nil, err
		}
		logs = append(logs, ent.toDomain(userID))
	}
	return logs, nil
}

// CompletionCounts implements engine.Store.
func (s *Tables) CompletionCounts(ctx context.Context, userID, first, last string) (map[string]int, error) {
	counts := make(map[string]int)
	if first > last {
		return counts, nil
	}
	rows, err := list(ctx, s.progress, dayRange(userID, first, last))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		var ent logEntity
		if err := json.Unmarshal(row.raw, &ent); err != nil {
			return nil, err
		}
		if ent.CompletedAt != nil {
			counts[ent.Day]++
		}
	}
	return counts, nil
}

// AddReminder implements engine.Store.
func (s *Tables) AddReminder(ctx context.Context, r domain.Reminder) error {
	payload, err := json.Marshal(reminderEntity{
		entityKeys:      entityKeys{PartitionKey: r.UserID, RowKey: r.ID},
		TaskID:          r.TaskID,
		ScheduledAt:     r.ScheduledAt.UnixMilli(),
		ScheduledAtType: edmInt64,
		Message:         r.Message,
		Sent:            r.Sent,
	})
	if err != nil {
		return err
	}
	_, err = s.reminders.AddEntity(ctx, payload, nil)
	return err
}

// Reminders implements engine.Store. Each reminder carries the ETag it was
// read with.
func (s *Tables) Reminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	filter := ""
	if userID != "" {
		filter = "PartitionKey eq " + quote(userID)
	}
	rows, err := list(ctx, s.reminders, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Reminder, 0, len(rows))
	for _, row := range rows {
		var ent reminderEntity
		if err := json.Unmarshal(row.raw, &ent); err != nil {
			return nil, err
		}
		out = append(out, domain.Reminder{
			ID:          ent.RowKey,
			UserID:      ent.PartitionKey,
			TaskID:      ent.TaskID,
			ScheduledAt: time.UnixMilli(ent.ScheduledAt).UTC(),
			Message:     ent.Message,
			Sent:        ent.Sent,
			ETag:        string(row.etag),
		})
	}
	return out, nil
}

// MarkReminderSent flips Sent with an ETag-conditioned merge. A failed
// precondition means someone else wrote the row; it is re-read to tell a lost
// race from an unrelated update.
func (s *Tables) MarkReminderSent(ctx context.Context, r domain.Reminder) (bool, error) {
	etag := azcore.ETag(r.ETag)
	payload, err := json.Marshal(reminderSentUpdate{
		entityKeys: entityKeys{PartitionKey: r.UserID, RowKey: r.ID},
		Sent:       true,
	})
	if err != nil {
		return false, err
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if etag == "" {
			sent, current, err := s.reminderState(ctx, r)
			if err != nil {
				return false, err
			}
			if sent {
				return false, nil
			}
			etag = current
		}
		_, err := s.reminders.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		if err == nil {
			return true, nil
		}
		if isNotFound(err) {
			return false, fmt.Errorf("reminder %s: %w", r.ID, domain.ErrNotFound)
		}
		if !isConflict(err) {
			return false, err
		}
		etag = ""
	}
	return false, fmt.Errorf("reminder %s: %w", r.ID, domain.ErrConcurrencyConflict)
}

func (s *Tables) reminderState(ctx context.Context, r domain.Reminder) (bool, azcore.ETag, error) {
	resp, err := s.reminders.GetEntity(ctx, r.UserID, r.ID, nil)
	if err != nil {
		if isNotFound(err) {
			return false, "", fmt.Errorf("reminder %s: %w", r.ID, domain.ErrNotFound)
		}
		return false, "", err
	}
	var ent reminderEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return false, "", err
	}
	return ent.Sent, resp.ETag, nil
}

// Ping reads at most one row to confirm the progress table is reachable.
func (s *Tables) Ping(ctx context.Context) error {
	pager := s.progress.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: to.Ptr(int32(1))})
	if !pager.More() {
		return nil
	}
	_, err := pager.NextPage(ctx)
	return err
}
