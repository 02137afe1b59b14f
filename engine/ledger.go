package engine

import (
	"context"
	"fmt"
	"time"

	"selfcare-api/domain"
)

// Ledger credits XP. Level is never stored; it is derived from the total.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Credit adds a positive amount to the user's total and returns the new total.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("xp amount %d: %w", amount, domain.ErrInvalidArgument)
	}
	total, err := l.store.CreditXP(ctx, userID, amount, domain.Day(l.now()))
	if err != nil {
		return 0, internal("credit xp", err)
	}
	return total, nil
}

// Record returns the user's ledger entry, zero-valued when the user has none.
func (l *Ledger) Record(ctx context.Context, userID string) (domain.ProgressRecord, error) {
	rec, err := l.store.Progress(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, internal("load progress", err)
	}
	rec.UserID = userID
	return rec, nil
}
