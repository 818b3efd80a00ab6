package reconcile

import (
	"context"
	"fmt"
	"time"
)

const (
	// DailyChallengeLimit is how many challenges one organizer may create in
	// a rolling window. The limit is advisory; the ledger does not enforce it.
	DailyChallengeLimit = 2
	DailyLimitWindow    = 24 * time.Hour
)

// CheckDailyLimit returns ErrDailyLimitExceeded when organizer has already
// created DailyChallengeLimit challenges in the last DailyLimitWindow.
func (e *Engine) CheckDailyLimit(ctx context.Context, organizer string) error {
	since := e.clock.Now().Add(-DailyLimitWindow)
	n, err := e.store.CountCreatedSince(ctx, organizer, since)
	if err != nil {
		return fmt.Errorf("failed to count recent challenges: %w", err)
	}
	if n >= DailyChallengeLimit {
		return fmt.Errorf("%w: %d created since %s", ErrDailyLimitExceeded, n, since.UTC().Format(time.RFC3339))
	}
	return nil
}
