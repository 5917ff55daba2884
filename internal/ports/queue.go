package ports

import (
	"context"
	"time"
)

// TriggerQueue holds contacts whose next attempt is due at a later instant.
// Scheduling the same contact again replaces its due time.
type TriggerQueue interface {
	Schedule(ctx context.Context, contactID string, at time.Time) error
	Unschedule(ctx context.Context, contactID string) error
	// Claim blocks up to block for a due contact. It returns "" when none arrived.
	Claim(ctx context.Context, consumer string, block time.Duration) (contactID string, msgID string, err error)
	Ack(ctx context.Context, msgID string) error
}

type Scheduler interface {
	// moves due contacts from the delay set into the dispatch stream
	Run(ctx context.Context) error
}
