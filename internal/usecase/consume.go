package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"leadcall/internal/domain"
	"leadcall/internal/ports"
	"leadcall/pkg/backoff"
)

// Handler processes one due contact.
type Handler func(ctx context.Context, contactID string) error

// TriggerHandler re-invokes Trigger for a due contact. The stored task
// supplies phone and zone.
func TriggerHandler(o *Orchestrator) Handler {
	return func(ctx context.Context, contactID string) error {
		_, err := o.Trigger(ctx, TriggerRequest{ContactID: contactID})
		return err
	}
}

type Consumer struct {
	Q            ports.TriggerQueue
	ConsumerName string
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Block        time.Duration
	Now          func() time.Time

	// consecutive failures per contact, reset on success
	failures map[string]int
}

func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	claimErrs := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		contactID, msgID, err := c.Q.Claim(ctx, c.ConsumerName, c.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			claimErrs++
			log.Ctx(ctx).Error().Err(err).Msg("failed to claim due contact")
			if err := sleep(ctx, backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, claimErrs)); err != nil {
				return err
			}
			continue
		}
		claimErrs = 0
		if contactID == "" {
			continue
		}

		c.Process(ctx, handle, contactID, msgID)
	}
}

// Process runs handle for one claimed message and acks it. Retryable
// failures put the contact back on the queue with a backoff delay.
func (c *Consumer) Process(ctx context.Context, handle Handler, contactID, msgID string) {
	logger := log.Ctx(ctx).With().Str("contact_id", contactID).Str("msg_id", msgID).Logger()
	ctx = logger.WithContext(ctx)
	if c.failures == nil {
		c.failures = make(map[string]int)
	}

	err := handle(ctx, contactID)
	switch {
	case err == nil:
		delete(c.failures, contactID)
	case retryable(err):
		c.failures[contactID]++
		delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, c.failures[contactID])
		logger.Warn().Err(err).Dur("delay", delay).Int("failures", c.failures[contactID]).Msg("due trigger failed, rescheduling")
		if serr := c.Q.Schedule(ctx, contactID, c.Now().Add(delay)); serr != nil {
			// Left pending; Claim hands it out again once idle.
			logger.Error().Err(serr).Msg("failed to reschedule due contact")
			return
		}
	default:
		delete(c.failures, contactID)
		logger.Error().Err(err).Msg("dropping due trigger")
	}

	if err := c.Q.Ack(ctx, msgID); err != nil {
		logger.Error().Err(err).Msg("failed to ack due contact")
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidTransition):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
