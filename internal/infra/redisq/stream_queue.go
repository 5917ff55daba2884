package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadcall/internal/ports"
)

var _ ports.TriggerQueue = (*Client)(nil)

const contactField = "contact_id"

// Schedule adds or moves contactID in the delay set.
func (c *Client) Schedule(ctx context.Context, contactID string, at time.Time) error {
	return c.Rdb.ZAdd(ctx, c.Cfg.ScheduledZSet, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: contactID,
	}).Err()
}

func (c *Client) Unschedule(ctx context.Context, contactID string) error {
	return c.Rdb.ZRem(ctx, c.Cfg.ScheduledZSet, contactID).Err()
}

// Claim first takes over an entry another delivery left unacked for
// ClaimMinIdle, then reads new entries.
func (c *Client) Claim(ctx context.Context, consumer string, block time.Duration) (string, string, error) {
	msg, ok, err := c.reclaim(ctx, consumer)
	if err != nil {
		return "", "", err
	}
	if !ok {
		if msg, ok, err = c.read(ctx, consumer, block); err != nil || !ok {
			return "", "", err
		}
	}

	switch v := msg.Values[contactField].(type) {
	case string:
		return v, msg.ID, nil
	case []byte:
		return string(v), msg.ID, nil
	default:
		// Unreadable entries are acked so they do not block the group.
		_ = c.Ack(ctx, msg.ID)
		return "", "", fmt.Errorf("unexpected %s type: %T", contactField, v)
	}
}

func (c *Client) reclaim(ctx context.Context, consumer string) (redis.XMessage, bool, error) {
	msgs, _, err := c.Rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.Cfg.StreamKey,
		Group:    c.Cfg.Group,
		Consumer: consumer,
		MinIdle:  c.Cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("reclaim pending: %w", err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	return msgs[0], true, nil
}

func (c *Client) read(ctx context.Context, consumer string, block time.Duration) (redis.XMessage, bool, error) {
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.Cfg.StreamKey, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, err
	}

	if len(res) == 0 || len(res[0].Messages) == 0 {
		return redis.XMessage{}, false, nil
	}
	return res[0].Messages[0], true, nil
}

func (c *Client) Ack(ctx context.Context, msgID string) error {
	return c.Rdb.XAck(ctx, c.Cfg.StreamKey, c.Cfg.Group, msgID).Err()
}

// DueAt returns the scheduled instant of contactID, if any.
func (c *Client) DueAt(ctx context.Context, contactID string) (time.Time, bool, error) {
	score, err := c.Rdb.ZScore(ctx, c.Cfg.ScheduledZSet, contactID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}
