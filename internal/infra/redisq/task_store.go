package redisq

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"leadcall/internal/domain"
	"leadcall/internal/infra/fields"
	"leadcall/internal/ports"
	"leadcall/pkg/backoff"
)

var _ ports.TaskStore = (*Client)(nil)

// Get loads the task hash of contactID.
func (c *Client) Get(ctx context.Context, contactID string) (*domain.CallTask, error) {
	var h map[string]string
	err := backoff.Retry(ctx, c.WriteRetry, retryable, func(ctx context.Context) error {
		var err error
		h, err = c.Rdb.HGetAll(ctx, c.taskKey(contactID)).Result()
		return err
	})
	if err != nil {
		return nil, domain.Failure(domain.KindStorePersistence, "redis.get", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrTaskNotFound
	}
	t, err := fields.Unmarshal(h)
	if err != nil {
		return nil, domain.Failure(domain.KindStorePersistence, "redis.get", err)
	}
	return t, nil
}

// Put writes t when the stored version still equals t.Version.
func (c *Client) Put(ctx context.Context, t *domain.CallTask) error {
	key := c.taskKey(t.ContactID)
	next := t.Clone()
	next.Version = t.Version + 1
	values := make(map[string]any, 16)
	for k, v := range fields.Marshal(next) {
		values[k] = v
	}

	err := backoff.Retry(ctx, c.WriteRetry, retryable, func(ctx context.Context) error {
		return c.Rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.HGet(ctx, key, fields.Version).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if !versionMatches(cur, t.Version) {
				return domain.ErrConflict
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, key, values)
				return nil
			})
			return err
		}, key)
	})
	switch {
	case err == nil:
		t.Version = next.Version
		return nil
	case errors.Is(err, domain.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return domain.ErrConflict
	}
	return domain.Failure(domain.KindStorePersistence, "redis.put", err)
}

func versionMatches(stored string, expected int64) bool {
	if stored == "" {
		return expected == 0
	}
	v, err := strconv.ParseInt(stored, 10, 64)
	return err == nil && v == expected
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, redis.TxFailedErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
