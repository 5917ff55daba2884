package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"leadcall/internal/ports"
)

var _ ports.Scheduler = (*Scheduler)(nil)

type Scheduler struct {
	C        *Client
	Interval time.Duration
	Batch    int64
	Now      func() time.Time
}

func NewScheduler(c *Client, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{C: c, Interval: interval, Batch: 128, Now: time.Now}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if n, err := s.MoveDue(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to move due triggers")
		} else if n > 0 {
			log.Ctx(ctx).Debug().Int("count", n).Msg("dispatched due triggers")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// moveDue pushes due members onto the stream and removes them from the
// delay set atomically.
var moveDue = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('XADD', KEYS[2], '*', ARGV[3], id)
	redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

// MoveDue dispatches every contact whose due time has passed.
func (s *Scheduler) MoveDue(ctx context.Context) (int, error) {
	keys := []string{s.C.Cfg.ScheduledZSet, s.C.Cfg.StreamKey}
	n, err := moveDue.Run(ctx, s.C.Rdb, keys, s.Now().UnixMilli(), s.Batch, contactField).Int()
	if err != nil {
		return 0, fmt.Errorf("move due triggers: %w", err)
	}
	return n, nil
}
