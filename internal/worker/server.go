// internal/worker/server.go
package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"leadcall/internal/app"
	"leadcall/internal/config"
	"leadcall/internal/infra/redisq"
	"leadcall/internal/usecase"
)

type Config struct {
	ConsumerName string
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

// Run moves due contacts from the delay set to the stream and re-triggers
// them until SIGINT or SIGTERM.
func Run(cfg Config, appCfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.With().Str("consumer", cfg.ConsumerName).Logger()
	ctx = logger.WithContext(ctx)

	a, err := app.Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close backends")
		}
	}()

	sched := redisq.NewScheduler(a.Redis, cfg.PollInterval)
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	consumer := &usecase.Consumer{
		Q:            a.Redis,
		ConsumerName: cfg.ConsumerName,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
	}

	log.Ctx(ctx).Info().
		Str("stream", appCfg.Redis.StreamKey).
		Str("group", appCfg.Redis.Group).
		Dur("poll_interval", cfg.PollInterval).
		Msg("worker started")

	err = consumer.Run(ctx, usecase.TriggerHandler(a.Orchestrator))
	if errors.Is(err, context.Canceled) {
		log.Ctx(ctx).Info().Msg("worker stopped")
		return nil
	}
	return err
}
