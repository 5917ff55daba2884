// Package app builds the orchestrator and its collaborators from config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"leadcall/internal/config"
	"leadcall/internal/hours"
	"leadcall/internal/infra/crm"
	"leadcall/internal/infra/dynamo"
	"leadcall/internal/infra/kafka"
	"leadcall/internal/infra/redisq"
	"leadcall/internal/infra/vapi"
	"leadcall/internal/ports"
	"leadcall/internal/retry"
	"leadcall/internal/telemetry"
	"leadcall/internal/timezone"
	"leadcall/internal/usecase"
	"leadcall/pkg/backoff"
)

type App struct {
	Orchestrator *usecase.Orchestrator
	// Redis backs the trigger queue whatever the task store backend is.
	Redis *redisq.Client

	closers []func(context.Context) error
}

// Build connects every backend. The caller must Close the result.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	storeRetry := backoff.Policy{
		Attempts: cfg.Policy.StoreRetries,
		Base:     cfg.Policy.StoreBaseBackoff,
		Max:      cfg.Policy.StoreMaxBackoff,
	}

	a.Redis = redisq.New(cfg.Redis, storeRetry)
	a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
	if err := a.Redis.Init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	var store ports.TaskStore = a.Redis
	if cfg.Store.Backend == "dynamodb" {
		store, err = dynamo.NewStore(ctx, cfg.Dynamo, storeRetry)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	var events ports.EventPublisher = kafka.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka)
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		events = pub
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing call events to kafka")
	}

	o, err := NewOrchestrator(cfg, store, a.Redis, vapi.NewDialer(cfg.Dialer), crm.NewClient(cfg.CRM), events)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Orchestrator = o
	return a, nil
}

// NewOrchestrator assembles the policy components from cfg around the given ports.
func NewOrchestrator(
	cfg *config.Config,
	store ports.TaskStore,
	queue ports.TriggerQueue,
	dialer ports.VoiceDialer,
	crmClient interface {
		ports.Notifier
		ports.Tagger
	},
	events ports.EventPublisher,
) (*usecase.Orchestrator, error) {
	p := cfg.Policy
	gate, err := hours.NewGate(hours.Window{
		OpenHour:  p.OpenHour,
		CloseHour: p.CloseHour,
		SnapHour:  p.SnapHour,
	}, p.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("calling window: %w", err)
	}

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	policy := retry.NewPolicy(retry.Delays{
		Busy:      p.BusyDelay,
		NoAnswer:  p.NoAnswerDelay,
		Voicemail: p.VoicemailDelay,
		Default:   p.DefaultDelay,
	}, gate)

	return usecase.NewOrchestrator(usecase.Deps{
		Store:    store,
		Queue:    queue,
		Dialer:   dialer,
		Notifier: crmClient,
		Tagger:   crmClient,
		Events:   events,
		Resolver: timezone.NewResolver(p.DefaultTimezone),
		Gate:     gate,
		Policy:   policy,
		Metrics:  metrics,
	}, usecase.Settings{
		MaxAttempts:      p.MaxAttempts,
		CallTimeout:      p.CallTimeout,
		CallLease:        p.CallLease,
		ConflictRetries:  p.ConflictRetries,
		ReminderTemplate: cfg.CRM.ReminderMessage,
	}), nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
