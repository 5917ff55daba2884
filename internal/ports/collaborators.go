package ports

import (
	"context"

	"leadcall/internal/domain"
)

// TaskStore persists CallTasks with optimistic locking. Put succeeds only
// when the stored version equals t.Version (0 meaning absent) and returns
// domain.ErrConflict otherwise. On success t.Version is advanced.
// Get returns domain.ErrTaskNotFound for an unknown contact.
type TaskStore interface {
	Get(ctx context.Context, contactID string) (*domain.CallTask, error)
	Put(ctx context.Context, t *domain.CallTask) error
}

type VoiceDialer interface {
	Dial(ctx context.Context, phone, contactID string, metadata map[string]string) (callID string, err error)
}

type Notifier interface {
	SendSMS(ctx context.Context, phone, template string, vars map[string]string) error
}

type Tagger interface {
	AddTag(ctx context.Context, contactID, tag string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}
