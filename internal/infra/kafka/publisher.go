// Package kafka publishes call lifecycle events keyed by contact.
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"leadcall/internal/config"
	"leadcall/internal/domain"
	"leadcall/internal/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

var _ ports.EventPublisher = (*Publisher)(nil)

func NewPublisher(cfg config.Kafka) *Publisher {
	w := &kgo.Writer{
		Addr:         kgo.TCP(cleanBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}
	return &Publisher{writer: w, timeout: 3 * time.Second}
}

func (p *Publisher) Close() error { return p.writer.Close() }

// Publish keys by contact id so one contact's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(e.ContactID),
		Value: b,
		Time:  e.OccurredAt,
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }

func cleanBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
