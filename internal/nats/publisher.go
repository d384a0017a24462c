package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishOverageBilled publishes an overage billing event.
func (p *Publisher) PublishOverageBilled(ctx context.Context, event OverageBilledEvent) error {
	return p.publish(ctx, SubjectOverageBilled, event)
}

// PublishUsageSettled publishes a usage reconciliation event.
func (p *Publisher) PublishUsageSettled(ctx context.Context, event UsageSettledEvent) error {
	return p.publish(ctx, SubjectUsageSettled, event)
}

// PublishIdentityBlocked publishes an abuse block event.
func (p *Publisher) PublishIdentityBlocked(ctx context.Context, event IdentityBlockedEvent) error {
	return p.publish(ctx, SubjectIdentityBlocked, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
