package notify

import (
	"context"
	"time"

	"curriculum-qa-be/pkg/events"
)

type eventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// NATSChannel publishes progress and answers as events, see pkg/nats
type NATSChannel struct {
	publisher eventPublisher
	now       func() time.Time
}

func NewNATSChannel(p eventPublisher) *NATSChannel {
	return &NATSChannel{publisher: p, now: time.Now}
}

func (c *NATSChannel) Notify(ctx context.Context, threadID, status string) error {
	return c.publisher.Publish(ctx, events.Progress(threadID, status, c.now()))
}

func (c *NATSChannel) Deliver(ctx context.Context, threadID, text string) error {
	return c.publisher.Publish(ctx, events.Answer(threadID, text, c.now()))
}
