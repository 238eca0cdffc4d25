package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curriculum-qa-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	TopicProgress = "qa.progress"
	TopicAnswer   = "qa.answer"
)

// busMessage is the payload of both topics
type busMessage struct {
	ThreadID string    `json:"thread_id"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Bus is an in-process Channel backed by a watermill gochannel. Publishing
// never waits for the downstream channels; Forward drains the topics into
// them on its own goroutines.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewBus(log logger.ILogger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	return &Bus{pubSub: pubSub, logger: log}
}

func (b *Bus) Notify(ctx context.Context, threadID, status string) error {
	return b.publish(TopicProgress, threadID, status)
}

func (b *Bus) Deliver(ctx context.Context, threadID, text string) error {
	return b.publish(TopicAnswer, threadID, text)
}

func (b *Bus) publish(topic, threadID, text string) error {
	payload, err := json.Marshal(busMessage{ThreadID: threadID, Text: text, At: time.Now()})
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Forward subscribes to both topics and hands every message to target.
// Each send gets its own timeout. It returns once subscribed; forwarding
// stops when ctx is done.
func (b *Bus) Forward(ctx context.Context, target Channel, timeout time.Duration) error {
	progress, err := b.pubSub.Subscribe(ctx, TopicProgress)
	if err != nil {
		return err
	}
	answers, err := b.pubSub.Subscribe(ctx, TopicAnswer)
	if err != nil {
		return err
	}

	go b.drain(ctx, progress, timeout, target.Notify)
	go b.drain(ctx, answers, timeout, target.Deliver)
	return nil
}

func (b *Bus) drain(ctx context.Context, messages <-chan *message.Message, timeout time.Duration, send func(context.Context, string, string) error) {
	for msg := range messages {
		var payload busMessage
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.Error("Notify", "Dropping malformed bus message", map[string]interface{}{
				"message_id": msg.UUID,
				"error":      err.Error(),
			})
			msg.Ack()
			continue
		}

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		if err := send(sendCtx, payload.ThreadID, payload.Text); err != nil {
			// delivery is best effort, retrying would reorder progress lines
			b.logger.Warn("Notify", "Forwarding failed", map[string]interface{}{
				"thread_id": payload.ThreadID,
				"error":     err.Error(),
			})
		}
		cancel()
		msg.Ack()
	}
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
