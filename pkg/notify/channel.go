// Package notify carries progress updates and final answers from the
// pipeline to wherever the asker is listening.
package notify

import (
	"context"
	"errors"

	"curriculum-qa-be/internal/pkg/logger"
)

// Channel is the outbound side of a conversation thread
type Channel interface {
	// Notify sends a short status line while the answer is being produced
	Notify(ctx context.Context, threadID, status string) error
	// Deliver sends the final answer
	Deliver(ctx context.Context, threadID, text string) error
}

// Multi sends to every channel and joins their errors. A failing channel
// never stops the others.
type Multi []Channel

func (m Multi) Notify(ctx context.Context, threadID, status string) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Notify(ctx, threadID, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Deliver(ctx context.Context, threadID, text string) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Deliver(ctx, threadID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogChannel writes progress and answers to the structured log
type LogChannel struct {
	logger logger.ILogger
}

func NewLogChannel(log logger.ILogger) *LogChannel {
	return &LogChannel{logger: log}
}

func (c *LogChannel) Notify(ctx context.Context, threadID, status string) error {
	c.logger.Debug("Notify", status, map[string]interface{}{
		"thread_id": threadID,
	})
	return nil
}

func (c *LogChannel) Deliver(ctx context.Context, threadID, text string) error {
	c.logger.Info("Notify", "Answer delivered", map[string]interface{}{
		"thread_id": threadID,
		"length":    len(text),
	})
	return nil
}
