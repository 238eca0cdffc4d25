package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"curriculum-qa-be/internal/pkg/logger"

	"github.com/slack-go/slack"
)

// slackAPI is the part of *slack.Client the channel uses
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
}

// SlackThread builds the thread id of a Slack conversation
func SlackThread(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

func parseSlackThread(threadID string) (channelID, threadTS string, ok bool) {
	channelID, threadTS, ok = strings.Cut(threadID, ":")
	if !ok || channelID == "" || threadTS == "" {
		return "", "", false
	}
	return channelID, threadTS, true
}

// SlackChannel answers in the Slack thread a question came from. Progress is
// a single status reply that is edited in place and removed once the answer
// is posted. Threads that did not originate in Slack are ignored.
type SlackChannel struct {
	api    slackAPI
	logger logger.ILogger

	mu     sync.Mutex
	status map[string]string // thread id -> status message ts
}

func NewSlackChannel(token string, log logger.ILogger) *SlackChannel {
	return newSlackChannel(slack.New(token), log)
}

func newSlackChannel(api slackAPI, log logger.ILogger) *SlackChannel {
	return &SlackChannel{api: api, logger: log, status: make(map[string]string)}
}

func (c *SlackChannel) Notify(ctx context.Context, threadID, status string) error {
	channelID, threadTS, ok := parseSlackThread(threadID)
	if !ok {
		return nil
	}
	text := "_" + status + "_"

	c.mu.Lock()
	ts, exists := c.status[threadID]
	c.mu.Unlock()

	if exists {
		if _, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false)); err != nil {
			return fmt.Errorf("slack update status: %w", err)
		}
		return nil
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	if err != nil {
		return fmt.Errorf("slack post status: %w", err)
	}
	c.mu.Lock()
	c.status[threadID] = ts
	c.mu.Unlock()
	return nil
}

func (c *SlackChannel) Deliver(ctx context.Context, threadID, text string) error {
	channelID, threadTS, ok := parseSlackThread(threadID)
	if !ok {
		return nil
	}

	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(AnswerBlocks(text)...),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("slack post answer: %w", err)
	}

	c.mu.Lock()
	ts, exists := c.status[threadID]
	delete(c.status, threadID)
	c.mu.Unlock()
	if exists {
		if _, _, err := c.api.DeleteMessageContext(ctx, channelID, ts); err != nil {
			c.logger.Warn("Notify", "Failed to remove Slack status message", map[string]interface{}{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

var (
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// AnswerBlocks renders markdown as one mrkdwn section per paragraph
func AnswerBlocks(text string) []slack.Block {
	mrkdwn := boldPattern.ReplaceAllString(text, "*$1*")
	mrkdwn = linkPattern.ReplaceAllString(mrkdwn, "<$2|$1>")

	var blocks []slack.Block
	for _, para := range strings.Split(mrkdwn, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		blocks = append(blocks, &slack.SectionBlock{
			Type:   slack.MBTSection,
			Text:   slack.NewTextBlockObject(slack.MarkdownType, para, false, false),
			Expand: true,
		})
	}
	return blocks
}
