package notify

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
	"go.uber.org/zap"
)

const defaultPollInterval = 10 * time.Second

// approveEmoji and denyEmoji are the reactions an approver adds to the
// posted message to resolve a pending approval.
const (
	approveEmoji = "white_check_mark"
	denyEmoji    = "x"
)

// SlackChannel implements ApprovalChannel by posting a message to a
// channel and polling for an approve/deny reaction until the deadline.
type SlackChannel struct {
	api          *goslack.Client
	channelID    string
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewSlackChannel builds a SlackChannel posting into channelID.
func NewSlackChannel(token, channelID string, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{api: goslack.New(token), channelID: channelID, logger: logger, pollInterval: defaultPollInterval}
}

// NewSlackChannelWithAPIURL builds a SlackChannel against a custom API URL
// and poll interval, for testing against a mock server.
func NewSlackChannelWithAPIURL(token, channelID, apiURL string, pollInterval time.Duration, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{api: goslack.New(token, goslack.OptionAPIURL(apiURL)), channelID: channelID, logger: logger, pollInterval: pollInterval}
}

func (c *SlackChannel) Request(ctx context.Context, actionSummary string, deadline time.Time) (Outcome, error) {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf(":warning: *Remediation approval requested*\n%s\nReact with :white_check_mark: to approve or :x: to deny before <!date^%d^{date_short_pretty} {time}|%s>.",
					actionSummary, deadline.Unix(), deadline.Format(time.RFC3339)),
				false, false),
			nil, nil,
		),
	}

	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return "", fmt.Errorf("post approval request: %w", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return TimedOut, nil
			}
			outcome, found, err := c.pollReactions(ctx, ts)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("polling slack reactions failed, will retry", zap.Error(err))
				}
				continue
			}
			if found {
				return outcome, nil
			}
		}
	}
}

func (c *SlackChannel) pollReactions(ctx context.Context, messageTS string) (Outcome, bool, error) {
	reactions, err := c.api.GetReactionsContext(ctx, goslack.ItemRef{Channel: c.channelID, Timestamp: messageTS}, goslack.GetReactionsParameters{})
	if err != nil {
		return "", false, err
	}
	for _, r := range reactions {
		switch r.Name {
		case approveEmoji:
			return Approved, true, nil
		case denyEmoji:
			return Denied, true, nil
		}
	}
	return "", false, nil
}
