// Package notify implements the approval-channel abstraction: an
// out-of-band request/response contract the workflow uses to gate
// REQUIRE_APPROVAL remediation actions, pluggable behind Slack, or a
// log-only/auto-approve backend for dev and tests.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcome is the approval channel's terminal response.
type Outcome string

const (
	Approved Outcome = "approved"
	Denied   Outcome = "denied"
	TimedOut Outcome = "timed_out"
)

// ApprovalChannel is the pluggable transport: request(action_summary,
// deadline) -> {approved, denied, timed_out}.
type ApprovalChannel interface {
	Request(ctx context.Context, actionSummary string, deadline time.Time) (Outcome, error)
}

// LogOnlyChannel auto-approves every request after logging it, for local
// development and tests where no real approver is wired up.
type LogOnlyChannel struct {
	logger *zap.Logger
}

// NewLogOnlyChannel builds a LogOnlyChannel.
func NewLogOnlyChannel(logger *zap.Logger) *LogOnlyChannel {
	return &LogOnlyChannel{logger: logger}
}

func (c *LogOnlyChannel) Request(ctx context.Context, actionSummary string, deadline time.Time) (Outcome, error) {
	if c.logger != nil {
		c.logger.Info("auto-approving remediation action (no approval channel configured)",
			zap.String("action_summary", actionSummary), zap.Time("deadline", deadline))
	}
	return Approved, nil
}
