package status

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Channel is a pluggable alert delivery destination (spec.md section 4.8:
// "delivery channels are pluggable; non-delivery on one channel must not
// block others").
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert AlertMessage) error
}

// AlertMessage is the channel-agnostic payload handed to every Channel.
type AlertMessage struct {
	AlertID   string
	EntityID  string
	LicenseID string
	Kind      string
	Severity  string
	Title     string
	Body      string
}

// LogChannel delivers alerts via the structured logger, grounded on the
// teacher's "log on repository failure" fallback pattern. It never fails.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel { return &LogChannel{logger: logger} }

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, alert AlertMessage) error {
	c.logger.Warn("compliance alert",
		zap.String("alert_id", alert.AlertID),
		zap.String("entity_id", alert.EntityID),
		zap.String("license_id", alert.LicenseID),
		zap.String("kind", alert.Kind),
		zap.String("severity", alert.Severity),
		zap.String("title", alert.Title),
	)
	return nil
}

// SlackChannel posts alerts to an incoming webhook, grounded on the
// slack-go client usage pattern (pkg/slack/notifier.go in the pack).
// An empty webhookURL makes the channel a no-op rather than an error, so
// the sweep can run in environments with no Slack integration configured.
type SlackChannel struct {
	webhookURL string
	channel    string
	logger     *zap.Logger
}

func NewSlackChannel(webhookURL, channel string, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL, channel: channel, logger: logger}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Deliver(ctx context.Context, alert AlertMessage) error {
	if c.webhookURL == "" {
		return nil
	}
	text := fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Body)
	msg := &goslack.WebhookMessage{
		Channel: c.channel,
		Text:    text,
	}
	if err := goslack.PostWebhookContext(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("status: slack webhook delivery failed: %w", err)
	}
	return nil
}

// deliverAll fans an alert out to every channel, logging (never returning)
// individual channel failures so one broken channel cannot block another.
func deliverAll(ctx context.Context, channels []Channel, alert AlertMessage, logger *zap.Logger) []string {
	var delivered []string
	for _, ch := range channels {
		if err := ch.Deliver(ctx, alert); err != nil {
			logger.Error("alert delivery failed", zap.String("channel", ch.Name()), zap.Error(err))
			continue
		}
		delivered = append(delivered, ch.Name())
	}
	return delivered
}
