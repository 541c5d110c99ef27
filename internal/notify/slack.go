package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackPoster posts digests to one Slack channel with a bot token.
type SlackPoster struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackPoster creates a poster. botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackPoster(botToken, channelID string, logger *zap.Logger, opts ...slack.Option) *SlackPoster {
	return &SlackPoster{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		logger:    logger,
	}
}

func (p *SlackPoster) Platform() string { return "slack" }

func (p *SlackPoster) Post(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.body())
	_, _, err := p.client.PostMessageContext(ctx, p.channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		p.logger.Error("slack send failed",
			zap.String("channel", p.channelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
