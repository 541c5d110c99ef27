package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordPoster posts digests to one Discord channel over the REST API;
// no gateway connection is opened.
type DiscordPoster struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

func NewDiscordPoster(token, channelID string, logger *zap.Logger) (*DiscordPoster, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordPoster{session: session, channelID: channelID, logger: logger}, nil
}

func (p *DiscordPoster) Platform() string { return "discord" }

func (p *DiscordPoster) Post(ctx context.Context, msg Message) error {
	content := fmt.Sprintf("**%s**\n%s", msg.Title, msg.body())
	if _, err := p.session.ChannelMessageSend(p.channelID, content, discordgo.WithContext(ctx)); err != nil {
		p.logger.Error("discord send failed",
			zap.String("channel", p.channelID), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
