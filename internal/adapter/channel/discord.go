//go:build discord

package channel

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"alfred-ai/internal/domain"
	"github.com/bwmarrin/discordgo"
)

// DiscordOption configures the Discord channel.
type DiscordOption func(*DiscordChannel)

// WithDiscordGuild limits the bot to a specific guild.
func WithDiscordGuild(guildID string) DiscordOption {
	return func(d *DiscordChannel) { d.guildID = guildID }
}

// WithDiscordChannels limits the bot to specific channel IDs.
func WithDiscordChannels(ids []string) DiscordOption {
	return func(d *DiscordChannel) {
		d.channelIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			d.channelIDs[id] = true
		}
	}
}

// WithDiscordMentionOnly enables mention-only filtering in guild channels.
func WithDiscordMentionOnly(v bool) DiscordOption {
	return func(d *DiscordChannel) { d.mentionOnly = v }
}

// DiscordChannel implements domain.Channel for Discord via discordgo.
// ID() is always "discord"; Destination.Ref is the Discord channel ID a
// message (or thread) belongs to.
type DiscordChannel struct {
	token       string
	session     *discordgo.Session
	handler     domain.InboundHandler
	logger      *slog.Logger
	guildID     string
	channelIDs  map[string]bool
	mentionOnly bool
	botUserID   string
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	breaker     *DialBreaker
}

// NewDiscordChannel creates a Discord bot channel.
func NewDiscordChannel(token string, logger *slog.Logger, opts ...DiscordOption) *DiscordChannel {
	d := &DiscordChannel{
		token:  token,
		logger: logger,
	}
	for _, o := range opts {
		o(d)
	}
	d.breaker = NewDialBreaker("discord", logger)
	return d
}

func (d *DiscordChannel) ID() string { return "discord" }

func (d *DiscordChannel) Subscribe(handler domain.InboundHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

func (d *DiscordChannel) Connect(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	return d.breaker.Dial(func() error {
		dg, err := discordgo.New("Bot " + d.token)
		if err != nil {
			return err
		}
		d.session = dg
		d.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

		d.session.AddHandler(d.onMessageCreate)

		if err := d.session.Open(); err != nil {
			return err
		}

		d.botUserID = d.session.State.User.ID
		d.logger.Info("discord channel connected", "user_id", d.botUserID)
		return nil
	})
}

func (d *DiscordChannel) Disconnect(_ context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordChannel) RegisterSlashCommands(_ context.Context, names []string) error {
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return domain.ErrNotConnected
	}
	for _, name := range names {
		cmd := &discordgo.ApplicationCommand{Name: name, Description: name}
		if _, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordChannel) Process(_ context.Context, intent domain.OutboundIntent) error {
	channelID := intent.Destination.Ref

	switch intent.Kind {
	case domain.OutboundAgentResponding:
		_, err := d.session.ChannelMessageSend(channelID, intent.Body)
		return err
	case domain.OutboundAgentError:
		_, err := d.session.ChannelMessageSend(channelID, "Error: "+intent.Message)
		return err
	case domain.OutboundAgentStreaming, domain.OutboundAgentThinking,
		domain.OutboundAgentToolCall, domain.OutboundAgentToolProgress:
		// Discord has no first-class streaming/typing-indicator surface wired
		// here beyond the one-shot typing trigger, which is not worth the
		// round trip for every intermediate event.
		return nil
	default:
		return domain.ErrUnsupportedIntent
	}
}

func (d *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == d.botUserID {
		return
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}
	if len(d.channelIDs) > 0 && !d.channelIDs[m.ChannelID] {
		return
	}

	isMention := false
	for _, u := range m.Mentions {
		if u.ID == d.botUserID {
			isMention = true
			break
		}
	}
	if d.mentionOnly && m.GuildID != "" && !isMention {
		return
	}

	content := m.Content
	if isMention {
		content = strings.ReplaceAll(content, "<@"+d.botUserID+">", "")
		content = strings.ReplaceAll(content, "<@!"+d.botUserID+">", "")
		content = strings.TrimSpace(content)
	}

	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return
	}

	dest := domain.Destination{ChannelID: "discord", Ref: m.ChannelID}
	if m.GuildID != "" {
		if dest.Metadata == nil {
			dest.Metadata = map[string]string{}
		}
		dest.Metadata["guildId"] = m.GuildID
	}

	ev := domain.InboundEvent{
		Kind:      domain.InboundMessageReceived,
		Origin:    dest,
		Author:    m.Author.ID,
		AuthorTag: m.Author.Username,
		MessageID: m.ID,
		IsMention: isMention,
		Content: &domain.MessageContent{
			Kind: domain.ContentText,
			Text: &domain.TextContent{Body: content},
		},
	}

	handler(d.ctx, ev)
}
