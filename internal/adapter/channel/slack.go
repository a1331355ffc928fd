//go:build slack

package channel

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"alfred-ai/internal/domain"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackOption configures the Slack channel.
type SlackOption func(*SlackChannel)

// WithSlackChannels limits the bot to specific channel IDs.
func WithSlackChannels(ids []string) SlackOption {
	return func(s *SlackChannel) {
		s.channelIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			s.channelIDs[id] = true
		}
	}
}

// WithSlackMentionOnly enables mention-only filtering.
func WithSlackMentionOnly(v bool) SlackOption {
	return func(s *SlackChannel) { s.mentionOnly = v }
}

// SlackChannel implements domain.Channel for Slack via Socket Mode.
// ID() is always "slack"; Destination.Ref is the Slack channel ID, with the
// thread timestamp (if any) carried in Destination.Metadata["thread_ts"].
type SlackChannel struct {
	botToken    string
	appToken    string
	api         *slack.Client
	socketCli   *socketmode.Client
	handler     domain.InboundHandler
	logger      *slog.Logger
	channelIDs  map[string]bool
	mentionOnly bool
	botUserID   string
	userNames   sync.Map // cache: userID -> display name
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	breaker     *DialBreaker
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(botToken, appToken string, logger *slog.Logger, opts ...SlackOption) *SlackChannel {
	s := &SlackChannel{
		botToken: botToken,
		appToken: appToken,
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker = NewDialBreaker("slack", logger)
	return s
}

func (s *SlackChannel) ID() string { return "slack" }

func (s *SlackChannel) Subscribe(handler domain.InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *SlackChannel) Connect(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	err := s.breaker.Dial(func() error {
		s.api = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
		s.socketCli = socketmode.New(s.api)

		authResp, err := s.api.AuthTest()
		if err != nil {
			return err
		}
		s.botUserID = authResp.UserID
		s.logger.Info("slack channel connected", "bot_user_id", s.botUserID)
		return nil
	})
	if err != nil {
		return err
	}

	go s.eventLoop()
	go func() {
		if err := s.socketCli.Run(); err != nil {
			s.logger.Error("slack socket mode error", "error", err)
		}
	}()

	return nil
}

func (s *SlackChannel) Disconnect(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *SlackChannel) RegisterSlashCommands(_ context.Context, _ []string) error {
	// Slack slash commands are registered via the app manifest / API
	// dashboard, not at runtime; nothing to do here.
	return nil
}

func (s *SlackChannel) Process(_ context.Context, intent domain.OutboundIntent) error {
	channelID := intent.Destination.Ref
	threadTS := intent.Destination.Metadata["thread_ts"]

	switch intent.Kind {
	case domain.OutboundAgentResponding:
		opts := []slack.MsgOption{slack.MsgOptionText(intent.Body, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		_, _, err := s.api.PostMessage(channelID, opts...)
		return err
	case domain.OutboundAgentError:
		opts := []slack.MsgOption{slack.MsgOptionText(":warning: Error: "+intent.Message, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		_, _, err := s.api.PostMessage(channelID, opts...)
		return err
	case domain.OutboundAgentStreaming, domain.OutboundAgentThinking,
		domain.OutboundAgentToolCall, domain.OutboundAgentToolProgress:
		return nil
	default:
		return domain.ErrUnsupportedIntent
	}
}

func (s *SlackChannel) eventLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.socketCli.Events:
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				s.socketCli.Ack(*evt.Request)

				switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
				case *slackevents.MessageEvent:
					s.handleMessage(ev)
				}
			}
		}
	}
}

// resolveUserName returns a display name for a Slack user ID, using a cache
// to avoid repeated API calls.
func (s *SlackChannel) resolveUserName(userID string) string {
	if v, ok := s.userNames.Load(userID); ok {
		return v.(string)
	}
	info, err := s.api.GetUserInfo(userID)
	if err != nil {
		s.logger.Warn("slack: failed to resolve user name", "user_id", userID, "error", err)
		return userID
	}
	name := info.RealName
	if name == "" {
		name = info.Name
	}
	s.userNames.Store(userID, name)
	return name
}

func (s *SlackChannel) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.User == s.botUserID || ev.BotID != "" {
		return
	}
	if len(s.channelIDs) > 0 && !s.channelIDs[ev.Channel] {
		return
	}

	isMention := strings.Contains(ev.Text, "<@"+s.botUserID+">")
	if s.mentionOnly && !isMention {
		return
	}

	content := ev.Text
	if isMention {
		content = strings.ReplaceAll(content, "<@"+s.botUserID+">", "")
		content = strings.TrimSpace(content)
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}

	dest := domain.Destination{ChannelID: "slack", Ref: ev.Channel}
	if ev.ThreadTimeStamp != "" {
		dest.Metadata = map[string]string{"thread_ts": ev.ThreadTimeStamp}
	}

	inEv := domain.InboundEvent{
		Kind:      domain.InboundMessageReceived,
		Origin:    dest,
		Author:    ev.User,
		AuthorTag: s.resolveUserName(ev.User),
		IsMention: isMention,
		Content: &domain.MessageContent{
			Kind: domain.ContentText,
			Text: &domain.TextContent{Body: content},
		},
	}

	handler(s.ctx, inEv)
}
