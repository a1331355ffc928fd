package domain

import (
	"context"
	"fmt"
	"time"
)

// MediaType identifies the kind of media attached to a message.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeVideo    MediaType = "video"
	MediaTypeFile     MediaType = "file"
	MediaTypeLocation MediaType = "location"
	MediaTypeSticker  MediaType = "sticker"
)

// Media represents an attachment on an inbound or outbound message.
type Media struct {
	Type     MediaType `json:"type"`
	URL      string    `json:"url,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// Destination addresses a single conversation surface on a channel: a DM,
// a group thread, or a room. Ref is opaque to the daemon and is whatever
// the channel adapter needs to route a reply (a chat ID, a channel+thread
// pair serialized by the adapter, etc).
type Destination struct {
	ChannelID string            `json:"channelId"`
	Ref       string            `json:"ref"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key returns a collision-free string identifier for this destination,
// suitable for use as a map key or persistence index. A bare "channelID:ref"
// join is unsafe because either field may itself contain a colon; the
// length prefix on ChannelID removes the ambiguity without an escaping
// scheme.
func (d Destination) Key() string {
	return fmt.Sprintf("%d:%s:%s", len(d.ChannelID), d.ChannelID, d.Ref)
}

// InboundEventKind enumerates the shapes of traffic a channel adapter can
// push into the router.
type InboundEventKind string

const (
	InboundMessageReceived     InboundEventKind = "message_received"
	InboundCommandReceived     InboundEventKind = "command_received"
	InboundCallbackReceived    InboundEventKind = "callback_received"
	InboundConversationStarted InboundEventKind = "conversation_started"
	InboundMessageEdited       InboundEventKind = "message_edited"
	InboundMessageDeleted      InboundEventKind = "message_deleted"
	InboundReactionAdded       InboundEventKind = "reaction_added"
	InboundReactionRemoved     InboundEventKind = "reaction_removed"
	InboundMemberJoined        InboundEventKind = "member_joined"
	InboundMemberLeft          InboundEventKind = "member_left"
)

// MessageContentKind enumerates the variants a MessageContent can carry.
type MessageContentKind string

const (
	ContentText     MessageContentKind = "text"
	ContentMedia    MessageContentKind = "media"
	ContentContact  MessageContentKind = "contact"
	ContentSticker  MessageContentKind = "sticker"
	ContentLocation MessageContentKind = "location"
	ContentPollVote MessageContentKind = "poll_vote"
)

// MessageContent is a tagged union over the payload shapes a message body
// can take. Only the field matching Kind is populated.
type MessageContent struct {
	Kind MessageContentKind `json:"kind"`

	Text     *TextContent     `json:"text,omitempty"`
	Media    *Media           `json:"media,omitempty"`
	Contact  *ContactContent  `json:"contact,omitempty"`
	Sticker  *StickerContent  `json:"sticker,omitempty"`
	Location *LocationContent `json:"location,omitempty"`
	PollVote *PollVoteContent `json:"poll_vote,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type ContactContent struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type StickerContent struct {
	PackID string `json:"pack_id"`
	ID     string `json:"id"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

type PollVoteContent struct {
	PollID  string   `json:"poll_id"`
	Options []string `json:"options"`
}

// InboundEvent is the variant channels push into the router. Origin carries
// the destination plus any channel-supplied metadata; Author identifies the
// sender. Only the fields relevant to Kind are populated beyond the common
// envelope.
type InboundEvent struct {
	Kind      InboundEventKind `json:"kind"`
	Origin    Destination      `json:"origin"`
	Author    string           `json:"author,omitempty"`
	AuthorTag string           `json:"authorTag,omitempty"` // display name
	Timestamp time.Time        `json:"timestamp"`
	MessageID string           `json:"messageId,omitempty"`
	ReplyToID string           `json:"replyToId,omitempty"`
	IsMention bool             `json:"isMention,omitempty"`

	// Content is populated when Kind == InboundMessageReceived or InboundMessageEdited.
	Content *MessageContent `json:"content,omitempty"`

	// Command is populated when Kind == InboundCommandReceived.
	Command *SlashCommandDetail `json:"command,omitempty"`

	// Callback is populated when Kind == InboundCallbackReceived (e.g. inline
	// button press, poll vote).
	Callback *CallbackDetail `json:"callback,omitempty"`

	// Reaction is populated when Kind == InboundReactionAdded or InboundReactionRemoved.
	Reaction *ReactionDetail `json:"reaction,omitempty"`

	// Member is populated when Kind == InboundMemberJoined or InboundMemberLeft.
	Member *MemberDetail `json:"member,omitempty"`
}

type ReactionDetail struct {
	Emoji string `json:"emoji"`
}

type MemberDetail struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type SlashCommandDetail struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

type CallbackDetail struct {
	Data string `json:"data"`
}

// OutboundIntentKind enumerates the outbound intents the Router derives
// from coordinator (agent) events and hands to a Channel.
type OutboundIntentKind string

const (
	OutboundAgentThinking     OutboundIntentKind = "agent_thinking"
	OutboundAgentStreaming    OutboundIntentKind = "agent_streaming"
	OutboundAgentResponding   OutboundIntentKind = "agent_responding"
	OutboundAgentToolCall     OutboundIntentKind = "agent_tool_call"
	OutboundAgentToolProgress OutboundIntentKind = "agent_tool_progress"
	OutboundAgentError        OutboundIntentKind = "agent_error"
)

// OutboundIntent is handed to a Channel's Process method. All intents
// inherit the binding's destination; Metadata always carries
// conversationType = "direct" (the only supported topology today).
type OutboundIntent struct {
	Kind        OutboundIntentKind `json:"kind"`
	Destination Destination        `json:"destination"`
	Metadata    map[string]string  `json:"metadata,omitempty"`

	Body      string `json:"body,omitempty"`      // agent_responding / agent_streaming
	Partial   bool   `json:"partial,omitempty"`    // agent_streaming
	ToolName  string `json:"toolName,omitempty"`   // agent_tool_call / agent_tool_progress
	ToolInput string `json:"toolInput,omitempty"`  // agent_tool_call
	Progress  int    `json:"progress,omitempty"`   // agent_tool_progress (0-100)
	Message   string `json:"message,omitempty"`    // agent_tool_progress / agent_error
	Recoverable bool `json:"recoverable,omitempty"` // agent_error
}

// InboundHandler is the callback a Channel invokes for every event it
// produces. The daemon registers exactly one handler per channel via
// Subscribe.
type InboundHandler func(ctx context.Context, ev InboundEvent)

// Channel is the interface external chat-surface adapters implement.
// Concrete adapters (Discord, Slack, ...) live outside the daemon core and
// are supplied to the ChannelRegistry at boot.
type Channel interface {
	// ID returns the channel's stable identifier, matching the ChannelID
	// used in Destination for events it produces.
	ID() string

	// Connect establishes the underlying transport and begins delivering
	// events to the handler registered via Subscribe. Must not block past
	// initial handshake; ongoing work runs on adapter-owned goroutines.
	Connect(ctx context.Context) error

	// Disconnect tears down the transport. Must be safe to call even if
	// Connect was never called or already failed.
	Disconnect(ctx context.Context) error

	// Subscribe registers the single handler the adapter delivers inbound
	// events to. Must be called before Connect.
	Subscribe(handler InboundHandler)

	// Process performs an outbound intent against the channel. Adapters
	// that do not support a given intent kind return ErrUnsupportedIntent.
	Process(ctx context.Context, intent OutboundIntent) error

	// RegisterSlashCommands advertises slash commands this channel should
	// surface to users, on channels whose surface supports native command
	// registration (e.g. Discord application commands). Adapters without
	// such a surface may no-op.
	RegisterSlashCommands(ctx context.Context, names []string) error
}

// ChannelRegistry looks up connected channel adapters by ID and fans inbound
// events from every registered channel into a single stream.
type ChannelRegistry interface {
	Get(id string) (Channel, bool)
	List() []Channel
	Register(ch Channel) error

	// Disconnect tears down and removes a single channel.
	Disconnect(ctx context.Context, id string) error

	// Process routes an outbound intent to the named channel.
	Process(ctx context.Context, channelID string, intent OutboundIntent) error

	// Subscribe registers a handler that receives inbound events from every
	// registered channel. Returns an unsubscribe function.
	Subscribe(handler InboundHandler) func()
}
