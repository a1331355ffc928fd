// Package router implements the Message Router: the central state machine
// that turns inbound channel traffic into agent turns and agent turns into
// outbound channel intents, keyed by the Conversation Manager's bindings.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"alfred-ai/internal/domain"
)

// ConversationManager is the subset of conversation.Manager the Router
// depends on.
type ConversationManager interface {
	GetOrCreate(destination domain.Destination) domain.ConversationBinding
	Bind(destination domain.Destination, agentID domain.AgentSessionID)
	Unbind(destination domain.Destination)
	GetByDestination(destination domain.Destination) (domain.ConversationBinding, bool)
	GetByAgent(agentID domain.AgentSessionID) (domain.ConversationBinding, bool)
}

// LastActiveUpdater is the subset of lastactive.Tracker the Router updates
// on every successful user-originated inbound event.
type LastActiveUpdater interface {
	Update(destination domain.Destination)
}

// Config parameterizes the spawn path.
type Config struct {
	// DefaultGuidancePath is attached to every spawn config unless a call
	// site overrides it.
	DefaultGuidancePath string

	// Tools is the tool registry attached to spawned sessions. May be nil.
	Tools domain.ToolRegistry
}

// Router wires the channel registry's inbound stream and the coordinator's
// event stream together. It owns no persistent state beyond its own
// subscriptions, which Stop tears down.
type Router struct {
	channels     domain.ChannelRegistry
	coordinator  domain.Coordinator
	conversation ConversationManager
	lastActive   LastActiveUpdater
	cfg          Config
	logger       *slog.Logger

	mu                     sync.Mutex
	started                bool
	unsubChannels          func()
	unsubCoordinator       func()
	defaultAdapterResolver func(ctx context.Context) (domain.ModelAdapter, error)
}

// New creates a Router. lastActive may be nil if no Last-Active Tracker is
// configured.
func New(channels domain.ChannelRegistry, coordinator domain.Coordinator, conversation ConversationManager, lastActive LastActiveUpdater, cfg Config, logger *slog.Logger) *Router {
	return &Router{
		channels:     channels,
		coordinator:  coordinator,
		conversation: conversation,
		lastActive:   lastActive,
		cfg:          cfg,
		logger:       logger,
	}
}

// Start subscribes to the channel registry's inbound stream and the
// coordinator's event stream. Both callbacks run asynchronously; errors
// inside them are logged, never propagated. Redundant calls warn and
// no-op.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		r.logger.Warn("router: start called while already started")
		return nil
	}

	r.unsubChannels = r.channels.Subscribe(func(ctx context.Context, ev domain.InboundEvent) {
		r.handleInbound(ctx, ev)
	})
	r.unsubCoordinator = r.coordinator.Subscribe(func(ctx context.Context, ev domain.CoordinatorEvent) {
		r.handleCoordinatorEvent(ctx, ev)
	})
	r.started = true
	return nil
}

// Stop disposes every subscription and marks the Router stopped. Idempotent;
// a redundant call warns and no-ops.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.logger.Warn("router: stop called while not started")
		return nil
	}

	if r.unsubChannels != nil {
		r.unsubChannels()
	}
	if r.unsubCoordinator != nil {
		r.unsubCoordinator()
	}
	r.started = false
	return nil
}

// handleInbound transforms a channel event into an agent turn, per the
// binding state for its origin destination.
func (r *Router) handleInbound(ctx context.Context, ev domain.InboundEvent) {
	input := inboundToAgentInput(ev)
	if input == nil {
		return
	}

	if r.lastActive != nil {
		r.lastActive.Update(ev.Origin)
	}

	binding := r.conversation.GetOrCreate(ev.Origin)

	if !binding.Bound() {
		id, err := r.spawnAgent(ctx, ev.Origin.ChannelID, input)
		if err != nil {
			r.logger.Error("router: spawn failed for unbound destination", "channel", ev.Origin.ChannelID, "error", err)
			return
		}
		r.conversation.Bind(ev.Origin, id)
		return
	}

	handle, err := r.coordinator.Get(ctx, binding.AgentID)
	if err != nil {
		r.logger.Error("router: coordinator.Get failed", "agent", binding.AgentID, "error", err)
		return
	}

	if handle == nil {
		r.tryRestoreFromCheckpoint(ctx, binding.AgentID, *input, ev.Origin, ev.Origin.ChannelID)
		return
	}

	switch handle.Status() {
	case domain.AgentStatusCompleted:
		adapter, err := r.coordinator.GetAdapter(ctx, binding.AgentID)
		if err != nil || adapter == nil {
			r.logger.Error("router: no adapter for completed agent, unbinding", "agent", binding.AgentID, "error", err)
			r.conversation.Unbind(ev.Origin)
			return
		}
		if err := r.coordinator.Continue(ctx, binding.AgentID, *input, adapter, domain.ContinueOptions{Tools: r.cfg.Tools}); err != nil {
			r.logger.Error("router: continue failed, unbinding", "agent", binding.AgentID, "error", err)
			r.conversation.Unbind(ev.Origin)
		}
	default:
		if err := handle.Send(ctx, *input); err != nil {
			r.logger.Error("router: send failed", "agent", binding.AgentID, "error", err)
		}
	}
}

// tryRestoreFromCheckpoint implements the restore path for a binding whose
// agent the coordinator no longer holds in memory (process restart).
func (r *Router) tryRestoreFromCheckpoint(ctx context.Context, agentID domain.AgentSessionID, input domain.AgentInput, destination domain.Destination, channelID string) {
	checkpoint, err := r.coordinator.LoadCheckpoint(ctx, agentID)
	if err != nil {
		r.logger.Error("router: load checkpoint failed", "agent", agentID, "error", err)
	}

	if checkpoint == nil {
		r.conversation.Unbind(destination)
		r.respawnFresh(ctx, channelID, input, destination)
		return
	}

	adapter, err := r.coordinator.GetAdapter(ctx, agentID)
	if err != nil || adapter == nil {
		r.conversation.Unbind(destination)
		r.respawnFresh(ctx, channelID, input, destination)
		return
	}

	if err := r.coordinator.Continue(ctx, agentID, input, adapter, domain.ContinueOptions{Tools: r.cfg.Tools}); err != nil {
		r.logger.Warn("router: restore continue failed, spawning fresh", "agent", agentID, "error", err)
		r.conversation.Unbind(destination)
		r.respawnFresh(ctx, channelID, input, destination)
	}
}

func (r *Router) respawnFresh(ctx context.Context, channelID string, input domain.AgentInput, destination domain.Destination) {
	id, err := r.spawnAgent(ctx, channelID, &input)
	if err != nil {
		r.logger.Error("router: respawn failed", "channel", channelID, "error", err)
		return
	}
	r.conversation.Bind(destination, id)
}

// spawnAgent mints a temporary session id for the adapter factory, builds a
// spawn config tagged with the originating channel, and asks the
// coordinator to spawn it.
func (r *Router) spawnAgent(ctx context.Context, channelID string, input *domain.AgentInput) (domain.AgentSessionID, error) {
	cfg := domain.SpawnConfig{
		GuidancePath: r.cfg.DefaultGuidancePath,
		Tags:         []string{"channel:" + channelID},
		Metadata:     map[string]string{"channelId": channelID},
		Tools:        r.cfg.Tools,
		InitialInput: input,
	}

	adapter, err := r.resolveDefaultAdapter(ctx)
	if err != nil {
		return "", err
	}

	handle, err := r.coordinator.Spawn(ctx, adapter, cfg)
	if err != nil {
		return "", err
	}
	return handle.ID(), nil
}

// resolveDefaultAdapter is overridden by SetDefaultAdapterResolver at boot;
// the Router itself holds no opinion on model selection.
func (r *Router) resolveDefaultAdapter(ctx context.Context) (domain.ModelAdapter, error) {
	r.mu.Lock()
	resolver := r.defaultAdapterResolver
	r.mu.Unlock()
	if resolver == nil {
		return nil, domain.ErrMissingModelFactory
	}
	return resolver(ctx)
}

// SetDefaultAdapterResolver installs the function the Router uses to
// resolve a ModelAdapter for inbound-triggered spawns (as opposed to
// agent.spawn RPCs, which carry an explicit model).
func (r *Router) SetDefaultAdapterResolver(fn func(ctx context.Context) (domain.ModelAdapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultAdapterResolver = fn
}

// handleCoordinatorEvent transforms agent turn events into outbound
// channel intents.
func (r *Router) handleCoordinatorEvent(ctx context.Context, ev domain.CoordinatorEvent) {
	if ev.Kind != domain.CoordinatorEventAgentEvent || ev.AgentEvent == nil {
		return
	}

	binding, ok := r.conversation.GetByAgent(ev.SessionID)
	if !ok {
		r.logger.Warn("router: coordinator event for unbound agent, dropping", "agent", ev.SessionID)
		return
	}

	intent := agentEventToIntent(*ev.AgentEvent)
	if intent == nil {
		return
	}

	intent.Destination = binding.Destination
	if intent.Metadata == nil {
		intent.Metadata = map[string]string{}
	}
	intent.Metadata["conversationType"] = "direct"

	if err := r.channels.Process(ctx, binding.Destination.ChannelID, *intent); err != nil {
		r.logger.Error("router: outbound intent failed", "channel", binding.Destination.ChannelID, "kind", intent.Kind, "error", err)
	}
}

// inboundToAgentInput implements the inbound event → AgentInput transform
// table. Returns nil when the event produces no agent turn.
func inboundToAgentInput(ev domain.InboundEvent) *domain.AgentInput {
	switch ev.Kind {
	case domain.InboundMessageReceived:
		text := extractMessageText(ev.Content)
		if text == nil {
			return nil
		}
		return &domain.AgentInput{Message: *text}

	case domain.InboundCommandReceived:
		if ev.Command == nil {
			return nil
		}
		msg := "/" + ev.Command.Name
		if len(ev.Command.Args) > 0 {
			msg += " " + strings.Join(ev.Command.Args, " ")
		}
		return &domain.AgentInput{Message: strings.TrimSpace(msg)}

	case domain.InboundCallbackReceived:
		if ev.Callback == nil {
			return nil
		}
		return &domain.AgentInput{Message: ev.Callback.Data}

	case domain.InboundConversationStarted:
		return &domain.AgentInput{Message: "/start"}

	default:
		// message_edited, message_deleted, reaction_added, reaction_removed,
		// member_joined, member_left: no agent input produced.
		return nil
	}
}

func extractMessageText(content *domain.MessageContent) *string {
	if content == nil {
		return nil
	}
	switch content.Kind {
	case domain.ContentText:
		if content.Text == nil {
			return nil
		}
		return &content.Text.Body
	case domain.ContentMedia:
		if content.Media == nil || content.Media.Caption == "" {
			return nil
		}
		return &content.Media.Caption
	case domain.ContentContact:
		if content.Contact == nil {
			return nil
		}
		s := "Contact: " + content.Contact.Name
		if content.Contact.Phone != "" {
			s += " (" + content.Contact.Phone + ")"
		}
		return &s
	case domain.ContentSticker:
		return nil
	case domain.ContentLocation, domain.ContentPollVote:
		return nil
	default:
		return nil
	}
}

// agentEventToIntent implements the outbound agent event → intent
// transform table. Returns nil when the event produces no outbound intent.
func agentEventToIntent(ev domain.AgentEvent) *domain.OutboundIntent {
	switch ev.Kind {
	case domain.AgentEventStatus:
		if ev.Status == domain.AgentStatusRunning {
			return &domain.OutboundIntent{Kind: domain.OutboundAgentThinking}
		}
		return nil

	case domain.AgentEventOutput:
		if ev.OutputFinal {
			if ev.OutputText == "" {
				return nil
			}
			return &domain.OutboundIntent{Kind: domain.OutboundAgentResponding, Body: ev.OutputText}
		}
		return &domain.OutboundIntent{Kind: domain.OutboundAgentStreaming, Body: ev.OutputText, Partial: true}

	case domain.AgentEventToolStart:
		return &domain.OutboundIntent{Kind: domain.OutboundAgentToolCall, ToolName: ev.ToolName, ToolInput: ev.ToolInput}

	case domain.AgentEventToolProgress:
		return &domain.OutboundIntent{Kind: domain.OutboundAgentToolProgress, ToolName: ev.ToolName, Progress: ev.Progress, Message: ev.Message}

	case domain.AgentEventToolEnd:
		return &domain.OutboundIntent{Kind: domain.OutboundAgentThinking}

	case domain.AgentEventThought:
		return &domain.OutboundIntent{Kind: domain.OutboundAgentThinking}

	case domain.AgentEventError:
		return &domain.OutboundIntent{Kind: domain.OutboundAgentError, Message: ev.Err, Recoverable: !ev.Fatal}

	case domain.AgentEventDone:
		if ev.Result == nil || ev.Result.Output == "" {
			return nil
		}
		return &domain.OutboundIntent{Kind: domain.OutboundAgentResponding, Body: ev.Result.Output}

	case domain.AgentEventSuspended, domain.AgentEventMemoryUpdated:
		return nil

	default:
		return nil
	}
}
