package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of internal event being published on the
// daemon's event bus. These feed log-level subscribers and the "logs" RPC
// subscription topic; they are not the same as CoordinatorEvent (agent
// turn events) or InboundEvent/OutboundIntent (channel traffic).
type EventType string

const (
	EventConversationBound   EventType = "conversation.bound"
	EventConversationUnbound EventType = "conversation.unbound"
	EventAgentSpawned        EventType = "agent.spawned"
	EventAgentDone           EventType = "agent.done"
	EventChannelConnected    EventType = "channel.connected"
	EventChannelDisconnected EventType = "channel.disconnected"
	EventSchedulerJobFired   EventType = "scheduler.job.fired"
	EventPulseSuppressed     EventType = "pulse.suppressed"
	EventPulseResponded      EventType = "pulse.responded"
	EventShutdownStarted     EventType = "shutdown.started"
	EventShutdownCompleted   EventType = "shutdown.completed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for daemon-internal events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
