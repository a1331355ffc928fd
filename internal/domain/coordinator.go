package domain

import (
	"context"
	"time"
)

// AgentSessionID identifies a single agent session, minted by the Coordinator.
// It outlives individual turns and is the key the Router's conversation
// bindings store.
type AgentSessionID string

// AgentStatus is the lifecycle state of a running or completed agent session.
type AgentStatus string

const (
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusPaused    AgentStatus = "paused"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusSuspended AgentStatus = "suspended"
)

// SpawnConfig parameterizes a new agent session. Tags and Metadata are
// free-form classification the Router and Pulse Job attach (e.g.
// "channel:<id>", "pulse", "scheduled"); GuidancePath points at the
// onboarding-managed guidance document the agent should load, owned by the
// onboarding collaborator and opaque here.
type SpawnConfig struct {
	GuidancePath string            `json:"guidancePath,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Tools        ToolRegistry      `json:"-"`
	InitialInput *AgentInput       `json:"-"`
}

// AgentInput is a single turn's worth of input handed to an agent session,
// either at spawn time or via Send/Continue.
type AgentInput struct {
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// ToolRegistry is the (possibly empty) set of tools made available to an
// agent session. Its contents are owned by the out-of-scope agent
// execution engine; the daemon only threads it through spawn/continue
// calls.
type ToolRegistry interface {
	Names() []string
}

// AgentHandle is the live view of an in-memory agent session, as returned
// by Coordinator.Get/Spawn/Continue.
type AgentHandle interface {
	ID() AgentSessionID
	Status() AgentStatus
	Config() SpawnConfig
	CreatedAt() time.Time

	// Send delivers a turn of input to a running session.
	Send(ctx context.Context, input AgentInput) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Terminate(ctx context.Context) error

	// Snapshot requests the coordinator persist a checkpoint for this
	// session without terminating it.
	Snapshot(ctx context.Context) error
}

// AdapterConfig identifies the model/provider pairing and connection
// parameters an agent session is backed by. Its shape is owned by the
// ModelFactory collaborator; the daemon treats it opaquely beyond the
// Model field used for logging.
type AdapterConfig struct {
	Model    string            `json:"model"` // "provider/model-name"
	Options  map[string]string `json:"options,omitempty"`
}

// ModelAdapter is the capability object a ModelFactory returns: enough for
// the Coordinator to drive one agent turn against a specific provider/model.
type ModelAdapter interface {
	Config() AdapterConfig
}

// ModelFactory resolves a "provider/model-name" identifier into a
// ModelAdapter the Coordinator can spawn or continue a session with.
// Implementations are supplied by the daemon's boot composition; a missing
// ModelFactory causes agent.spawn/agent.continue RPCs to fail with
// ErrMissingModelFactory.
type ModelFactory interface {
	Create(ctx context.Context, sessionID AgentSessionID, model string) (ModelAdapter, error)
}

// AgentCheckpoint is persisted state sufficient for the Coordinator to
// reconstruct an agent session after process restart. Its internal
// structure belongs to the Coordinator collaborator; the daemon only needs
// to know whether one exists (LoadCheckpoint returning non-nil) and which
// adapter it was bound to.
type AgentCheckpoint struct {
	SessionID AgentSessionID  `json:"sessionId"`
	Adapter   AdapterConfig   `json:"adapter"`
	Timestamp time.Time       `json:"timestamp"`
}

// AgentEventKind enumerates the variants an agent session publishes during
// a turn.
type AgentEventKind string

const (
	AgentEventStatus         AgentEventKind = "status"
	AgentEventOutput         AgentEventKind = "output"
	AgentEventToolStart      AgentEventKind = "tool_start"
	AgentEventToolProgress   AgentEventKind = "tool_progress"
	AgentEventToolEnd        AgentEventKind = "tool_end"
	AgentEventThought        AgentEventKind = "thought"
	AgentEventError          AgentEventKind = "error"
	AgentEventDone           AgentEventKind = "done"
	AgentEventSuspended      AgentEventKind = "suspended"
	AgentEventMemoryUpdated  AgentEventKind = "memory_updated"
)

// AgentEvent is the tagged union of turn-level events a session produces.
// Only the fields relevant to Kind are populated.
type AgentEvent struct {
	Kind      AgentEventKind `json:"kind"`
	SessionID AgentSessionID `json:"sessionId"`

	Status AgentStatus `json:"status,omitempty"` // AgentEventStatus

	// AgentEventOutput.
	OutputText  string `json:"outputText,omitempty"`
	OutputFinal bool   `json:"outputFinal,omitempty"`

	// AgentEventToolStart / AgentEventToolProgress.
	ToolName  string `json:"toolName,omitempty"`
	ToolInput string `json:"toolInput,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Message   string `json:"message,omitempty"`

	// AgentEventError.
	Fatal bool   `json:"fatal,omitempty"`
	Err   string `json:"error,omitempty"`

	// AgentEventDone.
	Result *AgentResult `json:"result,omitempty"`
}

// AgentResult carries the final output of a completed agent turn.
type AgentResult struct {
	Output string `json:"output"`
}

// CoordinatorEventKind distinguishes turn-level agent events from
// coordinator-level lifecycle notifications (spawn/completion) that the
// Router and Pulse Job also subscribe to.
type CoordinatorEventKind string

const (
	CoordinatorEventAgentEvent   CoordinatorEventKind = "agent_event"
	CoordinatorEventAgentSpawned CoordinatorEventKind = "agent_spawned"
	CoordinatorEventAgentDone    CoordinatorEventKind = "agent_done"
)

// CoordinatorEvent is the envelope the Coordinator publishes on its event
// stream. AgentEvent is populated when Kind == CoordinatorEventAgentEvent.
type CoordinatorEvent struct {
	Kind      CoordinatorEventKind `json:"kind"`
	SessionID AgentSessionID       `json:"sessionId"`
	AgentEvent *AgentEvent         `json:"agentEvent,omitempty"`
}

// CoordinatorEventHandler receives every event published on the
// Coordinator's stream.
type CoordinatorEventHandler func(ctx context.Context, ev CoordinatorEvent)

// ContinueOptions carries the ambient tool registry threaded through a
// continue call, as distinct from the one captured in the original
// SpawnConfig (callers may supply a fresh registry on resume).
type ContinueOptions struct {
	Tools ToolRegistry
}

// Coordinator owns agent sessions end to end: spawning, resuming from
// checkpoint, routing turns, and lifecycle. It is an external collaborator
// specified only at this interface; the daemon core never reaches into an
// agent's internal execution engine.
type Coordinator interface {
	Start(ctx context.Context) error

	// Spawn creates a new agent session bound to adapter and returns its
	// handle. If cfg.InitialInput is set, it is delivered as the first turn.
	Spawn(ctx context.Context, adapter ModelAdapter, cfg SpawnConfig) (AgentHandle, error)

	// Continue resumes a session — either still known in-memory (status
	// completed) or restored from a checkpoint — with a fresh adapter and
	// turn of input.
	Continue(ctx context.Context, id AgentSessionID, input AgentInput, adapter ModelAdapter, opts ContinueOptions) error

	// Get returns the live handle for a session, or nil if the coordinator
	// does not currently hold it in memory (e.g. after a restart).
	Get(ctx context.Context, id AgentSessionID) (AgentHandle, error)

	// GetAdapter returns the adapter a session was last bound to, or nil.
	GetAdapter(ctx context.Context, id AgentSessionID) (ModelAdapter, error)

	List(ctx context.Context) ([]AgentHandle, error)

	// LoadCheckpoint returns the persisted checkpoint for a session id, or
	// nil if none exists.
	LoadCheckpoint(ctx context.Context, id AgentSessionID) (*AgentCheckpoint, error)
	ListCheckpoints(ctx context.Context) ([]AgentCheckpoint, error)

	// Subscribe registers a handler for every coordinator event. Returns an
	// unsubscribe function.
	Subscribe(handler CoordinatorEventHandler) func()

	// Shutdown stops every running session; graceful awaits in-flight
	// turns up to timeout, otherwise sessions are terminated immediately
	// once timeout elapses.
	Shutdown(ctx context.Context, graceful bool, timeout time.Duration) error
}
