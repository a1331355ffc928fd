package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeChannelRegistry struct {
	mu        sync.Mutex
	handler   domain.InboundHandler
	processed []domain.OutboundIntent
	processErr error
}

func (f *fakeChannelRegistry) Get(string) (domain.Channel, bool) { return nil, false }
func (f *fakeChannelRegistry) List() []domain.Channel            { return nil }
func (f *fakeChannelRegistry) Register(domain.Channel) error     { return nil }
func (f *fakeChannelRegistry) Disconnect(context.Context, string) error { return nil }

func (f *fakeChannelRegistry) Process(ctx context.Context, channelID string, intent domain.OutboundIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, intent)
	return f.processErr
}

func (f *fakeChannelRegistry) Subscribe(handler domain.InboundHandler) func() {
	f.handler = handler
	return func() { f.handler = nil }
}

func (f *fakeChannelRegistry) emit(ctx context.Context, ev domain.InboundEvent) {
	if f.handler != nil {
		f.handler(ctx, ev)
	}
}

type fakeHandle struct {
	id      domain.AgentSessionID
	status  domain.AgentStatus
	sendErr error
	sent    []domain.AgentInput
}

func (h *fakeHandle) ID() domain.AgentSessionID   { return h.id }
func (h *fakeHandle) Status() domain.AgentStatus  { return h.status }
func (h *fakeHandle) Config() domain.SpawnConfig  { return domain.SpawnConfig{} }
func (h *fakeHandle) CreatedAt() time.Time        { return time.Time{} }
func (h *fakeHandle) Send(ctx context.Context, input domain.AgentInput) error {
	h.sent = append(h.sent, input)
	return h.sendErr
}
func (h *fakeHandle) Pause(context.Context) error     { return nil }
func (h *fakeHandle) Resume(context.Context) error    { return nil }
func (h *fakeHandle) Terminate(context.Context) error { return nil }
func (h *fakeHandle) Snapshot(context.Context) error  { return nil }

type fakeAdapter struct{}

func (fakeAdapter) Config() domain.AdapterConfig { return domain.AdapterConfig{Model: "bedrock/test"} }

type fakeCoordinator struct {
	mu          sync.Mutex
	handlers    []domain.CoordinatorEventHandler
	handles     map[domain.AgentSessionID]*fakeHandle
	adapters    map[domain.AgentSessionID]domain.ModelAdapter
	checkpoints map[domain.AgentSessionID]*domain.AgentCheckpoint
	spawnCount  int
	continueErr error
	spawnErr    error
	nextID      int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		handles:     make(map[domain.AgentSessionID]*fakeHandle),
		adapters:    make(map[domain.AgentSessionID]domain.ModelAdapter),
		checkpoints: make(map[domain.AgentSessionID]*domain.AgentCheckpoint),
	}
}

func (c *fakeCoordinator) Start(context.Context) error { return nil }

func (c *fakeCoordinator) Spawn(ctx context.Context, adapter domain.ModelAdapter, cfg domain.SpawnConfig) (domain.AgentHandle, error) {
	if c.spawnErr != nil {
		return nil, c.spawnErr
	}
	c.nextID++
	c.spawnCount++
	id := domain.AgentSessionID("agent-" + string(rune('0'+c.nextID)))
	h := &fakeHandle{id: id, status: domain.AgentStatusRunning}
	c.handles[id] = h
	c.adapters[id] = adapter
	return h, nil
}

func (c *fakeCoordinator) Continue(ctx context.Context, id domain.AgentSessionID, input domain.AgentInput, adapter domain.ModelAdapter, opts domain.ContinueOptions) error {
	return c.continueErr
}

func (c *fakeCoordinator) Get(ctx context.Context, id domain.AgentSessionID) (domain.AgentHandle, error) {
	h, ok := c.handles[id]
	if !ok {
		return nil, nil
	}
	return h, nil
}

func (c *fakeCoordinator) GetAdapter(ctx context.Context, id domain.AgentSessionID) (domain.ModelAdapter, error) {
	return c.adapters[id], nil
}

func (c *fakeCoordinator) List(context.Context) ([]domain.AgentHandle, error) { return nil, nil }

func (c *fakeCoordinator) LoadCheckpoint(ctx context.Context, id domain.AgentSessionID) (*domain.AgentCheckpoint, error) {
	return c.checkpoints[id], nil
}

func (c *fakeCoordinator) ListCheckpoints(context.Context) ([]domain.AgentCheckpoint, error) { return nil, nil }

func (c *fakeCoordinator) Subscribe(handler domain.CoordinatorEventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	return func() {}
}

func (c *fakeCoordinator) Shutdown(context.Context, bool, time.Duration) error { return nil }

func (c *fakeCoordinator) emit(ctx context.Context, ev domain.CoordinatorEvent) {
	c.mu.Lock()
	handlers := append([]domain.CoordinatorEventHandler{}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

type fakeConversationManager struct {
	mu       sync.Mutex
	byDest   map[string]*domain.ConversationBinding
	byAgent  map[domain.AgentSessionID]string
}

func newFakeConversationManager() *fakeConversationManager {
	return &fakeConversationManager{
		byDest:  make(map[string]*domain.ConversationBinding),
		byAgent: make(map[domain.AgentSessionID]string),
	}
}

func (m *fakeConversationManager) GetOrCreate(d domain.Destination) domain.ConversationBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := d.Key()
	if b, ok := m.byDest[key]; ok {
		return *b
	}
	b := &domain.ConversationBinding{Destination: d}
	m.byDest[key] = b
	return *b
}

func (m *fakeConversationManager) Bind(d domain.Destination, agentID domain.AgentSessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := d.Key()
	b, ok := m.byDest[key]
	if !ok {
		b = &domain.ConversationBinding{Destination: d}
		m.byDest[key] = b
	}
	if b.AgentID != "" {
		delete(m.byAgent, b.AgentID)
	}
	b.AgentID = agentID
	m.byAgent[agentID] = key
}

func (m *fakeConversationManager) Unbind(d domain.Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := d.Key()
	b, ok := m.byDest[key]
	if !ok {
		return
	}
	delete(m.byAgent, b.AgentID)
	b.AgentID = ""
}

func (m *fakeConversationManager) GetByDestination(d domain.Destination) (domain.ConversationBinding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byDest[d.Key()]
	if !ok {
		return domain.ConversationBinding{}, false
	}
	return *b, true
}

func (m *fakeConversationManager) GetByAgent(agentID domain.AgentSessionID) (domain.ConversationBinding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byAgent[agentID]
	if !ok {
		return domain.ConversationBinding{}, false
	}
	return *m.byDest[key], true
}

type fakeLastActive struct {
	mu      sync.Mutex
	updated []domain.Destination
}

func (f *fakeLastActive) Update(d domain.Destination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, d)
}

func setupRouter(t *testing.T) (*Router, *fakeChannelRegistry, *fakeCoordinator, *fakeConversationManager, *fakeLastActive) {
	t.Helper()
	channels := &fakeChannelRegistry{}
	coord := newFakeCoordinator()
	conv := newFakeConversationManager()
	lastActive := &fakeLastActive{}

	r := New(channels, coord, conv, lastActive, Config{}, newTestLogger())
	r.SetDefaultAdapterResolver(func(context.Context) (domain.ModelAdapter, error) {
		return fakeAdapter{}, nil
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, channels, coord, conv, lastActive
}

func TestHandleInboundSpawnsOnUnboundDestination(t *testing.T) {
	_, channels, coord, conv, lastActive := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "hi"}},
	})

	if coord.spawnCount != 1 {
		t.Fatalf("spawnCount = %d, want 1", coord.spawnCount)
	}
	b, ok := conv.GetByDestination(dest)
	if !ok || !b.Bound() {
		t.Fatal("expected destination bound after spawn")
	}
	if len(lastActive.updated) != 1 {
		t.Error("expected last-active update on user-originated event")
	}
}

func TestHandleInboundSendsToRunningAgent(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-1")
	h := &fakeHandle{id: "agent-1", status: domain.AgentStatusRunning}
	coord.handles["agent-1"] = h

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "again"}},
	})

	if len(h.sent) != 1 || h.sent[0].Message != "again" {
		t.Fatalf("sent = %+v", h.sent)
	}
}

func TestHandleInboundContinuesCompletedAgent(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-1")
	coord.handles["agent-1"] = &fakeHandle{id: "agent-1", status: domain.AgentStatusCompleted}
	coord.adapters["agent-1"] = fakeAdapter{}

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "resume"}},
	})

	b, _ := conv.GetByDestination(dest)
	if !b.Bound() {
		t.Error("binding should remain bound after successful continue")
	}
}

func TestHandleInboundUnbindsOnContinueFailure(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-1")
	coord.handles["agent-1"] = &fakeHandle{id: "agent-1", status: domain.AgentStatusCompleted}
	coord.adapters["agent-1"] = fakeAdapter{}
	coord.continueErr = errors.New("boom")

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "resume"}},
	})

	b, _ := conv.GetByDestination(dest)
	if b.Bound() {
		t.Error("expected unbind after continue failure")
	}
}

func TestHandleInboundRestoresFromCheckpoint(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-1")
	coord.checkpoints["agent-1"] = &domain.AgentCheckpoint{SessionID: "agent-1"}
	coord.adapters["agent-1"] = fakeAdapter{}

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "restore"}},
	})

	b, _ := conv.GetByDestination(dest)
	if !b.Bound() || b.AgentID != "agent-1" {
		t.Errorf("expected binding preserved with restored agent, got %+v", b)
	}
}

func TestHandleInboundSpawnsFreshWhenNoCheckpoint(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-stale")

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:   domain.InboundMessageReceived,
		Origin: dest,
		Content: &domain.MessageContent{Kind: domain.ContentText, Text: &domain.TextContent{Body: "no checkpoint"}},
	})

	if coord.spawnCount != 1 {
		t.Fatalf("spawnCount = %d, want 1", coord.spawnCount)
	}
	b, _ := conv.GetByDestination(dest)
	if b.AgentID == "agent-stale" {
		t.Error("expected rebind to a freshly spawned agent")
	}
}

func TestEditsAndReactionsProduceNoAgentInput(t *testing.T) {
	_, channels, coord, _, lastActive := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}

	channels.emit(context.Background(), domain.InboundEvent{Kind: domain.InboundMessageEdited, Origin: dest})
	channels.emit(context.Background(), domain.InboundEvent{Kind: domain.InboundReactionAdded, Origin: dest})
	channels.emit(context.Background(), domain.InboundEvent{Kind: domain.InboundMemberJoined, Origin: dest})

	if coord.spawnCount != 0 {
		t.Error("expected no spawn for non-message events")
	}
	if len(lastActive.updated) != 0 {
		t.Error("expected no last-active update for non-message events")
	}
}

func TestCommandReceivedFormatsSlashMessage(t *testing.T) {
	_, channels, coord, _, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}

	channels.emit(context.Background(), domain.InboundEvent{
		Kind:    domain.InboundCommandReceived,
		Origin:  dest,
		Command: &domain.SlashCommandDetail{Name: "start", Args: []string{"foo", "bar"}},
	})

	if coord.spawnCount != 1 {
		t.Fatal("expected spawn for command")
	}
}

func TestCoordinatorEventProducesOutboundIntent(t *testing.T) {
	_, channels, coord, conv, _ := setupRouter(t)
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	conv.Bind(dest, "agent-1")

	coord.emit(context.Background(), domain.CoordinatorEvent{
		Kind:      domain.CoordinatorEventAgentEvent,
		SessionID: "agent-1",
		AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputFinal: true, OutputText: "hello"},
	})

	if len(channels.processed) != 1 {
		t.Fatalf("processed = %d, want 1", len(channels.processed))
	}
	intent := channels.processed[0]
	if intent.Kind != domain.OutboundAgentResponding || intent.Body != "hello" {
		t.Errorf("intent = %+v", intent)
	}
	if intent.Metadata["conversationType"] != "direct" {
		t.Error("expected conversationType metadata set")
	}
}

func TestCoordinatorEventForUnboundAgentIsDropped(t *testing.T) {
	_, channels, coord, _, _ := setupRouter(t)

	coord.emit(context.Background(), domain.CoordinatorEvent{
		Kind:      domain.CoordinatorEventAgentEvent,
		SessionID: "ghost",
		AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputFinal: true, OutputText: "hello"},
	})

	if len(channels.processed) != 0 {
		t.Error("expected no outbound intent for unbound agent")
	}
}

func TestAgentEventToIntentTable(t *testing.T) {
	cases := []struct {
		name string
		ev   domain.AgentEvent
		want *domain.OutboundIntentKind
	}{
		{"running status", domain.AgentEvent{Kind: domain.AgentEventStatus, Status: domain.AgentStatusRunning}, kindPtr(domain.OutboundAgentThinking)},
		{"paused status", domain.AgentEvent{Kind: domain.AgentEventStatus, Status: domain.AgentStatusPaused}, nil},
		{"final empty output", domain.AgentEvent{Kind: domain.AgentEventOutput, OutputFinal: true, OutputText: ""}, nil},
		{"streaming output", domain.AgentEvent{Kind: domain.AgentEventOutput, OutputFinal: false, OutputText: "partial"}, kindPtr(domain.OutboundAgentStreaming)},
		{"tool start", domain.AgentEvent{Kind: domain.AgentEventToolStart, ToolName: "search"}, kindPtr(domain.OutboundAgentToolCall)},
		{"error", domain.AgentEvent{Kind: domain.AgentEventError, Fatal: true}, kindPtr(domain.OutboundAgentError)},
		{"done no output", domain.AgentEvent{Kind: domain.AgentEventDone, Result: &domain.AgentResult{Output: ""}}, nil},
		{"done with output", domain.AgentEvent{Kind: domain.AgentEventDone, Result: &domain.AgentResult{Output: "x"}}, kindPtr(domain.OutboundAgentResponding)},
		{"suspended", domain.AgentEvent{Kind: domain.AgentEventSuspended}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := agentEventToIntent(tc.ev)
			if tc.want == nil {
				if got != nil {
					t.Errorf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || got.Kind != *tc.want {
				t.Errorf("got %+v, want kind %v", got, *tc.want)
			}
		})
	}
}

func kindPtr(k domain.OutboundIntentKind) *domain.OutboundIntentKind { return &k }

func TestStartAndStopAreIdempotent(t *testing.T) {
	r, _, _, _, _ := setupRouter(t)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("redundant Start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("redundant Stop: %v", err)
	}
}
