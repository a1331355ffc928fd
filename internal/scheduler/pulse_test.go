package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

type pulseFakeHandle struct {
	id domain.AgentSessionID
}

func (h *pulseFakeHandle) ID() domain.AgentSessionID            { return h.id }
func (h *pulseFakeHandle) Status() domain.AgentStatus           { return domain.AgentStatusRunning }
func (h *pulseFakeHandle) Config() domain.SpawnConfig           { return domain.SpawnConfig{} }
func (h *pulseFakeHandle) CreatedAt() time.Time                 { return time.Time{} }
func (h *pulseFakeHandle) Send(context.Context, domain.AgentInput) error { return nil }
func (h *pulseFakeHandle) Pause(context.Context) error          { return nil }
func (h *pulseFakeHandle) Resume(context.Context) error         { return nil }
func (h *pulseFakeHandle) Terminate(context.Context) error      { return nil }
func (h *pulseFakeHandle) Snapshot(context.Context) error       { return nil }

type pulseFakeCoordinator struct {
	mu       sync.Mutex
	handlers []domain.CoordinatorEventHandler
	spawnCfg domain.SpawnConfig
}

func (c *pulseFakeCoordinator) Start(context.Context) error { return nil }

func (c *pulseFakeCoordinator) Spawn(ctx context.Context, adapter domain.ModelAdapter, cfg domain.SpawnConfig) (domain.AgentHandle, error) {
	c.spawnCfg = cfg
	return &pulseFakeHandle{id: "pulse-1"}, nil
}

func (c *pulseFakeCoordinator) Continue(context.Context, domain.AgentSessionID, domain.AgentInput, domain.ModelAdapter, domain.ContinueOptions) error {
	return nil
}
func (c *pulseFakeCoordinator) Get(context.Context, domain.AgentSessionID) (domain.AgentHandle, error) {
	return nil, nil
}
func (c *pulseFakeCoordinator) GetAdapter(context.Context, domain.AgentSessionID) (domain.ModelAdapter, error) {
	return nil, nil
}
func (c *pulseFakeCoordinator) List(context.Context) ([]domain.AgentHandle, error) { return nil, nil }
func (c *pulseFakeCoordinator) LoadCheckpoint(context.Context, domain.AgentSessionID) (*domain.AgentCheckpoint, error) {
	return nil, nil
}
func (c *pulseFakeCoordinator) ListCheckpoints(context.Context) ([]domain.AgentCheckpoint, error) {
	return nil, nil
}

func (c *pulseFakeCoordinator) Subscribe(handler domain.CoordinatorEventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	idx := len(c.handlers) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers[idx] = nil
	}
}

func (c *pulseFakeCoordinator) Shutdown(context.Context, bool, time.Duration) error { return nil }

func (c *pulseFakeCoordinator) emit(ctx context.Context, ev domain.CoordinatorEvent) {
	c.mu.Lock()
	handlers := append([]domain.CoordinatorEventHandler{}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(ctx, ev)
		}
	}
}

type pulseFakeChannels struct {
	mu        sync.Mutex
	processed []domain.OutboundIntent
}

func (f *pulseFakeChannels) Get(string) (domain.Channel, bool)            { return nil, false }
func (f *pulseFakeChannels) List() []domain.Channel                       { return nil }
func (f *pulseFakeChannels) Register(domain.Channel) error                { return nil }
func (f *pulseFakeChannels) Disconnect(context.Context, string) error     { return nil }
func (f *pulseFakeChannels) Subscribe(domain.InboundHandler) func()       { return func() {} }
func (f *pulseFakeChannels) Process(ctx context.Context, channelID string, intent domain.OutboundIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, intent)
	return nil
}

type fakeLastActiveGetter struct {
	dest domain.Destination
	ok   bool
}

func (f fakeLastActiveGetter) Get() (domain.Destination, bool) { return f.dest, f.ok }

func fakeAdapterResolver(context.Context) (domain.ModelAdapter, error) {
	return fakePulseAdapter{}, nil
}

type fakePulseAdapter struct{}

func (fakePulseAdapter) Config() domain.AdapterConfig { return domain.AdapterConfig{Model: "bedrock/test"} }

func newTestPulseLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveDestinationSilentWhenResponseToEmpty(t *testing.T) {
	job := NewPulseJob(&pulseFakeCoordinator{}, &pulseFakeChannels{}, nil, domain.PulseConfig{}, fakeAdapterResolver, newTestPulseLogger())
	res := job.resolveDestination()
	if res.Kind != domain.ResolutionSilent {
		t.Errorf("got %v, want silent", res.Kind)
	}
}

func TestResolveDestinationLastActive(t *testing.T) {
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	getter := fakeLastActiveGetter{dest: dest, ok: true}
	job := NewPulseJob(&pulseFakeCoordinator{}, &pulseFakeChannels{}, getter, domain.PulseConfig{ResponseTo: "lastActive"}, fakeAdapterResolver, newTestPulseLogger())

	res := job.resolveDestination()
	if res.Kind != domain.ResolutionResolved || res.Destination.Ref != "u1" {
		t.Errorf("got %+v", res)
	}
}

func TestResolveDestinationLastActiveUnsetIsSilent(t *testing.T) {
	getter := fakeLastActiveGetter{ok: false}
	job := NewPulseJob(&pulseFakeCoordinator{}, &pulseFakeChannels{}, getter, domain.PulseConfig{ResponseTo: "lastActive"}, fakeAdapterResolver, newTestPulseLogger())

	res := job.resolveDestination()
	if res.Kind != domain.ResolutionSilent {
		t.Errorf("got %v, want silent", res.Kind)
	}
}

func TestResolveDestinationNamed(t *testing.T) {
	dest := domain.Destination{ChannelID: "slack", Ref: "c1"}
	cfg := domain.PulseConfig{ResponseTo: "ops", NamedDestinations: map[string]domain.Destination{"ops": dest}}
	job := NewPulseJob(&pulseFakeCoordinator{}, &pulseFakeChannels{}, nil, cfg, fakeAdapterResolver, newTestPulseLogger())

	res := job.resolveDestination()
	if res.Kind != domain.ResolutionResolved || res.Destination.ChannelID != "slack" {
		t.Errorf("got %+v", res)
	}
}

func TestResolveDestinationUnknownNameIsSilent(t *testing.T) {
	cfg := domain.PulseConfig{ResponseTo: "nowhere"}
	job := NewPulseJob(&pulseFakeCoordinator{}, &pulseFakeChannels{}, nil, cfg, fakeAdapterResolver, newTestPulseLogger())

	res := job.resolveDestination()
	if res.Kind != domain.ResolutionSilent {
		t.Errorf("got %v, want silent", res.Kind)
	}
}

func TestExecuteForwardsResponseToResolvedDestination(t *testing.T) {
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	coord := &pulseFakeCoordinator{}
	channels := &pulseFakeChannels{}
	cfg := domain.PulseConfig{ResponseTo: "ops", NamedDestinations: map[string]domain.Destination{"ops": dest}}
	job := NewPulseJob(coord, channels, nil, cfg, fakeAdapterResolver, newTestPulseLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputText: "hello there"},
		})
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventDone},
		})
	}()

	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(channels.processed) != 1 || channels.processed[0].Body != "hello there" {
		t.Fatalf("processed = %+v", channels.processed)
	}
}

func TestExecuteSuppressesRestMarker(t *testing.T) {
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	coord := &pulseFakeCoordinator{}
	channels := &pulseFakeChannels{}
	cfg := domain.PulseConfig{ResponseTo: "ops", NamedDestinations: map[string]domain.Destination{"ops": dest}}
	job := NewPulseJob(coord, channels, nil, cfg, fakeAdapterResolver, newTestPulseLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputText: "<rest />"},
		})
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventDone},
		})
	}()

	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(channels.processed) != 0 {
		t.Fatalf("expected suppressed response, got %+v", channels.processed)
	}
}

func TestExecuteSilentNeverProcesses(t *testing.T) {
	coord := &pulseFakeCoordinator{}
	channels := &pulseFakeChannels{}
	job := NewPulseJob(coord, channels, nil, domain.PulseConfig{}, fakeAdapterResolver, newTestPulseLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputText: "hi"},
		})
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventDone},
		})
	}()

	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(channels.processed) != 0 {
		t.Fatalf("expected no outbound intent when silent, got %+v", channels.processed)
	}
}

func TestExecuteFatalErrorResolvesEmpty(t *testing.T) {
	dest := domain.Destination{ChannelID: "tg", Ref: "u1"}
	coord := &pulseFakeCoordinator{}
	channels := &pulseFakeChannels{}
	cfg := domain.PulseConfig{ResponseTo: "ops", NamedDestinations: map[string]domain.Destination{"ops": dest}}
	job := NewPulseJob(coord, channels, nil, cfg, fakeAdapterResolver, newTestPulseLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventOutput, OutputText: "partial"},
		})
		coord.emit(context.Background(), domain.CoordinatorEvent{
			Kind:      domain.CoordinatorEventAgentEvent,
			SessionID: "pulse-1",
			AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventError, Fatal: true},
		})
	}()

	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(channels.processed) != 0 {
		t.Fatalf("expected no outbound intent on fatal error, got %+v", channels.processed)
	}
}
