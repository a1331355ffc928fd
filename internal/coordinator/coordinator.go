// Package coordinator implements the in-memory reference Coordinator: a
// collaborator sufficient to run the daemon runtime end to end without a
// real agent execution engine. It mints session ids, tracks live sessions,
// fans out coordinator events, and persists checkpoints, but it does not
// assemble prompts or run a tool-calling loop — turns are driven by
// whatever the configured domain.ModelAdapter returns.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"alfred-ai/internal/domain"
)

// CheckpointStore persists agent checkpoints across daemon restarts.
type CheckpointStore interface {
	Load() (map[domain.AgentSessionID]domain.AgentCheckpoint, error)
	Save(checkpoints map[domain.AgentSessionID]domain.AgentCheckpoint) error
}

// Coordinator is the reference domain.Coordinator implementation.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[domain.AgentSessionID]*session

	checkpoints map[domain.AgentSessionID]domain.AgentCheckpoint
	store       CheckpointStore

	subsMu sync.RWMutex
	subs   map[uint64]domain.CoordinatorEventHandler
	nextID uint64

	logger *slog.Logger
}

// New creates a Coordinator persisting checkpoints via store.
func New(store CheckpointStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sessions:    make(map[domain.AgentSessionID]*session),
		checkpoints: make(map[domain.AgentSessionID]domain.AgentCheckpoint),
		store:       store,
		subs:        make(map[uint64]domain.CoordinatorEventHandler),
		logger:      logger,
	}
}

// Start loads persisted checkpoints. Sessions themselves are not restored
// into memory; Continue restores one on demand.
func (c *Coordinator) Start(ctx context.Context) error {
	checkpoints, err := c.store.Load()
	if err != nil {
		return domain.WrapOp("coordinator.start", err)
	}
	c.mu.Lock()
	c.checkpoints = checkpoints
	c.mu.Unlock()
	c.logger.Info("coordinator started", "checkpoints", len(checkpoints))
	return nil
}

func newSessionID() domain.AgentSessionID {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return domain.AgentSessionID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Spawn creates a new session bound to adapter and runs cfg.InitialInput as
// its first turn, if set.
func (c *Coordinator) Spawn(ctx context.Context, adapter domain.ModelAdapter, cfg domain.SpawnConfig) (domain.AgentHandle, error) {
	id := newSessionID()
	s := newSession(id, adapter, cfg, c.publish, c.logger)
	s.onTurn = func(adapterCfg domain.AdapterConfig) error { return c.snapshot(id, adapterCfg) }

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()

	c.publish(ctx, domain.CoordinatorEvent{Kind: domain.CoordinatorEventAgentSpawned, SessionID: id})

	if cfg.InitialInput != nil {
		if err := s.Send(ctx, *cfg.InitialInput); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Continue resumes id — using the live in-memory session if present,
// otherwise restoring from its checkpoint — with a fresh adapter and turn
// of input.
func (c *Coordinator) Continue(ctx context.Context, id domain.AgentSessionID, input domain.AgentInput, adapter domain.ModelAdapter, opts domain.ContinueOptions) error {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if !ok {
		checkpoint, hasCheckpoint := c.checkpoints[id]
		if !hasCheckpoint {
			c.mu.Unlock()
			return domain.ErrNoCheckpoint
		}
		cfg := domain.SpawnConfig{Tools: opts.Tools}
		s = newSession(id, adapter, cfg, c.publish, c.logger)
		s.onTurn = func(adapterCfg domain.AdapterConfig) error { return c.snapshot(id, adapterCfg) }
		s.setStatus(domain.AgentStatusRunning)
		c.sessions[id] = s
		_ = checkpoint
	} else {
		s.rebind(adapter, opts.Tools)
	}
	c.mu.Unlock()

	return s.Send(ctx, input)
}

// Get returns the live handle for id, or nil if not held in memory.
func (c *Coordinator) Get(ctx context.Context, id domain.AgentSessionID) (domain.AgentHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

// GetAdapter returns the adapter a session is currently bound to.
func (c *Coordinator) GetAdapter(ctx context.Context, id domain.AgentSessionID) (domain.ModelAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.currentAdapter(), nil
}

// List returns every in-memory session handle.
func (c *Coordinator) List(ctx context.Context) ([]domain.AgentHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.AgentHandle, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out, nil
}

// LoadCheckpoint returns the persisted checkpoint for id, or nil.
func (c *Coordinator) LoadCheckpoint(ctx context.Context, id domain.AgentSessionID) (*domain.AgentCheckpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	checkpoint, ok := c.checkpoints[id]
	if !ok {
		return nil, nil
	}
	return &checkpoint, nil
}

// ListCheckpoints returns every persisted checkpoint.
func (c *Coordinator) ListCheckpoints(ctx context.Context) ([]domain.AgentCheckpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.AgentCheckpoint, 0, len(c.checkpoints))
	for _, checkpoint := range c.checkpoints {
		out = append(out, checkpoint)
	}
	return out, nil
}

// Subscribe registers handler for every coordinator event.
func (c *Coordinator) Subscribe(handler domain.CoordinatorEventHandler) func() {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = handler
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Coordinator) publish(ctx context.Context, ev domain.CoordinatorEvent) {
	c.subsMu.RLock()
	handlers := make([]domain.CoordinatorEventHandler, 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("coordinator: event handler panicked", "panic", r)
				}
			}()
			h(ctx, ev)
		}()
	}
}

// snapshot persists a checkpoint for a session's current adapter binding.
func (c *Coordinator) snapshot(id domain.AgentSessionID, adapterCfg domain.AdapterConfig) error {
	c.mu.Lock()
	c.checkpoints[id] = domain.AgentCheckpoint{SessionID: id, Adapter: adapterCfg, Timestamp: time.Now()}
	checkpoints := make(map[domain.AgentSessionID]domain.AgentCheckpoint, len(c.checkpoints))
	for k, v := range c.checkpoints {
		checkpoints[k] = v
	}
	c.mu.Unlock()

	return c.store.Save(checkpoints)
}

// Shutdown terminates every running session; graceful mode simply marks
// sessions completed (the reference implementation has no outstanding
// async turn to wait for), hard mode does the same without awaiting
// anything further.
func (c *Coordinator) Shutdown(ctx context.Context, graceful bool, timeout time.Duration) error {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.Terminate(ctx); err != nil {
			c.logger.Warn("coordinator: session terminate error on shutdown", "session", s.ID(), "error", err)
		}
	}
	return nil
}
