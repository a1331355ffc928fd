// Package conversation implements the daemon's Conversation Manager: the
// bidirectional mapping from a channel destination to the agent session
// currently bound to it, persisted across restarts.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alfred-ai/internal/domain"
)

// key returns a deterministic, injective encoding of a Destination using a
// length-prefixed channel id so a colon (or any other separator) inside
// ChannelID or Ref cannot alias two distinct destinations onto one key.
func key(d domain.Destination) string {
	return d.Key()
}

// ListFilter narrows Manager.List; zero-value fields are unconstrained.
// Combined filters AND together.
type ListFilter struct {
	ChannelID string
	HasAgent  *bool
}

// Manager is the in-memory Conversation Manager. Safe for concurrent use;
// every exported mutator is a serialized critical section so the forward
// and reverse indices always move together.
type Manager struct {
	mu      sync.RWMutex
	byDest  map[string]domain.ConversationBinding
	byAgent map[domain.AgentSessionID]string // agentID -> destination key

	store  domain.ConversationStore
	logger *slog.Logger
}

// NewManager creates a Manager backed by store for persistence.
func NewManager(store domain.ConversationStore, logger *slog.Logger) *Manager {
	return &Manager{
		byDest:  make(map[string]domain.ConversationBinding),
		byAgent: make(map[domain.AgentSessionID]string),
		store:   store,
		logger:  logger,
	}
}

// Start loads and restores persisted bindings. Safe to call with an empty
// or missing store (restores zero bindings).
func (m *Manager) Start(_ context.Context) error {
	bindings, err := m.store.Load()
	if err != nil {
		return domain.WrapOp("conversation.start", err)
	}
	m.Restore(bindings)
	m.logger.Info("conversation manager started", "bindings", len(bindings))
	return nil
}

// Stop snapshots and saves the current state, then clears it.
func (m *Manager) Stop(_ context.Context) error {
	snapshot := m.Snapshot()
	if err := m.store.Save(snapshot); err != nil {
		return domain.WrapOp("conversation.stop", err)
	}

	m.mu.Lock()
	m.byDest = make(map[string]domain.ConversationBinding)
	m.byAgent = make(map[domain.AgentSessionID]string)
	m.mu.Unlock()

	m.logger.Info("conversation manager stopped", "bindings", len(snapshot))
	return nil
}

// GetOrCreate returns the existing binding for destination or lazily
// creates an unbound one.
func (m *Manager) GetOrCreate(destination domain.Destination) domain.ConversationBinding {
	k := key(destination)

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.byDest[k]; ok {
		return b
	}

	now := time.Now()
	b := domain.ConversationBinding{
		Destination:    destination,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.byDest[k] = b
	return b
}

// Bind creates the binding if absent, clears any prior agent's reverse
// entry, and points destination at agentID.
func (m *Manager) Bind(destination domain.Destination, agentID domain.AgentSessionID) {
	k := key(destination)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.byDest[k]
	if !ok {
		now := time.Now()
		b = domain.ConversationBinding{Destination: destination, CreatedAt: now}
	}

	if b.AgentID != "" {
		delete(m.byAgent, b.AgentID)
	}

	b.AgentID = agentID
	b.LastActivityAt = time.Now()
	m.byDest[k] = b
	m.byAgent[agentID] = k
}

// Unbind clears the agent from destination's binding if one is set,
// preserving the binding row.
func (m *Manager) Unbind(destination domain.Destination) {
	k := key(destination)

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.byDest[k]
	if !ok || b.AgentID == "" {
		return
	}

	delete(m.byAgent, b.AgentID)
	b.AgentID = ""
	m.byDest[k] = b
}

// GetByDestination looks up a binding by destination.
func (m *Manager) GetByDestination(destination domain.Destination) (domain.ConversationBinding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byDest[key(destination)]
	return b, ok
}

// GetByAgent looks up a binding by the agent session currently bound to it.
func (m *Manager) GetByAgent(agentID domain.AgentSessionID) (domain.ConversationBinding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.byAgent[agentID]
	if !ok {
		return domain.ConversationBinding{}, false
	}
	b, ok := m.byDest[k]
	return b, ok
}

// List returns bindings matching filter, ANDing every set field.
func (m *Manager) List(filter ListFilter) []domain.ConversationBinding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ConversationBinding, 0, len(m.byDest))
	for _, b := range m.byDest {
		if filter.ChannelID != "" && b.Destination.ChannelID != filter.ChannelID {
			continue
		}
		if filter.HasAgent != nil && b.Bound() != *filter.HasAgent {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Snapshot returns every binding, for persistence.
func (m *Manager) Snapshot() []domain.ConversationBinding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ConversationBinding, 0, len(m.byDest))
	for _, b := range m.byDest {
		out = append(out, b)
	}
	return out
}

// Restore clears current state and reindexes from bindings, rebuilding the
// reverse index for every non-null agent.
func (m *Manager) Restore(bindings []domain.ConversationBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byDest = make(map[string]domain.ConversationBinding, len(bindings))
	m.byAgent = make(map[domain.AgentSessionID]string, len(bindings))

	for _, b := range bindings {
		k := key(b.Destination)
		m.byDest[k] = b
		if b.AgentID != "" {
			m.byAgent[b.AgentID] = k
		}
	}
}
