// Package subscription implements the daemon's Subscription Manager: a
// registry of live client subscriptions indexed by id, by owning
// connection, and by topic, with filtered notification fan-out.
package subscription

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"alfred-ai/internal/domain"
)

// ConnectionResolver looks up the live domain.Connection for a connection
// id, so the manager can push notifications without owning connection
// lifecycle itself.
type ConnectionResolver func(connectionID string) (domain.Connection, bool)

// NotifyFilter is a per-call predicate evaluated against a subscription's
// stored filter string. A nil filter always passes.
type NotifyFilter func(storedFilter string) bool

var validTopics = map[domain.Topic]bool{
	domain.TopicAgents:      true,
	domain.TopicAgentOutput: true,
	domain.TopicChannels:    true,
	domain.TopicLogs:        true,
}

// Manager is the Subscription Manager. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	byID    map[string]domain.Subscription
	byConn  map[string]map[string]struct{}
	byTopic map[domain.Topic]map[string]struct{}

	resolve ConnectionResolver
	logger  *slog.Logger
	nextID  atomic.Uint64
}

// NewManager creates an empty Manager. resolve is used at Notify time to
// find the connection owning each matching subscription.
func NewManager(resolve ConnectionResolver, logger *slog.Logger) *Manager {
	return &Manager{
		byID:    make(map[string]domain.Subscription),
		byConn:  make(map[string]map[string]struct{}),
		byTopic: make(map[domain.Topic]map[string]struct{}),
		resolve: resolve,
		logger:  logger,
	}
}

// Subscribe atomically inserts a new subscription into all three indices
// and returns its id.
func (m *Manager) Subscribe(connectionID string, topic domain.Topic, filter string) (string, error) {
	if !validTopics[topic] {
		return "", fmt.Errorf("subscription: %w: %q", domain.ErrUnknownTopic, topic)
	}

	id := fmt.Sprintf("sub-%d", m.nextID.Add(1))
	sub := domain.Subscription{
		ID:           id,
		ConnectionID: connectionID,
		Topic:        topic,
		Filter:       filter,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[id] = sub

	if m.byConn[connectionID] == nil {
		m.byConn[connectionID] = make(map[string]struct{})
	}
	m.byConn[connectionID][id] = struct{}{}

	if m.byTopic[topic] == nil {
		m.byTopic[topic] = make(map[string]struct{})
	}
	m.byTopic[topic][id] = struct{}{}

	return id, nil
}

// Unsubscribe removes a subscription from all three indices. Returns
// whether it existed.
func (m *Manager) Unsubscribe(subscriptionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked(subscriptionID)
}

func (m *Manager) unlocked(subscriptionID string) bool {
	sub, ok := m.byID[subscriptionID]
	if !ok {
		return false
	}

	delete(m.byID, subscriptionID)
	if conns := m.byConn[sub.ConnectionID]; conns != nil {
		delete(conns, subscriptionID)
		if len(conns) == 0 {
			delete(m.byConn, sub.ConnectionID)
		}
	}
	if topics := m.byTopic[sub.Topic]; topics != nil {
		delete(topics, subscriptionID)
		if len(topics) == 0 {
			delete(m.byTopic, sub.Topic)
		}
	}
	return true
}

// Get returns the subscription for an id, or false if it does not exist.
func (m *Manager) Get(subscriptionID string) (domain.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.byID[subscriptionID]
	return sub, ok
}

// GetSubscriptions returns the ids of every subscription owned by a
// connection.
func (m *Manager) GetSubscriptions(connectionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.byConn[connectionID]))
	for id := range m.byConn[connectionID] {
		ids = append(ids, id)
	}
	return ids
}

// Notify pushes payload to every subscription on topic whose stored filter
// passes the optional per-call filter predicate. Per-connection send
// failures cannot surface here (Connection.Notify is non-blocking and
// self-logging); Notify itself never fails.
func (m *Manager) Notify(topic domain.Topic, payload json.RawMessage, filter NotifyFilter) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.byTopic[topic]))
	for id := range m.byTopic[topic] {
		ids = append(ids, id)
	}
	subs := make([]domain.Subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, m.byID[id])
	}
	m.mu.RUnlock()

	notif := domain.RPCNotification{
		Method: "subscription." + string(topic),
		Params: payload,
	}

	for _, sub := range subs {
		if filter != nil && !filter(sub.Filter) {
			continue
		}
		conn, ok := m.resolve(sub.ConnectionID)
		if !ok {
			m.logger.Warn("subscription: owning connection not found", "sub_id", sub.ID, "conn_id", sub.ConnectionID)
			continue
		}
		conn.Notify(notif)
	}
}

// Cleanup unsubscribes every subscription owned by a connection, e.g. on
// connection close.
func (m *Manager) Cleanup(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.byConn[connectionID]))
	for id := range m.byConn[connectionID] {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.unlocked(id)
	}
}
