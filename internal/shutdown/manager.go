// Package shutdown implements the daemon's Shutdown Manager: a
// priority-ordered registry of named handlers run in graceful (await all)
// or hard (per-priority timeout) mode.
package shutdown

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"alfred-ai/internal/domain"
)

// DefaultHardTimeout is the per-priority timeout used in hard mode when the
// caller does not override it.
const DefaultHardTimeout = 5 * time.Second

// Manager is the Shutdown Manager. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	handlers map[string]domain.ShutdownHandler

	hardTimeout time.Duration
	logger      *slog.Logger
	inProgress  atomic.Bool
}

// NewManager creates a Manager with the given per-priority hard-mode
// timeout (DefaultHardTimeout if zero).
func NewManager(hardTimeout time.Duration, logger *slog.Logger) *Manager {
	if hardTimeout <= 0 {
		hardTimeout = DefaultHardTimeout
	}
	return &Manager{
		handlers:    make(map[string]domain.ShutdownHandler),
		hardTimeout: hardTimeout,
		logger:      logger,
	}
}

// Register installs a handler, replacing any prior handler of the same
// name with a warning.
func (m *Manager) Register(name string, priority int, fn domain.ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handlers[name]; exists {
		m.logger.Warn("shutdown: replacing handler registered under the same name", "name", name)
	}
	m.handlers[name] = domain.ShutdownHandler{Name: name, Priority: priority, Fn: fn}
}

// Unregister removes a handler by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, name)
}

// IsShuttingDown reports whether Execute has been entered. It flips true on
// entry and stays true.
func (m *Manager) IsShuttingDown() bool {
	return m.inProgress.Load()
}

// Execute runs every registered handler grouped by ascending priority. A
// second concurrent call is rejected with a warning and returns
// immediately. Within a priority group, handlers run in parallel; in
// ShutdownGraceful mode the group is awaited in full, in ShutdownHard mode
// the group races the configured per-priority timeout.
func (m *Manager) Execute(ctx context.Context, mode domain.ShutdownMode) {
	if !m.inProgress.CompareAndSwap(false, true) {
		m.logger.Warn("shutdown: execute already in progress, ignoring redundant call")
		return
	}

	groups := m.groupedByPriority()
	for _, group := range groups {
		m.runGroup(ctx, group, mode)
	}
}

func (m *Manager) groupedByPriority() [][]domain.ShutdownHandler {
	m.mu.Lock()
	byPriority := make(map[int][]domain.ShutdownHandler)
	for _, h := range m.handlers {
		byPriority[h.Priority] = append(byPriority[h.Priority], h)
	}
	m.mu.Unlock()

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	groups := make([][]domain.ShutdownHandler, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, byPriority[p])
	}
	return groups
}

func (m *Manager) runGroup(ctx context.Context, group []domain.ShutdownHandler, mode domain.ShutdownMode) {
	if len(group) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(len(group))
		for _, h := range group {
			go func(h domain.ShutdownHandler) {
				defer wg.Done()
				m.runOne(ctx, h, mode)
			}(h)
		}
		wg.Wait()
		close(done)
	}()

	switch mode {
	case domain.ShutdownHard:
		select {
		case <-done:
		case <-time.After(m.hardTimeout):
			m.logger.Warn("shutdown: priority group timed out under hard mode", "priority", group[0].Priority, "timeout", m.hardTimeout)
		}
	default:
		<-done
	}
}

func (m *Manager) runOne(ctx context.Context, h domain.ShutdownHandler, mode domain.ShutdownMode) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("shutdown: handler panicked", "name", h.Name, "panic", r)
		}
	}()

	if err := h.Fn(ctx, mode); err != nil {
		m.logger.Error("shutdown: handler failed", "name", h.Name, "error", err)
	}
}
