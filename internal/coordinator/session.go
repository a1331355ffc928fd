package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"alfred-ai/internal/domain"
)

// publishFunc fans a coordinator event out to every subscriber.
type publishFunc func(ctx context.Context, ev domain.CoordinatorEvent)

// session is the reference domain.AgentHandle implementation. A turn is
// driven synchronously: Send resolves a canned response from the bound
// adapter's configuration (there is no prompt assembly or tool-calling
// loop here — see package doc) and publishes the status/output/done event
// sequence a real execution engine would emit as it worked.
type session struct {
	id domain.AgentSessionID

	mu        sync.Mutex
	status    domain.AgentStatus
	adapter   domain.ModelAdapter
	cfg       domain.SpawnConfig
	createdAt time.Time

	publish publishFunc
	onTurn  func(adapterCfg domain.AdapterConfig) error // set by Coordinator for checkpointing
	logger  *slog.Logger
}

func newSession(id domain.AgentSessionID, adapter domain.ModelAdapter, cfg domain.SpawnConfig, publish publishFunc, logger *slog.Logger) *session {
	return &session{
		id:        id,
		status:    domain.AgentStatusRunning,
		adapter:   adapter,
		cfg:       cfg,
		createdAt: time.Now(),
		publish:   publish,
		logger:    logger,
	}
}

func (s *session) ID() domain.AgentSessionID  { return s.id }
func (s *session) CreatedAt() time.Time       { return s.createdAt }

func (s *session) Status() domain.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) Config() domain.SpawnConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *session) setStatus(status domain.AgentStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *session) currentAdapter() domain.ModelAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

func (s *session) rebind(adapter domain.ModelAdapter, tools domain.ToolRegistry) {
	s.mu.Lock()
	s.adapter = adapter
	s.cfg.Tools = tools
	s.status = domain.AgentStatusRunning
	s.mu.Unlock()
}

// Send runs one turn. It always produces status -> output -> done, never
// partial streaming, since the reference implementation has no real model
// call to stream from.
func (s *session) Send(ctx context.Context, input domain.AgentInput) error {
	s.mu.Lock()
	if s.status != domain.AgentStatusRunning {
		s.mu.Unlock()
		return domain.NewDomainError("coordinator.session.send", domain.ErrInvalidInput, fmt.Sprintf("session %s is %s", s.id, s.status))
	}
	adapter := s.adapter
	s.mu.Unlock()

	s.publish(ctx, domain.CoordinatorEvent{
		Kind:       domain.CoordinatorEventAgentEvent,
		SessionID:  s.id,
		AgentEvent: &domain.AgentEvent{Kind: domain.AgentEventStatus, SessionID: s.id, Status: domain.AgentStatusRunning},
	})

	output := fmt.Sprintf("[%s] received: %s", adapter.Config().Model, input.Message)

	s.publish(ctx, domain.CoordinatorEvent{
		Kind:      domain.CoordinatorEventAgentEvent,
		SessionID: s.id,
		AgentEvent: &domain.AgentEvent{
			Kind:        domain.AgentEventOutput,
			SessionID:   s.id,
			OutputText:  output,
			OutputFinal: true,
		},
	})

	s.mu.Lock()
	s.status = domain.AgentStatusCompleted
	s.mu.Unlock()

	s.publish(ctx, domain.CoordinatorEvent{
		Kind:      domain.CoordinatorEventAgentEvent,
		SessionID: s.id,
		AgentEvent: &domain.AgentEvent{
			Kind:      domain.AgentEventDone,
			SessionID: s.id,
			Result:    &domain.AgentResult{Output: output},
		},
	})
	s.publish(ctx, domain.CoordinatorEvent{Kind: domain.CoordinatorEventAgentDone, SessionID: s.id})

	if s.onTurn != nil {
		return s.onTurn(adapter.Config())
	}
	return nil
}

func (s *session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.AgentStatusRunning && s.status != domain.AgentStatusCompleted {
		return domain.NewDomainError("coordinator.session.pause", domain.ErrInvalidInput, fmt.Sprintf("session %s is %s", s.id, s.status))
	}
	s.status = domain.AgentStatusPaused
	return nil
}

func (s *session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.AgentStatusPaused {
		return domain.NewDomainError("coordinator.session.resume", domain.ErrInvalidInput, fmt.Sprintf("session %s is %s", s.id, s.status))
	}
	s.status = domain.AgentStatusRunning
	return nil
}

func (s *session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.AgentStatusCompleted
	return nil
}

func (s *session) Snapshot(ctx context.Context) error {
	s.mu.Lock()
	adapter := s.adapter
	s.mu.Unlock()
	if s.onTurn == nil {
		return nil
	}
	return s.onTurn(adapter.Config())
}
