package rpcserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"alfred-ai/internal/domain"
)

func (s *Server) registerAgentHandlers() {
	s.register("agent.list", s.handleAgentList)
	s.register("agent.get", s.handleAgentGet)
	s.register("agent.spawn", s.handleAgentSpawn)
	s.register("agent.continue", s.handleAgentContinue)
	s.register("agent.terminate", s.handleAgentTerminate)
	s.register("agent.pause", s.handleAgentPause)
	s.register("agent.resume", s.handleAgentResume)
	s.register("agent.send", s.handleAgentSend)
	s.register("agent.snapshot", s.handleAgentSnapshot)
	s.register("agent.listCheckpoints", s.handleAgentListCheckpoints)
}

type agentView struct {
	ID        domain.AgentSessionID `json:"id"`
	Status    domain.AgentStatus    `json:"status"`
	Model     string                `json:"model"`
	CreatedAt time.Time             `json:"createdAt"`
}

func toAgentView(h domain.AgentHandle) agentView {
	return agentView{ID: h.ID(), Status: h.Status(), Model: h.Config().Model, CreatedAt: h.CreatedAt()}
}

func (s *Server) handleAgentList(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	handles, err := hctx.Coordinator.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]agentView, 0, len(handles))
	for _, h := range handles {
		views = append(views, toAgentView(h))
	}
	return views, nil
}

type agentIDParams struct {
	ID domain.AgentSessionID `json:"id"`
}

func (s *Server) handleAgentGet(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p agentIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	handle, err := hctx.Coordinator.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, domain.ErrAgentNotFound
	}
	return toAgentView(handle), nil
}

type agentSpawnParams struct {
	Model        string            `json:"model"` // "provider/model-name"
	GuidancePath string            `json:"guidancePath,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	InitialInput *domain.AgentInput `json:"initialInput,omitempty"`
}

func (s *Server) handleAgentSpawn(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	factory, err := hctx.requireModelFactory()
	if err != nil {
		return nil, err
	}

	var p agentSpawnParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if p.Model == "" || !strings.Contains(p.Model, "/") {
		return nil, errInvalidParams(domain.NewDomainError("agent.spawn", domain.ErrInvalidInput, `model must be "provider/model-name"`))
	}

	tempSessionID := domain.AgentSessionID(newSpawnSessionID())
	adapter, err := factory.Create(ctx, tempSessionID, p.Model)
	if err != nil {
		return nil, err
	}

	cfg := domain.SpawnConfig{
		GuidancePath: p.GuidancePath,
		Tags:         p.Tags,
		Metadata:     p.Metadata,
		Tools:        hctx.Tools,
		InitialInput: p.InitialInput,
	}

	handle, err := hctx.Coordinator.Spawn(ctx, adapter, cfg)
	if err != nil {
		return nil, err
	}
	return toAgentView(handle), nil
}

type agentContinueParams struct {
	ID    domain.AgentSessionID `json:"id"`
	Input domain.AgentInput     `json:"input"`
	Model string                `json:"model,omitempty"`
}

func (s *Server) handleAgentContinue(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p agentContinueParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}

	checkpoint, err := hctx.Coordinator.LoadCheckpoint(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, domain.ErrNoCheckpoint
	}

	model := p.Model
	if model == "" {
		model = checkpoint.Adapter.Model
	}

	factory, err := hctx.requireModelFactory()
	if err != nil {
		return nil, err
	}
	adapter, err := factory.Create(ctx, p.ID, model)
	if err != nil {
		return nil, err
	}

	if err := hctx.Coordinator.Continue(ctx, p.ID, p.Input, adapter, domain.ContinueOptions{Tools: hctx.Tools}); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAgentTerminate(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	handle, err := s.resolveHandle(ctx, hctx, params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, handle.Terminate(ctx)
}

func (s *Server) handleAgentPause(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	handle, err := s.resolveHandle(ctx, hctx, params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, handle.Pause(ctx)
}

func (s *Server) handleAgentResume(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	handle, err := s.resolveHandle(ctx, hctx, params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, handle.Resume(ctx)
}

func (s *Server) handleAgentSnapshot(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	handle, err := s.resolveHandle(ctx, hctx, params)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, handle.Snapshot(ctx)
}

type agentSendParams struct {
	ID    domain.AgentSessionID `json:"id"`
	Input domain.AgentInput     `json:"input"`
}

func (s *Server) handleAgentSend(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p agentSendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	handle, err := hctx.Coordinator.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, domain.ErrAgentNotFound
	}
	if err := handle.Send(ctx, p.Input); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAgentListCheckpoints(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	return hctx.Coordinator.ListCheckpoints(ctx)
}

func (s *Server) resolveHandle(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (domain.AgentHandle, error) {
	var p agentIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	handle, err := hctx.Coordinator.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, domain.ErrAgentNotFound
	}
	return handle, nil
}

var spawnSessionSeq int64

// newSpawnSessionID mints a temporary session id handed to the ModelFactory
// so it may resolve secrets scoped to the session if it wishes; the
// Coordinator mints the real AgentSessionID on Spawn.
func newSpawnSessionID() string {
	spawnSessionSeq++
	return "spawn-" + time.Now().UTC().Format("20060102T150405") + "-" + itoa(spawnSessionSeq)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
