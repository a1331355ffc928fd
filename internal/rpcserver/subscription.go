package rpcserver

import (
	"context"
	"encoding/json"

	"alfred-ai/internal/domain"
)

func (s *Server) registerSubscriptionHandlers() {
	s.register("subscribe.agents", s.handleSubscribeAgents)
	s.register("subscribe.agent.output", s.handleSubscribeAgentOutput)
	s.register("subscribe.channels", s.handleSubscribeChannels)
	s.register("subscribe.logs", s.handleSubscribeLogs)
	s.register("unsubscribe", s.handleUnsubscribe)
}

type subscriptionView struct {
	ID string `json:"subscriptionId"`
}

func (s *Server) handleSubscribeAgents(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	id, err := hctx.Subscriptions.Subscribe(hctx.Connection.ID(), domain.TopicAgents, "")
	if err != nil {
		return nil, err
	}
	return subscriptionView{ID: id}, nil
}

type subscribeAgentOutputParams struct {
	ID domain.AgentSessionID `json:"id"`
}

func (s *Server) handleSubscribeAgentOutput(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p subscribeAgentOutputParams
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
	id, err := hctx.Subscriptions.Subscribe(hctx.Connection.ID(), domain.TopicAgentOutput, string(p.ID))
	if err != nil {
		return nil, err
	}
	return subscriptionView{ID: id}, nil
}

func (s *Server) handleSubscribeChannels(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	id, err := hctx.Subscriptions.Subscribe(hctx.Connection.ID(), domain.TopicChannels, "")
	if err != nil {
		return nil, err
	}
	return subscriptionView{ID: id}, nil
}

type subscribeLogsParams struct {
	Level string `json:"level,omitempty"`
}

func (s *Server) handleSubscribeLogs(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p subscribeLogsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errInvalidParams(err)
		}
	}
	id, err := hctx.Subscriptions.Subscribe(hctx.Connection.ID(), domain.TopicLogs, p.Level)
	if err != nil {
		return nil, err
	}
	return subscriptionView{ID: id}, nil
}

type unsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (s *Server) handleUnsubscribe(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p unsubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	sub, ok := hctx.Subscriptions.Get(p.SubscriptionID)
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	if sub.ConnectionID != hctx.Connection.ID() {
		return nil, domain.ErrSubscriptionOwnedByOther
	}
	hctx.Subscriptions.Unsubscribe(p.SubscriptionID)
	return map[string]bool{"ok": true}, nil
}
