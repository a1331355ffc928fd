package rpcserver

import (
	"context"
	"encoding/json"

	"alfred-ai/internal/conversation"
	"alfred-ai/internal/domain"
)

func (s *Server) registerConversationHandlers() {
	s.register("conversation.list", s.handleConversationList)
	s.register("conversation.get", s.handleConversationGet)
	s.register("conversation.unbind", s.handleConversationUnbind)
}

type conversationListParams struct {
	ChannelID string `json:"channelId,omitempty"`
	HasAgent  *bool  `json:"hasAgent,omitempty"`
}

func (s *Server) handleConversationList(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p conversationListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errInvalidParams(err)
		}
	}
	return hctx.Conversations.List(conversation.ListFilter{ChannelID: p.ChannelID, HasAgent: p.HasAgent}), nil
}

type destinationParams struct {
	Destination domain.Destination `json:"destination"`
}

func (s *Server) handleConversationGet(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p destinationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	binding, ok := hctx.Conversations.GetByDestination(p.Destination)
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return binding, nil
}

func (s *Server) handleConversationUnbind(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p destinationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if _, ok := hctx.Conversations.GetByDestination(p.Destination); !ok {
		return nil, domain.ErrConversationNotFound
	}
	hctx.Conversations.Unbind(p.Destination)
	return map[string]bool{"ok": true}, nil
}
