package rpcserver

import (
	"context"
	"encoding/json"

	"alfred-ai/internal/domain"
)

// registerChannelHandlers installs the channel.* method group. Connecting a
// new channel is a boot-time composition concern, not an RPC: there is
// deliberately no channel.connect method here.
func (s *Server) registerChannelHandlers() {
	s.register("channel.list", s.handleChannelList)
	s.register("channel.get", s.handleChannelGet)
	s.register("channel.disconnect", s.handleChannelDisconnect)
	s.register("channel.reconnect", s.handleChannelReconnect)
}

type channelView struct {
	ID string `json:"id"`
}

func (s *Server) handleChannelList(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	channels := hctx.Channels.List()
	views := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		views = append(views, channelView{ID: ch.ID()})
	}
	return views, nil
}

type channelIDParams struct {
	ID string `json:"id"`
}

func (s *Server) handleChannelGet(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	ch, ok := hctx.Channels.Get(p.ID)
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	return channelView{ID: ch.ID()}, nil
}

func (s *Server) handleChannelDisconnect(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if err := hctx.Channels.Disconnect(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleChannelReconnect(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	ch, ok := hctx.Channels.Get(p.ID)
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
