package rpcserver

import (
	"context"
	"encoding/json"
)

type shutdownParams struct {
	Graceful  *bool `json:"graceful,omitempty"`
	TimeoutMs *int  `json:"timeoutMs,omitempty"`
}

func (s *Server) registerDaemonHandlers() {
	s.register("daemon.status", s.handleDaemonStatus)
	s.register("daemon.shutdown", s.handleDaemonShutdown)
	s.register("daemon.ping", s.handleDaemonPing)
	s.register("daemon.reload", s.handleDaemonReload)
}

func (s *Server) handleDaemonStatus(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	if hctx.Daemon == nil {
		return nil, errMissingCollaborator("daemon controller")
	}
	return hctx.Daemon.Status(ctx)
}

func (s *Server) handleDaemonShutdown(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	if hctx.Daemon == nil {
		return nil, errMissingCollaborator("daemon controller")
	}

	var p shutdownParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errInvalidParams(err)
		}
	}

	graceful := true
	if p.Graceful != nil {
		graceful = *p.Graceful
	}
	timeout := 0
	if p.TimeoutMs != nil {
		timeout = *p.TimeoutMs
	}

	hctx.Daemon.RequestShutdown(graceful, timeout)
	return map[string]bool{"acknowledged": true}, nil
}

func (s *Server) handleDaemonPing(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	return map[string]bool{"pong": true}, nil
}

func (s *Server) handleDaemonReload(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	hctx.Logger.Info("rpcserver: daemon.reload invoked (stub)")
	return map[string][]string{"reloaded": {}}, nil
}
