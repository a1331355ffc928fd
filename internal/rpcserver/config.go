package rpcserver

import (
	"context"
	"encoding/json"
)

func (s *Server) registerConfigHandlers() {
	s.register("config.get", s.handleConfigGet)
	s.register("config.validate", s.handleConfigValidate)
}

func (s *Server) handleConfigGet(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	cfg, err := hctx.requireAppConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Safe()
}

type configValidateParams struct {
	Document json.RawMessage `json:"document"`
}

func (s *Server) handleConfigValidate(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	cfg, err := hctx.requireAppConfig()
	if err != nil {
		return nil, err
	}
	var p configValidateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if err := cfg.Validate(p.Document); err != nil {
		return map[string]any{"valid": false, "error": err.Error()}, nil
	}
	return map[string]any{"valid": true}, nil
}
