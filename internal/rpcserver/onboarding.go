package rpcserver

import (
	"context"
	"encoding/json"
)

func (s *Server) registerOnboardingHandlers() {
	s.register("onboard.status", s.handleOnboardStatus)
	s.register("onboard.execute", s.handleOnboardExecute)
}

func (s *Server) handleOnboardStatus(ctx context.Context, hctx *HandlerContext, _ json.RawMessage) (any, error) {
	onboarding, err := hctx.requireOnboarding()
	if err != nil {
		return nil, err
	}
	return onboarding.Status(ctx)
}

func (s *Server) handleOnboardExecute(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error) {
	onboarding, err := hctx.requireOnboarding()
	if err != nil {
		return nil, err
	}
	return onboarding.Execute(ctx, params)
}
