// Package rpcserver layers JSON-RPC request/response semantics over the
// Transport: a closed registry of named handlers grouped by area (daemon
// lifecycle, agent, channel, conversation, subscription, config,
// onboarding), each invoked with a HandlerContext carrying every
// collaborator a handler might need.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"alfred-ai/internal/conversation"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/shutdown"
	"alfred-ai/internal/subscription"
)

// AppConfigReader exposes a safe, read-only subset of daemon configuration
// to the config.* method group. Implementations are supplied by the
// daemon's boot composition.
type AppConfigReader interface {
	// Safe returns a redacted/public view of configuration suitable for
	// returning over the wire.
	Safe() (any, error)

	// Validate type-checks a candidate configuration document without
	// applying it.
	Validate(doc json.RawMessage) error
}

// OnboardingCollaborator implements the onboard.* method group. It is an
// external collaborator; the daemon core only forwards to it.
type OnboardingCollaborator interface {
	Status(ctx context.Context) (any, error)
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// DaemonInfo exposes the Daemon Controller's lifecycle surface to the
// daemon.* method group.
type DaemonInfo interface {
	Status(ctx context.Context) (DaemonStatus, error)
	// RequestShutdown schedules shutdown execution to run after the
	// current RPC response has been flushed to the client.
	RequestShutdown(graceful bool, timeout int)
}

// DaemonStatus is the result of daemon.status.
type DaemonStatus struct {
	Status       string `json:"status"`
	UptimeMs     int64  `json:"uptimeMs"`
	AgentCount   int    `json:"agentCount"`
	ChannelCount int    `json:"channelCount"`
	Version      string `json:"version"`
}

// Deps collects every collaborator a handler might need. Optional fields
// may be nil; a handler that needs a missing optional dependency fails
// with an internal error naming the missing collaborator.
type Deps struct {
	Coordinator   domain.Coordinator
	Channels      domain.ChannelRegistry
	Conversations *conversation.Manager
	Subscriptions *subscription.Manager
	Shutdown      *shutdown.Manager
	Daemon        DaemonInfo

	ModelFactory domain.ModelFactory
	AppConfig    AppConfigReader
	Onboarding   OnboardingCollaborator
	Tools        domain.ToolRegistry

	Logger *slog.Logger
}

// HandlerContext is passed to every registered handler.
type HandlerContext struct {
	Deps
	Connection domain.Connection
}

// Handler is a single RPC method implementation. It receives the raw
// params payload and returns a JSON-marshalable result or an error.
type Handler func(ctx context.Context, hctx *HandlerContext, params json.RawMessage) (any, error)

// Server dispatches incoming RPCRequest frames to registered handlers and
// writes RPCResponse frames back through the originating Connection.
type Server struct {
	deps      Deps
	handlers  map[string]Handler
	logger    *slog.Logger
	rateLimit *connRateLimiter
}

// New creates a Server with the closed method registry installed and the
// default per-connection rate limit active. Use NewWithRateLimit to
// override or disable it.
func New(deps Deps) *Server {
	return NewWithRateLimit(deps, defaultRateLimitConfig())
}

// NewWithRateLimit creates a Server with an explicit RateLimitConfig; pass
// a zero-value RequestsPerSecond to disable throttling entirely.
func NewWithRateLimit(deps Deps, rateLimit RateLimitConfig) *Server {
	s := &Server{
		deps:      deps,
		handlers:  make(map[string]Handler),
		logger:    deps.Logger,
		rateLimit: newConnRateLimiter(rateLimit),
	}
	s.registerDaemonHandlers()
	s.registerAgentHandlers()
	s.registerChannelHandlers()
	s.registerConversationHandlers()
	s.registerSubscriptionHandlers()
	s.registerConfigHandlers()
	s.registerOnboardingHandlers()
	return s
}

// Close releases the rate limiter's background cleanup goroutine.
func (s *Server) Close() {
	s.rateLimit.Close()
}

// ConnectionClosed drops any rate-limit state held for conn, so a
// reconnecting client starts with a fresh token bucket. The Transport
// layer calls this once a connection is torn down.
func (s *Server) ConnectionClosed(connID string) {
	s.rateLimit.forget(connID)
}

func (s *Server) register(method string, h Handler) {
	s.handlers[method] = h
}

// HandleRequest implements transport.RequestHandler: it looks up the
// method, invokes its handler, and writes a response frame.
func (s *Server) HandleRequest(ctx context.Context, conn domain.Connection, req domain.RPCRequest) {
	if !s.rateLimit.Allow(conn.ID()) {
		conn.SendResponse(domain.RPCResponse{
			ID:    req.ID,
			Error: &domain.RPCError{Code: domain.RPCServerErrorBase - 2, Message: "rate limit exceeded"},
		})
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		conn.SendResponse(domain.RPCResponse{
			ID:    req.ID,
			Error: &domain.RPCError{Code: domain.RPCMethodNotFound, Message: "method not found: " + req.Method},
		})
		return
	}

	hctx := &HandlerContext{Deps: s.deps, Connection: conn}

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("rpcserver: handler panicked", "method", req.Method, "panic", r)
				err = errPanicked
			}
		}()
		return handler(ctx, hctx, req.Params)
	}()

	if err != nil {
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Error: rpcErrorFor(req.Method, err)})
		return
	}

	data, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		conn.SendResponse(domain.RPCResponse{
			ID:    req.ID,
			Error: &domain.RPCError{Code: domain.RPCInternalError, Message: "failed to marshal result: " + marshalErr.Error()},
		})
		return
	}

	conn.SendResponse(domain.RPCResponse{ID: req.ID, Result: data})
}

var errPanicked = errors.New("internal error: handler panicked")

// rpcErrorFor converts a handler error into a wire RPCError. Not-found and
// invalid-input style sentinels map to recognizable codes in the
// server-defined range; anything else becomes a generic internal error
// with the message preserved.
func rpcErrorFor(method string, err error) *domain.RPCError {
	code := domain.RPCInternalError
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrRPCInvalidParams):
		code = domain.RPCInvalidParams
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAgentNotFound),
		errors.Is(err, domain.ErrChannelNotFound),
		errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrUnknownTopic),
		errors.Is(err, domain.ErrNoCheckpoint),
		errors.Is(err, domain.ErrNoAdapter):
		code = domain.RPCServerErrorBase - 4
	case errors.Is(err, domain.ErrSubscriptionOwnedByOther),
		errors.Is(err, domain.ErrForbidden):
		code = domain.RPCServerErrorBase - 3
	case errors.Is(err, domain.ErrMissingModelFactory),
		errors.Is(err, domain.ErrMissingAppConfig):
		code = domain.RPCServerErrorBase - 1
	}

	return &domain.RPCError{Code: code, Message: err.Error()}
}

// requireModelFactory returns ErrMissingModelFactory if no ModelFactory is
// configured.
func (hctx *HandlerContext) requireModelFactory() (domain.ModelFactory, error) {
	if hctx.ModelFactory == nil {
		return nil, domain.ErrMissingModelFactory
	}
	return hctx.ModelFactory, nil
}

func (hctx *HandlerContext) requireAppConfig() (AppConfigReader, error) {
	if hctx.AppConfig == nil {
		return nil, domain.ErrMissingAppConfig
	}
	return hctx.AppConfig, nil
}

func (hctx *HandlerContext) requireOnboarding() (OnboardingCollaborator, error) {
	if hctx.Onboarding == nil {
		return nil, domain.NewDomainError("rpcserver", domain.ErrMissingAppConfig, "onboarding collaborator not configured")
	}
	return hctx.Onboarding, nil
}
