// Package daemonctl implements the Daemon Controller: the composition
// root that boots every subsystem in dependency order, registers their
// shutdown handlers in priority order, and exposes daemon-level status
// to the RPC Server.
package daemonctl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"alfred-ai/internal/conversation"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/router"
	"alfred-ai/internal/rpcserver"
	"alfred-ai/internal/scheduler"
	"alfred-ai/internal/shutdown"
	"alfred-ai/internal/transport"
)

// Version is stamped at build time via -ldflags; it defaults to "dev" for
// local builds and tests.
var Version = "dev"

// State is the Daemon Controller's own lifecycle state machine, distinct
// from any individual subsystem's state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// LastActiveTracker is the subset of internal/lastactive.Tracker the
// controller needs at boot.
type LastActiveTracker interface {
	Load() error
}

// ChannelConnector is a configured channel ready to be registered and
// connected in sequence at boot.
type ChannelConnector struct {
	Channel domain.Channel
}

// Deps collects every subsystem the controller composes. All collaborator
// fields are required; ChannelConnectors may be empty (a daemon may start
// with no channels configured).
type Deps struct {
	Coordinator   domain.Coordinator
	Channels      domain.ChannelRegistry
	Conversations *conversation.Manager
	LastActive    LastActiveTracker
	Router        *router.Router
	Scheduler     *scheduler.Scheduler
	Shutdown      *shutdown.Manager
	Transport     *transport.Server
	RPCServer     *rpcserver.Server

	ChannelConnectors []ChannelConnector

	ShutdownHardTimeout time.Duration
	Logger              *slog.Logger
}

// Controller is the Daemon Controller.
type Controller struct {
	deps Deps

	mu        sync.Mutex
	state     State
	startedAt time.Time

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// New creates a stopped Controller.
func New(deps Deps) *Controller {
	return &Controller{deps: deps, state: StateStopped}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start boots every subsystem in order: Coordinator, Conversation Manager,
// Router, Last-Active Tracker, Scheduler, then registers every shutdown
// handler, then the RPC transport, then connects configured channels.
// A failure before the channel step aborts the remaining sequence and
// returns that error; a channel that fails to register or connect is
// logged and skipped.
func (c *Controller) Start(ctx context.Context) error {
	if c.State() != StateStopped {
		return domain.ErrDaemonAlreadyRunning
	}
	if err := validateDeps(c.deps); err != nil {
		return err
	}
	c.setState(StateStarting)

	if err := c.deps.Coordinator.Start(ctx); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.coordinator", err)
	}

	if err := c.deps.Conversations.Start(ctx); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.conversations", err)
	}

	if err := c.deps.Router.Start(ctx); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.router", err)
	}

	if err := c.deps.LastActive.Load(); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.lastactive", err)
	}

	if err := c.deps.Scheduler.Start(ctx); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.scheduler", err)
	}

	c.registerShutdownHandlers()

	c.deps.Transport.OnRequest(func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		c.deps.RPCServer.HandleRequest(ctx, conn, req)
	})
	c.deps.Transport.OnDisconnect(c.deps.RPCServer.ConnectionClosed)

	if err := c.deps.Transport.Listen(ctx); err != nil {
		c.setState(StateStopped)
		return domain.WrapOp("daemonctl.start.transport", err)
	}

	for _, cc := range c.deps.ChannelConnectors {
		if err := c.deps.Channels.Register(cc.Channel); err != nil {
			c.deps.Logger.Error("daemonctl: channel register failed", "channel", cc.Channel.ID(), "error", err)
			continue
		}
		if err := cc.Channel.Connect(ctx); err != nil {
			c.deps.Logger.Error("daemonctl: channel connect failed", "channel", cc.Channel.ID(), "error", err)
		}
	}

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.setState(StateRunning)

	c.deps.Logger.Info("daemon started", "version", Version)
	return nil
}

// registerShutdownHandlers installs one handler per subsystem at the
// priority domain.shutdown.go assigns, lowest first.
func (c *Controller) registerShutdownHandlers() {
	c.deps.Shutdown.Register("rpc-server", domain.PriorityRPCServer, func(ctx context.Context, mode domain.ShutdownMode) error {
		err := c.deps.Transport.Close()
		c.deps.RPCServer.Close()
		return err
	})
	c.deps.Shutdown.Register("scheduler", domain.PriorityScheduler, func(ctx context.Context, mode domain.ShutdownMode) error {
		return c.deps.Scheduler.Stop(ctx)
	})
	c.deps.Shutdown.Register("channels", domain.PriorityChannels, func(ctx context.Context, mode domain.ShutdownMode) error {
		var firstErr error
		for _, ch := range c.deps.Channels.List() {
			if err := c.deps.Channels.Disconnect(ctx, ch.ID()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	c.deps.Shutdown.Register("message-router", domain.PriorityMessageRouter, func(ctx context.Context, mode domain.ShutdownMode) error {
		return c.deps.Router.Stop(ctx)
	})
	if saver, ok := c.deps.LastActive.(interface{ Save() error }); ok {
		c.deps.Shutdown.Register("last-active-tracker", domain.PriorityLastActiveTracker, func(ctx context.Context, mode domain.ShutdownMode) error {
			return saver.Save()
		})
	}
	c.deps.Shutdown.Register("coordinator", domain.PriorityCoordinator, func(ctx context.Context, mode domain.ShutdownMode) error {
		return c.deps.Coordinator.Shutdown(ctx, mode == domain.ShutdownGraceful, c.deps.ShutdownHardTimeout)
	})
	c.deps.Shutdown.Register("conversation-manager", domain.PriorityConversationManager, func(ctx context.Context, mode domain.ShutdownMode) error {
		return c.deps.Conversations.Stop(ctx)
	})
}

// Stop runs the registered shutdown sequence to completion.
func (c *Controller) Stop(ctx context.Context, graceful bool) error {
	if c.State() != StateRunning {
		return domain.ErrDaemonNotRunning
	}
	c.setState(StateStopping)
	defer c.setState(StateStopped)

	mode := domain.ShutdownGraceful
	if !graceful {
		mode = domain.ShutdownHard
	}
	c.deps.Shutdown.Execute(ctx, mode)
	return nil
}

// Status implements rpcserver.DaemonInfo.
func (c *Controller) Status(ctx context.Context) (rpcserver.DaemonStatus, error) {
	c.mu.Lock()
	state := c.state
	startedAt := c.startedAt
	c.mu.Unlock()

	var uptimeMs int64
	if state == StateRunning {
		uptimeMs = time.Since(startedAt).Milliseconds()
	}

	agents, err := c.deps.Coordinator.List(ctx)
	if err != nil {
		return rpcserver.DaemonStatus{}, domain.WrapOp("daemonctl.status", err)
	}

	return rpcserver.DaemonStatus{
		Status:       string(state),
		UptimeMs:     uptimeMs,
		AgentCount:   len(agents),
		ChannelCount: len(c.deps.Channels.List()),
		Version:      Version,
	}, nil
}

// RequestShutdown implements rpcserver.DaemonInfo: it schedules shutdown
// execution on a goroutine so the RPC response carrying acknowledgment
// reaches the client before the process begins tearing down, and ignores
// a second call once a shutdown is already underway.
func (c *Controller) RequestShutdown(graceful bool, timeoutMs int) {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	go c.shutdownOnce.Do(func() {
		timeout := time.Duration(timeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = shutdown.DefaultHardTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
		defer cancel()
		if err := c.Stop(ctx, graceful); err != nil {
			c.deps.Logger.Error("daemonctl: shutdown failed", "error", err)
		}
	})
}

var _ rpcserver.DaemonInfo = (*Controller)(nil)

// DaemonInfoHolder breaks the construction cycle between the RPC Server
// (which needs a DaemonInfo at New) and the Controller (whose Deps needs
// that same RPC Server): build a holder, hand it to rpcserver.New, build
// the Controller, then Bind it to the holder.
type DaemonInfoHolder struct {
	target rpcserver.DaemonInfo
}

// NewDaemonInfoHolder creates an unbound holder. Calls made before Bind
// report the daemon as not running.
func NewDaemonInfoHolder() *DaemonInfoHolder {
	return &DaemonInfoHolder{}
}

// Bind points the holder at the real Controller.
func (h *DaemonInfoHolder) Bind(c *Controller) {
	h.target = c
}

func (h *DaemonInfoHolder) Status(ctx context.Context) (rpcserver.DaemonStatus, error) {
	if h.target == nil {
		return rpcserver.DaemonStatus{}, domain.ErrDaemonNotRunning
	}
	return h.target.Status(ctx)
}

func (h *DaemonInfoHolder) RequestShutdown(graceful bool, timeoutMs int) {
	if h.target != nil {
		h.target.RequestShutdown(graceful, timeoutMs)
	}
}

var _ rpcserver.DaemonInfo = (*DaemonInfoHolder)(nil)

func validateDeps(d Deps) error {
	if d.Coordinator == nil || d.Channels == nil || d.Conversations == nil || d.LastActive == nil ||
		d.Router == nil || d.Scheduler == nil || d.Shutdown == nil || d.Transport == nil || d.RPCServer == nil {
		return fmt.Errorf("daemonctl: %w: a required collaborator is nil", domain.ErrInvalidInput)
	}
	return nil
}
