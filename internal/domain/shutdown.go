package domain

import "context"

// ShutdownMode selects how the Shutdown Manager tolerates slow handlers.
type ShutdownMode string

const (
	// ShutdownGraceful awaits every handler in a priority group to
	// completion, regardless of duration.
	ShutdownGraceful ShutdownMode = "graceful"
	// ShutdownHard races each priority group against a per-priority
	// timeout and proceeds regardless on expiry.
	ShutdownHard ShutdownMode = "hard"
)

// ShutdownFunc is a registered handler invoked during shutdown. It receives
// the active mode so a handler can branch on graceful vs hard behavior.
type ShutdownFunc func(ctx context.Context, mode ShutdownMode) error

// ShutdownHandler is one named, prioritized entry in the Shutdown Manager's
// registry. Lower Priority values run earlier; handlers sharing a priority
// run concurrently.
type ShutdownHandler struct {
	Name     string
	Priority int
	Fn       ShutdownFunc
}

// Boot-time shutdown priorities assigned by the Daemon Controller.
const (
	PriorityRPCServer          = 0
	PriorityScheduler          = 5
	PriorityChannels           = 10
	PriorityMessageRouter      = 20
	PriorityLastActiveTracker  = 25
	PriorityCoordinator        = 30
	PriorityConversationManager = 40
)
