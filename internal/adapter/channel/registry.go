package channel

import (
	"context"
	"log/slog"
	"sync"

	"alfred-ai/internal/domain"
)

// Registry is the reference domain.ChannelRegistry implementation: a
// concurrency-safe map of connected channels that fans every registered
// channel's inbound events out to every subscriber.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel

	subsMu sync.RWMutex
	subs   map[uint64]domain.InboundHandler
	nextID uint64

	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		subs:     make(map[uint64]domain.InboundHandler),
		logger:   logger,
	}
}

func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

func (r *Registry) List() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Register installs ch and wires its Subscribe callback to fan events out
// to every handler registered via Subscribe. Must be called before ch is
// connected.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	r.channels[ch.ID()] = ch
	r.mu.Unlock()

	ch.Subscribe(func(ctx context.Context, ev domain.InboundEvent) {
		r.dispatch(ctx, ev)
	})
	return nil
}

func (r *Registry) dispatch(ctx context.Context, ev domain.InboundEvent) {
	r.subsMu.RLock()
	handlers := make([]domain.InboundHandler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.subsMu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrChannelNotFound
	}
	delete(r.channels, id)
	r.mu.Unlock()

	if err := ch.Disconnect(ctx); err != nil {
		r.logger.Error("channel registry: disconnect failed", "channel", id, "error", err)
		return err
	}
	return nil
}

func (r *Registry) Process(ctx context.Context, channelID string, intent domain.OutboundIntent) error {
	ch, ok := r.Get(channelID)
	if !ok {
		return domain.ErrChannelNotFound
	}
	return ch.Process(ctx, intent)
}

func (r *Registry) Subscribe(handler domain.InboundHandler) func() {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = handler
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

var _ domain.ChannelRegistry = (*Registry)(nil)
