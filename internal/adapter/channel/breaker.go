package channel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DialBreaker wraps a channel collaborator's Connect call so repeated
// reconnect failures trip open instead of retrying a dead endpoint on every
// attempt; channel connect is best-effort and the daemon continues
// regardless. Shared by the Discord and Slack adapters rather than
// duplicated per-channel.
type DialBreaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewDialBreaker creates a breaker named for the owning channel (used in
// its state-change logs), tripping after 3 consecutive connect failures and
// staying open for 30s before allowing a single trial connect through.
func NewDialBreaker(name string, logger *slog.Logger) *DialBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("channel: dial breaker state change", "channel", name, "from", from.String(), "to", to.String())
		}
	}
	return &DialBreaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Dial runs connect through the breaker. When the breaker is open it fails
// fast without attempting connect, returning gobreaker.ErrOpenState wrapped
// with the channel's name.
func (b *DialBreaker) Dial(connect func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, connect()
	})
	if err != nil {
		return fmt.Errorf("channel dial: %w", err)
	}
	return nil
}
