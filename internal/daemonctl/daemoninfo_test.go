package daemonctl

import (
	"context"
	"errors"
	"testing"

	"alfred-ai/internal/domain"
)

func TestDaemonInfoHolderUnboundReportsNotRunning(t *testing.T) {
	h := NewDaemonInfoHolder()
	_, err := h.Status(context.Background())
	if !errors.Is(err, domain.ErrDaemonNotRunning) {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestDaemonInfoHolderUnboundRequestShutdownNoop(t *testing.T) {
	h := NewDaemonInfoHolder()
	h.RequestShutdown(true, 0) // must not panic with no bound target
}

func TestDaemonInfoHolderBindForwards(t *testing.T) {
	h := NewDaemonInfoHolder()
	coordinator := &fakeCoordinator{}
	channels := newFakeChannels()
	deps := newTestDeps(t, coordinator, channels, nil)

	c := New(deps)
	h.Bind(c)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background(), true)

	status, err := h.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != string(StateRunning) {
		t.Fatalf("status = %q, want running", status.Status)
	}
}
