package rpcclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alfred-ai/internal/domain"
	"alfred-ai/internal/transport"
)

func newClientTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, handler transport.RequestHandler) (*transport.Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")

	srv := transport.NewServer(socketPath, newClientTestLogger())
	srv.OnRequest(handler)
	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, socketPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestClientCallReturnsResult(t *testing.T) {
	_, socketPath := startTestServer(t, func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		result, _ := json.Marshal(map[string]string{"status": "running"})
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Result: result})
	})
	waitForSocket(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var out map[string]string
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Call(ctx, "daemon.status", nil, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status"] != "running" {
		t.Fatalf("out = %v", out)
	}
}

func TestClientCallReturnsError(t *testing.T) {
	_, socketPath := startTestServer(t, func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Error: &domain.RPCError{Code: domain.RPCMethodNotFound, Message: "unknown method"}})
	})
	waitForSocket(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Call(ctx, "bogus.method", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientCallContextTimeout(t *testing.T) {
	_, socketPath := startTestServer(t, func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		// never respond
	})
	waitForSocket(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Call(ctx, "daemon.status", nil, nil); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestClientOnNotifyReceivesPushFrames(t *testing.T) {
	var capturedConn *transport.Connection
	ready := make(chan struct{}, 1)
	_, socketPath := startTestServer(t, func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		capturedConn = conn
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Result: json.RawMessage(`{}`)})
		ready <- struct{}{}
	})
	waitForSocket(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	received := make(chan domain.RPCNotification, 1)
	c.OnNotify(func(n domain.RPCNotification) { received <- n })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Call(ctx, "subscription.subscribe", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	<-ready

	params, _ := json.Marshal(map[string]string{"agentId": "a1"})
	capturedConn.Notify(domain.RPCNotification{Method: "subscription.agents", Params: params})

	select {
	case n := <-received:
		if n.Method != "subscription.agents" {
			t.Fatalf("Method = %q", n.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not received")
	}
}

func TestClientCallAfterServerClose(t *testing.T) {
	srv, socketPath := startTestServer(t, func(ctx context.Context, conn *transport.Connection, req domain.RPCRequest) {
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Result: json.RawMessage(`{}`)})
	})
	waitForSocket(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	srv.Close()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Call(ctx, "daemon.status", nil, nil); err == nil {
		t.Fatal("expected error after server close")
	}
}
