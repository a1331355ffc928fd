package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alfred-ai/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, handler RequestHandler) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")

	srv := NewServer(socketPath, newTestLogger())
	if handler != nil {
		srv.OnRequest(handler)
	}
	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, socketPath
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial: %v", err)
	return nil
}

func TestServerRoundTrip(t *testing.T) {
	received := make(chan domain.RPCRequest, 1)
	_, path := startTestServer(t, func(ctx context.Context, conn *Connection, req domain.RPCRequest) {
		received <- req
		conn.SendResponse(domain.RPCResponse{ID: req.ID, Result: json.RawMessage(`{"ok":true}`)})
	})

	conn := dial(t, path)
	defer conn.Close()

	frame, _ := EncodeFrame(domain.RPCRequest{ID: "1", Method: "daemon.ping"})
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case req := <-received:
		if req.Method != "daemon.ping" || req.ID != "1" {
			t.Errorf("unexpected request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp domain.RPCResponse
	if err := json.Unmarshal(buf[:n-1], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != "1" {
		t.Errorf("response ID = %q", resp.ID)
	}
}

func TestServerConnectionCount(t *testing.T) {
	srv, path := startTestServer(t, nil)

	if got := srv.ConnectionCount(); got != 0 {
		t.Fatalf("ConnectionCount = %d, want 0", got)
	}

	conn := dial(t, path)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.ConnectionCount() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ConnectionCount never reached 1, got %d", srv.ConnectionCount())
}

func TestServerBroadcast(t *testing.T) {
	srv, path := startTestServer(t, nil)

	conn := dial(t, path)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.ConnectionCount() != 1 {
		time.Sleep(5 * time.Millisecond)
	}

	srv.Broadcast(domain.RPCNotification{Method: "subscription.logs", Params: json.RawMessage(`{"line":"hi"}`)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}

	var notif domain.RPCNotification
	if err := json.Unmarshal(buf[:n-1], &notif); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if notif.Method != "subscription.logs" {
		t.Errorf("Method = %q", notif.Method)
	}
}

func TestServerCloseRemovesSocket(t *testing.T) {
	srv, path := startTestServer(t, nil)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Fatal("expected dial to fail after Close")
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	if err := srv.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestServerDefaultPermissions(t *testing.T) {
	_, path := startTestServer(t, nil)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 0600", info.Mode().Perm())
	}
}

func TestServerCustomPermissions(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	srv := NewServer(socketPath, newTestLogger())
	srv.SetPermissions(0660)
	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0660 {
		t.Errorf("perm = %o, want 0660", info.Mode().Perm())
	}
}

func TestConnectionLookupByID(t *testing.T) {
	srv, path := startTestServer(t, nil)
	conn := dial(t, path)
	defer conn.Close()

	var found *Connection
	for i := 0; i < 20; i++ {
		srv.mu.RLock()
		n := len(srv.connections)
		srv.mu.RUnlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	srv.mu.RLock()
	for _, c := range srv.connections {
		found = c
	}
	srv.mu.RUnlock()
	if found == nil {
		t.Fatal("no connection registered")
	}

	got, ok := srv.Connection(found.ID())
	if !ok || got.ID() != found.ID() {
		t.Fatalf("Connection(%q) = %v, %v", found.ID(), got, ok)
	}

	if _, ok := srv.Connection("missing"); ok {
		t.Fatal("expected ok=false for missing connection id")
	}
}

func TestDecoderFramingRoundTrip(t *testing.T) {
	var dec Decoder
	frame, _ := EncodeFrame(map[string]int{"a": 1})

	frames := dec.Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	var got map[string]int
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["a"] != 1 {
		t.Errorf("got %v", got)
	}
}

func TestDecoderPartialFraming(t *testing.T) {
	var dec Decoder

	if frames := dec.Feed([]byte(`{"a":`)); len(frames) != 0 {
		t.Fatalf("expected no frames from partial input, got %d", len(frames))
	}

	frames := dec.Feed([]byte("1}\n"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	var got map[string]int
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["a"] != 1 {
		t.Errorf("got %v", got)
	}
}

func TestDecoderDiscardsMalformedLines(t *testing.T) {
	var dec Decoder

	input := "not json\n{\"ok\":true}\n[1,2,3]\n"
	frames := dec.Feed([]byte(input))

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (malformed and array lines discarded)", len(frames))
	}

	var got map[string]bool
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got["ok"] {
		t.Errorf("got %v", got)
	}
}
