// Package rpcclient implements a Go client for the daemon's newline-
// delimited JSON-RPC wire protocol over a unix domain socket, used by the
// daemonctl CLI and by integration tests that exercise the running daemon.
package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"alfred-ai/internal/domain"
)

// NotificationHandler receives subscription push frames.
type NotificationHandler func(n domain.RPCNotification)

// Client is one long-lived connection to the daemon's unix socket. Safe
// for concurrent Call invocations.
type Client struct {
	conn net.Conn

	mu      sync.Mutex
	pending map[string]chan domain.RPCResponse

	onNotify NotificationHandler

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the daemon's unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", path, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan domain.RPCResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// OnNotify installs the callback invoked for every notification frame.
// Must be called before any Call that could race a push; there is no
// buffering of missed notifications.
func (c *Client) OnNotify(handler NotificationHandler) {
	c.mu.Lock()
	c.onNotify = handler
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			ID     *string `json:"id"`
			Method *string `json:"method"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}

		if probe.ID != nil {
			var resp domain.RPCResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			if ok {
				delete(c.pending, resp.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}

		if probe.Method != nil {
			var n domain.RPCNotification
			if err := json.Unmarshal(line, &n); err != nil {
				continue
			}
			c.mu.Lock()
			handler := c.onNotify
			c.mu.Unlock()
			if handler != nil {
				handler(n)
			}
		}
	}

	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

// Call sends method/params and blocks until the matching response arrives,
// ctx is done, or the connection closes.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := newRequestID()

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpcclient: marshal params: %w", err)
		}
		raw = data
	}

	ch := make(chan domain.RPCResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := domain.RPCRequest{ID: id, Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpcclient: marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.conn.Write(data); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpcclient: write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("rpcclient: connection closed before response to %s", method)
		}
		if resp.Error != nil {
			return fmt.Errorf("rpcclient: %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("rpcclient: unmarshal result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("rpcclient: connection closed before response to %s", method)
	}
}

// Close closes the underlying connection. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

var idEntropy = struct {
	mu sync.Mutex
	r  *rand.Rand
}{r: rand.New(rand.NewSource(time.Now().UnixNano()))}

func newRequestID() string {
	idEntropy.mu.Lock()
	entropy := ulid.Monotonic(idEntropy.r, 0)
	idEntropy.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
