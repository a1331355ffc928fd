// Package transport provides the daemon's local stream-socket wire layer:
// newline-delimited JSON framing over a Unix domain socket, full-duplex and
// long-lived per connection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"alfred-ai/internal/domain"
)

const (
	writeQueueSize = 64
	writeTimeout   = 10 * time.Second
)

// RequestHandler is installed by the RPC server to receive decoded request
// frames as they arrive on any connection.
type RequestHandler func(ctx context.Context, conn *Connection, req domain.RPCRequest)

// DisconnectHandler is installed by the RPC server to release any
// per-connection state (e.g. rate limit buckets) once a connection closes.
type DisconnectHandler func(connID string)

// Connection is one accepted client connection: a raw net.Conn wrapped with
// a serialized, non-blocking write queue. It implements domain.Connection.
type Connection struct {
	id        string
	conn      net.Conn
	metadata  map[string]string
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// ID implements domain.Connection.
func (c *Connection) ID() string { return c.id }

// Metadata implements domain.Connection.
func (c *Connection) Metadata() map[string]string { return c.metadata }

// SendResponse implements domain.Connection. Non-blocking: a slow reader
// gets its response dropped and a warning logged, never a blocked caller.
func (c *Connection) SendResponse(resp domain.RPCResponse) {
	c.enqueue(resp)
}

// Notify implements domain.Connection.
func (c *Connection) Notify(n domain.RPCNotification) {
	c.enqueue(n)
}

func (c *Connection) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("transport: failed to marshal frame", "conn_id", c.id, "error", err)
		return
	}
	data = append(data, '\n')

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.sendCh <- data:
	case <-c.done:
	default:
		c.logger.Warn("transport: dropped frame for slow connection", "conn_id", c.id)
	}
}

// Close implements domain.Connection. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(data); err != nil {
				c.logger.Warn("transport: write failed, closing connection", "conn_id", c.id, "error", err)
				c.Close()
				return
			}
		}
	}
}

// Server listens on a local stream socket and frames every message as one
// JSON object per line. It accepts multiple concurrent, long-lived
// connections.
type Server struct {
	socketPath   string
	permissions  os.FileMode
	logger       *slog.Logger
	listener     net.Listener
	onRequest    RequestHandler
	onDisconnect DisconnectHandler

	mu          sync.RWMutex
	connections map[string]*Connection
	nextID      atomic.Uint64
	closed      atomic.Bool
}

// NewServer creates a Server bound to socketPath once Listen is called.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	return &Server{
		socketPath:  socketPath,
		permissions: 0600,
		logger:      logger,
		connections: make(map[string]*Connection),
	}
}

// SetPermissions overrides the file mode applied to the socket after bind.
// Must be called before Listen.
func (s *Server) SetPermissions(mode os.FileMode) {
	s.permissions = mode
}

// OnRequest installs the request dispatcher. Must be called before Listen.
func (s *Server) OnRequest(handler RequestHandler) {
	s.onRequest = handler
}

// OnDisconnect installs the per-connection teardown callback. Must be
// called before Listen.
func (s *Server) OnDisconnect(handler DisconnectHandler) {
	s.onDisconnect = handler
}

// Listen removes any stale socket at the configured path, binds, and begins
// accepting connections in the background.
func (s *Server) Listen(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return fmt.Errorf("transport: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	if s.permissions != 0 {
		if err := os.Chmod(s.socketPath, s.permissions); err != nil {
			ln.Close()
			return fmt.Errorf("transport: chmod %s: %w", s.socketPath, err)
		}
	}

	go s.acceptLoop(ctx)
	s.logger.Info("transport: listening", "socket", s.socketPath)
	return nil
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Error("transport: accept loop failed, server stopping", "error", err)
			return
		}
		if s.closed.Load() {
			conn.Close()
			continue
		}

		c := s.newConnection(conn)
		go s.readLoop(ctx, c)
		go c.writeLoop()
	}
}

func (s *Server) newConnection(conn net.Conn) *Connection {
	id := fmt.Sprintf("conn-%d", s.nextID.Add(1))
	c := &Connection{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, writeQueueSize),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	s.mu.Lock()
	s.connections[id] = c
	s.mu.Unlock()
	s.logger.Info("transport: connection accepted", "conn_id", id)
	return c
}

func (s *Server) readLoop(ctx context.Context, c *Connection) {
	defer s.removeConnection(c)

	var dec Decoder
	buf := make([]byte, 64*1024)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				var req domain.RPCRequest
				if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
					s.logger.Warn("transport: discarding malformed frame", "conn_id", c.id, "error", jsonErr)
					continue
				}
				if s.onRequest != nil {
					s.onRequest(ctx, c, req)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()
	c.Close()
	if s.onDisconnect != nil {
		s.onDisconnect(c.id)
	}
	s.logger.Info("transport: connection closed", "conn_id", c.id)
}

// Broadcast fans a notification out to every live connection, swallowing
// per-connection failures (already logged by Connection.enqueue).
func (s *Server) Broadcast(n domain.RPCNotification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		c.Notify(n)
	}
}

// ConnectionCount reports the number of currently live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Connection looks up a live connection by id, for use as a
// subscription.ConnectionResolver.
func (s *Server) Connection(id string) (domain.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// Close closes every connection, stops listening, and unlinks the socket
// file. Idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*Connection)
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return err
}
