// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, and dispatching
// incoming frames to the chat hub.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/randomchips/chat-app/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server built on gobwas/ws and epoll. It upgrades
// HTTP connections, registers them for readiness notifications, and hands
// ready connections to a bounded worker pool that reads one frame each.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(conn *Connection)              // called after a connection is registered
	onDisconnect func(connID string)                 // called when a connection is removed
	onAlive      func(connID string)                 // called for connections passing a heartbeat
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) (*Server, error) {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}

	epoll, err := NewEpoll()
	if err != nil {
		return nil, fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	return &Server{
		config:     config,
		epoll:      epoll,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}, nil
}

// SetOnConnect registers a callback invoked once a connection is upgraded
// and registered, before session_created is sent and before any of its
// frames are read.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, close frame or Disconnect).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// SetOnAlive registers a callback invoked for every connection that passes
// a heartbeat check.
func (s *Server) SetOnAlive(fn func(connID string)) {
	s.onAlive = fn
}

// Start serves handler on the configured listen address and blocks until
// Shutdown is called or the listener fails.
func (s *Server) Start(handler http.Handler) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln, handler)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener, handler http.Handler) error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{Handler: handler}

	go s.startEventLoop()
	go s.heartbeat()

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		ln.Addr(), s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection. The
// optional userName query parameter becomes the connection's display name.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	addr := ClientAddr(r)
	name := r.URL.Query().Get("userName")

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed addr=%s: %v", addr, err)
		return
	}

	now := time.Now()
	c := &Connection{
		ID:        uuid.New().String(),
		Addr:      addr,
		Name:      name,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: now,

		writeTimeout: s.config.WriteTimeout,
	}
	c.Touch(now)

	s.conns.Add(c)
	if s.onConnect != nil {
		s.onConnect(c)
	}

	msg, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
	})
	if err == nil {
		err = s.SendMessage(c.ID, msg)
	}
	if err != nil {
		log.Printf("ws: failed to send session_created conn=%s: %v", c.ID, err)
	}

	// Watch for input only after session_created is on the wire.
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed conn=%s: %v", c.ID, err)
		s.RemoveConnection(c)
		return
	}

	log.Printf("ws: new connection conn=%s addr=%s fd=%d (total=%d)", c.ID, addr, c.Fd, s.conns.Count())
}

// startEventLoop runs the epoll wait loop. Each ready connection is handed
// to a worker goroutine bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				log.Printf("ws: epoll wait error: %v", err)
			}
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}
			go func(conn net.Conn) {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}(conn)
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. Control
// frames are consumed in place; a read failure removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	defer s.epoll.Resume(netConn)

	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	if !c.claim() {
		return
	}
	defer c.release()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(s.epoll.Reader(netConn), ws.StateServerSide)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Stale dispatch, no data. The heartbeat handles dead peers.
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch(time.Now())

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		// Drain ping/pong payloads so the next read starts at a frame header.
		if header.Length > 0 {
			if _, err := io.CopyN(io.Discard, reader, header.Length); err != nil {
				s.RemoveConnection(c)
			}
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// RemoveConnection removes a connection from epoll and the connection
// manager, closes it, and fires the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Read errors and heartbeat timeouts can race to remove the same
	// connection; only the winner notifies.
	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("ws: connection closed conn=%s (total=%d)", c.ID, s.conns.Count())
}

// Disconnect closes the connection identified by connID if it is still open.
func (s *Server) Disconnect(connID string) {
	if c := s.conns.Get(connID); c != nil {
		s.RemoveConnection(c)
	}
}

// IsConnected reports whether connID is a live connection.
func (s *Server) IsConnected(connID string) bool {
	return s.conns.Get(connID) != nil
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.WriteMessage(data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime returns how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops the HTTP listener and the event loop, then removes every
// connection so disconnect callbacks run for each of them.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	err := s.epoll.Close()
	log.Printf("ws: server stopped, all connections closed")
	return err
}
