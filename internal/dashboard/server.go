// Package dashboard provides a real-time WebSocket feed of sketchd state.
//
// The dashboard broadcasts board selection changes, available board updates
// and finished sketch syncs to connected WebSocket clients. A client that
// connects receives a snapshot of the current state first.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSnapshot is the full state sent to a client on connect
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeBoardsConfig indicates the board selection changed
	MessageTypeBoardsConfig MessageType = "boards_config"

	// MessageTypeAvailableBoards indicates the available boards changed
	MessageTypeAvailableBoards MessageType = "available_boards"

	// MessageTypeSyncReport indicates a sketch sync finished
	MessageTypeSyncReport MessageType = "sync_report"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// snapshot builds the message sent to new clients; may be nil.
	snapshot   func() (Message, error)
	snapshotMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7171). Port 0 picks a free port.
	Addr string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7171",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// SetSnapshot sets the function building the state sent to new clients.
func (s *Server) SetSnapshot(fn func() (Message, error)) {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()
	s.snapshot = fn
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastData marshals data and broadcasts it as a message of type typ.
func (s *Server) BroadcastData(typ MessageType, data any) error {
	msg, err := NewMessage(typ, data)
	if err != nil {
		return err
	}
	s.Broadcast(msg)
	return nil
}

// NewMessage builds a timestamped message with a JSON payload.
func NewMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock so a slow client doesn't block registration.
			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The server binds to loopback by default; local tools connect from any origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The snapshot goes out before the client is registered, so a broadcast
	// never reaches it ahead of the state it updates.
	if err := s.sendSnapshot(conn); err != nil {
		s.logger.Printf("Failed to send snapshot: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

func (s *Server) sendSnapshot(conn *websocket.Conn) error {
	s.snapshotMu.RLock()
	fn := s.snapshot
	s.snapshotMu.RUnlock()

	msg := Message{Type: MessageTypeSnapshot, Timestamp: time.Now()}
	if fn != nil {
		var err error
		if msg, err = fn(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		// Client messages are ignored.
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>sketchd</title>
</head>
<body>
    <h1>sketchd</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive board and sync updates.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
