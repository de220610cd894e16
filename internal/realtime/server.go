package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/byronwjones/chrysolite/internal/app"
	"github.com/byronwjones/chrysolite/internal/protocol"
	"github.com/byronwjones/chrysolite/internal/session"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	clientBufCap  = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server exposes one App over REST and WebSocket. Every WebSocket client
// receives the App's messages and exit notifications.
type Server struct {
	app *app.App
	log *slog.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// subscriptions maps each client to its App subscription ID.
	subscriptions   map[*client]string
	subscriptionsMu sync.Mutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu     sync.Mutex
	closed bool
}

// enqueue queues data for the write pump, dropping it when the client is
// slow or gone.
func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// New creates a realtime server for a.
func New(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		app:           a,
		log:           logger,
		clients:       make(map[*client]bool),
		subscriptions: make(map[*client]string),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /app", s.handleGetStatus)
	mux.HandleFunc("POST /app/start", s.handleStart)
	mux.HandleFunc("POST /app/input", s.handleInput)
	mux.HandleFunc("POST /app/kill", s.handleKill)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown disconnects every WebSocket client.
func (s *Server) Shutdown() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBufCap),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Send current status, then replay recent output and follow the App.
	s.sendStatus(c)
	s.subscribeClient(c)

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error", "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.subscriptionsMu.Lock()
	subID, ok := s.subscriptions[c]
	delete(s.subscriptions, c)
	s.subscriptionsMu.Unlock()

	if ok {
		s.app.Unsubscribe(subID)
	}

	c.close()
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeAppStart:
		var payload protocol.AppStartPayload
		json.Unmarshal(msg.Payload, &payload)
		if err := s.app.Execute(payload.Args); err != nil {
			s.sendError(c, errorCode(err, protocol.ErrSpawnFailed), err.Error())
			return
		}
		s.broadcastStatus()

	case protocol.TypeAppInput:
		var payload protocol.AppInputPayload
		json.Unmarshal(msg.Payload, &payload)
		if err := s.app.SendInput(payload.Text); err != nil {
			s.sendError(c, errorCode(err, protocol.ErrInputFailed), err.Error())
		}

	case protocol.TypeAppKill:
		s.app.Kill()

	case protocol.TypeAppStatus:
		s.sendStatus(c)
	}
}

// errorCode maps App errors to protocol error codes, using fallback for
// anything that is not a call-order error.
func errorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return protocol.ErrAlreadyRunning
	case errors.Is(err, session.ErrNotRunning):
		return protocol.ErrNotRunning
	default:
		return fallback
	}
}

func (s *Server) status() protocol.AppStatusPayload {
	return protocol.AppStatusPayload{
		Path:        s.app.Path(),
		Description: s.app.Description(),
		Running:     s.app.Running(),
		SessionID:   s.app.SessionID(),
	}
}

func (s *Server) sendStatus(c *client) {
	msg, err := protocol.NewMessage(protocol.TypeAppStatus, s.status())
	if err != nil {
		return
	}
	s.send(c, msg)
}

// broadcastStatus sends the App status to all connected clients.
func (s *Server) broadcastStatus() {
	msg, err := protocol.NewMessage(protocol.TypeAppStatus, s.status())
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.enqueue(data)
	}
}

// subscribeClient forwards the App's event stream to one client.
func (s *Server) subscribeClient(c *client) {
	subID, ch, history := s.app.Subscribe()

	s.subscriptionsMu.Lock()
	s.subscriptions[c] = subID
	s.subscriptionsMu.Unlock()

	for _, event := range history {
		s.sendEvent(c, event)
	}

	go func() {
		for event := range ch {
			s.sendEvent(c, event)
			if event.Type == session.EventExit {
				s.sendStatus(c)
			}
		}
	}()
}

func (s *Server) sendEvent(c *client, event session.Event) {
	var (
		msg *protocol.Message
		err error
	)
	if event.Type == session.EventExit {
		msg, err = protocol.NewMessage(protocol.TypeAppExited, protocol.AppExitedPayload{
			SessionID: event.SessionID,
			ExitCode:  event.ExitCode,
			TimedOut:  event.TimedOut,
		})
	} else {
		msg, err = protocol.NewMessage(protocol.TypeAppMessage, protocol.AppMessagePayload{
			SessionID: event.SessionID,
			Stream:    string(event.Type),
			Text:      event.Data,
			Complete:  event.Complete,
		})
	}
	if err != nil {
		return
	}
	s.send(c, msg)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	s.send(c, msg)
}

func (s *Server) send(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}
