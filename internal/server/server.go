// Package server maneja las conexiones WebSocket y el encolamiento de llamadas.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/adcondev/pos-printer/internal/printer"
)

// Message types handled inline; every other tipo is a printer call.
const (
	TipoPing   = "ping"
	TipoStatus = "status"
)

// defaultPrintLimit applies to printBytes when no call limits are configured.
const defaultPrintLimit = 60

// PrinterStatus reports the cached printer summary for status replies.
type PrinterStatus interface {
	Summary() printer.Summary
}

// Authenticator validates call tokens and tracks failing clients.
type Authenticator interface {
	Enabled() bool
	ValidateToken(token string) bool
	IsLockedOut(addr string) bool
	RecordFailure(addr string)
	ClearFailures(addr string)
}

// Config holds server configuration
type Config struct {
	QueueSize int
	// CallLimits caps each named call per client per minute, e.g.
	// {"printBytes": 60}. Nil limits printBytes to 60.
	CallLimits map[string]int
	// AllowedOrigins are host patterns ("pos.example.com", "localhost:*").
	// A scheme prefix is ignored. Nil or empty means same-origin only.
	AllowedOrigins []string
	Auth           Authenticator
}

// Job represents a queued printer call
type Job struct {
	ID         string          `json:"id"`
	ClientConn *websocket.Conn `json:"-"`
	Method     string          `json:"tipo"`
	Args       json.RawMessage `json:"datos"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo  string          `json:"tipo"`
	ID    string          `json:"id,omitempty"`
	Datos json.RawMessage `json:"datos,omitempty"`
	Token string          `json:"token,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo      string           `json:"tipo"`
	ID        string           `json:"id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Resultado any              `json:"resultado,omitempty"`
	Codigo    string           `json:"codigo,omitempty"`
	Mensaje   string           `json:"mensaje,omitempty"`
	Current   int              `json:"current,omitempty"`
	Capacity  int              `json:"capacity,omitempty"`
	Printers  *printer.Summary `json:"printers,omitempty"`
}

// Server manages WebSocket connections and the call queue
type Server struct {
	clients       *ClientRegistry
	jobQueue      chan *Job
	queueSize     int
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	printerStatus PrinterStatus
	acceptOptions *websocket.AcceptOptions
	auth          Authenticator
	rateLimiter   *CallRateLimiter
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, status PrinterStatus) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.CallLimits == nil {
		cfg.CallLimits = map[string]int{"printBytes": defaultPrintLimit}
	}

	opts := &websocket.AcceptOptions{}
	if patterns := hostPatterns(cfg.AllowedOrigins); len(patterns) > 0 {
		opts.OriginPatterns = patterns
	}

	return &Server{
		clients:       NewClientRegistry(),
		jobQueue:      make(chan *Job, cfg.QueueSize),
		queueSize:     cfg.QueueSize,
		shutdownChan:  make(chan struct{}),
		printerStatus: status,
		acceptOptions: opts,
		auth:          cfg.Auth,
		rateLimiter:   NewCallRateLimiter(cfg.CallLimits),
	}
}

// hostPatterns strips schemes so "http://localhost:*" matches the Origin host.
func hostPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	return len(s.jobQueue), cap(s.jobQueue)
}

// JobQueue returns the job queue channel (for worker consumption)
func (s *Server) JobQueue() <-chan *Job {
	return s.jobQueue
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.acceptOptions)
	if err != nil {
		log.Printf("[WS] ❌ Error accepting client from %s: %v", r.RemoteAddr, err)
		return
	}

	addr := clientAddr(r)
	total := s.clients.Add(conn, addr)
	log.Printf("[WS] ➕ Client connected (total: %d) from %s", total, r.RemoteAddr)

	// Send welcome message
	ctx := r.Context()
	welcome := Response{
		Tipo:    "info",
		Status:  "connected",
		Mensaje: "✅ Servidor respondiendo desde POS Printer",
	}
	_ = wsjson.Write(ctx, conn, welcome)

	// Handle messages
	s.handleMessages(ctx, conn, addr)

	// Cleanup on disconnect
	connected, _ := s.clients.Remove(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	log.Printf("[WS] ➖ Client disconnected %s after %v (remaining: %d)",
		addr, connected.Round(time.Second), s.clients.Count())
}

// clientAddr identifies a client by host so lockouts survive reconnects.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, addr string) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			// Normal closure or context cancelled
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			log.Printf("[WS] ⚠️ Error reading message: %v", err)
			return
		}

		s.routeMessage(ctx, conn, addr, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, addr string, msg *Message) {
	switch msg.Tipo {
	case TipoStatus:
		s.handleStatus(ctx, conn, msg)
	case TipoPing:
		s.handlePing(ctx, conn, msg)
	case "":
		s.sendError(ctx, conn, msg.ID, "Field 'tipo' is required")
	default:
		s.handleCall(ctx, conn, addr, msg)
	}
}

// handleCall authenticates, rate limits and enqueues a printer call
func (s *Server) handleCall(ctx context.Context, conn *websocket.Conn, addr string, msg *Message) {
	// Generate ID if not provided
	jobID := msg.ID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	if !s.authorize(addr, msg.Token) {
		s.sendError(ctx, conn, jobID, "Invalid or missing token")
		return
	}

	if !s.rateLimiter.Allow(msg.Tipo, addr) {
		limit, _ := s.rateLimiter.Limit(msg.Tipo)
		log.Printf("[QUEUE] 🚫 %s limit (%d/min) exceeded for %s, rejecting %s", msg.Tipo, limit, addr, jobID)
		s.sendError(ctx, conn, jobID, "Too many "+msg.Tipo+" requests, please slow down")
		return
	}

	job := &Job{
		ID:         jobID,
		ClientConn: conn,
		Method:     msg.Tipo,
		Args:       msg.Datos,
		ReceivedAt: time.Now(),
	}

	// Try to enqueue (non-blocking)
	select {
	case s.jobQueue <- job:
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 📥 %s queued: %s (queue: %d/%d)", job.Method, jobID, current, capacity)

		_ = wsjson.Write(ctx, conn, Response{
			Tipo:     "ack",
			ID:       jobID,
			Status:   "queued",
			Current:  current,
			Capacity: capacity,
			Mensaje:  "Call queued",
		})

	default:
		// Queue full
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 🚫 Queue full, rejecting %s (%d/%d)", jobID, current, capacity)
		s.sendError(ctx, conn, jobID, "Queue full, please retry in a few seconds")
	}
}

// authorize checks the call token when authentication is enabled
func (s *Server) authorize(addr, token string) bool {
	if s.auth == nil || !s.auth.Enabled() {
		return true
	}
	if s.auth.IsLockedOut(addr) {
		log.Printf("[AUDIT] 🔒 Call from locked out client %s rejected", addr)
		return false
	}
	if !s.auth.ValidateToken(token) {
		s.auth.RecordFailure(addr)
		log.Printf("[AUDIT] ❌ Invalid token from %s", addr)
		return false
	}
	s.auth.ClearFailures(addr)
	return true
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, conn *websocket.Conn, msg *Message) {
	current, capacity := s.QueueStatus()

	response := Response{
		Tipo:     "status",
		ID:       msg.ID,
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	}
	if s.printerStatus != nil {
		summary := s.printerStatus.Summary()
		response.Printers = &summary
	}
	_ = wsjson.Write(ctx, conn, response)
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, conn *websocket.Conn, msg *Message) {
	response := Response{
		Tipo:   "pong",
		ID:     msg.ID,
		Status: "ok",
	}
	_ = wsjson.Write(ctx, conn, response)
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, mensaje string) {
	response := Response{
		Tipo:    "error",
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	}
	_ = wsjson.Write(ctx, conn, response)
}

// NotifyClient sends a result back to a specific client
func (s *Server) NotifyClient(conn *websocket.Conn, response Response) error {
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return wsjson.Write(ctx, conn, response)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		clientCount := s.clients.Count()
		log.Printf("[WS] 🛑 Shutting down, disconnecting %d clients", clientCount)

		// Notify all clients
		s.clients.ForEach(func(conn *websocket.Conn, info ClientInfo) {
			log.Printf("[WS] 👋 Closing %s (connected since %s)", info.Addr, info.ConnectedAt.Format(time.TimeOnly))
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		})
	})
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
