// Package monitor serves the bridge reports over HTTP and WebSocket for
// dashboards that are not attached to the host link.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"dyno-bridge-core/utils"
)

const (
	reportBacklog = 16
	writeWait     = time.Second
)

// Server keeps the latest report and fans reports out to WebSocket clients.
// PublishReport never blocks; reports arriving faster than they can be
// forwarded are dropped.
type Server struct {
	log      *utils.Logger
	reports  chan []byte
	upgrader websocket.Upgrader

	mu      sync.Mutex
	latest  json.RawMessage
	count   uint64
	dropped uint64
	clients map[client]bool
}

// client is the write side of a WebSocket connection.
type client interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

func New(log *utils.Logger) *Server {
	if log == nil {
		log = utils.Discard()
	}
	return &Server{
		log:     log,
		reports: make(chan []byte, reportBacklog),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[client]bool{},
	}
}

// PublishReport implements the loop's report sink.
func (s *Server) PublishReport(payload []byte) {
	p := append([]byte(nil), payload...)
	select {
	case s.reports <- p:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleConnections)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"error": "no report yet"})
		return
	}
	render.JSON(w, r, latest)
}

type health struct {
	Status  string `json:"status"`
	Reports uint64 `json:"reports"`
	Dropped uint64 `json:"dropped"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h := health{Status: "ok", Reports: s.count, Dropped: s.dropped, Clients: len(s.clients)}
	s.mu.Unlock()
	render.JSON(w, r, h)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	s.mu.Lock()
	s.clients[ws] = true
	s.mu.Unlock()
	s.log.Info("Monitor client connected from %s", r.RemoteAddr)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.mu.Lock()
			delete(s.clients, ws)
			s.mu.Unlock()
			s.log.Info("Monitor client %s gone: %v", r.RemoteAddr, err)
			return
		}
	}
}

// ClientCount is the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run forwards published reports until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeClients()
			return ctx.Err()
		case p := <-s.reports:
			s.broadcast(p)
		}
	}
}

func (s *Server) broadcast(p []byte) {
	s.mu.Lock()
	s.latest = p
	s.count++
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	// Writes happen without the lock so a slow client cannot stall the
	// HTTP handlers.
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, p); err != nil {
			s.log.Warn("Monitor write failed: %v", err)
			c.Close()
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = map[client]bool{}
	s.mu.Unlock()
	for c := range clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
			time.Now().Add(writeWait))
		c.Close()
	}
}

// ListenAndServe serves on addr and the report fan-out until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	go func() { _ = s.Run(ctx) }()
	s.log.Info("Monitor listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
