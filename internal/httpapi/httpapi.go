// Package httpapi serves the optional HTTP surface: a read-only status API
// and a WebSocket endpoint speaking the line protocol.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/bridge"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/relay"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/transport"
)

const shutdownTimeout = 5 * time.Second

// Sessions runs one line-protocol session per connection.
type Sessions interface {
	Serve(ctx context.Context, conn transport.Conn, kind string)
}

// Clients lists connected clients.
type Clients interface {
	Clients() []relay.ClientInfo
	Len() int
}

// Snapshotter exposes the cached hub state.
type Snapshotter interface {
	Snapshot() state.Snapshot
	DeviceCount() int
}

// Stats are optional counters reported by /api/status. Nil fields are
// omitted from the response.
type Stats struct {
	Poll       func() bridge.PollStats
	Restarts   func() uint64
	QueueDepth func() int
	Delivered  func() uint64
	Dropped    func() uint64
}

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	Version      string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	sessions Sessions
	clients  Clients
	store    Snapshotter
	stats    Stats
	log      *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, sessions Sessions, clients Clients, store Snapshotter, stats Stats, log *slog.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		clients:  clients,
		store:    store,
		stats:    stats,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleGetStatus)
		r.Get("/snapshot", s.handleGetSnapshot)
		r.Get("/snapshot/{category}", s.handleGetSnapshot)
		r.Get("/clients", s.handleGetClients)
	})
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
// WebSocket sessions are bound to ctx and end with it.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered in http handler", "error", err, "path", r.URL.Path)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// --- Handlers ---

type statusResponse struct {
	Version          string            `json:"version"`
	Clients          int               `json:"clients"`
	Devices          int               `json:"devices"`
	Poll             *bridge.PollStats `json:"poll,omitempty"`
	WatchdogRestarts *uint64           `json:"watchdog_restarts,omitempty"`
	QueueDepth       *int              `json:"queue_depth,omitempty"`
	Delivered        *uint64           `json:"delivered,omitempty"`
	Dropped          *uint64           `json:"dropped,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version: s.cfg.Version,
		Clients: s.clients.Len(),
		Devices: s.store.DeviceCount(),
	}
	if s.stats.Poll != nil {
		ps := s.stats.Poll()
		resp.Poll = &ps
	}
	if s.stats.Restarts != nil {
		n := s.stats.Restarts()
		resp.WatchdogRestarts = &n
	}
	if s.stats.QueueDepth != nil {
		n := s.stats.QueueDepth()
		resp.QueueDepth = &n
	}
	if s.stats.Delivered != nil {
		n := s.stats.Delivered()
		resp.Delivered = &n
	}
	if s.stats.Dropped != nil {
		n := s.stats.Dropped()
		resp.Dropped = &n
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	byCategory := map[string]any{
		"lights":  snap.Lights,
		"groups":  snap.Groups,
		"sensors": snap.Sensors,
	}

	category := chi.URLParam(r, "category")
	if category == "" {
		s.writeJSON(w, byCategory)
		return
	}
	v, ok := byCategory[category]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown category: "+category)
		return
	}
	s.writeJSON(w, v)
}

func (s *Server) handleGetClients(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"clients": s.clients.Clients()})
}

type pinger interface {
	Ping() error
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn := transport.NewWSConn(ws, s.cfg.WriteTimeout, s.log)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if p, ok := conn.(pinger); ok {
		go s.keepAlive(ctx, p)
	}
	s.sessions.Serve(ctx, conn, "websocket")
}

func (s *Server) keepAlive(ctx context.Context, p pinger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(); err != nil {
				s.log.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
