// Package server is the HTTP surface of the bot: webhook ingress with
// signature validation, a small status/rescan API, and a WebSocket feed
// of reconciliation activity.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/opencourse/triagebot/internal/worker"
)

// Enqueuer schedules reconciliations.
type Enqueuer interface {
	Enqueue(ctx context.Context, task worker.Task)
}

// RunChecker reports in-flight reconciliation runs.
type RunChecker interface {
	ActiveCount() int
}

// Rescanner queues a reconciliation for every open pull request of a
// repository.
type Rescanner interface {
	Rescan(ctx context.Context, repo string) (int, error)
}

// Config holds server dependencies.
type Config struct {
	// Secret is the shared webhook secret for HMAC validation.
	Secret []byte
	// Queue receives one task per relevant webhook delivery.
	Queue Enqueuer
	// Runs reports worker activity for the status endpoint. Optional.
	Runs RunChecker
	// Rescanner backs the /api/rescan endpoint. Optional.
	Rescanner Rescanner
	// Hub is the WebSocket hub. When non-nil, /api/ws is registered.
	Hub *Hub
	// BaseContext is the context handed to enqueued tasks, so runs
	// survive the webhook request that triggered them. Defaults to
	// context.Background().
	BaseContext context.Context
	Logger      *slog.Logger
}

// Server wraps the bot's HTTP server.
type Server struct {
	mux      *http.ServeMux
	listener net.Listener
}

// New creates a Server bound to the given address (e.g. ":8787"). It does
// not start serving; call Serve for that.
func New(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, listener: ln}
	s.registerRoutes(cfg)
	return s, nil
}

// Addr returns the listener's address (useful when binding to :0 in
// tests).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting connections. It blocks until the listener is
// closed.
func (s *Server) Serve() error {
	return http.Serve(s.listener, s.mux)
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Handler exposes the route mux for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes(cfg Config) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	api := &apiHandler{
		secret:    cfg.Secret,
		queue:     cfg.Queue,
		runs:      cfg.Runs,
		rescanner: cfg.Rescanner,
		hub:       cfg.Hub,
		baseCtx:   baseCtx,
		startAt:   time.Now(),
		logger:    logger,
	}

	s.mux.HandleFunc("POST /webhook", api.handleWebhook)
	s.mux.HandleFunc("GET /api/status", api.handleStatus)
	s.mux.HandleFunc("POST /api/rescan", api.handleRescan)
	if cfg.Hub != nil {
		s.mux.HandleFunc("GET /api/ws", cfg.Hub.ServeWS)
	}
}
