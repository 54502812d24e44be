package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/rwavault/internal/server/handler"
	"github.com/alanyoungcy/rwavault/internal/server/middleware"
	"github.com/alanyoungcy/rwavault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RatePerSec  float64
	RateBurst   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Actions   *handler.ActionHandler
	Kyc       *handler.KycHandler
	Audit     *handler.AuditHandler
	Metrics   http.Handler // optional
}

// publicPaths skip API-key authentication.
var publicPaths = []string{"/api/health", "/metrics"}

// Server is the HTTP + WebSocket API in front of the ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // action requests wait for chain receipts; bounded by the ledger's call timeout
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler without binding a
// listener.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Positions and history.
	mux.HandleFunc("GET /api/portfolio", handlers.Positions.Portfolio)
	mux.HandleFunc("GET /api/transactions", handlers.Positions.ListTransactions)
	mux.HandleFunc("GET /api/assets/{id}/position", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/assets/{id}/refresh", handlers.Positions.RefreshPosition)

	// Actions.
	mux.HandleFunc("GET /api/assets/{id}/eligibility", handlers.Actions.Eligibility)
	mux.HandleFunc("GET /api/assets/{id}/allowed", handlers.Actions.Allowed)
	mux.HandleFunc("GET /api/assets/{id}/quote", handlers.Actions.Quote)
	mux.HandleFunc("GET /api/assets/{id}/actions", handlers.Actions.States)
	mux.HandleFunc("POST /api/assets/{id}/actions", handlers.Actions.Execute)
	mux.HandleFunc("POST /api/assets/{id}/actions/{action}/retry", handlers.Actions.Retry)

	mux.HandleFunc("GET /api/kyc", handlers.Kyc.GetKyc)
	mux.HandleFunc("PUT /api/kyc", handlers.Kyc.SetKyc)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS answers preflights before auth sees them.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.NewRateLimiter(cfg.RatePerSec, cfg.RateBurst).Middleware(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
