// Package dashboard implements the HTTP monitoring API (spec §6's collaborator
// contract): execution list/detail/retry, aggregate stats with a bar chart,
// manual submission, and a live WebSocket event relay. It is a thin adapter
// over workflow.Client and the doc-store adapter — no orchestration logic
// lives here.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// Config configures the dashboard's HTTP surface and admin auth.
type Config struct {
	Host          string
	Port          int
	JWTSecret     string
	AdminPassword string // plaintext; hashed once at Server construction
	SendRateLimit rate.Limit
	SendRateBurst int
}

// Server is the dashboard's HTTP handler plus its background WebSocket hub.
type Server struct {
	kv     kvstore.Store
	doc    docstore.Store
	client *workflow.Client
	bus    *bus.Bus
	logger *logging.Logger
	cfg    Config

	auth        *authenticator
	hub         *wsHub
	sendLimiter *rate.Limiter
	mux         http.Handler
}

// New builds the dashboard's routed handler and starts its WebSocket hub
// relaying internal/bus events to connected clients.
func New(kv kvstore.Store, doc docstore.Store, client *workflow.Client, eventBus *bus.Bus, cfg Config, logger *logging.Logger) (*Server, error) {
	if cfg.SendRateLimit <= 0 {
		cfg.SendRateLimit = 5
	}
	if cfg.SendRateBurst <= 0 {
		cfg.SendRateBurst = 10
	}

	auth, err := newAuthenticator(cfg.JWTSecret, cfg.AdminPassword)
	if err != nil {
		return nil, err
	}

	s := &Server{
		kv:          kv,
		doc:         doc,
		client:      client,
		bus:         eventBus,
		logger:      logger,
		cfg:         cfg,
		auth:        auth,
		hub:         newWSHub(logger),
		sendLimiter: rate.NewLimiter(cfg.SendRateLimit, cfg.SendRateBurst),
	}

	if eventBus != nil {
		s.subscribeToBus()
	}
	go s.hub.run()

	s.mux = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("GET /executions", s.requireAuth(http.HandlerFunc(s.handleListExecutions)))
	mux.Handle("GET /executions/{id}", s.requireAuth(http.HandlerFunc(s.handleGetExecution)))
	mux.Handle("POST /executions/{id}/retry", s.requireAuth(http.HandlerFunc(s.handleRetry)))
	mux.Handle("GET /stats", s.requireAuth(http.HandlerFunc(s.handleStats)))
	mux.Handle("GET /stats/chart.png", s.requireAuth(http.HandlerFunc(s.handleStatsChart)))
	mux.Handle("POST /send", s.requireAuth(http.HandlerFunc(s.handleSend)))
	mux.HandleFunc("GET /events/ws", s.hub.serveWS)

	return recoverMiddleware(s.logger, loggingMiddleware(s.logger, mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Shutdown stops the WebSocket hub. The caller owns closing the underlying
// *http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	return nil
}

func recoverMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if logger != nil {
					logger.Error().Str("path", r.URL.Path).Msg("panic recovered in dashboard handler")
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if logger != nil {
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("dashboard request")
		}
	})
}
