package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/internal/config"
	"github.com/tablestakes/game-session/pkg/metrics"
)

// Server implements the local control API
type Server struct {
	config   *config.Config
	server   *http.Server
	handlers *Handlers
	health   *HealthHandler
	limiter  *RateLimiter
	stream   *StatusStream
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	mutex    sync.RWMutex
	listener net.Listener
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	svc SessionService,
	stats BetStatsProvider,
	alerts AlertProvider,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	logger = logger.With(zap.String("component", "api"))

	server := &Server{
		config:   cfg,
		handlers: NewHandlers(svc, stats, alerts, logger),
		health:   NewHealthHandler(svc, Version),
		stream:   NewStatusStream(svc, cfg.Server.StatusInterval, logger),
		gatherer: gatherer,
		logger:   logger,
	}
	if cfg.Server.IntentsPerMinute > 0 {
		server.limiter = NewRateLimiter(cfg.Server.IntentsPerMinute, cfg.Server.IntentBurst)
	}

	server.setupServer()

	return server
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.mutex.Lock()
	s.listener = ln
	s.mutex.Unlock()

	if err := s.stream.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start status stream: %w", err)
	}

	if s.limiter != nil {
		go s.rateLimiterCleanup(ctx)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()

	s.logger.Info("api server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")

	if err := s.stream.Stop(ctx); err != nil {
		s.logger.Warn("error stopping status stream", zap.Error(err))
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() http.Handler {
	return s.server.Handler
}

// setupServer configures the HTTP server and routes
func (s *Server) setupServer() {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.health.Health).Methods("GET")
	router.HandleFunc("/ready", s.health.Ready).Methods("GET")
	if s.gatherer != nil {
		router.Handle("/metrics", metrics.HandlerFor(s.gatherer)).Methods("GET")
	}
	router.HandleFunc("/ws", s.stream.HandleWebSocket)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handlers.GetStatus).Methods("GET")
	api.HandleFunc("/balance", s.handlers.GetBalance).Methods("GET")
	api.HandleFunc("/bets/stats", s.handlers.GetBetStats).Methods("GET")
	api.HandleFunc("/alerts", s.handlers.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/ack", s.handlers.AcknowledgeAlert).Methods("POST")

	// Intents
	intents := api.PathPrefix("").Subrouter()
	if s.limiter != nil {
		intents.Use(s.limiter.RateLimitMiddleware)
	}
	intents.HandleFunc("/reconnect", s.handlers.Reconnect).Methods("POST")
	intents.HandleFunc("/send", s.handlers.Send).Methods("POST")
	intents.HandleFunc("/bets", s.handlers.SubmitBet).Methods("POST")
	intents.HandleFunc("/bets/unlock", s.handlers.UnlockBet).Methods("POST")

	handler := c.Handler(router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", wrapper.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// rateLimiterCleanup periodically drops idle client buckets
func (s *Server) rateLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.CleanupExpiredClients()
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the status stream upgrade through the logging wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
