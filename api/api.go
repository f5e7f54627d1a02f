// Package api exposes the response engine over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"warden/notify"
	"warden/respond"
	"warden/storage"
)

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string
	// TrustProxy enables X-Forwarded-For client identification.
	TrustProxy bool
	// RequestsPerSecond and Burst tune the per-client throttle.
	RequestsPerSecond float64
	Burst             int
	// MaxBodyBytes caps request bodies on ingest routes.
	MaxBodyBytes int64
	// AuthEnabled guards the admin containment routes. When enabled a
	// request must carry a bearer token: either an HS256 JWT signed with
	// JWTSecret or the static admin key matching APIKeyHash.
	AuthEnabled bool
	JWTSecret   string
	// APIKeyHash is the bcrypt hash of the static admin key.
	APIKeyHash string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		RequestsPerSecond: 100,
		Burst:             200,
		MaxBodyBytes:      64 * 1024,
		ShutdownTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// clientLimiter holds a per-client rate limiter with its last-seen time so
// idle entries can be reaped.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server routes HTTP traffic to the response engine.
type Server struct {
	cfg      Config
	router   *mux.Router
	server   *http.Server
	engine   *respond.Engine
	recorder *storage.Recorder
	hub      *notify.Hub
	logger   *zap.SugaredLogger

	limiters   map[string]*clientLimiter
	limitersMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer wires the HTTP surface. engine, recorder, hub, and logger are
// required.
func NewServer(cfg Config, engine *respond.Engine, recorder *storage.Recorder, hub *notify.Hub, logger *zap.SugaredLogger) *Server {
	if engine == nil {
		panic("engine is required")
	}
	if recorder == nil {
		panic("recorder is required")
	}
	if hub == nil {
		panic("hub is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	s := &Server{
		cfg:      cfg.withDefaults(),
		router:   mux.NewRouter(),
		engine:   engine,
		recorder: recorder,
		hub:      hub,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	s.routes()
	go s.reapLimiters()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestLogMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(s.containmentGateMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/threats", s.handleThreat).Methods(http.MethodPost)
	api.Handle("/containment/block", s.requireAdmin(s.handleManualBlock)).Methods(http.MethodPost)
	api.Handle("/containment/{source}/block", s.requireAdmin(s.handleUnblock)).Methods(http.MethodDelete)
	api.Handle("/containment/{source}/quarantine", s.requireAdmin(s.handleUnquarantine)).Methods(http.MethodDelete)
	api.HandleFunc("/containment/{source}", s.handleContainmentStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}", s.handleGetIncident).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routing tree wrapped with request tracing. Tests mount
// this directly; Start serves it.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "warden.api")
}

// Start serves HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("API server listening", "addr", s.cfg.Addr)
	return s.server.ListenAndServe()
}

// StartTLS serves HTTPS until the listener fails or Stop is called.
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("API server listening", "addr", s.cfg.Addr, "tls", true)
	return s.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// reapLimiters drops per-client throttle state for clients idle beyond an
// hour.
func (s *Server) reapLimiters() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limitersMu.Lock()
			for ip, entry := range s.limiters {
				if time.Since(entry.lastSeen) > time.Hour {
					delete(s.limiters, ip)
				}
			}
			s.limitersMu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}
