// Package api exposes the exporter's HTTP surface: the Prometheus
// exposition endpoint, health probes, a small JSON API over the runtime's
// current state, and a websocket stream of live table statistics.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/metrics"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

const (
	serverShutdownTimeout = 30 * time.Second

	defaultReadTimeout  = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	maxHeaderBytes      = 1 << 20
	streamSendDeadline  = 5 * time.Second
	defaultStreamPeriod = time.Second
)

// Server is the exporter's HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	store      *config.Store
	intro      runtime.Introspector
	exporter   *metrics.Exporter
	logger     *logging.Logger
	validate   *validator.Validate
	startTime  time.Time
}

// New wires the server against the runtime facade, the exposition
// exporter, and the enablement store the admin endpoint mutates.
func New(
	cfg *config.Config,
	store *config.Store,
	intro runtime.Introspector,
	exporter *metrics.Exporter,
	logger *logging.Logger,
) (*Server, error) {
	validate := validator.New()
	if err := validate.RegisterValidation("metrickey", validMetricKey); err != nil {
		return nil, fmt.Errorf("registering metrickey validation: %w", err)
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		store:     store,
		intro:     intro,
		exporter:  exporter,
		logger:    logger.WithComponent("api"),
		validate:  validate,
		startTime: time.Now(),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:        server.router,
		ReadTimeout:    defaultReadTimeout,
		WriteTimeout:   cfg.API.RequestTimeout,
		IdleTimeout:    defaultIdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server, nil
}

// validMetricKey accepts a known metric key or the all sentinel.
func validMetricKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	return key == config.EnableAll || metrics.IsKnownKey(key)
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) setupRoutes() {
	// Exposition and probes live at the root, where Prometheus and
	// orchestrators expect them.
	s.router.Handle("/metrics", s.exporter.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	s.router.HandleFunc("/readyz", s.readyzHandler).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/tables", s.tablesHandler).Methods("GET")
	api.HandleFunc("/locks", s.locksHandler).Methods("GET")
	api.HandleFunc("/metrics/enabled", s.getEnabledHandler).Methods("GET")
	api.HandleFunc("/metrics/enabled", s.putEnabledHandler).Methods("PUT")
	api.HandleFunc("/stats/stream", s.streamHandler).Methods("GET")

	s.router.HandleFunc("/", s.indexHandler).Methods("GET")
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	if s.config.API.CORS.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(s.config.API.CORS.AllowedOrigins),
			handlers.AllowedHeaders(s.config.API.CORS.AllowedHeaders),
			handlers.AllowedMethods(s.config.API.CORS.AllowedMethods),
		))
	}
}

// Router returns the configured router, for tests and embedding.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "gridstore-exporter",
		"version": "v1",
		"endpoints": map[string]string{
			"metrics": "/metrics",
			"healthz": "/healthz",
			"readyz":  "/readyz",
			"status":  "/api/v1/status",
			"tables":  "/api/v1/tables",
			"locks":   "/api/v1/locks",
			"enabled": "/api/v1/metrics/enabled",
			"stream":  "/api/v1/stats/stream",
		},
	})
}

// Middleware.

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in API handler",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method)
				s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// parseJSON decodes a strict JSON request body.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	return stderrors.As(err, target)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
