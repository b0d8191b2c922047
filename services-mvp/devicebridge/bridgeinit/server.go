package bridgeinit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/illmade-knight/iot-device-bridge/pkg/devicemanager"
	"github.com/rs/zerolog"
)

// CoreService is the event side of the bridge the Server starts and stops.
type CoreService interface {
	Start() error
	Stop()
}

// Server exposes the device manager over HTTP and runs the core service
// alongside it.
type Server struct {
	config      *Config
	logger      zerolog.Logger
	manager     *devicemanager.Manager
	coreService CoreService
	httpServer  *http.Server
}

// NewServer creates a Server. coreService may be nil when only the HTTP API runs.
func NewServer(cfg *Config, manager *devicemanager.Manager, coreService CoreService, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if manager == nil {
		return nil, errors.New("device manager cannot be nil")
	}
	return &Server{
		config:      cfg,
		logger:      logger.With().Str("component", "BridgeServer").Logger(),
		manager:     manager,
		coreService: coreService,
	}, nil
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthzHandler)
	r.Get("/version", s.manager.FnVersion)
	r.Post("/version", s.manager.FnVersion)
	r.Post("/registerDevice", s.manager.RegisterIotDevice)
	r.Route("/devices/{"+devicemanager.DeviceIDParam+"}", func(r chi.Router) {
		r.Method(http.MethodGet, "/", handlers.CompressHandler(http.HandlerFunc(s.manager.ShowDevice)))
		r.Post("/commands", s.manager.SendCommand)
		r.Post("/reset", s.manager.ResetDevice)
	})

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(r)
}

// requestLogger echoes the request id and logs each request once it has been served.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		w.Header().Set("X-Request-Id", requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", requestID).
			Msg("http request")
	})
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start starts the core service and then the HTTP listener.
func (s *Server) Start() error {
	s.logger.Info().Msg("Starting device bridge...")
	if s.coreService != nil {
		if err := s.coreService.Start(); err != nil {
			return fmt.Errorf("failed to start core service: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.config.HTTPPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server ListenAndServe error")
		}
	}()
	return nil
}

// Stop shuts the HTTP server down and then stops the core service.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down device bridge...")
	var firstErr error

	if s.httpServer != nil {
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
			firstErr = err
		} else {
			s.logger.Info().Msg("HTTP server gracefully stopped.")
		}
	}

	if s.coreService != nil {
		s.coreService.Stop()
		s.logger.Info().Msg("Core service stopped.")
	}
	return firstErr
}

// Run starts the server and blocks until ctx is done or SIGINT/SIGTERM arrives.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		s.logger.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		s.logger.Warn().Msg("Context cancelled, shutting down")
	}
	return s.Stop(context.Background())
}
