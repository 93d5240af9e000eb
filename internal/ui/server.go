// Package ui provides the HTTP server of a live report.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapreport/internal/channel"
	reportFeature "github.com/leapstack-labs/leapreport/internal/ui/features/report"
	"github.com/leapstack-labs/leapreport/internal/ui/router"
)

// Server is the report server.
type Server struct {
	source         reportFeature.Source
	channel        *channel.Channel
	hostname       string
	port           int
	writeTimeout   time.Duration
	allowedOrigins []string
	logger         *slog.Logger
}

// Config holds configuration for the report server.
type Config struct {
	Source         reportFeature.Source
	Channel        *channel.Channel
	Hostname       string
	Port           int
	WriteTimeout   time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewServer creates a new report server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		source:         cfg.Source,
		channel:        cfg.Channel,
		hostname:       cfg.Hostname,
		port:           cfg.Port,
		writeTimeout:   cfg.WriteTimeout,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
	}
}

// Handler builds the router with middleware and all routes.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
		}).Handler)
	}

	if err := router.SetupRoutes(r, reportFeature.Config{
		Source:         s.source,
		Channel:        s.channel,
		WriteTimeout:   s.writeTimeout,
		AllowedOrigins: s.allowedOrigins,
		Logger:         s.logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return r, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.hostname, fmt.Sprint(s.port))
}

// Serve starts the server and blocks until the context is cancelled.
// Connections are dropped before the HTTP server shuts down so streaming
// handlers return.
func (s *Server) Serve(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("starting report server", "addr", "http://"+ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		s.channel.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down report server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
