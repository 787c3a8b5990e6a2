// Package server is the local HTTP bridge to the clipper service. A browser
// extension or script posts service messages to /v1/messages and receives
// service results as JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/notion-clipper/internal/observability/middleware"
)

const (
	// defaultMaxRequestBytes bounds a message body. Full-page captures
	// carry HTML.
	defaultMaxRequestBytes = 8 << 20

	readHeaderTimeout = 10 * time.Second
)

// DefaultAllowedOrigins admits browser extension pages.
var DefaultAllowedOrigins = []string{"chrome-extension://", "moz-extension://"}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the Origin prefixes browser requests may come from.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithMaxRequestBytes bounds the size of a message body.
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) { s.maxRequestBytes = n }
}

// WithLogger sets the logger used for request logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server serves the message bridge and health probes.
type Server struct {
	handler         MessageHandler
	health          ReadinessChecker
	allowedOrigins  []string
	maxRequestBytes int64
	logger          *slog.Logger

	http     *http.Server
	listener net.Listener
}

// New creates a Server dispatching messages to handler.
func New(handler MessageHandler, health ReadinessChecker, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("message handler cannot be nil")
	}
	if health == nil {
		return nil, errors.New("readiness checker cannot be nil")
	}

	s := &Server{
		handler:         handler,
		health:          health,
		allowedOrigins:  DefaultAllowedOrigins,
		maxRequestBytes: defaultMaxRequestBytes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health/liveness", livenessHandler())
	mux.Handle("GET /health/readiness", readinessHandler(s.health))

	mux.Handle("POST /v1/messages", applyMiddlewares(
		messagesHandler(s.handler),
		OriginGuard(s.allowedOrigins),
		RequestSizeLimit(s.maxRequestBytes),
	))

	return applyMiddlewares(mux,
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		Recovery,
		middleware.Logging(s.logger),
		middleware.RequestIDPropagation,
	)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on addr and serves in the background. Serve errors other
// than a graceful close are delivered on the returned channel.
func (s *Server) Start(ctx context.Context, addr string) (<-chan error, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	slog.InfoContext(ctx, "bridge listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down bridge: %w", err)
	}
	return nil
}
