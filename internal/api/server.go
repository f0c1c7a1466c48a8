// Package api serves the side-story library over HTTP: volume listings,
// compiled chapters, ad-hoc compilation and a live preview websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FocuswithJustin/sidestory/core/library"
	"github.com/FocuswithJustin/sidestory/internal/logging"
)

// Version is reported by /health and the root endpoint.
var Version = "dev"

// Library lists volumes. *library.Store and *library.Memory implement it.
type Library interface {
	Volumes(ctx context.Context) ([]library.Volume, error)
	Volume(ctx context.Context, id string) (*library.Volume, error)
}

// Server holds the handlers and their collaborators.
type Server struct {
	cfg       Config
	library   Library
	reader    *library.Reader
	hub       *Hub
	limiter   *RateLimiter
	startTime time.Time
}

// New creates a server. reader opens chapters, lib lists volumes.
func New(cfg Config, lib Library, reader *library.Reader) *Server {
	s := &Server{
		cfg:       cfg,
		library:   lib,
		reader:    reader,
		hub:       NewHub(),
		startTime: time.Now(),
	}
	if cfg.RateLimitRequests > 0 {
		burst := cfg.RateLimitBurst
		if burst == 0 {
			burst = 10
		}
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         burst,
		})
		logging.Info("rate limiting enabled",
			"requests_per_minute", cfg.RateLimitRequests,
			"burst_size", burst)
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.routes()

	handler = SecurityHeaders(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = CORS(s.cfg.AllowedOrigins, handler)
	return logging.CombinedMiddleware(handler)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/volumes", s.handleVolumes)
	mux.HandleFunc("GET /api/volumes/{id}", s.handleVolume)
	mux.HandleFunc("GET /api/chapters/{id}", s.handleChapter)
	mux.HandleFunc("POST /api/compile", s.handleCompile)
	mux.HandleFunc("GET /ws/preview", s.handlePreview)

	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.ServerStartup("rest_api", "http", s.cfg.Port, "websocket_path", "/ws/preview")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logging.Info("shutting down", "timeout", timeout.String())
	s.hub.CloseAll()
	return srv.Shutdown(shutdownCtx)
}
