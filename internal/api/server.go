package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/rowwatch"
	"github.com/user/rowwatch/internal/sse"
	"github.com/user/rowwatch/pkg/poller"
)

// Controller is the poller surface the API drives.
type Controller interface {
	Start(ctx context.Context, interval time.Duration) error
	Stop() error
	ForceCycle(ctx context.Context) error
	Status() poller.Status
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// Interval is used when the poller is started through the API.
	Interval time.Duration
	// Stream is the hub topic carrying poller events.
	Stream string
	// AllowedOrigins are accepted for websocket upgrades in addition to same-host origins.
	AllowedOrigins []string
	// Ready lists named dependencies checked by /readyz.
	Ready map[string]Pinger
}

type Server struct {
	controller Controller
	hub        *sse.Hub
	opts       Options
	logger     rowwatch.Logger

	// baseCtx parents runs started through the API so they outlive the request.
	baseCtx context.Context
}

func NewServer(ctx context.Context, controller Controller, hub *sse.Hub, opts Options) *Server {
	if hub == nil {
		hub = sse.GetHub()
	}
	if opts.Stream == "" {
		opts.Stream = "events"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Server{
		controller: controller,
		hub:        hub,
		opts:       opts,
		logger:     rowwatch.NopLogger{},
		baseCtx:    ctx,
	}
}

func (s *Server) SetLogger(logger rowwatch.Logger) {
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	s.logger = logger
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("POST /api/poller/start", s.startPoller)
	mux.HandleFunc("POST /api/poller/stop", s.stopPoller)
	mux.HandleFunc("POST /api/poller/cycle", s.forceCycle)

	mux.HandleFunc("GET /api/events/stream", s.handleSSEStream)
	mux.HandleFunc("GET /api/events/ws", s.handleEventsWS)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run serves Routes on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Streaming handlers only return once their subscriptions close.
	s.hub.Shutdown()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// lifecycleStatus maps lifecycle errors onto HTTP status codes.
func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, rowwatch.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, rowwatch.ErrAlreadyRunning), errors.Is(err, rowwatch.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
