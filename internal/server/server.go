package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/observability"
	"github.com/xkilldash9x/browser-operator/internal/service"
	"github.com/xkilldash9x/browser-operator/internal/slack"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Operator is what the HTTP and Slack transports drive. service.Components implements it.
type Operator interface {
	Run(ctx context.Context, p service.RunParams) (service.RunResult, error)
	CreateSession(ctx context.Context, region schemas.Region, meta *browserbase.Metadata) (*browserbase.Session, error)
	FindSessions(ctx context.Context, messageTS string) ([]browserbase.Session, error)
	ReleaseSession(ctx context.Context, id string) error
	DebugURL(ctx context.Context, id string) (string, error)
	SessionURL(id string) string
	LoadState(ctx context.Context, id string) (*schemas.AgentState, error)
}

var _ Operator = (*service.Components)(nil)

// Options configures a Server.
type Options struct {
	Server config.ServerConfig
	// Bot enables the Slack events route when non-nil.
	Bot      *slack.Bot
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Server exposes the operator over HTTP.
type Server struct {
	op      Operator
	bot     *slack.Bot
	cfg     config.ServerConfig
	reg     *prometheus.Registry
	metrics *observability.Metrics
	logger  *zap.Logger

	threads keyedMutex
	wg      sync.WaitGroup
	// bgCtx parents work that outlives the request that started it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a server. Call Close or ListenAndServe's shutdown path to stop background work.
func New(op Operator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		op:       op,
		bot:      opts.Bot,
		cfg:      opts.Server,
		reg:      opts.Registry,
		metrics:  opts.Metrics,
		logger:   logger.Named("server"),
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	if s.reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/agent", s.handleAgent)
		if s.bot != nil {
			r.Post("/slack/events", s.handleSlackEvents)
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests and background Slack work within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.Close()
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if drainErr := s.Drain(shutdownCtx); drainErr != nil {
		s.logger.Warn("Background work did not finish before shutdown deadline.", zap.Error(drainErr))
	}
	s.Close()
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped.")
	return nil
}

// Drain waits for background work to finish or ctx to end.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any background work still running.
func (s *Server) Close() {
	s.bgCancel()
}

// background runs fn on its own goroutine under the invocation budget.
func (s *Server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.invocationContext(s.bgCtx)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Server) invocationContext(parent context.Context) (context.Context, context.CancelFunc) {
	if budget := s.cfg.InvocationBudget(); budget > 0 {
		return context.WithTimeout(parent, budget)
	}
	return context.WithCancel(parent)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
