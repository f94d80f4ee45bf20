package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/app"
	"github.com/JakeFAU/gather-vision/internal/config"
	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
)

// Service is the subset of *app.App the handlers call.
type Service interface {
	Update(ctx context.Context, args app.UpdateArgs) (app.UpdateResult, error)
	List(args app.ListArgs) (app.ListResult, error)
}

// ErrShuttingDown is the cancellation cause seen by updates interrupted by shutdown.
var ErrShuttingDown = errors.New("server shutting down")

// Server wires HTTP handlers to the application service.
type Server struct {
	router   chi.Router
	svc      Service
	cfg      config.ServerConfig
	logger   *zap.Logger
	updating atomic.Bool

	// lifetime is canceled when shutdown starts; running updates derive from it.
	lifetime context.Context
	stop     context.CancelCauseFunc

	mu      sync.Mutex
	closing bool
	runs    sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger}
	s.lifetime, s.stop = context.WithCancelCause(context.Background())

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/update", s.update)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Get("/{name}", s.listSources)
			r.Post("/{name}/update", s.update)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. Shutdown cancels any
// running update, waits for it to drain, then closes the HTTP server within
// ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.stopUpdates()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	s.stopUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopUpdates refuses new updates, cancels the running one and waits for it to return.
func (s *Server) stopUpdates() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop(ErrShuttingDown)
	s.runs.Wait()
}

// beginUpdate registers an update unless one is running or shutdown has started.
func (s *Server) beginUpdate() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return http.StatusServiceUnavailable, false
	}
	if !s.updating.CompareAndSwap(false, true) {
		return http.StatusConflict, false
	}
	s.runs.Add(1)
	return 0, true
}

func (s *Server) endUpdate() {
	s.updating.Store(false)
	s.runs.Done()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.List(app.ListArgs{Source: chi.URLParam(r, "name")})
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// update runs synchronously. Only one update may run at a time. The run keeps
// going if the client disconnects but is canceled when the server shuts down.
func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.beginUpdate(); !ok {
		msg := "an update is already running"
		if status == http.StatusServiceUnavailable {
			msg = ErrShuttingDown.Error()
		}
		s.writeError(w, status, msg)
		return
	}
	defer s.endUpdate()

	ctx, cancel := context.WithCancelCause(context.WithoutCancel(r.Context()))
	defer cancel(nil)
	stopOnShutdown := context.AfterFunc(s.lifetime, func() { cancel(context.Cause(s.lifetime)) })
	defer stopOnShutdown()

	args := app.UpdateArgs{
		Source:    chi.URLParam(r, "name"),
		SubSource: r.URL.Query().Get("sub_source"),
	}
	res, err := s.svc.Update(ctx, args)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	if errors.Is(err, crawler.ErrUnknownSource) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
