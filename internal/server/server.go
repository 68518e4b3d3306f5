// Package server provides the HTTP server, the shared middleware chain and
// the JSON response helpers used by every loyaltydesk handler.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/config"
	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
)

// RequestLogSize is the number of requests kept for /admin/requests.
const RequestLogSize = 1000

// Server wraps a chi router with the common middleware and owns the
// listener lifecycle.
type Server struct {
	Router  *chi.Mux
	ReqLog  *RequestLog
	Limiter *RateLimiter
	Log     *logrus.Logger
	cfg     config.ServerConfig
}

// New creates a server with the common middleware installed. Routes are
// mounted by the caller on Router.
func New(cfg config.ServerConfig, log *logrus.Logger) *Server {
	r := chi.NewRouter()
	reqLog := NewRequestLog(RequestLogSize)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metrics.Instrument)
	r.Use(Logging(reqLog, log))
	r.Use(chimw.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	return &Server{
		Router:  r,
		ReqLog:  reqLog,
		Limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Log:     log,
		cfg:     cfg,
	}
}

// ServeHTTP implements http.Handler so the server can be used in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully, waiting up to 10 seconds for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", ln.Addr().String()).Info("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
