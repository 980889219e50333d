package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/heremaps/xyz-hub-sub003/internal/auth"
)

type Options struct {
	Port   int
	Logger *slog.Logger
	// Authenticator guards the API routes; nil leaves them open.
	Authenticator *auth.Authenticator
	// RequestTimeout bounds API requests; 0 disables the bound.
	RequestTimeout time.Duration
	// MaxBodyBytes caps API request bodies; 0 disables the cap.
	MaxBodyBytes int64
	// ServiceName names the server spans.
	ServiceName string
}

type Server struct {
	Router *chi.Mux
	Port   int
	opts   Options
	logger *slog.Logger
	http   *http.Server
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "xyzhub"
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, opts.ServiceName)
	})

	return &Server{
		Router: r,
		Port:   opts.Port,
		opts:   opts,
		logger: opts.Logger,
		http:   &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
	}
}

// API mounts routes behind authentication, the request timeout and the body
// size cap.
func (s *Server) API(fn func(r chi.Router)) {
	s.Router.Group(func(r chi.Router) {
		if s.opts.Authenticator != nil {
			r.Use(AuthMiddleware(s.opts.Authenticator))
		}
		if s.opts.RequestTimeout > 0 {
			r.Use(TimeoutMiddleware(s.opts.RequestTimeout))
		}
		if s.opts.MaxBodyBytes > 0 {
			r.Use(MaxBodyMiddleware(s.opts.MaxBodyBytes))
		}
		fn(r)
	})
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for running ones until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
