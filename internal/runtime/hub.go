// Package runtime assembles a hub from its configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heremaps/xyz-hub-sub003/internal/api"
	"github.com/heremaps/xyz-hub-sub003/internal/api/controlplane"
	"github.com/heremaps/xyz-hub-sub003/internal/auth"
	"github.com/heremaps/xyz-hub-sub003/internal/config"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/feature"
	"github.com/heremaps/xyz-hub-sub003/internal/inflight"
	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
	"github.com/heremaps/xyz-hub-sub003/internal/space"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
	"github.com/heremaps/xyz-hub-sub003/internal/telemetry"
	"github.com/heremaps/xyz-hub-sub003/internal/tenant"
)

// Hub wires the stores, services and HTTP routes of one hub process.
type Hub struct {
	// Set by options.
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	traceOut io.Writer
	custom   map[string]ports.Store

	stores        *storage.Registry
	memory        *inflight.Tracker
	spaces        *space.Service
	features      *feature.Service
	authenticator *auth.Authenticator
	admin         *controlplane.Server
	server        *server.Server
	stopTracer    func(context.Context) error

	watcher *config.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// New builds a hub. The configuration must be given with WithConfigFile or
// WithConfig.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{logger: slog.Default(), stores: storage.NewRegistry()}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if h.cfg == nil {
		return nil, errors.New("config required (use WithConfigFile or WithConfig)")
	}

	tracer, stopTracer, err := telemetry.InitTracer(telemetry.Options{
		Enabled:     h.cfg.Tracing.Enabled,
		ServiceName: h.cfg.Tracing.ServiceName,
		Output:      h.traceOut,
	}, h.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	h.stopTracer = stopTracer

	def, err := h.openStores(context.Background())
	if err != nil {
		_ = stopTracer(context.Background())
		return nil, err
	}

	limits := h.cfg.Limits
	h.memory = inflight.New(inflight.Config{
		GlobalLimit:  limits.GlobalInflightMB << 20,
		Threshold:    limits.Threshold,
		DefaultShare: limits.DefaultShare,
		Shares:       limits.Shares,
	})
	h.spaces = space.NewService(def, h.stores, h.logger)
	h.features = feature.NewService(h.spaces, h.stores, h.memory,
		feature.WithLogger(h.logger),
		feature.WithTracer(tracer),
	)
	h.admin = controlplane.NewServer(h.cfg, h.stores, h.memory, h.spaces)

	if len(h.cfg.Tenants) > 0 {
		h.authenticator = auth.NewAuthenticator(nil)
	} else {
		h.logger.Info("no tenants configured, the API is open")
	}
	if err := h.apply(h.cfg); err != nil {
		_ = h.close(context.Background())
		return nil, err
	}

	h.server = server.New(server.Options{
		Port:           h.cfg.Server.Port,
		Logger:         h.logger,
		Authenticator:  h.authenticator,
		RequestTimeout: h.cfg.Server.Timeout(),
		MaxBodyBytes:   h.cfg.Server.MaxBodyBytes,
		ServiceName:    h.cfg.Tracing.ServiceName,
	})
	if err := h.routes(); err != nil {
		_ = h.close(context.Background())
		return nil, err
	}
	return h, nil
}

func (h *Hub) routes() error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	h.server.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.server.Router.Handle("/metrics", metrics.Handler(reg))

	handler := api.New(h.features, h.spaces, h.logger)
	h.server.API(func(r chi.Router) {
		handler.Routes(r)
		h.admin.Routes(r)
	})
	return nil
}

// apply installs the parts of cfg that can change at runtime: the tenants
// with their keys and the declared spaces.
func (h *Hub) apply(cfg *config.Config) error {
	tenants, err := tenant.NewRegistry().LoadTenants(cfg.Tenants)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	if h.authenticator != nil {
		h.authenticator.SetTenants(tenants)
	}
	h.spaces.SetDeclared(cfg.DeclaredSpaces())
	h.admin.SetConfig(cfg)
	return nil
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler { return h.server.Router }

// Start serves on the configured port and watches the configuration file.
func (h *Hub) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return h.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, h.cancel = context.WithCancel(ctx)
	if h.cfgPath != "" {
		w, err := config.NewWatcher(h.cfgPath, h.logger)
		if err != nil {
			ln.Close()
			return fmt.Errorf("watch config: %w", err)
		}
		h.watcher = w
		if err := h.watchConfig(ctx); err != nil {
			ln.Close()
			return err
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	h.logger.Info("hub started",
		slog.String("addr", ln.Addr().String()),
		slog.Any("storages", h.stores.IDs()),
		slog.Int("tenants", len(h.cfg.Tenants)),
		slog.Int("declared_spaces", len(h.cfg.Spaces)))
	return nil
}

func (h *Hub) watchConfig(ctx context.Context) error {
	onChange := func(cfg *config.Config) {
		h.logger.Info("config changed, reloading")
		if err := h.apply(cfg); err != nil {
			h.logger.Error("failed to reload", slog.String("error", err.Error()))
			return
		}
		h.logger.Info("reload complete",
			slog.Int("tenants", len(cfg.Tenants)),
			slog.Int("declared_spaces", len(cfg.Spaces)))
	}
	if err := h.watcher.Watch(ctx, onChange); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	return nil
}

// Shutdown stops the server, waits for running requests until ctx ends and
// closes the stores.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info("shutting down hub")
	var errs []error
	if err := h.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close config watcher: %w", err))
		}
	}
	h.wg.Wait()
	if err := h.close(ctx); err != nil {
		errs = append(errs, err)
	}
	h.logger.Info("hub shutdown complete")
	return errors.Join(errs...)
}

func (h *Hub) close(ctx context.Context) error {
	var errs []error
	if err := h.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := h.stopTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}
