package runtime

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
)

// Option is a functional option for configuring a Hub.
type Option func(*Hub) error

// WithConfigFile loads the configuration from path and reloads tenants and
// declared spaces whenever the file changes.
func WithConfigFile(path string) Option {
	return func(h *Hub) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		h.cfg = cfg
		h.cfgPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration. It is not watched.
func WithConfig(cfg *config.Config) Option {
	return func(h *Hub) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		h.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) error {
		h.logger = logger
		return nil
	}
}

// WithTraceOutput sends exported spans to w instead of stdout.
func WithTraceOutput(w io.Writer) Option {
	return func(h *Hub) error {
		h.traceOut = w
		return nil
	}
}

// WithStore serves the storage id from store instead of opening the
// configured back-end. The store registered as "default" also holds the
// space definitions.
func WithStore(id string, store ports.Store) Option {
	return func(h *Hub) error {
		if h.custom == nil {
			h.custom = make(map[string]ports.Store)
		}
		h.custom[id] = store
		return nil
	}
}
