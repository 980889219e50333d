// Package inflight accounts the request bodies that are being processed, per
// storage and in total, and throttles storages that hold too much of it.
package inflight

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
)

// ErrThrottled is returned by Throttle when a storage must not take more load.
var ErrThrottled = errors.New("too many requests for the storage")

// Config sets the throttling limits.
type Config struct {
	// GlobalLimit is the in-flight byte budget of the process.
	GlobalLimit int64
	// Threshold is the fraction of GlobalLimit above which storages are
	// checked at all.
	Threshold float64
	// DefaultShare is the fraction of GlobalLimit one storage may hold.
	DefaultShare float64
	// Shares overrides DefaultShare per storage id.
	Shares map[string]float64
}

// Tracker implements ports.RequestMemory.
type Tracker struct {
	cfg     Config
	storage *xsync.MapOf[string, *atomic.Int64]
	global  atomic.Int64
}

var _ ports.RequestMemory = (*Tracker)(nil)

// New creates a tracker. A zero GlobalLimit disables throttling.
func New(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.9
	}
	if cfg.DefaultShare <= 0 {
		cfg.DefaultShare = 0.5
	}
	return &Tracker{cfg: cfg, storage: xsync.NewMapOf[string, *atomic.Int64]()}
}

func (t *Tracker) counter(storageID string) *atomic.Int64 {
	c, _ := t.storage.LoadOrCompute(storageID, func() *atomic.Int64 { return new(atomic.Int64) })
	return c
}

// Register adds bytes to the storage's and the global in-flight sum.
func (t *Tracker) Register(storageID string, bytes int64) {
	if bytes <= 0 {
		return
	}
	n := t.counter(storageID).Add(bytes)
	g := t.global.Add(bytes)
	metrics.InflightBytes.WithLabelValues(storageID).Set(float64(n))
	metrics.GlobalInflightBytes.Set(float64(g))
}

// Deregister removes bytes added by Register.
func (t *Tracker) Deregister(storageID string, bytes int64) {
	if bytes <= 0 {
		return
	}
	n := t.counter(storageID).Add(-bytes)
	g := t.global.Add(-bytes)
	metrics.InflightBytes.WithLabelValues(storageID).Set(float64(n))
	metrics.GlobalInflightBytes.Set(float64(g))
}

// InFlight returns the bytes registered for a storage.
func (t *Tracker) InFlight(storageID string) int64 {
	if c, ok := t.storage.Load(storageID); ok {
		return c.Load()
	}
	return 0
}

// Global returns the bytes registered over all storages.
func (t *Tracker) Global() int64 { return t.global.Load() }

// Throttle rejects a storage when the process is above its high-utilisation
// threshold and the storage holds more than its share of the budget.
func (t *Tracker) Throttle(storageID string) error {
	if t.cfg.GlobalLimit <= 0 {
		return nil
	}
	if float64(t.global.Load()) <= float64(t.cfg.GlobalLimit)*t.cfg.Threshold {
		return nil
	}
	used := t.InFlight(storageID)
	if used == 0 {
		return nil
	}
	share, ok := t.cfg.Shares[storageID]
	if !ok {
		share = t.cfg.DefaultShare
	}
	if float64(used) > share*float64(t.cfg.GlobalLimit) {
		metrics.ThrottledRequests.WithLabelValues(storageID).Inc()
		return fmt.Errorf("storage %s holds %d in-flight bytes: %w", storageID, used, ErrThrottled)
	}
	return nil
}
