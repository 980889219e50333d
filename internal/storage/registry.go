package storage

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
)

// DefaultID names the storage used by spaces that do not select one.
const DefaultID = "default"

// ErrUnknownStorage is returned for a storage id nothing was registered for.
var ErrUnknownStorage = errors.New("unknown storage")

// Registry maps storage ids to feature stores.
type Registry struct {
	stores *xsync.MapOf[string, ports.FeatureStore]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: xsync.NewMapOf[string, ports.FeatureStore]()}
}

// Register adds or replaces the store for id.
func (r *Registry) Register(id string, store ports.FeatureStore) {
	r.stores.Store(id, store)
}

// FeatureStore returns the store registered for id.
func (r *Registry) FeatureStore(id string) (ports.FeatureStore, error) {
	if id == "" {
		id = DefaultID
	}
	store, ok := r.stores.Load(id)
	if !ok {
		return nil, fmt.Errorf("storage %q: %w", id, ErrUnknownStorage)
	}
	return store, nil
}

// IDs returns the registered storage ids.
func (r *Registry) IDs() []string {
	var ids []string
	r.stores.Range(func(id string, _ ports.FeatureStore) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Close closes every distinct store once.
func (r *Registry) Close() error {
	seen := make(map[ports.FeatureStore]struct{})
	var errs []error
	r.stores.Range(func(_ string, store ports.FeatureStore) bool {
		if _, dup := seen[store]; dup {
			return true
		}
		seen[store] = struct{}{}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
