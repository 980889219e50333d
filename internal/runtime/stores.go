package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/memory"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/s3"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/sqldb"
)

// openStore creates the back-end a storage entry describes.
func openStore(ctx context.Context, sc config.StorageConfig) (ports.Store, error) {
	switch sc.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite", "postgres":
		return sqldb.New(sqldb.Config{Driver: sc.Type, DSN: sc.DSN})
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:    sc.Bucket,
			Region:    sc.Region,
			Endpoint:  sc.Endpoint,
			PathStyle: sc.PathStyle,
			Prefix:    sc.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// openStores registers the default storage and every named one. It returns
// the default store, which also keeps the space definitions.
func (h *Hub) openStores(ctx context.Context) (ports.Store, error) {
	entries := append([]config.StorageConfig{h.cfg.Storage}, h.cfg.Storages...)
	entries[0].ID = storage.DefaultID

	var def ports.Store
	for _, sc := range entries {
		store, ok := h.custom[sc.ID]
		if !ok {
			var err error
			if store, err = openStore(ctx, sc); err != nil {
				_ = h.stores.Close()
				return nil, fmt.Errorf("storage %s: %w", sc.ID, err)
			}
		}
		h.stores.Register(sc.ID, store)
		if sc.ID == storage.DefaultID {
			def = store
		}
		h.logger.Debug("storage opened", slog.String("storage", sc.ID), slog.String("type", sc.Type))
	}
	return def, nil
}
