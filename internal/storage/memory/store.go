// Package memory provides a versioned in-memory feature and space store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
)

const backend = "memory"

// history holds every kept state of one feature, oldest first.
type history struct {
	versions []*domain.Feature
	deleted  bool
}

func (h *history) head() *domain.Feature {
	if h == nil || h.deleted || len(h.versions) == 0 {
		return nil
	}
	return h.versions[len(h.versions)-1]
}

func (h *history) latest() int64 {
	if h == nil || len(h.versions) == 0 {
		return 0
	}
	return h.versions[len(h.versions)-1].Version()
}

func (h *history) headVersion() int64 {
	if f := h.head(); f != nil {
		return f.Version()
	}
	return domain.NoVersion
}

// Store is an in-memory implementation of ports.Store
type Store struct {
	mu       sync.RWMutex
	features map[string]map[string]*history

	spaces *xsync.MapOf[string, *domain.Space]
}

var _ ports.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		features: make(map[string]map[string]*history),
		spaces:   xsync.NewMapOf[string, *domain.Space](),
	}
}

func (s *Store) LoadFeatures(ctx context.Context, spaceID string, refs []ports.FeatureRef) ([]*domain.Feature, error) {
	defer storage.Observe(backend, "load")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	space := s.features[spaceID]
	var out []*domain.Feature
	for _, ref := range refs {
		h := space[ref.ID]
		if h == nil {
			continue
		}
		if ref.Version == domain.NoVersion {
			if f := h.head(); f != nil {
				out = append(out, f.Clone())
			}
			continue
		}
		for _, f := range h.versions {
			if f.Version() == ref.Version {
				out = append(out, f.Clone())
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CountFeatures(ctx context.Context, spaceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, h := range s.features[spaceID] {
		if h.head() != nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) WriteFeatures(ctx context.Context, req *ports.WriteRequest) (*ports.WriteResult, error) {
	defer storage.Observe(backend, "write")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	space, ok := s.features[req.SpaceID]
	if !ok {
		space = make(map[string]*history)
		s.features[req.SpaceID] = space
	}

	changes := storage.Plan(req)
	res := &ports.WriteResult{}
	if req.Atomic {
		for _, c := range changes {
			id := c.Feature.ID()
			if msg := storage.Check(c, space[id].headVersion()); msg != "" {
				res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: msg})
			}
		}
		if len(res.Failed) > 0 {
			return res, nil
		}
	}
	for _, c := range changes {
		id := c.Feature.ID()
		h := space[id]
		if msg := storage.Check(c, h.headVersion()); msg != "" {
			res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: msg})
			continue
		}
		if h == nil {
			h = &history{}
			space[id] = h
		}

		var written *domain.Feature
		switch c.Kind {
		case storage.ChangeDelete:
			h.deleted = true
			if !req.History {
				delete(space, id)
			}
		default:
			written = storage.Stamp(c.Feature, h.latest())
			if req.History {
				h.versions = append(h.versions, written)
			} else {
				h.versions = []*domain.Feature{written}
			}
			h.deleted = false
			written = written.Clone()
		}
		storage.Record(res, c, written)
	}
	return res, nil
}

func (s *Store) DeleteSpaceFeatures(ctx context.Context, spaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.features, spaceID)
	return nil
}

func (s *Store) GetSpace(ctx context.Context, id string) (*domain.Space, error) {
	space, ok := s.spaces.Load(id)
	if !ok {
		return nil, fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	cp := *space
	return &cp, nil
}

func (s *Store) ListSpaces(ctx context.Context, owner string) ([]*domain.Space, error) {
	var result []*domain.Space
	s.spaces.Range(func(_ string, space *domain.Space) bool {
		if owner == "" || space.Owner == owner {
			cp := *space
			result = append(result, &cp)
		}
		return true
	})
	slices.SortFunc(result, func(a, b *domain.Space) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) PutSpace(ctx context.Context, space *domain.Space) error {
	cp := *space
	s.spaces.Store(space.ID, &cp)
	return nil
}

func (s *Store) DeleteSpace(ctx context.Context, id string) error {
	if _, ok := s.spaces.LoadAndDelete(id); !ok {
		return fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
