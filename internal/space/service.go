// Package space manages space definitions. Stored definitions are modified
// through the merge engine; definitions declared in configuration overlay
// the store and cannot be changed through the API.
package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Route policies for space writes.
var (
	PutPolicies    = modify.Policies{IfExists: modify.IfExistsReplace, IfNotExists: modify.IfNotExistsCreate}
	PatchPolicies  = modify.Policies{IfExists: modify.IfExistsPatch, IfNotExists: modify.IfNotExistsError}
	DeletePolicies = modify.Policies{IfExists: modify.IfExistsDelete, IfNotExists: modify.IfNotExistsError}
)

// StoreLookup resolves the feature store of a storage id.
type StoreLookup interface {
	FeatureStore(id string) (ports.FeatureStore, error)
}

// Service reads and writes space definitions.
type Service struct {
	store    ports.SpaceStore
	features StoreLookup
	logger   *slog.Logger
	now      func() time.Time

	declared atomic.Pointer[map[string]*domain.Space]
	// writes are serialized; the space store has no conditional put
	mu sync.Mutex
}

// NewService creates a space service backed by store. features resolves the
// store whose features are dropped with a deleted space.
func NewService(store ports.SpaceStore, features StoreLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, features: features, logger: logger, now: time.Now}
	s.SetDeclared(nil)
	return s
}

// SetDeclared replaces the configuration-declared spaces.
func (s *Service) SetDeclared(spaces []*domain.Space) {
	m := make(map[string]*domain.Space, len(spaces))
	for _, sp := range spaces {
		cp := *sp
		m[sp.ID] = &cp
	}
	s.declared.Store(&m)
	s.logger.Debug("declared spaces loaded", slog.Int("count", len(m)))
}

func (s *Service) lookupDeclared(id string) (*domain.Space, bool) {
	sp, ok := (*s.declared.Load())[id]
	if !ok {
		return nil, false
	}
	cp := *sp
	return &cp, true
}

// GetSpace returns a space definition, preferring declared ones. It returns
// domain.ErrRecordNotFound for unknown ids.
func (s *Service) GetSpace(ctx context.Context, id string) (*domain.Space, error) {
	if sp, ok := s.lookupDeclared(id); ok {
		return sp, nil
	}
	return s.store.GetSpace(ctx, id)
}

// ListSpaces returns the spaces tenantID may access, ordered by id.
func (s *Service) ListSpaces(ctx context.Context, tenantID string) ([]*domain.Space, error) {
	stored, err := s.store.ListSpaces(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	declared := *s.declared.Load()
	var out []*domain.Space
	for _, sp := range stored {
		if _, shadowed := declared[sp.ID]; !shadowed && sp.CanAccess(tenantID) {
			out = append(out, sp)
		}
	}
	for _, sp := range declared {
		if sp.CanAccess(tenantID) {
			cp := *sp
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Space) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Modify applies input to the space id under the given policies and returns
// the resulting definition, or nil when the space was deleted.
func (s *Service) Modify(ctx context.Context, tenantID, id string, input value.Object, p modify.Policies) (*domain.Space, error) {
	if _, ok := s.lookupDeclared(id); ok {
		return nil, domain.ErrForbidden("The space '" + id + "' is declared in the configuration and cannot be modified.").
			WithCode(domain.ErrorCodeReadOnly)
	}
	if input == nil {
		input = value.Object{}
	}
	if raw, ok := input["id"]; ok && !value.Equal(raw, value.String(id)) {
		return nil, domain.ErrInvalidRequest("The space id in the body does not match the path.").WithParam("id")
	}
	input = input.Clone()
	input["id"] = value.String(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.store.GetSpace(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load space %s: %w", id, err)
	}
	if head == nil && p.IfNotExists == modify.IfNotExistsError {
		return nil, domain.ErrNotFound("The resource ID '" + id + "' does not exist.").WithCode(domain.ErrorCodeSpaceNotFound)
	}
	if head != nil && !head.CanAccess(tenantID) {
		return nil, domain.ErrForbidden("Insufficient rights to modify the space '" + id + "'.")
	}

	e := modify.NewEntry[domain.Space](Codec{}, input, p)
	e.Head = head
	op := modify.NewOp([]*modify.Entry[domain.Space]{e}, true)
	if err := op.Process(); err != nil {
		return nil, err
	}
	metrics.ModifyEntries.WithLabelValues("space", e.Outcome.String()).Inc()

	switch {
	case !e.IsModified:
		return head, nil
	case e.Result == nil:
		return nil, s.delete(ctx, head)
	default:
		return s.put(ctx, tenantID, head, e.Result)
	}
}

func (s *Service) put(ctx context.Context, tenantID string, head, sp *domain.Space) (*domain.Space, error) {
	if _, err := s.features.FeatureStore(sp.StorageID()); err != nil {
		return nil, domain.ErrInvalidRequest(err.Error()).WithParam("storage").WithCause(err)
	}
	now := s.now().UTC()
	sp.Owner, sp.Version, sp.CreatedAt, sp.UpdatedAt = tenantID, 1, now, now
	if head != nil {
		sp.Owner, sp.Version, sp.CreatedAt = head.Owner, head.Version+1, head.CreatedAt
		if head.StorageID() != sp.StorageID() {
			return nil, domain.ErrInvalidRequest("The storage of an existing space cannot be changed.").WithParam("storage")
		}
	}
	if err := s.store.PutSpace(ctx, sp); err != nil {
		return nil, fmt.Errorf("failed to store space %s: %w", sp.ID, err)
	}
	s.logger.Info("space stored", slog.String("space", sp.ID), slog.Int64("version", sp.Version))
	return sp, nil
}

func (s *Service) delete(ctx context.Context, head *domain.Space) error {
	features, err := s.features.FeatureStore(head.StorageID())
	if err != nil {
		return err
	}
	if err := features.DeleteSpaceFeatures(ctx, head.ID); err != nil {
		return fmt.Errorf("failed to delete features of space %s: %w", head.ID, err)
	}
	if err := s.store.DeleteSpace(ctx, head.ID); err != nil {
		return fmt.Errorf("failed to delete space %s: %w", head.ID, err)
	}
	s.logger.Info("space deleted", slog.String("space", head.ID))
	return nil
}
