// Package feature runs feature reads and writes as pipelines of steps bound
// to a per-request task.
package feature

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/pipeline"
)

// SpaceLookup resolves space definitions.
type SpaceLookup interface {
	GetSpace(ctx context.Context, id string) (*domain.Space, error)
}

// StoreLookup resolves the feature store of a storage id.
type StoreLookup interface {
	FeatureStore(id string) (ports.FeatureStore, error)
}

// Service executes feature tasks.
type Service struct {
	spaces SpaceLookup
	stores StoreLookup
	memory ports.RequestMemory
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for pipeline steps.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock replaces the clock used for namespace timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the generator of feature ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a feature service.
func NewService(spaces SpaceLookup, stores StoreLookup, memory ports.RequestMemory, opts ...Option) *Service {
	s := &Service{
		spaces: spaces,
		stores: stores,
		memory: memory,
		logger: slog.Default(),
		now:    time.Now,
		newID:  randomID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomID returns 16 random alphanumeric characters.
func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (s *Service) pipelineOptions(logger *slog.Logger) []pipeline.Option {
	return []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithTracer(s.tracer)}
}

// resolveSpace loads the space a request addresses and the store behind it.
func (s *Service) resolveSpace(ctx context.Context, tenantID, spaceID string, write bool) (*domain.Space, ports.FeatureStore, error) {
	space, err := s.spaces.GetSpace(ctx, spaceID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound("The resource ID '" + spaceID + "' does not exist.").
			WithCode(domain.ErrorCodeSpaceNotFound).WithCause(err)
	}
	if err != nil {
		return nil, nil, err
	}
	if !space.CanAccess(tenantID) {
		return nil, nil, domain.ErrForbidden("Insufficient rights to access the space '" + spaceID + "'.")
	}
	if write && space.ReadOnly {
		return nil, nil, domain.ErrForbidden("The space '" + spaceID + "' is read-only.").WithCode(domain.ErrorCodeReadOnly)
	}
	store, err := s.stores.FeatureStore(space.StorageID())
	if err != nil {
		return nil, nil, err
	}
	return space, store, nil
}

type outcome struct {
	response *domain.FeatureCollection
	err      error
}

// canceller is the part of a task await drives when the caller goes away.
type canceller interface {
	Cancel()
}

// await waits for the pipeline to report through done. When ctx ends first,
// the task is cancelled and the cancellation outcome is returned.
func await(ctx context.Context, task canceller, done <-chan outcome) (*domain.FeatureCollection, error) {
	select {
	case o := <-done:
		return o.response, o.err
	case <-ctx.Done():
		task.Cancel()
		o := <-done
		return o.response, o.err
	}
}

