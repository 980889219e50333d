// Package ports defines the interfaces between the hub's orchestration and
// its storage and accounting back-ends.
package ports

import (
	"context"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
)

// FeatureRef names a feature, optionally at a given version.
type FeatureRef struct {
	ID string
	// Version selects a historic state; domain.NoVersion selects the head.
	Version int64
}

// Head returns a reference to the current state of id.
func Head(id string) FeatureRef { return FeatureRef{ID: id, Version: domain.NoVersion} }

// WriteRequest carries the resolved changes of one modification.
type WriteRequest struct {
	SpaceID string
	// History keeps superseded versions readable.
	History bool
	// Atomic refuses the whole write when any change fails its check.
	Atomic bool
	Inserts []*domain.Feature
	Updates []*domain.Feature
	// Deletes lists the features to remove; only their id and version are used.
	Deletes []*domain.Feature
	// ExpectedVersions maps update and delete ids to the head version the
	// change was computed against.
	ExpectedVersions map[string]int64
}

// WriteFailure reports one feature the store refused.
type WriteFailure struct {
	ID      string
	Message string
}

// WriteResult is the outcome of a write. Written features carry their
// store-assigned version.
type WriteResult struct {
	Inserted []*domain.Feature
	Updated  []*domain.Feature
	Deleted  []string
	Failed   []WriteFailure
}

// FeatureStore persists features per space.
type FeatureStore interface {
	// LoadFeatures returns the referenced features that exist, in no
	// particular order.
	LoadFeatures(ctx context.Context, spaceID string, refs []FeatureRef) ([]*domain.Feature, error)

	// CountFeatures returns the number of live features in a space.
	CountFeatures(ctx context.Context, spaceID string) (int64, error)

	// WriteFeatures applies a write. A feature whose head moved past its
	// expected version is reported as failed instead of written.
	WriteFeatures(ctx context.Context, req *WriteRequest) (*WriteResult, error)

	// DeleteSpaceFeatures removes every feature of a space.
	DeleteSpaceFeatures(ctx context.Context, spaceID string) error

	// Close releases the store.
	Close() error
}

// SpaceStore persists space definitions.
type SpaceStore interface {
	// GetSpace returns domain.ErrRecordNotFound when the space does not exist.
	GetSpace(ctx context.Context, id string) (*domain.Space, error)

	// ListSpaces returns the spaces owned by owner, or all spaces when owner
	// is empty.
	ListSpaces(ctx context.Context, owner string) ([]*domain.Space, error)

	// PutSpace stores a space definition.
	PutSpace(ctx context.Context, space *domain.Space) error

	// DeleteSpace removes a space definition.
	DeleteSpace(ctx context.Context, id string) error
}

// Store is a back-end serving features and spaces.
type Store interface {
	FeatureStore
	SpaceStore
}
