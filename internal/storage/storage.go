// Package storage holds what the feature store back-ends share: the change
// plan of a write and its optimistic version check.
package storage

import (
	"fmt"
	"time"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/metrics"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// ChangeKind is the kind of a single feature change.
type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	default:
		return "delete"
	}
}

// Change is one feature of a write request.
type Change struct {
	Kind     ChangeKind
	Feature  *domain.Feature
	Expected int64
}

// Plan flattens a write request into changes, inserts first.
func Plan(req *ports.WriteRequest) []Change {
	changes := make([]Change, 0, len(req.Inserts)+len(req.Updates)+len(req.Deletes))
	for _, f := range req.Inserts {
		changes = append(changes, Change{Kind: ChangeInsert, Feature: f, Expected: domain.NoVersion})
	}
	expected := func(f *domain.Feature) int64 {
		if v, ok := req.ExpectedVersions[f.ID()]; ok {
			return v
		}
		return domain.NoVersion
	}
	for _, f := range req.Updates {
		changes = append(changes, Change{Kind: ChangeUpdate, Feature: f, Expected: expected(f)})
	}
	for _, f := range req.Deletes {
		changes = append(changes, Change{Kind: ChangeDelete, Feature: f, Expected: expected(f)})
	}
	return changes
}

// Check validates c against the current head version of its feature, where
// headVersion is domain.NoVersion for a feature that does not exist. An
// empty string means the change may be applied.
func Check(c Change, headVersion int64) string {
	id := c.Feature.ID()
	switch c.Kind {
	case ChangeInsert:
		if headVersion != domain.NoVersion {
			return fmt.Sprintf("feature %s already exists", id)
		}
	default:
		if headVersion == domain.NoVersion {
			return fmt.Sprintf("feature %s does not exist", id)
		}
		if c.Expected != domain.NoVersion && c.Expected != headVersion {
			return fmt.Sprintf("feature %s was modified concurrently: expected version %d, found %d",
				id, c.Expected, headVersion)
		}
	}
	return ""
}

// Record adds a change to a write result.
func Record(res *ports.WriteResult, c Change, written *domain.Feature) {
	switch c.Kind {
	case ChangeInsert:
		res.Inserted = append(res.Inserted, written)
	case ChangeUpdate:
		res.Updated = append(res.Updated, written)
	case ChangeDelete:
		res.Deleted = append(res.Deleted, c.Feature.ID())
	}
}

// Stamp returns a copy of f carrying the store-assigned version. Versions
// of a feature start at 1 and grow by one per write, across deletions.
func Stamp(f *domain.Feature, latest int64) *domain.Feature {
	out := f.Clone()
	out.Object.Set(value.Int(latest+1), "properties", domain.NamespaceKey, "version")
	return out
}

// Observe starts timing a store operation; the returned func records it.
func Observe(backend, operation string) func() {
	started := time.Now()
	return func() {
		metrics.StoreOperations.WithLabelValues(backend, operation).Observe(time.Since(started).Seconds())
	}
}
