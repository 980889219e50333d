package feature

import (
	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Codec lets the modify engine work on features.
type Codec struct{}

var _ modify.Codec[domain.Feature] = Codec{}

func (Codec) ToValue(f *domain.Feature) (value.Object, error) { return f.Object, nil }

func (Codec) FromValue(obj value.Object) (*domain.Feature, error) {
	return domain.NewFeature(obj.Clone()), nil
}

func (Codec) ID(f *domain.Feature) string { return f.ID() }

func (Codec) Version(f *domain.Feature) int64 { return f.Version() }

func (Codec) InputVersion(input value.Object) int64 {
	if v, ok := input.GetInt("properties", domain.NamespaceKey, "version"); ok {
		return v
	}
	return modify.NoVersion
}

func (Codec) StripMetadata(obj value.Object) value.Object { return domain.StripMetadata(obj) }
