package space

import (
	"encoding/json"
	"fmt"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// managed lists the members of a space definition the hub owns.
var managed = []string{"owner", "version", "createdAt", "updatedAt"}

// Codec lets the modify engine work on space definitions through their JSON
// form.
type Codec struct{}

var _ modify.Codec[domain.Space] = Codec{}

func (Codec) ToValue(s *domain.Space) (value.Object, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode space %s: %w", s.ID, err)
	}
	return value.ParseObject(data)
}

func (Codec) FromValue(obj value.Object) (*domain.Space, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var s domain.Space
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &modify.ValidationError{Field: "space", Message: err.Error()}
	}
	return &s, nil
}

func (Codec) ID(s *domain.Space) string { return s.ID }

func (Codec) Version(s *domain.Space) int64 {
	if s == nil || s.Version == 0 {
		return modify.NoVersion
	}
	return s.Version
}

func (Codec) InputVersion(input value.Object) int64 {
	if v, ok := input.GetInt("version"); ok {
		return v
	}
	return modify.NoVersion
}

func (Codec) StripMetadata(obj value.Object) value.Object {
	out := obj.Clone()
	for _, key := range managed {
		delete(out, key)
	}
	return out
}
