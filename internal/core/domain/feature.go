package domain

import (
	"fmt"

	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// NamespaceKey is the properties member holding the hub-managed metadata of
// a feature.
const NamespaceKey = "@ns:com:here:xyz"

// NoVersion marks a feature that was never stored.
const NoVersion int64 = -1

// Namespace is the hub-managed metadata of a feature. Timestamps are Unix
// milliseconds.
type Namespace struct {
	Space     string   `json:"space,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
	UUID      string   `json:"uuid,omitempty"`
	PUUID     string   `json:"puuid,omitempty"`
	MUUID     string   `json:"muuid,omitempty"`
	Tags      []string `json:"tags"`
	Version   int64    `json:"version"`
}

// NamespaceMetadata masks the namespace members the hub owns. Tags are
// caller-visible and are kept.
var NamespaceMetadata = value.Object{
	"properties": value.Object{
		NamespaceKey: value.Object{
			"space":     value.Bool(true),
			"createdAt": value.Bool(true),
			"updatedAt": value.Bool(true),
			"uuid":      value.Bool(true),
			"puuid":     value.Bool(true),
			"muuid":     value.Bool(true),
			"version":   value.Bool(true),
		},
	},
}

// Feature is a GeoJSON feature kept in structural form, so that it can be
// diffed and merged without a schema.
type Feature struct {
	value.Object
}

// NewFeature wraps obj. A nil obj yields an empty feature.
func NewFeature(obj value.Object) *Feature {
	if obj == nil {
		obj = value.Object{}
	}
	return &Feature{Object: obj}
}

// ParseFeature decodes a single feature.
func ParseFeature(data []byte) (*Feature, error) {
	obj, err := value.ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("invalid feature: %w", err)
	}
	return NewFeature(obj), nil
}

// ID returns the feature id rendered as a string.
func (f *Feature) ID() string {
	switch id := f.Object["id"].(type) {
	case value.String:
		return string(id)
	case value.Int:
		return fmt.Sprintf("%d", int64(id))
	case value.Float:
		return fmt.Sprintf("%v", float64(id))
	}
	return ""
}

// SetID replaces the feature id.
func (f *Feature) SetID(id string) { f.Object["id"] = value.String(id) }

// Properties returns the properties object, creating it when absent.
func (f *Feature) Properties() value.Object {
	props, ok := f.Object["properties"].(value.Object)
	if !ok {
		props = value.Object{}
		f.Object["properties"] = props
	}
	return props
}

// Namespace decodes the hub metadata. Missing members keep their zero value;
// a missing version is NoVersion.
func (f *Feature) Namespace() Namespace {
	ns := Namespace{Version: NoVersion}
	obj, ok := f.Object.GetObject("properties", NamespaceKey)
	if !ok {
		return ns
	}
	ns.Space, _ = obj.GetString("space")
	ns.CreatedAt, _ = obj.GetInt("createdAt")
	ns.UpdatedAt, _ = obj.GetInt("updatedAt")
	ns.UUID, _ = obj.GetString("uuid")
	ns.PUUID, _ = obj.GetString("puuid")
	ns.MUUID, _ = obj.GetString("muuid")
	ns.Tags = value.Strings(obj["tags"])
	if v, ok := obj.GetInt("version"); ok {
		ns.Version = v
	}
	return ns
}

// SetNamespace writes ns into the feature. Members of the namespace object
// that Namespace does not model are kept.
func (f *Feature) SetNamespace(ns Namespace) {
	obj, ok := f.Properties()[NamespaceKey].(value.Object)
	if !ok {
		obj = value.Object{}
		f.Properties()[NamespaceKey] = obj
	}
	setString := func(key, s string) {
		if s == "" {
			delete(obj, key)
			return
		}
		obj[key] = value.String(s)
	}
	setString("space", ns.Space)
	setString("uuid", ns.UUID)
	setString("puuid", ns.PUUID)
	setString("muuid", ns.MUUID)
	obj["createdAt"] = value.Int(ns.CreatedAt)
	obj["updatedAt"] = value.Int(ns.UpdatedAt)
	tags := ns.Tags
	if tags == nil {
		tags = []string{}
	}
	obj["tags"] = value.StringArray(tags)
	if ns.Version == NoVersion {
		delete(obj, "version")
	} else {
		obj["version"] = value.Int(ns.Version)
	}
}

// Version returns the stored version, or NoVersion.
func (f *Feature) Version() int64 {
	if f == nil {
		return NoVersion
	}
	return f.Namespace().Version
}

// UUID returns the state identifier assigned on the last write.
func (f *Feature) UUID() string {
	s, _ := f.Object.GetString("properties", NamespaceKey, "uuid")
	return s
}

// Tags returns the feature's tags.
func (f *Feature) Tags() []string {
	v, _ := f.Object.Get("properties", NamespaceKey, "tags")
	return value.Strings(v)
}

// Clone returns a deep copy.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	return NewFeature(f.Object.Clone())
}

// StripMetadata returns a copy of obj without hub-managed namespace members.
func StripMetadata(obj value.Object) value.Object {
	return value.Filter(obj, NamespaceMetadata)
}
