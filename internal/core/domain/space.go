package domain

import "time"

// Space is a named container of features owned by one tenant.
type Space struct {
	ID            string    `json:"id" yaml:"id"`
	Owner         string    `json:"owner" yaml:"owner"`
	Title         string    `json:"title,omitempty" yaml:"title,omitempty"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty"`
	Storage       string    `json:"storage,omitempty" yaml:"storage,omitempty"`
	EnableUUID    bool      `json:"enableUUID,omitempty" yaml:"enable_uuid,omitempty"`
	EnableHistory bool      `json:"enableHistory,omitempty" yaml:"enable_history,omitempty"`
	PrefixID      string    `json:"prefixId,omitempty" yaml:"prefix_id,omitempty"`
	ReadOnly      bool      `json:"readOnly,omitempty" yaml:"read_only,omitempty"`
	MaxFeatures   int64     `json:"maxFeatures,omitempty" yaml:"max_features,omitempty"`
	Version       int64     `json:"version" yaml:"-"`
	CreatedAt     time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"-"`
}

// StorageID returns the storage the space writes to.
func (s *Space) StorageID() string {
	if s.Storage == "" {
		return "default"
	}
	return s.Storage
}

// CanAccess reports whether tenantID may use the space. Spaces without an
// owner are shared.
func (s *Space) CanAccess(tenantID string) bool {
	return s.Owner == "" || s.Owner == tenantID
}
