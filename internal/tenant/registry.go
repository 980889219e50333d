package tenant

import (
	"fmt"
	"sync"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
)

// Registry manages tenant instances
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewRegistry creates a new tenant registry
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]*Tenant),
	}
}

// LoadTenants loads tenants from configuration
func (r *Registry) LoadTenants(configs []config.TenantConfig) ([]*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tenants []*Tenant
	for _, cfg := range configs {
		if _, dup := r.tenants[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %s", cfg.ID)
		}

		apiKeys := make([]APIKey, len(cfg.APIKeys))
		for i, keyCfg := range cfg.APIKeys {
			apiKeys[i] = APIKey{
				KeyHash:     keyCfg.KeyHash,
				Description: keyCfg.Description,
			}
		}

		t := &Tenant{
			ID:      cfg.ID,
			Name:    cfg.Name,
			APIKeys: apiKeys,
		}
		tenants = append(tenants, t)
		r.tenants[cfg.ID] = t
	}
	return tenants, nil
}

// GetTenant retrieves a tenant by ID
func (r *Registry) GetTenant(id string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	return t, ok
}
