// Package auth maps API keys to tenants.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/heremaps/xyz-hub-sub003/internal/tenant"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// Authenticator validates API keys and extracts tenant information
type Authenticator struct {
	tenants atomic.Pointer[map[string]*tenant.Tenant] // keyhash -> tenant
}

// NewAuthenticator creates a new authenticator with tenant mappings
func NewAuthenticator(tenants []*tenant.Tenant) *Authenticator {
	a := &Authenticator{}
	a.SetTenants(tenants)
	return a
}

// SetTenants replaces the known tenants.
func (a *Authenticator) SetTenants(tenants []*tenant.Tenant) {
	m := make(map[string]*tenant.Tenant)
	for _, t := range tenants {
		for _, key := range t.APIKeys {
			m[strings.ToLower(key.KeyHash)] = t
		}
	}
	a.tenants.Store(&m)
}

// ValidateAPIKey validates an API key and returns the associated tenant
func (a *Authenticator) ValidateAPIKey(apiKey string) (*tenant.Tenant, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	keyHash := HashAPIKey(apiKey)

	t, ok := (*a.tenants.Load())[keyHash]
	if !ok {
		return nil, ErrInvalidKey
	}
	for _, key := range t.APIKeys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(key.KeyHash))) == 1 {
			return t, nil
		}
	}
	return nil, ErrInvalidKey
}

// ExtractAPIKey reads the API key from a "Bearer" Authorization header or,
// failing that, from the access_token query parameter.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", ErrMissingKey
	}

	scheme, key, ok := strings.Cut(header, " ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("unsupported authorization scheme")
	}
	return key, nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
