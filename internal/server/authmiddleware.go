package server

import (
	"net/http"

	"github.com/heremaps/xyz-hub-sub003/internal/auth"
	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/tenant"
)

// AuthMiddleware validates API keys and injects tenant context.
// The API key is read from a Bearer Authorization header or the access_token
// query parameter.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				WriteError(w, r, domain.ErrAuthentication(err.Error()).WithCause(err))
				return
			}

			t, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				WriteError(w, r, domain.ErrAuthentication("Invalid API key").
					WithCode(domain.ErrorCodeInvalidAPIKey).WithCause(err))
				return
			}

			AddLogField(r.Context(), "tenant", t.ID)
			next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), t)))
		})
	}
}

// GetTenant retrieves the tenant from context.
// Returns nil if no tenant is set.
func GetTenant(r *http.Request) *tenant.Tenant {
	return tenant.FromContext(r.Context())
}
