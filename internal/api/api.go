// Package api serves the hub's REST interface for spaces and features.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/feature"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// FeatureService runs feature reads and writes.
type FeatureService interface {
	Modify(ctx context.Context, params feature.ModifyParams, req *domain.ModifyRequest) (*domain.FeatureCollection, error)
	GetFeatures(ctx context.Context, params feature.ReadParams, ids []string) (*domain.FeatureCollection, error)
}

// SpaceService reads and writes space definitions.
type SpaceService interface {
	GetSpace(ctx context.Context, id string) (*domain.Space, error)
	ListSpaces(ctx context.Context, tenantID string) ([]*domain.Space, error)
	Modify(ctx context.Context, tenantID, id string, input value.Object, p modify.Policies) (*domain.Space, error)
}

type Handler struct {
	features   FeatureService
	spaces     SpaceService
	logger     *slog.Logger
	newSpaceID func() string
}

func New(features FeatureService, spaces SpaceService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		features:   features,
		spaces:     spaces,
		logger:     logger,
		newSpaceID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// Routes registers the /hub routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/hub/spaces", func(r chi.Router) {
		r.Get("/", h.listSpaces)
		r.Post("/", h.createSpace)

		r.Route("/{spaceId}", func(r chi.Router) {
			r.Get("/", h.getSpace)
			r.Put("/", h.putSpace)
			r.Patch("/", h.patchSpace)
			r.Delete("/", h.deleteSpace)

			r.Get("/features", h.getFeatures)
			r.Put("/features", h.putFeatures)
			r.Post("/features", h.postFeatures)
			r.Delete("/features", h.deleteFeatures)

			r.Get("/features/{featureId}", h.getFeature)
			r.Put("/features/{featureId}", h.putFeature)
			r.Patch("/features/{featureId}", h.patchFeature)
			r.Delete("/features/{featureId}", h.deleteFeature)
		})
	})
}

func tenantID(r *http.Request) string {
	if t := server.GetTenant(r); t != nil {
		return t.ID
	}
	return ""
}

func spaceID(r *http.Request) string {
	id := chi.URLParam(r, "spaceId")
	server.AddLogField(r.Context(), "space", id)
	return id
}

// readBody reads the whole request body. Bodies cut off by the size limit
// yield a 413 error.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, server.RequestTooLarge(tooLarge.Limit)
		}
		return nil, domain.ErrInvalidRequest("Failed to read the request body.").WithCause(err)
	}
	return data, nil
}

func invalidJSON(err error) error {
	return domain.ErrInvalidRequest("Invalid JSON string: " + err.Error()).WithCause(err)
}

// boolParam parses a boolean query parameter, returning def when it is absent.
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, domain.ErrInvalidRequest("Invalid value for '" + name + "': " + raw).WithParam(name)
	}
	return v, nil
}

// listParam returns the values of a repeatable, comma separated query
// parameter.
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
