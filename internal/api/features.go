package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/feature"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

// Route defaults. The ifExists and ifNotExists query parameters override them
// on the collection routes.
var (
	upsertDefaults = modify.Policies{IfExists: modify.IfExistsReplace, IfNotExists: modify.IfNotExistsCreate}
	patchDefaults  = modify.Policies{IfExists: modify.IfExistsPatch, IfNotExists: modify.IfNotExistsCreate}
	deleteDefaults = modify.Policies{IfExists: modify.IfExistsDelete, IfNotExists: modify.IfNotExistsRetain}
	patchOne       = modify.Policies{IfExists: modify.IfExistsPatch, IfNotExists: modify.IfNotExistsRetain}
)

// modifyParams collects the write options of a request.
func modifyParams(r *http.Request, defaults modify.Policies, bodySize int64) (feature.ModifyParams, error) {
	q := r.URL.Query()
	transactional, err := boolParam(r, "transactional", true)
	if err != nil {
		return feature.ModifyParams{}, err
	}
	return feature.ModifyParams{
		TenantID:           tenantID(r),
		SpaceID:            spaceID(r),
		Defaults:           defaults,
		IfExists:           q.Get("ifExists"),
		IfNotExists:        q.Get("ifNotExists"),
		ConflictResolution: q.Get("conflictResolution"),
		Transactional:      transactional,
		AddTags:            feature.ParseTags(q["addTags"]),
		RemoveTags:         feature.ParseTags(q["removeTags"]),
		PrefixID:           q.Get("prefixId"),
		BodySize:           bodySize,
	}, nil
}

func (h *Handler) modify(w http.ResponseWriter, r *http.Request, params feature.ModifyParams, req *domain.ModifyRequest) (*domain.FeatureCollection, bool) {
	fc, err := h.features.Modify(r.Context(), params, req)
	if err != nil {
		server.WriteError(w, r, err)
		return nil, false
	}
	return fc, true
}

func (h *Handler) modifyCollection(w http.ResponseWriter, r *http.Request, defaults modify.Policies) {
	body, err := readBody(r)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	var req domain.ModifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		server.WriteError(w, r, invalidJSON(err))
		return
	}
	params, err := modifyParams(r, defaults, int64(len(body)))
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if fc, ok := h.modify(w, r, params, &req); ok {
		server.WriteJSON(w, http.StatusOK, fc)
	}
}

// putFeatures replaces or creates every feature of the body.
func (h *Handler) putFeatures(w http.ResponseWriter, r *http.Request) {
	h.modifyCollection(w, r, upsertDefaults)
}

// postFeatures patches existing features and creates the rest unless the
// query selects other policies.
func (h *Handler) postFeatures(w http.ResponseWriter, r *http.Request) {
	h.modifyCollection(w, r, patchDefaults)
}

func (h *Handler) deleteFeatures(w http.ResponseWriter, r *http.Request) {
	ids := listParam(r, "id")
	if len(ids) == 0 {
		server.WriteError(w, r, domain.ErrInvalidRequest("At least one feature id is required.").WithParam("id"))
		return
	}
	req := &domain.ModifyRequest{Features: make([]*domain.Feature, len(ids))}
	for i, id := range ids {
		req.Features[i] = domain.NewFeature(value.Object{"id": value.String(id)})
	}
	params, err := modifyParams(r, deleteDefaults, 0)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	// selectors do not apply to deletions
	params.IfExists, params.IfNotExists, params.ConflictResolution = "", "", ""
	params.PrefixID = ""
	if fc, ok := h.modify(w, r, params, req); ok {
		server.WriteJSON(w, http.StatusOK, fc)
	}
}

func (h *Handler) getFeatures(w http.ResponseWriter, r *http.Request) {
	ids := listParam(r, "id")
	if len(ids) == 0 {
		server.WriteError(w, r, domain.ErrInvalidRequest("At least one feature id is required.").WithParam("id"))
		return
	}
	fc, err := h.features.GetFeatures(r.Context(), feature.ReadParams{TenantID: tenantID(r), SpaceID: spaceID(r)}, ids)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, fc)
}

func (h *Handler) getFeature(w http.ResponseWriter, r *http.Request) {
	params := feature.ReadParams{TenantID: tenantID(r), SpaceID: spaceID(r), RequireExisting: true}
	fc, err := h.features.GetFeatures(r.Context(), params, []string{chi.URLParam(r, "featureId")})
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	writeSingle(w, fc)
}

// modifyOne writes the body feature under the id of the path.
func (h *Handler) modifyOne(w http.ResponseWriter, r *http.Request, policies modify.Policies, requireExisting bool) {
	body, err := readBody(r)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	f, err := domain.ParseFeature(body)
	if err != nil {
		server.WriteError(w, r, invalidJSON(err))
		return
	}
	f.SetID(chi.URLParam(r, "featureId"))

	params, err := modifyParams(r, policies, int64(len(body)))
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	params.IfExists, params.IfNotExists = "", ""
	params.PrefixID = ""
	params.Transactional = true
	params.RequireExisting = requireExisting
	if fc, ok := h.modify(w, r, params, &domain.ModifyRequest{Features: []*domain.Feature{f}}); ok {
		writeSingle(w, fc)
	}
}

func (h *Handler) putFeature(w http.ResponseWriter, r *http.Request) {
	h.modifyOne(w, r, upsertDefaults, false)
}

func (h *Handler) patchFeature(w http.ResponseWriter, r *http.Request) {
	h.modifyOne(w, r, patchOne, true)
}

func (h *Handler) deleteFeature(w http.ResponseWriter, r *http.Request) {
	params, err := modifyParams(r, deleteDefaults, 0)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	params.IfExists, params.IfNotExists, params.ConflictResolution = "", "", ""
	params.PrefixID = ""
	params.Transactional = true
	params.RequireExisting = true
	req := &domain.ModifyRequest{Features: []*domain.Feature{
		domain.NewFeature(value.Object{"id": value.String(chi.URLParam(r, "featureId"))}),
	}}
	if _, ok := h.modify(w, r, params, req); ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeSingle answers with the only feature of fc, or 204 when the write
// left nothing to return.
func writeSingle(w http.ResponseWriter, fc *domain.FeatureCollection) {
	if fc == nil || len(fc.Features) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	server.WriteJSON(w, http.StatusOK, fc.Features[0])
}
