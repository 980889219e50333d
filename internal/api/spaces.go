package api

import (
	"errors"
	"net/http"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/server"
	"github.com/heremaps/xyz-hub-sub003/internal/space"
	"github.com/heremaps/xyz-hub-sub003/internal/value"
)

var createPolicies = modify.Policies{IfExists: modify.IfExistsError, IfNotExists: modify.IfNotExistsCreate}

func (h *Handler) listSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.spaces.ListSpaces(r.Context(), tenantID(r))
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if spaces == nil {
		spaces = []*domain.Space{}
	}
	server.WriteJSON(w, http.StatusOK, spaces)
}

func (h *Handler) getSpace(w http.ResponseWriter, r *http.Request) {
	id := spaceID(r)
	sp, err := h.spaces.GetSpace(r.Context(), id)
	if errors.Is(err, domain.ErrRecordNotFound) {
		server.WriteError(w, r, domain.ErrNotFound("The resource ID '"+id+"' does not exist.").
			WithCode(domain.ErrorCodeSpaceNotFound).WithCause(err))
		return
	}
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if !sp.CanAccess(tenantID(r)) {
		server.WriteError(w, r, domain.ErrForbidden("Insufficient rights to read the space '"+id+"'."))
		return
	}
	server.WriteJSON(w, http.StatusOK, sp)
}

func spaceBody(r *http.Request) (value.Object, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return value.Object{}, nil
	}
	obj, err := value.ParseObject(body)
	if err != nil {
		return nil, invalidJSON(err)
	}
	return obj, nil
}

func (h *Handler) writeSpace(w http.ResponseWriter, r *http.Request, id string, p modify.Policies) {
	input, err := spaceBody(r)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	sp, err := h.spaces.Modify(r.Context(), tenantID(r), id, input, p)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, sp)
}

// createSpace creates a space under the id of the body, or a random one.
func (h *Handler) createSpace(w http.ResponseWriter, r *http.Request) {
	input, err := spaceBody(r)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	id, _ := input.GetString("id")
	if id == "" {
		id = h.newSpaceID()
	}
	server.AddLogField(r.Context(), "space", id)
	sp, err := h.spaces.Modify(r.Context(), tenantID(r), id, input, createPolicies)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, sp)
}

func (h *Handler) putSpace(w http.ResponseWriter, r *http.Request) {
	h.writeSpace(w, r, spaceID(r), space.PutPolicies)
}

func (h *Handler) patchSpace(w http.ResponseWriter, r *http.Request) {
	h.writeSpace(w, r, spaceID(r), space.PatchPolicies)
}

func (h *Handler) deleteSpace(w http.ResponseWriter, r *http.Request) {
	if _, err := h.spaces.Modify(r.Context(), tenantID(r), spaceID(r), nil, space.DeletePolicies); err != nil {
		server.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
