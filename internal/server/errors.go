package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
)

type errorBody struct {
	Error     *domain.APIError `json:"error"`
	RequestID string           `json:"requestId,omitempty"`
}

// WriteError classifies err and writes it as a JSON error response. The
// error is attached to the request log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.FromError(err)
	AddError(r.Context(), err)
	WriteJSON(w, apiErr.HTTPStatusCode(), errorBody{Error: apiErr, RequestID: GetRequestID(r.Context())})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequestTooLarge is the error for bodies beyond limit bytes.
func RequestTooLarge(limit int64) error {
	return domain.NewAPIError(domain.ErrorTypeInvalidRequest, fmt.Sprintf("The request body exceeds %d bytes.", limit)).
		WithCode(domain.ErrorCodeRequestTooLarge).WithStatusCode(http.StatusRequestEntityTooLarge)
}
