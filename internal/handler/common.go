package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sage-edu/rag-core/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeAPIError(w http.ResponseWriter, err *apierr.Error) {
	writeJSON(w, apierr.HTTPStatus(err.Code), errorPayload{Error: err.Error(), Code: string(err.Code)})
}

// writeServiceError translates a service-layer error into an HTTP response,
// per spec.md §7's propagation policy: apierr.Error values surface at their
// canonical status; anything else is an unclassified transient failure.
func writeServiceError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		writeAPIError(w, apiErr)
		return
	}
	writeAPIError(w, apierr.Wrap(apierr.Transient, "internal error", err))
}
