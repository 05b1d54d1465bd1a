package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// decodeJSON decodes a request body, rejecting unknown fields so typos in
// client payloads fail loudly instead of silently defaulting.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusForError maps the domain error classes onto HTTP statuses.
// Freshness failures are 503 so callers retry after the next valuation;
// invariant and schema failures are 500 because they indicate a fault, not
// a caller mistake.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrFreshness):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusForError(err), err.Error())
}
