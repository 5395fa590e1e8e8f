package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/internal/identity"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error struct {
		Code      string                            `json:"code"`
		Message   string                            `json:"message"`
		Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
		RequestID nullable.Nullable[string]         `json:"requestId,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestID = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps an engine error to a response.
func (a *api) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *booking.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", ve.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, booking.ErrOwnerNotFound):
		writeError(w, r, http.StatusNotFound, "OWNER_NOT_FOUND", "owner not found", nil)
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, booking.ErrConflict):
		writeError(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, booking.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unavailable, retry later", nil)
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
