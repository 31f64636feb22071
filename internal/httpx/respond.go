// Package httpx holds the JSON response helpers and middleware shared by handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"labonnas-pos/internal/apperr"
)

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response in JSON format.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": RequestID(r),
	}

	var appErr *apperr.Error
	switch {
	case status == http.StatusInternalServerError:
		body["error"] = "Internal server error"
		body["code"] = "internal"
	case errors.As(err, &appErr):
		body["error"] = appErr.Message
		body["code"] = appErr.Code
		if len(appErr.Metadata) > 0 {
			body["metadata"] = appErr.Metadata
		}
	}

	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid_json", "Invalid JSON format", err)
	}
	return nil
}

// RequestID returns the id chi assigned to the request.
func RequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return chimiddleware.GetReqID(r.Context())
}
