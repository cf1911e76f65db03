package handler

// Response helpers. Every error body has the same shape:
//
//	{"error": "User bob not found", "code": "not_found"}
//
// "error" is the human-readable message the UI shows; "code" is stable and
// machine-readable.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/berri-graph/internal/apperror"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// writeJSON sends data with the given status. Headers must be set before
// the status is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrMisconfigured):
		return http.StatusInternalServerError, "configuration_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError translates err into a JSON error response. Errors that are
// not *apperror.AppError get a generic message so internals do not leak.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := statusFor(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "An internal error occurred",
			Code:  "internal_error",
		})
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error: appErr.Message,
		Code:  code,
		Field: appErr.Field,
	})
}
