package handler

// RESPONSE HELPERS:
// Every endpoint answers with the same envelope so the frontend always knows
// what fields to expect:
//
//	success: {"success": true,  "message": "...", "data": ...}
//	failure: {"success": false, "message": "...", "errors": [{"field": "...", "message": "..."}]}
//
// "message", "data" and "errors" are omitted when empty.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/codesnip/internal/apperror"
)

// maxBodyBytes caps JSON request bodies. The largest legal snippet is
// 50000 characters of code, far below this.
const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool                  `json:"success"`
	Message string                `json:"message,omitempty"`
	Data    any                   `json:"data,omitempty"`
	Errors  []apperror.FieldError `json:"errors,omitempty"`
}

// writeJSON sends v with the given status.
//
// HEADER ORDER MATTERS: headers and status must be set before the body is
// written; after the first Write they are already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent, all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError maps a domain error to an HTTP status and sends it.
//
// ERROR MAPPING lives here and only here. Services return apperror kinds;
// errors.Is walks the wrap chain to find the kind, so a service may wrap
// with fmt.Errorf("...: %w", err) freely.
//
// Anything that is not an *AppError is a bug or an infrastructure failure:
// it is logged with its full detail and the client gets a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, envelope{Message: "Server error"})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperror.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, apperror.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if appErr.Cause != nil {
		logger.Warn("request failed",
			slog.Int("status", status),
			slog.String("message", appErr.Message),
			slog.String("cause", appErr.Cause.Error()),
		)
	}

	body := envelope{Message: appErr.Message}
	if status == http.StatusBadRequest && len(appErr.Fields) > 0 {
		body.Errors = appErr.Fields
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a single JSON object from the request body into dst.
// Malformed or oversized bodies become a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("body", fmt.Sprintf("Request body must not exceed %d bytes", maxBodyBytes))
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// NotFound answers unknown routes with the standard envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{Message: "Route not found"})
}

// MethodNotAllowed answers known paths hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "Method not allowed"})
}
