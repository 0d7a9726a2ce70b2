package handler

// RESPONSE SHAPE:
// Every response body is JSON. Successes carry "success": true plus their
// payload; failures always look like
//
//	{"success": false, "error": "<message>", "details": [...], "attemptsRemaining": N}
//
// where details appears only for validation failures and attemptsRemaining
// only for a wrong OTP.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/incubator/internal/apperror"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success           bool     `json:"success"`
	Error             string   `json:"error"`
	Details           []string `json:"details,omitempty"`
	AttemptsRemaining *int     `json:"attemptsRemaining,omitempty"`
}

// Mode carries the environment-dependent parts of a response.
type Mode struct {
	// Production marks cookies Secure and keeps issued OTPs out of responses.
	Production bool
	// Verbose shows the raw message of unexpected errors instead of
	// "internal server error". Status codes never depend on it.
	Verbose bool
}

// responder writes JSON and maps domain errors to HTTP.
type responder struct {
	logger *slog.Logger
	dev    bool
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set afterwards is ignored.
func (rs responder) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			rs.logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error kind to its HTTP status.
//
// ERROR MAPPING:
// The service returns apperror kinds and never sees HTTP. errors.Is walks
// the wrap chain, so fmt.Errorf("...: %w", appErr) still maps correctly.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrDuplicate),
		errors.Is(err, apperror.ErrInvalidCode),
		errors.Is(err, apperror.ErrExpired),
		errors.Is(err, apperror.ErrLocked),
		errors.Is(err, apperror.ErrIdentityConflict):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrInvalidCredential),
		errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (rs responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rs.writeErrorStatus(w, r, errorStatus(err), err)
}

func (rs responder) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorResponse{Error: "internal server error"}

	var appErr *apperror.AppError
	switch {
	case status == http.StatusInternalServerError:
		if rs.dev {
			body.Error = err.Error()
		}
	case errors.As(err, &appErr):
		body.Error = appErr.Message
		if errors.Is(err, apperror.ErrValidation) {
			body.Details = appErr.Details
		}
		if n, ok := appErr.Extra["attemptsRemaining"].(int); ok {
			body.AttemptsRemaining = &n
		}
	default:
		body.Error = http.StatusText(status)
		if rs.dev {
			body.Error = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	rs.writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored; an
// empty or malformed body is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.ValidationFailed("body", "request body too large")
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}
