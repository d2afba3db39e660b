package web

// errors.go turns errors into HTTP responses.
//
// The technical error is logged with the request id; the client gets the
// mapped UserMessage as JSON (API clients), an HTMX fragment, or a full HTML
// page.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/formingest/internal/ingest"
	"github.com/JonMunkholm/formingest/internal/ledger"
	"github.com/JonMunkholm/formingest/internal/logging"
	"github.com/JonMunkholm/formingest/internal/web/templates"
)

// ErrorResponse is the JSON body of API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the user-facing message with statusCode.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	msg := MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
	case wantsJSON(r):
		respondErrorJSON(w, msg, statusCode)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		templates.Message(statusCode, msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the response status for an error.
func statusFor(err error) int {
	switch {
	case ingest.IsLimit(err), errors.Is(err, ingest.ErrFilesLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUploadTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ingest.ErrMalformed), errors.Is(err, ingest.ErrNotMultipart):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ingestFailure answers a failed ingestion. The rest of the body is never
// read, so the connection is closed after the response.
func ingestFailure(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Connection", "close")
	respondError(w, r, err, statusFor(err))
}

// uploadBusy answers requests that found no ingestion slot.
func uploadBusy(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Retry-After", "5")
	if r.ContentLength != 0 {
		w.Header().Set("Connection", "close")
	}
	respondError(w, r, err, http.StatusServiceUnavailable)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client prefers JSON. API routes default to
// JSON.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// writeJSON encodes v with status. Encoding errors are only logged since the
// header is already out.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
