// Package apierrors defines the relay's JSON error surface.
//
// Every fatal failure carries a stable Code so the browser client can pick
// the right localized apology without parsing free-text messages.
package apierrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Stable error codes. These are part of the client contract; do not rename.
const (
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeConfigMissing = "config_missing"
	CodeUpstream      = "upstream_error"
	CodeInternal      = "internal_error"
)

var (
	ErrMissingAPIKey = errors.New("completion API key not configured")
	ErrEmptyMessage  = errors.New("message must not be empty")
)

type jsonError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSONError writes a JSON error body with the given status and code.
// It must only be called before any stream bytes have been written.
func WriteJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Code:    code,
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}
