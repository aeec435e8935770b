// Package types holds the wire-level error envelope shared by the HTTP
// service and its client.
package types

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// APIError is the structured error returned to callers.
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

// Error codes. Clients switch on these rather than on HTTP status.
const (
	CodePolicyViolation = "POLICY_VIOLATION"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)

// ──────────────────────────────────────────────────────────────────────────────
// Common error constructors
// ──────────────────────────────────────────────────────────────────────────────

// ErrPolicyViolation reports a transition refused by governance rules, such
// as approving past the entitlement cap or with an expired license.
func ErrPolicyViolation(reason string) *APIError {
	return &APIError{Code: CodePolicyViolation, Message: reason, HTTPCode: http.StatusUnprocessableEntity}
}

func ErrInvalidInput(msg string) *APIError {
	return &APIError{Code: CodeInvalidInput, Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: CodeUnauthorized, Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrForbidden(msg string) *APIError {
	return &APIError{Code: CodeForbidden, Message: msg, HTTPCode: http.StatusForbidden}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: CodeNotFound, Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrConflict(msg string) *APIError {
	return &APIError{Code: CodeConflict, Message: msg, HTTPCode: http.StatusConflict}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: CodeInternal, Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: CodeRateLimited, Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}
