package core

import (
	"errors"
	"fmt"
)

// BackendError is a structured error returned by the hosted platform.
// Callers can use errors.As to extract it:
//
//	var backendErr *BackendError
//	if errors.As(err, &backendErr) { ... }
type BackendError struct {
	// Code is the provider error code (PostgreSQL SQLSTATE or a gateway code).
	Code string `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status code of the response, if any.
	StatusCode int `json:"-"`
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend: %s: %s", e.Code, e.Message)
}

// Backend error codes.
const (
	// CodeUndefinedTable is PostgreSQL's "relation does not exist".
	CodeUndefinedTable = "42P01"
	// CodeTableNotInCache is the REST layer's "table not found in schema cache".
	CodeTableNotInCache = "PGRST205"
	// CodeUniqueViolation is PostgreSQL's duplicate key error.
	CodeUniqueViolation = "23505"

	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInvalid      = "invalid_request"
	CodeConflict     = "conflict"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal"
)

// IsBackendError checks whether err is a *BackendError with the given code.
func IsBackendError(err error, code string) bool {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Code == code
	}
	return false
}

// IsSchemaMissing reports whether err means a required table does not exist.
func IsSchemaMissing(err error) bool {
	return IsBackendError(err, CodeUndefinedTable) || IsBackendError(err, CodeTableNotInCache)
}
