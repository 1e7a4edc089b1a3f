package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/SupraChat/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, core.BackendError{Code: code, Message: msg})
}

// writeBackendError reports err with its code. Unknown errors are logged
// and hidden behind "internal".
func writeBackendError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var backendErr *core.BackendError
	if !errors.As(err, &backendErr) {
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, core.CodeInternal, "internal error")
		return
	}
	writeJSON(w, statusFor(backendErr.Code), backendErr)
}

func statusFor(code string) int {
	switch code {
	case core.CodeInvalid:
		return http.StatusBadRequest
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeNotFound, core.CodeUndefinedTable, core.CodeTableNotInCache:
		return http.StatusNotFound
	case core.CodeConflict, core.CodeUniqueViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalid, "invalid body")
		return false
	}
	return true
}
