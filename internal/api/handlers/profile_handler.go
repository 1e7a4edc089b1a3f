package handlers

import (
	"log/slog"
	"net/http"

	middleware "github.com/markdave123-py/SupraChat/internal/api/middlewares"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
	"github.com/markdave123-py/SupraChat/internal/services"
)

type ProfileHandler struct {
	users  *services.UserService
	logger *slog.Logger
}

func NewProfileHandler(users *services.UserService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{users: users, logger: logger}
}

func (h *ProfileHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	var req models.ProfileUpsert
	if !decode(w, r, &req) {
		return
	}
	if err := h.users.UpsertProfile(r.Context(), caller, req); err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.users.ListProfiles(r.Context())
	if err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Setup creates any missing tables.
func (h *ProfileHandler) Setup(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Bootstrap(r.Context()); err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	h.logger.Info("schema setup completed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
