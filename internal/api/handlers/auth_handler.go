package handlers

import (
	"log/slog"
	"net/http"

	middleware "github.com/markdave123-py/SupraChat/internal/api/middlewares"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/services"
)

type AuthHandler struct {
	users  *services.UserService
	logger *slog.Logger
}

func NewAuthHandler(users *services.UserService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.users.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	h.logger.Info("user signed up", "user_id", sess.User.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// User echoes the identity of a valid token.
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Logout is acknowledged only; tokens are stateless and expire on their own.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
