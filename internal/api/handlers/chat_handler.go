package handlers

import (
	"log/slog"
	"net/http"

	middleware "github.com/markdave123-py/SupraChat/internal/api/middlewares"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
	"github.com/markdave123-py/SupraChat/internal/services"
)

// ChatHandler serves the messages table.
type ChatHandler struct {
	messages *services.MessageService
	logger   *slog.Logger
}

func NewChatHandler(messages *services.MessageService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{messages: messages, logger: logger}
}

// SendMessage inserts one message and returns the stored row.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	var req models.NewMessage
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.messages.Send(r.Context(), caller, req)
	if err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages returns the conversation of ?user_a= and ?user_b=, oldest first.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	msgs, err := h.messages.Conversation(r.Context(), caller, q.Get("user_a"), q.Get("user_b"))
	if err != nil {
		writeBackendError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
