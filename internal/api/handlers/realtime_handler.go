package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/SupraChat/internal/api/middlewares"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/realtime"
)

// RealtimeHandler streams a hub topic as Server-Sent Events.
type RealtimeHandler struct {
	hub       *realtime.Hub
	logger    *slog.Logger
	keepAlive time.Duration
}

func NewRealtimeHandler(hub *realtime.Hub, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, logger: logger, keepAlive: 25 * time.Second}
}

// Stream handles GET /api/realtime/{topic}?presence_key=&changes=.
// presence_key, when given, must be the caller's own id.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	topic := chi.URLParam(r, "topic")
	presenceKey := r.URL.Query().Get("presence_key")
	if presenceKey != "" && presenceKey != caller.ID {
		writeError(w, http.StatusForbidden, core.CodeForbidden, "presence_key must be your own user id")
		return
	}
	filters, err := realtime.ParseFilters(r.URL.Query().Get("changes"))
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalid, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, core.CodeInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Join(topic, caller.ID, presenceKey, filters)
	defer h.hub.Leave(sub)
	h.logger.Debug("realtime stream opened", "topic", topic, "subscription_id", sub.ID)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("realtime stream closed", "topic", topic, "subscription_id", sub.ID)
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := realtime.FormatSSE(ev)
			if err != nil {
				h.logger.Warn("failed to format realtime event", "error", err)
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type trackRequest struct {
	SubscriptionID string         `json:"subscription_id"`
	Meta           map[string]any `json:"meta"`
}

// Track handles POST /api/realtime/{topic}/track.
func (h *RealtimeHandler) Track(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, core.CodeUnauthorized, "unauthorized")
		return
	}
	var req trackRequest
	if !decode(w, r, &req) {
		return
	}
	if !h.hub.Track(chi.URLParam(r, "topic"), req.SubscriptionID, caller.ID, req.Meta) {
		writeError(w, http.StatusNotFound, core.CodeNotFound, "unknown subscription or no presence key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
