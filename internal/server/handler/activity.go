package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// ActivityFeed returns the newest recorded activities as JSON documents.
type ActivityFeed interface {
	Recent(ctx context.Context, count int) ([][]byte, error)
}

// ActivityHandler serves recent program activity.
type ActivityHandler struct {
	feed   ActivityFeed
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(feed ActivityFeed, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{feed: feed, logger: logger}
}

// ListActivity returns the newest activities first.
// GET /api/activity?limit=20
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	payloads, err := h.feed.Recent(r.Context(), parseLimit(r, 20))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list activity failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	items := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		if json.Valid(p) {
			items = append(items, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}
