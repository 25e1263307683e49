package handler

import (
	"net/http"

	"github.com/alanyoungcy/lendliquidator/internal/scheduler"
)

// LoopStatus exposes the epoch loop's summary.
type LoopStatus interface {
	Status() scheduler.Status
}

// StatusHandler serves the running mode and, when the epoch loop runs in this
// process, its summary.
type StatusHandler struct {
	mode   string
	wallet string
	loop   LoopStatus
}

// NewStatusHandler creates a StatusHandler. loop may be nil.
func NewStatusHandler(mode, wallet string, loop LoopStatus) *StatusHandler {
	return &StatusHandler{mode: mode, wallet: wallet, loop: loop}
}

// GetStatus responds with the mode, wallet and loop summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":   h.mode,
		"wallet": h.wallet,
	}
	if h.loop != nil {
		body["loop"] = h.loop.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
