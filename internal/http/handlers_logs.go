package httpx

import (
	"net/http"

	"github.com/skycourier/skycourier/internal/service"
)

// LogHandlers provides HTTP handlers for delivery log queries.
type LogHandlers struct {
	Svc *service.ScheduleService
}

// ListLogs handles HTTP requests to list delivery log entries, newest first.
func (h *LogHandlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Svc.Logs(r.Context(), parseIntQuery(r, "limit", defaultListLimit), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeServiceError(w, "list_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// ListScheduleLogs handles HTTP requests to fetch the delivery record of one
// schedule.
func (h *LogHandlers) ListScheduleLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Svc.LogsBySchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "list_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
