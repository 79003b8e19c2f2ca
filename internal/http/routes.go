package httpx

import (
	"log/slog"
	"net/http"

	"github.com/skycourier/skycourier/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Schedules *service.ScheduleService
	Logger    *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	scheduleHandlers := &ScheduleHandlers{Svc: services.Schedules}
	logHandlers := &LogHandlers{Svc: services.Schedules}

	mux.HandleFunc("POST /api/schedules", scheduleHandlers.CreateSchedule)
	mux.HandleFunc("GET /api/schedules", scheduleHandlers.ListSchedules)
	mux.HandleFunc("POST /api/schedules/import", scheduleHandlers.ImportSchedules)
	mux.HandleFunc("GET /api/schedules/{id}", scheduleHandlers.GetSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}/cancel", scheduleHandlers.CancelSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", scheduleHandlers.DeleteSchedule)
	mux.HandleFunc("GET /api/schedules/{id}/logs", logHandlers.ListScheduleLogs)
	mux.HandleFunc("GET /api/logs", logHandlers.ListLogs)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Recover(logger)(Logging(logger)(mux))
}
