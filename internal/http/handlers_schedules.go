// Package httpx provides HTTP handlers and utilities for the skycourier API.
package httpx

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/skycourier/skycourier/internal/domain/model"
	"github.com/skycourier/skycourier/internal/service"
)

// ScheduleHandlers provides HTTP handlers for schedule operations.
type ScheduleHandlers struct {
	Svc *service.ScheduleService
}

// CreateSchedule handles HTTP requests to register a new delivery.
func (h *ScheduleHandlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.CreateScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	schedule, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, "create_failed", err)
		return
	}

	WriteJSON(w, http.StatusCreated, schedule)
}

// ListSchedules handles HTTP requests to list schedules, optionally filtered
// by status via ?status=.
func (h *ScheduleHandlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	opts := model.ScheduleListOptions{
		Status: model.ScheduleStatus(r.URL.Query().Get("status")),
		Limit:  parseIntQuery(r, "limit", defaultListLimit),
		Offset: parseIntQuery(r, "offset", 0),
	}

	schedules, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, "list_failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// GetSchedule handles HTTP requests to fetch one schedule by ID.
func (h *ScheduleHandlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "get_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// CancelSchedule handles HTTP requests to cancel a pending schedule.
func (h *ScheduleHandlers) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Svc.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, "cancel_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.ScheduleStatusCancelled)})
}

// DeleteSchedule handles HTTP requests to delete a schedule.
func (h *ScheduleHandlers) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, "delete_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportSchedules handles HTTP requests to bulk-register schedules from a CSV
// upload. Accepts either a multipart form with a "file" field or a raw CSV
// body.
func (h *ScheduleHandlers) ImportSchedules(w http.ResponseWriter, r *http.Request) {
	body, err := importBody(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_upload", Err: err})
		return
	}
	defer body.Close()

	result, err := h.Svc.ImportCSV(r.Context(), body)
	if err != nil {
		writeServiceError(w, "import_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func importBody(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New(`multipart upload must carry a "file" field`)
	}
	return file, nil
}

// writeServiceError maps service-layer errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, errCode string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: errCode, Err: err})
	case errors.Is(err, model.ErrScheduleNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case errors.Is(err, service.ErrScheduleNotPending):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "not_pending", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: errCode, Err: err})
	}
}
