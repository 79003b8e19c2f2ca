package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/skycourier/skycourier/internal/core"
	"github.com/skycourier/skycourier/internal/domain/model"
)

// ErrScheduleNotPending is returned when a cancel targets a schedule that has
// already reached a terminal status.
var ErrScheduleNotPending = errors.New("schedule is not pending")

// ScheduleService handles schedule registration, lookup, cancellation, and
// bulk import.
type ScheduleService struct {
	schedules   core.ScheduleRepository
	deliveryLog core.DeliveryLogRepository
	logger      *slog.Logger
}

// ScheduleServiceOptions holds the dependencies for creating a ScheduleService.
type ScheduleServiceOptions struct {
	Schedules   core.ScheduleRepository
	DeliveryLog core.DeliveryLogRepository
	Logger      *slog.Logger
}

// NewScheduleService creates a new ScheduleService with the given dependencies.
func NewScheduleService(opts ScheduleServiceOptions) *ScheduleService {
	if opts.Schedules == nil {
		panic("schedule repository is required")
	}
	if opts.DeliveryLog == nil {
		panic("delivery log repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ScheduleService{
		schedules:   opts.Schedules,
		deliveryLog: opts.DeliveryLog,
		logger:      opts.Logger,
	}
}

// ValidationError marks a rejected request so the transport layer can map it
// to a client error instead of a server error.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Create normalizes, validates, and persists a new pending schedule.
func (s *ScheduleService) Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	schedule, err := s.schedules.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	s.logger.InfoContext(ctx, "schedule created",
		"schedule_id", schedule.ID, "due_at", schedule.DueAt, "timezone", schedule.Timezone)
	return schedule, nil
}

// GetByID returns a schedule by ID.
func (s *ScheduleService) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// List returns schedules, optionally filtered by status.
func (s *ScheduleService) List(ctx context.Context, opts model.ScheduleListOptions) ([]model.Schedule, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, &ValidationError{Err: fmt.Errorf("invalid status %q", opts.Status)}
	}
	return s.schedules.List(ctx, opts)
}

// Cancel moves a pending schedule to cancelled. A schedule that already
// reached a terminal status is reported as ErrScheduleNotPending; cancellation
// never rewrites history.
func (s *ScheduleService) Cancel(ctx context.Context, id string) error {
	won, err := s.schedules.Cancel(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	if won {
		s.logger.InfoContext(ctx, "schedule cancelled", "schedule_id", id)
		return nil
	}
	// Distinguish missing from already-terminal for the caller.
	if _, err := s.schedules.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrScheduleNotPending
}

// Delete removes a schedule outright. Delivery log entries are kept; the log
// is the permanent record of what actually went out.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	removed, err := s.schedules.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if !removed {
		return model.ErrScheduleNotFound
	}
	s.logger.InfoContext(ctx, "schedule deleted", "schedule_id", id)
	return nil
}

// Logs returns delivery log entries, newest first.
func (s *ScheduleService) Logs(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error) {
	return s.deliveryLog.List(ctx, limit, offset)
}

// LogsBySchedule returns the delivery record for one schedule.
func (s *ScheduleService) LogsBySchedule(ctx context.Context, scheduleID string) ([]model.DeliveryLogEntry, error) {
	return s.deliveryLog.ListBySchedule(ctx, scheduleID)
}

// ImportResult summarizes a bulk CSV import.
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportCSV reads a header-mapped CSV stream and registers one schedule per
// valid row. Invalid rows are skipped and reported; a bad row never aborts
// the rest of the file.
//
// Recognized headers: recipient, subject, scheduled_time (or due_at),
// timezone, latitude, longitude. Missing timezone defaults to UTC, missing
// coordinates to the default location, same as the JSON interface.
func (s *ScheduleService) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("read csv header: %w", err)}
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"recipient", "subject"} {
		if _, ok := columns[required]; !ok {
			return nil, &ValidationError{Err: fmt.Errorf("csv is missing required column %q", required)}
		}
	}
	if _, ok := columns["scheduled_time"]; !ok {
		if _, ok := columns["due_at"]; !ok {
			return nil, &ValidationError{Err: errors.New(`csv is missing required column "scheduled_time"`)}
		}
	}

	result := &ImportResult{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		req := requestFromRecord(columns, record)
		if _, err := s.Create(ctx, req); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		result.Created++
	}

	s.logger.InfoContext(ctx, "csv import finished",
		"created", result.Created, "skipped", result.Skipped)
	return result, nil
}

func requestFromRecord(columns map[string]int, record []string) *model.CreateScheduleRequest {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	dueAt := field("scheduled_time")
	if dueAt == "" {
		dueAt = field("due_at")
	}

	req := &model.CreateScheduleRequest{
		Recipient: field("recipient"),
		Subject:   field("subject"),
		DueAt:     dueAt,
		Timezone:  field("timezone"),
	}
	// Blank cells stay nil so Normalize applies the default location.
	if raw := field("latitude"); raw != "" {
		var lat model.Coordinate
		if err := lat.UnmarshalJSON([]byte(raw)); err == nil {
			req.Latitude = &lat
		}
	}
	if raw := field("longitude"); raw != "" {
		var lon model.Coordinate
		if err := lon.UnmarshalJSON([]byte(raw)); err == nil {
			req.Longitude = &lon
		}
	}
	return req
}
