// Package service provides the business logic for the skycourier scheduling
// system.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/skycourier/skycourier/internal/compose"
	"github.com/skycourier/skycourier/internal/core"
	"github.com/skycourier/skycourier/internal/data"
	"github.com/skycourier/skycourier/internal/domain/duetime"
	"github.com/skycourier/skycourier/internal/domain/model"
	"github.com/skycourier/skycourier/internal/mail"
	"github.com/skycourier/skycourier/internal/weather"
)

// DispatcherService drives one dispatch pass: load pending schedules, decide
// which are due, enrich, render, deliver, and commit the terminal transition.
// Failures are isolated per schedule; a pass never aborts because one
// schedule misbehaved.
type DispatcherService struct {
	schedules    core.ScheduleRepository
	deliveryLog  core.DeliveryLogRepository
	weather      weather.Fetcher
	sender       mail.Sender
	cfg          core.DispatcherConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// DispatcherServiceOptions holds the dependencies for creating a DispatcherService.
type DispatcherServiceOptions struct {
	Schedules    core.ScheduleRepository
	DeliveryLog  core.DeliveryLogRepository
	Weather      weather.Fetcher
	Sender       mail.Sender
	Config       *core.DispatcherConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewDispatcherService creates a new DispatcherService with the given dependencies.
func NewDispatcherService(opts DispatcherServiceOptions) *DispatcherService {
	if opts.Schedules == nil {
		panic("schedule repository is required")
	}
	if opts.DeliveryLog == nil {
		panic("delivery log repository is required")
	}
	if opts.Weather == nil {
		panic("weather fetcher is required")
	}
	if opts.Sender == nil {
		panic("mail sender is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Config == nil {
		defaultCfg := core.DefaultDispatcherConfig()
		opts.Config = &defaultCfg
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &DispatcherService{
		schedules:    opts.Schedules,
		deliveryLog:  opts.DeliveryLog,
		weather:      opts.Weather,
		sender:       opts.Sender,
		cfg:          *opts.Config,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}
}

// Tick runs one dispatch pass against the given instant and returns the
// number of schedules delivered. The pending set is read in BatchSize pages
// behind a keyset cursor until exhausted, so every pending schedule is
// evaluated each pass no matter how large the backlog grows.
//
// Per schedule:
//  1. Resolve the due instant; an unresolvable due time or zone is reported
//     and skipped, never treated as due.
//  2. Not due yet: untouched, re-evaluated next pass.
//  3. Fetch the weather reading; on failure the schedule stays pending and
//     is retried next pass.
//  4. Render and send; a send failure records a delivery attempt and the
//     schedule either stays pending or, at the attempt cap, goes to failed.
//  5. On send success, commit pending→sent via the conditional update and
//     append the log entry. A lost commit after a successful send is the
//     acknowledged duplicate-delivery window and is surfaced at error level.
func (s *DispatcherService) Tick(ctx context.Context, now time.Time) (int, error) {
	sent := 0
	var cursor model.PendingCursor
	for {
		pending, err := s.schedules.FindPending(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return sent, fmt.Errorf("find pending schedules: %w", err)
		}

		for i := range pending {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			if s.dispatchOne(ctx, pending[i], now) {
				sent++
			}
		}

		// A short page means the pending set is exhausted.
		if len(pending) < s.cfg.BatchSize {
			return sent, nil
		}
		last := pending[len(pending)-1]
		cursor = model.PendingCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// dispatchOne processes a single pending schedule. Returns true only when a
// message was delivered and the sent transition committed.
func (s *DispatcherService) dispatchOne(ctx context.Context, schedule model.Schedule, now time.Time) bool {
	logger := s.logger.With("schedule_id", schedule.ID)

	due, err := duetime.Resolve(schedule.DueAt, schedule.Timezone)
	if err != nil {
		logger.WarnContext(ctx, "skipping schedule with unresolvable due time",
			"error", err, "due_at", schedule.DueAt, "timezone", schedule.Timezone)
		return false
	}
	if !duetime.IsDue(due, now) {
		return false
	}

	reading, err := s.weather.Current(ctx, weather.Coordinate{
		Latitude:  schedule.Latitude,
		Longitude: schedule.Longitude,
	})
	if err != nil {
		logger.WarnContext(ctx, "weather enrichment failed; schedule retried next cycle", "error", err)
		return false
	}

	body := compose.Render(schedule, reading)

	if sendErr := s.sender.Send(ctx, mail.Message{
		To:      schedule.Recipient,
		Subject: schedule.Subject,
		Body:    body,
	}); sendErr != nil {
		s.recordFailure(ctx, logger, schedule, sendErr)
		return false
	}

	return s.commitSent(ctx, commitParams{
		logger:   logger,
		schedule: schedule,
		body:     body,
		reading:  reading,
	})
}

// recordFailure books a failed send against the schedule's attempt count.
func (s *DispatcherService) recordFailure(
	ctx context.Context,
	logger *slog.Logger,
	schedule model.Schedule,
	sendErr error,
) {
	status, err := s.schedules.RecordDeliveryFailure(ctx, model.RecordFailureParams{
		ID:          schedule.ID,
		Reason:      sendErr.Error(),
		MaxAttempts: s.cfg.MaxDeliveryAttempts,
	})
	if err != nil {
		logger.ErrorContext(ctx, "recording delivery failure failed", "error", err, "send_error", sendErr)
		return
	}
	if status == model.ScheduleStatusFailed {
		logger.ErrorContext(ctx, "delivery attempts exhausted; schedule marked failed",
			"error", sendErr, "max_attempts", s.cfg.MaxDeliveryAttempts)
		return
	}
	logger.WarnContext(ctx, "delivery failed; schedule retried next cycle", "error", sendErr)
}

type commitParams struct {
	logger   *slog.Logger
	schedule model.Schedule
	body     string
	reading  *weather.Reading
}

// commitSent performs the post-send writes: the conditional status update and
// the log append. The message is already out, so every failure here is loud —
// it is the one window that can cause a duplicate real-world delivery.
func (s *DispatcherService) commitSent(ctx context.Context, p commitParams) bool {
	sentAt := s.timeProvider.Now()

	won, err := s.schedules.MarkSent(ctx, p.schedule.ID, sentAt)
	if err != nil {
		p.logger.ErrorContext(ctx,
			"status commit failed after successful send; schedule may be redelivered",
			"error", err)
		return false
	}
	if !won {
		// A concurrent cycle or a cancel committed first. The send
		// already happened; accepted race, no log entry from this pass.
		p.logger.WarnContext(ctx, "schedule no longer pending at commit time; send raced a concurrent transition")
		return false
	}

	entry := &model.DeliveryLogEntry{
		ScheduleID: p.schedule.ID,
		Recipient:  p.schedule.Recipient,
		Subject:    p.schedule.Subject,
		Body:       p.body,
		Weather:    marshalReading(p.reading),
		SentAt:     sentAt,
	}
	created, err := s.deliveryLog.Insert(ctx, entry)
	if err != nil {
		p.logger.ErrorContext(ctx, "delivery log append failed after status commit", "error", err)
		return true
	}
	if !created {
		p.logger.ErrorContext(ctx, "delivery log entry already present; duplicate send detected")
	}
	return true
}

func marshalReading(reading *weather.Reading) json.RawMessage {
	if reading == nil {
		return nil
	}
	encoded, err := json.Marshal(reading)
	if err != nil {
		return nil
	}
	return encoded
}
