// Package core defines the port interfaces the service layer depends on.
// Concrete implementations live in internal/data; services never import them
// directly for anything but the TimeProvider.
package core

import (
	"context"
	"time"

	"github.com/skycourier/skycourier/internal/domain/model"
)

// ScheduleRepository is the job-store boundary for schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error)
	GetByID(ctx context.Context, id string) (*model.Schedule, error)
	List(ctx context.Context, opts model.ScheduleListOptions) ([]model.Schedule, error)

	// FindPending returns pending schedules strictly after the cursor
	// position, oldest first, up to limit. Callers page with the cursor
	// until a short page signals exhaustion.
	FindPending(ctx context.Context, cursor model.PendingCursor, limit int) ([]model.Schedule, error)

	// MarkSent and Cancel are pending-guarded conditional updates: they
	// return (false, nil) when the row was no longer pending, which is the
	// serialization point between overlapping dispatch cycles and the
	// cancel interface.
	MarkSent(ctx context.Context, id string, now time.Time) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)

	RecordDeliveryFailure(ctx context.Context, p model.RecordFailureParams) (model.ScheduleStatus, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// DeliveryLogRepository is the append-only delivery-log boundary.
type DeliveryLogRepository interface {
	Insert(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error)
	List(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]model.DeliveryLogEntry, error)
}
