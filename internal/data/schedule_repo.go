package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/skycourier/skycourier/internal/data/pgxutil"
	"github.com/skycourier/skycourier/internal/domain/model"
)

// ScheduleRepo provides database operations for schedule management.
type ScheduleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduleRepo creates a new ScheduleRepo instance with the given database connection.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewScheduleRepoWithTimeProvider creates a ScheduleRepo with a custom TimeProvider (useful for testing).
func NewScheduleRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ScheduleRepo {
	return &ScheduleRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const scheduleColumns = `
  id,
  recipient,
  subject,
  due_at,
  timezone,
  latitude,
  longitude,
  status,
  attempt_count,
  last_error,
  created_at,
  updated_at
`

// Create inserts a new pending schedule and returns the stored record.
func (r *ScheduleRepo) Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	if req == nil {
		return nil, errors.New("create request is required")
	}

	now := r.timeProvider.Now().UTC()
	lat, lon := req.Coords()
	schedule := &model.Schedule{
		ID:        uuid.NewString(),
		Recipient: req.Recipient,
		Subject:   req.Subject,
		DueAt:     req.DueAt,
		Timezone:  req.Timezone,
		Latitude:  lat,
		Longitude: lon,
		Status:    model.ScheduleStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO schedules (
			id, recipient, subject, due_at, timezone, latitude, longitude,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`
	_, err := r.DB.ExecContext(ctx, query,
		schedule.ID,
		schedule.Recipient,
		schedule.Subject,
		schedule.DueAt,
		schedule.Timezone,
		schedule.Latitude,
		schedule.Longitude,
		schedule.Status,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}

	return schedule, nil
}

// GetByID fetches one schedule. Returns model.ErrScheduleNotFound when absent.
func (r *ScheduleRepo) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	row := r.DB.QueryRowContext(ctx, query, id)
	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule by id: %w", err)
	}
	return schedule, nil
}

// List returns schedules ordered by creation time, optionally filtered by status.
func (r *ScheduleRepo) List(ctx context.Context, opts model.ScheduleListOptions) ([]model.Schedule, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	clauses := []string{}
	args := []any{}
	if opts.Status != "" {
		args = append(args, opts.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return r.collectSchedules(ctx, query, args...)
}

// FindPending returns pending schedules after the cursor position, oldest
// first, up to limit. The keyset lets the dispatcher page through the whole
// pending set in one pass; due-ness is evaluated by the caller, this query
// deliberately does not.
func (r *ScheduleRepo) FindPending(
	ctx context.Context,
	cursor model.PendingCursor,
	limit int,
) ([]model.Schedule, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = 'pending' AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`
	return r.collectSchedules(ctx, query, limit, cursor.CreatedAt.UTC(), cursor.ID)
}

// collectSchedules runs a schedule query through the pgx bridge so rows map
// via pgx v5 struct scanning.
func (r *ScheduleRepo) collectSchedules(ctx context.Context, query string, args ...any) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToSchedule)
		if collectErr != nil {
			return collectErr
		}
		schedules = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	return schedules, nil
}

// MarkSent moves a schedule from pending to sent.
// Return semantics:
//   - (true, nil): this caller won the transition
//   - (false, nil): the schedule was no longer pending (already sent,
//     cancelled, or failed by a competing writer)
//   - (false, err): update failed due to error
func (r *ScheduleRepo) MarkSent(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.casStatus(ctx, id, model.ScheduleStatusSent, now)
}

// Cancel moves a schedule from pending to cancelled with the same
// pending-guarded semantics as MarkSent.
func (r *ScheduleRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return r.casStatus(ctx, id, model.ScheduleStatusCancelled, r.timeProvider.Now())
}

// casStatus is the conditional status update every terminal transition goes
// through: it only succeeds while the row is still pending, which is what
// serializes overlapping dispatch cycles and the cancel interface.
func (r *ScheduleRepo) casStatus(
	ctx context.Context,
	id string,
	status model.ScheduleStatus,
	now time.Time,
) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE schedules
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, status, now.UTC())
	if err != nil {
		return false, fmt.Errorf("update schedule status to %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordDeliveryFailure increments the attempt counter and stores the error.
// Once the counter reaches MaxAttempts the schedule transitions to the
// terminal failed status; otherwise it stays pending for the next cycle.
// Returns the resulting status, or ("", nil) when the row was no longer
// pending at commit time.
func (r *ScheduleRepo) RecordDeliveryFailure(
	ctx context.Context,
	p model.RecordFailureParams,
) (model.ScheduleStatus, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var status model.ScheduleStatus
	err := r.DB.QueryRowContext(ctx, `
		UPDATE schedules
		SET attempt_count = attempt_count + 1,
		    last_error = $2,
		    status = CASE WHEN attempt_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING status
	`, p.ID, p.Reason, p.MaxAttempts, r.timeProvider.Now().UTC()).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("record delivery failure: %w", err)
	}
	return status, nil
}

// Delete removes a schedule entirely. Returns false when no row matched.
func (r *ScheduleRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// scheduleRow matches the schedules table exactly so pgx.RowToStructByName works.
type scheduleRow struct {
	ID           string         `db:"id"`
	Recipient    string         `db:"recipient"`
	Subject      string         `db:"subject"`
	DueAt        string         `db:"due_at"`
	Timezone     string         `db:"timezone"`
	Latitude     float64        `db:"latitude"`
	Longitude    float64        `db:"longitude"`
	Status       string         `db:"status"`
	AttemptCount int            `db:"attempt_count"`
	LastError    sql.NullString `db:"last_error"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (row *scheduleRow) toDomain() model.Schedule {
	schedule := model.Schedule{
		ID:           row.ID,
		Recipient:    row.Recipient,
		Subject:      row.Subject,
		DueAt:        row.DueAt,
		Timezone:     row.Timezone,
		Latitude:     row.Latitude,
		Longitude:    row.Longitude,
		Status:       model.ScheduleStatus(row.Status),
		AttemptCount: row.AttemptCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.LastError.Valid {
		lastError := row.LastError.String
		schedule.LastError = &lastError
	}
	return schedule
}

// rowToSchedule maps a pgx row to model.Schedule using pgx v5 generics.
func rowToSchedule(row pgx.CollectableRow) (model.Schedule, error) {
	dbRow, err := pgx.RowToStructByName[scheduleRow](row)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("scan schedule row: %w", err)
	}
	return dbRow.toDomain(), nil
}

// scanSchedule scans a database/sql row into a Schedule.
func scanSchedule(row *sql.Row) (*model.Schedule, error) {
	var dbRow scheduleRow
	err := row.Scan(
		&dbRow.ID,
		&dbRow.Recipient,
		&dbRow.Subject,
		&dbRow.DueAt,
		&dbRow.Timezone,
		&dbRow.Latitude,
		&dbRow.Longitude,
		&dbRow.Status,
		&dbRow.AttemptCount,
		&dbRow.LastError,
		&dbRow.CreatedAt,
		&dbRow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	schedule := dbRow.toDomain()
	return &schedule, nil
}
