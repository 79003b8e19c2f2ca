package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/skycourier/skycourier/internal/data/pgxutil"
	"github.com/skycourier/skycourier/internal/domain/model"
)

// DeliveryLogRepo provides append-only storage for delivery log entries.
type DeliveryLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo instance with the given database connection.
func NewDeliveryLogRepo(db *sql.DB) *DeliveryLogRepo {
	return &DeliveryLogRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

const deliveryLogColumns = `
  id,
  schedule_id,
  recipient,
  subject,
  body,
  weather,
  sent_at
`

// Insert appends one log entry. The table carries a unique constraint on
// schedule_id, so a resend after a lost status commit can never produce a
// second row.
// Return semantics:
//   - (true, nil): entry inserted
//   - (false, nil): an entry for this schedule already exists
//   - (false, err): insert failed due to error
func (r *DeliveryLogRepo) Insert(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error) {
	if entry == nil {
		return false, errors.New("log entry is required")
	}
	if entry.ScheduleID == "" {
		return false, errors.New("schedule id is required")
	}

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = r.timeProvider.Now()
	}

	weather := entry.Weather
	if len(weather) == 0 {
		weather = []byte("null")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO delivery_log (id, schedule_id, recipient, subject, body, weather, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, entry.ScheduleID, entry.Recipient, entry.Subject, entry.Body, weather, sentAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("insert delivery log entry: %w", err)
	}

	entry.ID = id
	entry.SentAt = sentAt
	return true, nil
}

// List returns log entries newest first.
func (r *DeliveryLogRepo) List(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + deliveryLogColumns + `
		FROM delivery_log
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.collectEntries(ctx, query, limit, offset)
}

// ListBySchedule returns the log entries for one schedule (at most one under
// the unique constraint, but the query does not assume it).
func (r *DeliveryLogRepo) ListBySchedule(ctx context.Context, scheduleID string) ([]model.DeliveryLogEntry, error) {
	query := `
		SELECT ` + deliveryLogColumns + `
		FROM delivery_log
		WHERE schedule_id = $1
		ORDER BY sent_at DESC
	`
	return r.collectEntries(ctx, query, scheduleID)
}

func (r *DeliveryLogRepo) collectEntries(
	ctx context.Context,
	query string,
	args ...any,
) ([]model.DeliveryLogEntry, error) {
	var entries []model.DeliveryLogEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToDeliveryLogEntry)
		if collectErr != nil {
			return collectErr
		}
		entries = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	return entries, nil
}

// deliveryLogRow matches the delivery_log table exactly so pgx.RowToStructByName works.
type deliveryLogRow struct {
	ID         string    `db:"id"`
	ScheduleID string    `db:"schedule_id"`
	Recipient  string    `db:"recipient"`
	Subject    string    `db:"subject"`
	Body       string    `db:"body"`
	Weather    []byte    `db:"weather"`
	SentAt     time.Time `db:"sent_at"`
}

func rowToDeliveryLogEntry(row pgx.CollectableRow) (model.DeliveryLogEntry, error) {
	dbRow, err := pgx.RowToStructByName[deliveryLogRow](row)
	if err != nil {
		return model.DeliveryLogEntry{}, fmt.Errorf("scan delivery log row: %w", err)
	}
	entry := model.DeliveryLogEntry{
		ID:         dbRow.ID,
		ScheduleID: dbRow.ScheduleID,
		Recipient:  dbRow.Recipient,
		Subject:    dbRow.Subject,
		Body:       dbRow.Body,
		SentAt:     dbRow.SentAt,
	}
	if len(dbRow.Weather) > 0 {
		entry.Weather = dbRow.Weather
	}
	return entry, nil
}
