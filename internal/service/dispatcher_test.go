package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycourier/skycourier/internal/core"
	"github.com/skycourier/skycourier/internal/data"
	"github.com/skycourier/skycourier/internal/domain/model"
	"github.com/skycourier/skycourier/internal/mail"
	"github.com/skycourier/skycourier/internal/weather"
)

// fakeScheduleRepo is an in-memory ScheduleRepository with the same
// pending-guarded update semantics as the Postgres implementation.
type fakeScheduleRepo struct {
	mu        sync.Mutex
	order     []string
	schedules map[string]*model.Schedule

	markSentErr error
	findErr     error
	findCalls   int
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{schedules: map[string]*model.Schedule{}}
}

// add stores a schedule, stamping creation times in insertion order so the
// pending cursor pages the same way the real table does.
func (f *fakeScheduleRepo) add(s model.Schedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := s
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).
			Add(time.Duration(len(f.order)) * time.Second)
	}
	f.schedules[s.ID] = &copied
	f.order = append(f.order, s.ID)
}

func (f *fakeScheduleRepo) get(id string) model.Schedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.schedules[id]
}

func (f *fakeScheduleRepo) Create(_ context.Context, req *model.CreateScheduleRequest) (*model.Schedule, error) {
	lat, lon := req.Coords()
	s := &model.Schedule{
		ID:        fmt.Sprintf("sched-%d", len(f.order)+1),
		Recipient: req.Recipient,
		Subject:   req.Subject,
		DueAt:     req.DueAt,
		Timezone:  req.Timezone,
		Latitude:  lat,
		Longitude: lon,
		Status:    model.ScheduleStatusPending,
	}
	f.add(*s)
	return s, nil
}

func (f *fakeScheduleRepo) GetByID(_ context.Context, id string) (*model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, model.ErrScheduleNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeScheduleRepo) List(_ context.Context, _ model.ScheduleListOptions) ([]model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Schedule, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.schedules[id])
	}
	return out, nil
}

func (f *fakeScheduleRepo) FindPending(
	_ context.Context,
	cursor model.PendingCursor,
	limit int,
) ([]model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.findCalls++
	var out []model.Schedule
	for _, id := range f.order {
		if len(out) >= limit {
			break
		}
		s, ok := f.schedules[id]
		if !ok || s.Status != model.ScheduleStatusPending {
			continue
		}
		if !afterCursor(s, cursor) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// afterCursor mirrors the (created_at, id) keyset comparison of the real
// pending query.
func afterCursor(s *model.Schedule, cursor model.PendingCursor) bool {
	if s.CreatedAt.After(cursor.CreatedAt) {
		return true
	}
	return s.CreatedAt.Equal(cursor.CreatedAt) && s.ID > cursor.ID
}

func (f *fakeScheduleRepo) MarkSent(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSentErr != nil {
		return false, f.markSentErr
	}
	s, ok := f.schedules[id]
	if !ok || s.Status != model.ScheduleStatusPending {
		return false, nil
	}
	s.Status = model.ScheduleStatusSent
	s.UpdatedAt = now
	return true, nil
}

func (f *fakeScheduleRepo) Cancel(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok || s.Status != model.ScheduleStatusPending {
		return false, nil
	}
	s.Status = model.ScheduleStatusCancelled
	return true, nil
}

func (f *fakeScheduleRepo) RecordDeliveryFailure(
	_ context.Context,
	p model.RecordFailureParams,
) (model.ScheduleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[p.ID]
	if !ok || s.Status != model.ScheduleStatusPending {
		return "", nil
	}
	s.AttemptCount++
	reason := p.Reason
	s.LastError = &reason
	if s.AttemptCount >= p.MaxAttempts {
		s.Status = model.ScheduleStatusFailed
	}
	return s.Status, nil
}

func (f *fakeScheduleRepo) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return false, nil
	}
	delete(f.schedules, id)
	return true, nil
}

// fakeDeliveryLog is an in-memory DeliveryLogRepository with the unique
// schedule_id guarantee of the real table.
type fakeDeliveryLog struct {
	mu        sync.Mutex
	entries   []model.DeliveryLogEntry
	insertErr error
}

func (f *fakeDeliveryLog) Insert(_ context.Context, entry *model.DeliveryLogEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	for _, existing := range f.entries {
		if existing.ScheduleID == entry.ScheduleID {
			return false, nil
		}
	}
	f.entries = append(f.entries, *entry)
	return true, nil
}

func (f *fakeDeliveryLog) List(_ context.Context, _, _ int) ([]model.DeliveryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DeliveryLogEntry(nil), f.entries...), nil
}

func (f *fakeDeliveryLog) ListBySchedule(_ context.Context, scheduleID string) ([]model.DeliveryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeliveryLogEntry
	for _, e := range f.entries {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDeliveryLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fakeFetcher returns a canned reading, with optional per-coordinate errors.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	errFor map[float64]error // keyed by latitude
}

func (f *fakeFetcher) Current(_ context.Context, coord weather.Coordinate) (*weather.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errFor[coord.Latitude]; ok && err != nil {
		return nil, err
	}
	return &weather.Reading{
		TemperatureC: 30,
		WindSpeedKPH: 10,
		ObservedAt:   time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC),
		Latitude:     coord.Latitude,
		Longitude:    coord.Longitude,
	}, nil
}

// fakeSender records sends and can fail a configurable number of times.
type fakeSender struct {
	mu      sync.Mutex
	sent    []mail.Message
	failFor map[string]error // keyed by recipient
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[msg.To]; ok && err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type dispatcherFixture struct {
	repo    *fakeScheduleRepo
	log     *fakeDeliveryLog
	fetcher *fakeFetcher
	sender  *fakeSender
	svc     *DispatcherService
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	cfg := core.DefaultDispatcherConfig()
	cfg.MaxDeliveryAttempts = 3
	return newDispatcherFixtureWithConfig(t, cfg)
}

func newDispatcherFixtureWithConfig(t *testing.T, cfg core.DispatcherConfig) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		repo:    newFakeScheduleRepo(),
		log:     &fakeDeliveryLog{},
		fetcher: &fakeFetcher{},
		sender:  &fakeSender{},
	}
	f.svc = NewDispatcherService(DispatcherServiceOptions{
		Schedules:    f.repo,
		DeliveryLog:  f.log,
		Weather:      f.fetcher,
		Sender:       f.sender,
		Config:       &cfg,
		TimeProvider: data.NewFixedTimeProvider(time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC)),
	})
	return f
}

func pendingSchedule(id, dueAt, zone string) model.Schedule {
	return model.Schedule{
		ID:        id,
		Recipient: id + "@example.com",
		Subject:   "weather update",
		DueAt:     dueAt,
		Timezone:  zone,
		Latitude:  25.276987,
		Longitude: 55.296249,
		Status:    model.ScheduleStatusPending,
	}
}

var tickInstant = time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC)

func TestTickSendsDueScheduleExactlyOnce(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("due", "2024-06-01T09:00:00", "Asia/Dubai"))

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, f.sender.sendCount())
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("due").Status)
	assert.Equal(t, 1, f.log.count())

	entries, err := f.log.ListBySchedule(context.Background(), "due")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "due@example.com", entries[0].Recipient)
	assert.Contains(t, entries[0].Body, "Current Weather Report")
	assert.NotEmpty(t, entries[0].Weather)
}

func TestTickLeavesFutureScheduleUntouched(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("future", "2024-06-01T09:00:01", "Asia/Dubai"))

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Zero(t, sent)
	assert.Zero(t, f.sender.sendCount())
	assert.Equal(t, model.ScheduleStatusPending, f.repo.get("future").Status)
	assert.Zero(t, f.log.count())
}

func TestTickBackToBackPassesAreIdempotent(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("due", "2024-06-01T09:00:00", "Asia/Dubai"))

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// Same clock, no new schedules: the second pass must not resend or relog.
	sent, err = f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, f.sender.sendCount())
	assert.Equal(t, 1, f.log.count())
}

func TestTickTimeZoneResolution(t *testing.T) {
	// 09:00 civil in Asia/Dubai is 05:00:00Z, not 09:00:00Z.
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("dubai", "2024-06-01T09:00:00", "Asia/Dubai"))

	sent, err := f.svc.Tick(context.Background(), tickInstant.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, sent, "not due one second before the zone-resolved instant")

	sent, err = f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "due exactly at the zone-resolved instant")
}

func TestTickEnrichmentFailureIsolation(t *testing.T) {
	f := newDispatcherFixture(t)
	broken := pendingSchedule("broken", "2024-06-01T04:00:00Z", "UTC")
	broken.Latitude = 10
	f.repo.add(broken)
	f.repo.add(pendingSchedule("healthy", "2024-06-01T04:00:00Z", "UTC"))

	f.fetcher.errFor = map[float64]error{
		10: &weather.FetchError{Kind: weather.FailureNetwork, Err: errors.New("unreachable")},
	}

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, model.ScheduleStatusPending, f.repo.get("broken").Status)
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("healthy").Status)
	assert.Equal(t, 1, f.log.count())
}

func TestTickUnresolvableDueTimeIsSkippedNotDue(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("bad-zone", "2024-06-01T09:00:00", "Nowhere/Atlantis"))
	f.repo.add(pendingSchedule("bad-time", "whenever", "UTC"))

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Zero(t, sent)
	assert.Zero(t, f.sender.sendCount())
	assert.Equal(t, model.ScheduleStatusPending, f.repo.get("bad-zone").Status)
	assert.Equal(t, model.ScheduleStatusPending, f.repo.get("bad-time").Status)
}

func TestTickDeliveryFailureCountsAttempts(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("bouncy", "2024-06-01T04:00:00Z", "UTC"))
	f.sender.failFor = map[string]error{"bouncy@example.com": errors.New("smtp 550")}

	// First two failed passes leave the schedule pending with attempts booked.
	for i := 0; i < 2; i++ {
		sent, err := f.svc.Tick(context.Background(), tickInstant)
		require.NoError(t, err)
		assert.Zero(t, sent)
	}
	got := f.repo.get("bouncy")
	assert.Equal(t, model.ScheduleStatusPending, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "smtp 550")

	// The third failure reaches MaxDeliveryAttempts and turns terminal.
	_, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	got = f.repo.get("bouncy")
	assert.Equal(t, model.ScheduleStatusFailed, got.Status)
	assert.Zero(t, f.log.count())

	// Terminal schedules are never re-evaluated.
	_, err = f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Equal(t, 3, f.repo.get("bouncy").AttemptCount)
}

func TestTickBatchContinuesPastSendFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("first", "2024-06-01T04:00:00Z", "UTC"))
	f.repo.add(pendingSchedule("second", "2024-06-01T04:00:00Z", "UTC"))
	f.sender.failFor = map[string]error{"first@example.com": errors.New("smtp refused")}

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, model.ScheduleStatusPending, f.repo.get("first").Status)
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("second").Status)
}

func TestTickDeliversDueScheduleBehindFutureBacklog(t *testing.T) {
	// Older future-dated schedules fill the first query page; the pass must
	// keep paging until the overdue schedule at the back of the set is
	// reached, not stop at the first page.
	cfg := core.DefaultDispatcherConfig()
	cfg.BatchSize = 2
	cfg.MaxDeliveryAttempts = 3
	f := newDispatcherFixtureWithConfig(t, cfg)

	for i := 0; i < 4; i++ {
		f.repo.add(pendingSchedule(fmt.Sprintf("future-%d", i), "2030-01-01T00:00:00Z", "UTC"))
	}
	f.repo.add(pendingSchedule("overdue", "2024-06-01T04:00:00Z", "UTC"))

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("overdue").Status)
	assert.Equal(t, 1, f.log.count())
	assert.GreaterOrEqual(t, f.repo.findCalls, 3, "pass must page past the first window")
	for i := 0; i < 4; i++ {
		assert.Equal(t, model.ScheduleStatusPending, f.repo.get(fmt.Sprintf("future-%d", i)).Status)
	}

	// Repeat passes stay stable: the backlog remains pending, no resend.
	sent, err = f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, f.sender.sendCount())
}

func TestTickCancellationRaceStaysConsistent(t *testing.T) {
	// A cancel that lands between the pending read and the sent commit wins
	// the status; the send may have happened, but the log must stay empty.
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("racy", "2024-06-01T04:00:00Z", "UTC"))

	_, err := f.repo.Cancel(context.Background(), "racy")
	require.NoError(t, err)

	// The dispatcher re-reads pending on Tick, so simulate the race by
	// driving dispatchOne with the stale pending snapshot directly.
	stale := pendingSchedule("racy", "2024-06-01T04:00:00Z", "UTC")
	delivered := f.svc.dispatchOne(context.Background(), stale, tickInstant)

	assert.False(t, delivered)
	assert.Equal(t, model.ScheduleStatusCancelled, f.repo.get("racy").Status)
	assert.Zero(t, f.log.count(), "cancelled schedule must not gain a log entry")
}

func TestConcurrentCommitsProduceOneLogEntry(t *testing.T) {
	// Two overlapping passes racing the same due schedule: the conditional
	// update lets exactly one commit, so exactly one log entry exists.
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("contested", "2024-06-01T04:00:00Z", "UTC"))
	stale := pendingSchedule("contested", "2024-06-01T04:00:00Z", "UTC")

	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- f.svc.dispatchOne(context.Background(), stale, tickInstant)
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one pass wins the sent transition")
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("contested").Status)
	assert.Equal(t, 1, f.log.count())
}

func TestTickStatusCommitFailureIsRetriedNextCycle(t *testing.T) {
	// The acknowledged at-least-once window: send succeeds, commit fails.
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("gap", "2024-06-01T04:00:00Z", "UTC"))
	f.repo.markSentErr = errors.New("connection reset")

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, f.sender.sendCount(), "message went out before the commit failed")
	assert.Zero(t, f.log.count())

	// Store recovers; the next pass redelivers (duplicate accepted) but the
	// unique log constraint still yields a single entry.
	f.repo.markSentErr = nil
	sent, err = f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, f.sender.sendCount())
	assert.Equal(t, 1, f.log.count())
}

func TestTickPropagatesFindPendingError(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.findErr = errors.New("store offline")

	_, err := f.svc.Tick(context.Background(), tickInstant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find pending schedules")
}

func TestTickLogAppendFailureDoesNotRollBackStatus(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(pendingSchedule("logless", "2024-06-01T04:00:00Z", "UTC"))
	f.log.insertErr = errors.New("log table gone")

	sent, err := f.svc.Tick(context.Background(), tickInstant)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, model.ScheduleStatusSent, f.repo.get("logless").Status)
}
