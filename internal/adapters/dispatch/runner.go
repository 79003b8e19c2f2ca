// Package dispatch provides the adapter that drives dispatch cycles on a
// fixed cadence.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skycourier/skycourier/internal/data"
)

// Dispatcher runs one dispatch pass against the given instant.
type Dispatcher interface {
	Tick(ctx context.Context, now time.Time) (int, error)
}

// DefaultInterval is the dispatch cadence when none is configured.
const DefaultInterval = time.Minute

// Runner drives Dispatcher.Tick on a fixed interval. Cycles never overlap:
// when a pass outlives the interval the next firing is skipped, so a slow
// mail server can not stack concurrent passes against the same pending set.
type Runner struct {
	dispatcher   Dispatcher
	interval     time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Dispatcher   Dispatcher
	Interval     time.Duration
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewRunner creates a new dispatch runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		dispatcher:   opts.Dispatcher,
		interval:     opts.Interval,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}, nil
}

// Run starts the cadence, fires one immediate pass, and blocks until the
// context is cancelled. In-flight passes are waited for on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	cronLogger := &slogCronLogger{logger: r.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := c.AddFunc(spec, func() { r.pass(ctx) }); err != nil {
		return fmt.Errorf("register dispatch cadence %q: %w", spec, err)
	}

	r.logger.InfoContext(ctx, "starting dispatch runner", "interval", r.interval.String())

	// Catch up immediately instead of waiting out the first interval.
	r.pass(ctx)

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	r.logger.Info("dispatch runner stopped")
	return nil
}

func (r *Runner) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := r.timeProvider.Now()
	sent, err := r.dispatcher.Tick(ctx, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "dispatch cycle failed", "error", err)
		return
	}
	if sent > 0 {
		r.logger.InfoContext(ctx, "dispatch cycle complete", "sent", sent)
	}
}

// slogCronLogger adapts slog to the cron logging interface.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
