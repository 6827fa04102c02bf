package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler is the supervisor over every named periodic job. Construction
// is explicit (New), as is starting and stopping — the composition root
// owns its lifetime, the same way internal/sync.Engine and
// internal/workflow.Store are constructed explicitly rather than reached
// via package-level singletons (spec §9).
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler. Jobs recover from panics and skip an overlapping
// run rather than piling up concurrent executions of the same job (spec
// §5: background tasks must not overlap themselves), both supplied by
// robfig/cron's job-wrapper chain rather than hand-rolled guards.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	adapter := slogCronLogger{logger: logger}
	c := cron.New(cron.WithChain(
		cron.Recover(adapter),
		cron.SkipIfStillRunning(adapter),
	))
	return &Scheduler{cron: c, logger: logger}
}

// AddJob registers fn to run on the given standard 5-field cron schedule
// spec (minute hour day-of-month month day-of-week). name identifies the
// job in logs only; duplicate names are permitted by robfig/cron but
// callers should keep them unique for readable logs.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("scheduled job completed", "job", name)
	})
	if err != nil {
		return fmt.Errorf("registering job %q: %w", name, err)
	}
	return nil
}

// Start begins running registered jobs on their schedules. Job closures
// observe ctx's cancellation as the parent of every run until Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop halts the schedule and blocks until any in-flight job run
// completes, per spec §9's explicit-cancellation requirement.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-stopCtx.Done()
}

// slogCronLogger adapts *slog.Logger to robfig/cron's Logger interface,
// the same narrow-adapter shape internal/audit.SlogLog uses for the
// external audit.Log interface.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
