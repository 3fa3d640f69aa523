package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req sensebox.RunRequest) (sensebox.Report, error)
}

// Scheduler periodically runs the pipeline for the configured cities.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	requests  []sensebox.RunRequest
	interval  time.Duration
	cronExpr  string
	timeout   time.Duration
	logger    *slog.Logger

	// base is cancelled on shutdown; every run derives its context from it.
	base context.Context
}

// New creates a new Scheduler. A non-empty cronExpr takes precedence over interval.
func New(requests []sensebox.RunRequest, interval time.Duration, cronExpr string, timeout time.Duration, runner Runner, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		requests:  requests,
		interval:  interval,
		cronExpr:  cronExpr,
		timeout:   timeout,
		logger:    logger,
		base:      context.Background(),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately. Cancelling ctx aborts in-flight runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.base = ctx
	if len(s.requests) == 0 {
		s.logger.Warn("scheduler: no cities configured; nothing to schedule")
		return nil
	}

	var job *gocron.Scheduler
	if s.cronExpr != "" {
		job = s.scheduler.Cron(s.cronExpr).StartImmediately()
	} else {
		minutes := int(s.interval.Minutes())
		if minutes <= 0 {
			minutes = 60
		}
		job = s.scheduler.Every(minutes).Minutes()
	}

	if _, err := job.Do(s.RunAll); err != nil {
		return fmt.Errorf("schedule pipeline job: %w", err)
	}

	s.scheduler.StartAsync()
	return nil
}

// RunAll runs the pipeline once per configured city, one after another.
// Failures are logged and do not stop the remaining cities.
func (s *Scheduler) RunAll() {
	s.logger.Info("scheduler: running pipeline job", "cities", len(s.requests))

	var failed int
	for _, req := range s.requests {
		if err := s.base.Err(); err != nil {
			s.logger.Warn("scheduler: pipeline job interrupted", "error", err)
			return
		}

		ctx := s.base
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}

		report, err := s.runner.Run(ctx, req)
		cancel()
		if err != nil {
			failed++
			s.logger.Error("scheduler: run failed", "city", req.City, "error", err)
			continue
		}
		s.logger.Info("scheduler: run finished", "city", req.City, "run", report.RunID, "sensors", report.SensorCount)
	}

	if failed > 0 {
		s.logger.Warn("scheduler: completed pipeline job with failures", "failed", failed)
		return
	}
	s.logger.Info("scheduler: completed pipeline job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
