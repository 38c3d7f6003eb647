/**
 * @description
 * Cron wiring for the ledger-service background jobs. Each job is skipped while its
 * previous run is still going, so a slow sweep never overlaps itself.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/config"
	"github.com/robfig/cron/v3"
)

type scheduledJob struct {
	name     string
	schedule string
	run      func()
	enabled  bool
}

// Scheduler runs the ledger jobs on their configured cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []scheduledJob
	logger *slog.Logger
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		jobs: []scheduledJob{{
			name:     "stale_withdrawals",
			schedule: cfg.WithdrawalAutoProcessSchedule,
			run:      jobs.ProcessStaleWithdrawals,
			enabled:  cfg.WithdrawalAutoProcessAfterHours > 0,
		}},
		logger: logger.With("component", "scheduler"),
	}
}

// Start registers every enabled job and starts the cron loop. A job with a bad
// schedule is logged and left out; the others still run.
func (s *Scheduler) Start() {
	registered := 0
	for _, job := range s.jobs {
		if !job.enabled {
			s.logger.Info("job disabled", "job", job.name)
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			s.logger.Error("job schedule rejected", "job", job.name, "schedule", job.schedule, "error", err)
			continue
		}
		registered++
		s.logger.Info("job scheduled", "job", job.name, "schedule", job.schedule)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", registered)
}

// Stop halts the cron loop. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
