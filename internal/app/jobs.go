/**
 * @description
 * Scheduled job implementations for the ledger-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/config"
)

const staleWithdrawalBatchSize = 100

// WithdrawalProcessor is the part of the Service the jobs drive.
type WithdrawalProcessor interface {
	AutoProcessStaleWithdrawals(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	ledger WithdrawalProcessor
	logger *slog.Logger
	config config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(ledger WithdrawalProcessor, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		ledger: ledger,
		logger: logger,
		config: cfg,
	}
}

// ProcessStaleWithdrawals moves pending withdrawals older than the configured window to
// processing.
func (j *Jobs) ProcessStaleWithdrawals() {
	if j.config.WithdrawalAutoProcessAfterHours <= 0 {
		return
	}
	j.logger.Info("starting stale withdrawal job")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	olderThan := time.Duration(j.config.WithdrawalAutoProcessAfterHours) * time.Hour
	moved, err := j.ledger.AutoProcessStaleWithdrawals(ctx, olderThan, staleWithdrawalBatchSize)
	if err != nil {
		j.logger.Error("failed to process stale withdrawals", "error", err, "moved", moved)
		return
	}

	j.logger.Info("stale withdrawal job finished", "moved", moved)
}
