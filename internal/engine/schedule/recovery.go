package schedule

import (
	"context"
	"time"

	"github.com/harborwave/humanizer/internal/pkg/logger"
)

const (
	// MaxRetryCount bounds how many times a claimed message can go stale
	// before RecoveryWorker moves it to dead_letter instead of requeuing.
	MaxRetryCount = 5
	recoveryInterval = 2 * time.Minute
	staleAge         = 5 * time.Minute
)

// RecoveryWorker periodically reclaims messages stuck in 'claimed' or
// 'sending' because their worker crashed or lost its connection mid-send,
// requeuing them under MaxRetryCount and otherwise dead-lettering them.
type RecoveryWorker struct {
	repo     Repository
	interval time.Duration
	stale    time.Duration
}

func NewRecoveryWorker(repo Repository) *RecoveryWorker {
	return &RecoveryWorker{repo: repo, interval: recoveryInterval, stale: staleAge}
}

// Start runs the recovery loop until ctx is cancelled.
func (w *RecoveryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RecoveryWorker) runOnce(ctx context.Context) {
	requeued, dead, err := w.repo.RequeueStale(ctx, w.stale, MaxRetryCount)
	if err != nil {
		logger.Error("recovery pass failed", "error", err.Error())
		return
	}
	if requeued > 0 || dead > 0 {
		logger.Info("recovery pass complete", "requeued", requeued, "dead_lettered", dead)
	}
}
