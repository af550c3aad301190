package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/harborwave/humanizer/internal/pkg/logger"
	"github.com/harborwave/humanizer/internal/pkg/metrics"
)

// BackpressureMonitor pauses new claims when the scheduled_messages queue
// grows past maxQueueDepth and resumes once it drains to half that, using
// hysteresis so a queue oscillating around the threshold doesn't flap the
// dispatch loop on and off every check.
type BackpressureMonitor struct {
	repo          Repository
	maxQueueDepth int64
	checkInterval time.Duration

	mu     sync.RWMutex
	paused bool
}

// NewBackpressureMonitor creates a monitor. maxDepth <= 0 defaults to
// 100,000.
func NewBackpressureMonitor(repo Repository, maxDepth int64) *BackpressureMonitor {
	if maxDepth <= 0 {
		maxDepth = 100000
	}
	return &BackpressureMonitor{repo: repo, maxQueueDepth: maxDepth, checkInterval: 30 * time.Second}
}

// Start runs the periodic queue-depth check loop until ctx is cancelled.
func (bp *BackpressureMonitor) Start(ctx context.Context) {
	bp.check(ctx)

	ticker := time.NewTicker(bp.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bp.check(ctx)
		}
	}
}

func (bp *BackpressureMonitor) check(ctx context.Context) {
	depth, err := bp.repo.QueueDepth(ctx)
	if err != nil {
		logger.Warn("backpressure queue depth check failed", "error", err.Error())
		return
	}
	metrics.QueueDepth.Set(float64(depth))

	bp.mu.Lock()
	defer bp.mu.Unlock()

	switch {
	case !bp.paused && int64(depth) >= bp.maxQueueDepth:
		bp.paused = true
		metrics.BackpressurePaused.Set(1)
		logger.Warn("backpressure engaged", "depth", depth, "max", bp.maxQueueDepth)
	case bp.paused && int64(depth) <= bp.maxQueueDepth/2:
		bp.paused = false
		metrics.BackpressurePaused.Set(0)
		logger.Info("backpressure released", "depth", depth)
	}
}

// Paused reports whether claims should currently be held back.
func (bp *BackpressureMonitor) Paused() bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.paused
}
