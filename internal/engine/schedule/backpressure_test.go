package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborwave/humanizer/internal/domain"
)

type fakeDepthRepo struct {
	depth int
}

func (f *fakeDepthRepo) ClaimBatch(ctx context.Context, owner string, n int) ([]domain.ScheduledMessage, error) {
	return nil, nil
}
func (f *fakeDepthRepo) MarkSent(ctx context.Context, id, providerMessageID string) error { return nil }
func (f *fakeDepthRepo) MarkFailed(ctx context.Context, id, reason string, deadLetter bool) error {
	return nil
}
func (f *fakeDepthRepo) QueueDepth(ctx context.Context) (int, error) { return f.depth, nil }
func (f *fakeDepthRepo) RequeueStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeDepthRepo) Enqueue(ctx context.Context, msgs []domain.ScheduledMessage) error { return nil }

func (f *fakeDepthRepo) Requeue(ctx context.Context, id string) error { return nil }

func TestBackpressureMonitor_EngagesAtThreshold(t *testing.T) {
	repo := &fakeDepthRepo{depth: 100}
	bp := NewBackpressureMonitor(repo, 100)

	bp.check(context.Background())
	assert.True(t, bp.Paused())
}

func TestBackpressureMonitor_ReleasesAtHalf(t *testing.T) {
	repo := &fakeDepthRepo{depth: 100}
	bp := NewBackpressureMonitor(repo, 100)

	bp.check(context.Background())
	assert.True(t, bp.Paused())

	repo.depth = 40
	bp.check(context.Background())
	assert.False(t, bp.Paused())
}

func TestBackpressureMonitor_HysteresisNoFlap(t *testing.T) {
	repo := &fakeDepthRepo{depth: 100}
	bp := NewBackpressureMonitor(repo, 100)

	bp.check(context.Background())
	assert.True(t, bp.Paused())

	// Still above the resume threshold (max/2 = 50) — should remain paused.
	repo.depth = 75
	bp.check(context.Background())
	assert.True(t, bp.Paused())
}

func TestBackpressureMonitor_DefaultMaxDepth(t *testing.T) {
	bp := NewBackpressureMonitor(&fakeDepthRepo{}, 0)
	assert.Equal(t, int64(100000), bp.maxQueueDepth)
}
