package statesync

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/pkg/distlock"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

const defaultLeaseTTL = 10 * time.Minute

// Synchronizer is the StateSynchronizer: it persists campaigns and their
// recipients, and arbitrates which scheduler process owns a given campaign
// at any moment. Ownership is enforced at two layers, mirroring the
// teacher's distlock usage — a fast in-process distlock.DistLock (Redis when
// available, otherwise a Postgres advisory lock) guards against two local
// goroutines racing the same campaign, and the durable lease row in
// Repository is authoritative across process restarts and hosts.
type Synchronizer struct {
	repo        Repository
	redisClient *redis.Client
	db          *sql.DB
	leaseTTL    time.Duration
	guards      sync.Map // campaignID -> distlock.DistLock held by Acquire
}

// NewSynchronizer builds a Synchronizer. redisClient may be nil, in which
// case the in-process guard falls back to Postgres advisory locks.
func NewSynchronizer(repo Repository, redisClient *redis.Client, db *sql.DB) *Synchronizer {
	return &Synchronizer{repo: repo, redisClient: redisClient, db: db, leaseTTL: defaultLeaseTTL}
}

func (s *Synchronizer) Get(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, accountID, id)
}

func (s *Synchronizer) List(ctx context.Context, accountID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, accountID, f)
}

func (s *Synchronizer) Create(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) (string, error) {
	if len(recipients) == 0 {
		return "", errs.ErrNoRecipients
	}
	return s.repo.Create(ctx, c, recipients)
}

func (s *Synchronizer) Update(ctx context.Context, accountID, id string, u UpdateFields) error {
	return s.repo.Update(ctx, accountID, id, u)
}

func (s *Synchronizer) Delete(ctx context.Context, accountID, id string) error {
	return s.repo.Delete(ctx, accountID, id)
}

// Transition validates and applies a status change, rejecting transitions
// out of a terminal state.
func (s *Synchronizer) Transition(ctx context.Context, accountID, id string, to domain.CampaignStatus) error {
	c, err := s.repo.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	switch to {
	case domain.CampaignPaused:
		if !c.CanPause() {
			return errs.ErrInvalidTransition
		}
	case domain.CampaignRunning, domain.CampaignScheduled:
		if !c.CanResume() && c.Status != domain.CampaignScheduled {
			return errs.ErrInvalidTransition
		}
	case domain.CampaignCancelled:
		if !c.CanCancel() {
			return errs.ErrInvalidTransition
		}
	case domain.CampaignCompleted, domain.CampaignFailed:
		if c.IsTerminal() {
			return errs.ErrAlreadyTerminal
		}
	}
	return s.repo.UpdateStatus(ctx, accountID, id, to)
}

// Acquire claims a campaign for owner, checking the in-process distlock
// first and falling back cleanly when it is already held elsewhere, then
// recording the durable lease row. Returns false (no error) when another
// owner currently holds the campaign.
func (s *Synchronizer) Acquire(ctx context.Context, campaignID, owner string) (bool, error) {
	guard := distlock.NewLock(s.redisClient, s.db, fmt.Sprintf("campaign:%s", campaignID), s.leaseTTL)
	ok, err := guard.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("statesync: acquire guard: %w", err)
	}
	if !ok {
		return false, nil
	}

	expires := time.Now().Add(s.leaseTTL)
	claimed, err := s.repo.TryAcquireLease(ctx, campaignID, owner, expires)
	if err != nil {
		_ = guard.Release(ctx)
		return false, fmt.Errorf("statesync: claim lease: %w", err)
	}
	if !claimed {
		_ = guard.Release(ctx)
		return false, nil
	}

	s.guards.Store(campaignID, guard)
	logger.Info("campaign lease acquired", "campaign_id", campaignID, "owner", owner)
	return true, nil
}

// Renew extends an owned lease; callers run this on a heartbeat interval
// well inside leaseTTL.
func (s *Synchronizer) Renew(ctx context.Context, campaignID, owner string) error {
	expires := time.Now().Add(s.leaseTTL)
	ok, err := s.repo.RenewLease(ctx, campaignID, owner, expires)
	if err != nil {
		return fmt.Errorf("statesync: renew lease: %w", err)
	}
	if !ok {
		return errs.ErrLeaseExpired
	}
	return nil
}

// Release drops ownership of campaignID, both the durable lease row and the
// in-process guard.
func (s *Synchronizer) Release(ctx context.Context, campaignID, owner string) error {
	if err := s.repo.ReleaseLease(ctx, campaignID, owner); err != nil {
		return fmt.Errorf("statesync: release lease: %w", err)
	}
	if guard, ok := s.guards.LoadAndDelete(campaignID); ok {
		return guard.(distlock.DistLock).Release(ctx)
	}
	return nil
}

// DueForScheduling surfaces campaigns ready for a scheduler to pick up.
func (s *Synchronizer) DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	return s.repo.DueForScheduling(ctx, now, limit)
}

// Recipients pages through a campaign's recipient list.
func (s *Synchronizer) Recipients(ctx context.Context, campaignID string, fromIndex, limit int) ([]domain.Recipient, error) {
	return s.repo.Recipients(ctx, campaignID, fromIndex, limit)
}

// AdvanceProgress persists the scheduler's cursor after processing a batch.
func (s *Synchronizer) AdvanceProgress(ctx context.Context, campaignID string, progress domain.Progress) error {
	return s.repo.AdvanceProgress(ctx, campaignID, progress)
}

// Restore reclaims every "running" campaign whose lease is expired or
// already owned by owner, on behalf of a process that just started (or
// restarted after a crash) and needs to pick up where a prior lease-holder
// left off. For each campaign it successfully reclaims, it invokes resume
// with the campaign ID so the caller can continue processing from
// Progress.NextIndex exactly as it would for a freshly due campaign.
func (s *Synchronizer) Restore(ctx context.Context, owner string, resume func(campaignID string)) error {
	running, err := s.repo.RunningCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("statesync: list running campaigns: %w", err)
	}

	now := time.Now()
	reclaimed := 0
	for _, c := range running {
		reclaimable := c.LeaseOwner == "" || c.LeaseOwner == owner ||
			c.LeaseExpires == nil || c.LeaseExpires.Before(now)
		if !reclaimable {
			continue
		}

		ok, err := s.Acquire(ctx, c.ID, owner)
		if err != nil {
			logger.Error("statesync: restore acquire failed", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		if !ok {
			continue
		}

		reclaimed++
		logger.Info("statesync: campaign restored", "campaign_id", c.ID, "owner", owner, "next_index", c.Progress.NextIndex)
		resume(c.ID)
	}

	logger.Info("statesync: restore complete", "running", len(running), "reclaimed", reclaimed)
	return nil
}

// ReconcileCounter supplies the authoritative count of messages actually
// logged for a campaign, used by Reconcile to correct drift in the
// Progress counters maintained incrementally by the scheduler.
type ReconcileCounter interface {
	Count(ctx context.Context, campaignID string) (int, error)
}

// reconcileMismatchThreshold is the fraction of recorded progress that the
// authoritative count must differ by before Reconcile corrects it; small
// drift from in-flight batches is expected and not worth fighting.
const reconcileMismatchThreshold = 0.01

// Reconcile recomputes each running campaign's succeeded count from counter
// (the variation log, the ground truth for messages actually sent) and
// corrects Progress when it has drifted from the scheduler's incrementally
// maintained counters by more than reconcileMismatchThreshold. Intended to
// run on a periodic background ticker, independent of any single
// scheduler's lease ownership.
func (s *Synchronizer) Reconcile(ctx context.Context, counter ReconcileCounter) error {
	running, err := s.repo.RunningCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("statesync: list running campaigns: %w", err)
	}

	for _, c := range running {
		actual, err := counter.Count(ctx, c.ID)
		if err != nil {
			logger.Error("statesync: reconcile count failed", "campaign_id", c.ID, "error", err.Error())
			continue
		}

		recorded := c.Progress.Succeeded
		denom := recorded
		if denom == 0 {
			denom = 1
		}
		drift := math.Abs(float64(actual-recorded)) / float64(denom)
		if drift <= reconcileMismatchThreshold {
			continue
		}

		logger.Warn("statesync: progress drift detected, correcting",
			"campaign_id", c.ID, "recorded_succeeded", recorded, "actual_succeeded", actual)

		progress := c.Progress
		progress.Succeeded = actual
		if err := s.repo.AdvanceProgress(ctx, c.ID, progress); err != nil {
			logger.Error("statesync: reconcile correction failed", "campaign_id", c.ID, "error", err.Error())
		}
	}
	return nil
}
