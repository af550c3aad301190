// Package statesync implements StateSynchronizer: the persistence and
// distributed-ownership layer shared by the campaign scheduler and the
// control plane. It generalizes the older campaign service/repository split
// to the humanized-messaging domain and adds lease-based ownership so only
// one scheduler instance drives a given campaign at a time.
package statesync

import (
	"context"
	"time"

	"github.com/harborwave/humanizer/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// recipients. Implementations must be safe for concurrent use.
type Repository interface {
	Get(ctx context.Context, accountID, id string) (*domain.Campaign, error)
	List(ctx context.Context, accountID string, f ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) (string, error)
	Update(ctx context.Context, accountID, id string, u UpdateFields) error
	Delete(ctx context.Context, accountID, id string) error
	UpdateStatus(ctx context.Context, accountID, id string, status domain.CampaignStatus) error

	// Recipients returns a page of recipients starting at fromIndex, in
	// index order, for resumable iteration by the campaign scheduler.
	Recipients(ctx context.Context, campaignID string, fromIndex, limit int) ([]domain.Recipient, error)
	RecipientCount(ctx context.Context, campaignID string) (int, error)

	// AdvanceProgress persists the scheduler's cursor and counters after a
	// batch of recipients has been processed.
	AdvanceProgress(ctx context.Context, campaignID string, progress domain.Progress) error

	// TryAcquireLease claims ownership of campaignID for owner until
	// expiresAt, succeeding only if unclaimed, the existing lease expired, or
	// owner already holds it.
	TryAcquireLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error)
	// RenewLease extends an owned, unexpired lease.
	RenewLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error)
	// ReleaseLease drops ownership, provided owner still holds it.
	ReleaseLease(ctx context.Context, campaignID, owner string) error

	// DueForScheduling returns campaigns whose StartsAt has passed and
	// which have no live lease, ready for a scheduler to claim.
	DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// RunningCampaigns returns every campaign with status "running",
	// LeaseOwner/LeaseExpires and Progress populated, so callers can decide
	// which to reclaim (Restore) or re-count (Reconcile) without a second
	// lookup per campaign.
	RunningCampaigns(ctx context.Context) ([]domain.Campaign, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update. Nil fields
// are left unchanged.
type UpdateFields struct {
	Name        *string
	TemplateRaw *string
	StartsAt    *time.Time
	Pacing      *domain.Pacing
}
