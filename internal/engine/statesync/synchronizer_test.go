package statesync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
)

type fakeRepo struct {
	campaigns map[string]*domain.Campaign
	leases    map[string]struct {
		owner   string
		expires time.Time
	}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		campaigns: map[string]*domain.Campaign{},
		leases: map[string]struct {
			owner   string
			expires time.Time
		}{},
	}
}

func (f *fakeRepo) Get(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) List(ctx context.Context, accountID string, l ListFilter) ([]domain.Campaign, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Create(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) (string, error) {
	f.campaigns[c.ID] = c
	return c.ID, nil
}

func (f *fakeRepo) Update(ctx context.Context, accountID, id string, u UpdateFields) error { return nil }
func (f *fakeRepo) Delete(ctx context.Context, accountID, id string) error                 { return nil }

func (f *fakeRepo) UpdateStatus(ctx context.Context, accountID, id string, status domain.CampaignStatus) error {
	f.campaigns[id].Status = status
	return nil
}

func (f *fakeRepo) Recipients(ctx context.Context, campaignID string, fromIndex, limit int) ([]domain.Recipient, error) {
	return nil, nil
}
func (f *fakeRepo) RecipientCount(ctx context.Context, campaignID string) (int, error) { return 0, nil }
func (f *fakeRepo) AdvanceProgress(ctx context.Context, campaignID string, progress domain.Progress) error {
	if c, ok := f.campaigns[campaignID]; ok {
		c.Progress = progress
	}
	return nil
}

func (f *fakeRepo) TryAcquireLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error) {
	l, held := f.leases[campaignID]
	if held && l.owner != owner && l.expires.After(time.Now()) {
		return false, nil
	}
	f.leases[campaignID] = struct {
		owner   string
		expires time.Time
	}{owner, expiresAt}
	return true, nil
}

func (f *fakeRepo) RenewLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error) {
	l, held := f.leases[campaignID]
	if !held || l.owner != owner {
		return false, nil
	}
	l.expires = expiresAt
	f.leases[campaignID] = l
	return true, nil
}

func (f *fakeRepo) ReleaseLease(ctx context.Context, campaignID, owner string) error {
	delete(f.leases, campaignID)
	return nil
}

func (f *fakeRepo) DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	return nil, nil
}

func (f *fakeRepo) RunningCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for id, c := range f.campaigns {
		if c.Status != domain.CampaignRunning {
			continue
		}
		cp := *c
		if l, held := f.leases[id]; held {
			cp.LeaseOwner = l.owner
			expires := l.expires
			cp.LeaseExpires = &expires
		}
		out = append(out, cp)
	}
	return out, nil
}

func newTestSynchronizer(t *testing.T) (*Synchronizer, *fakeRepo, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newFakeRepo()
	sync := NewSynchronizer(repo, client, nil)
	return sync, repo, func() {
		client.Close()
		mr.Close()
	}
}

func TestSynchronizer_Create_RejectsEmptyRecipients(t *testing.T) {
	sync, _, cleanup := newTestSynchronizer(t)
	defer cleanup()

	_, err := sync.Create(context.Background(), &domain.Campaign{ID: "c1"}, nil)
	assert.ErrorIs(t, err, errs.ErrNoRecipients)
}

func TestSynchronizer_Transition_PauseRunning(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignRunning}
	err := sync.Transition(context.Background(), "acct", "c1", domain.CampaignPaused)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, repo.campaigns["c1"].Status)
}

func TestSynchronizer_Transition_RejectsInvalid(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignCompleted}
	err := sync.Transition(context.Background(), "acct", "c1", domain.CampaignPaused)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestSynchronizer_Transition_AlreadyTerminal(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignCompleted}
	err := sync.Transition(context.Background(), "acct", "c1", domain.CampaignFailed)
	assert.ErrorIs(t, err, errs.ErrAlreadyTerminal)
}

func TestSynchronizer_Restore_ReclaimsExpiredLease(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignRunning, Progress: domain.Progress{NextIndex: 7}}
	repo.leases["c1"] = struct {
		owner   string
		expires time.Time
	}{"old-owner", time.Now().Add(-time.Minute)}

	var resumed []string
	err := sync.Restore(context.Background(), "new-owner", func(id string) { resumed = append(resumed, id) })
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, resumed)
}

func TestSynchronizer_Restore_SkipsLiveLeaseHeldByOther(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{ID: "c1", Status: domain.CampaignRunning}
	repo.leases["c1"] = struct {
		owner   string
		expires time.Time
	}{"other-owner", time.Now().Add(time.Hour)}

	var resumed []string
	err := sync.Restore(context.Background(), "new-owner", func(id string) { resumed = append(resumed, id) })
	require.NoError(t, err)
	assert.Empty(t, resumed)
}

type fakeReconcileCounter struct{ counts map[string]int }

func (f fakeReconcileCounter) Count(ctx context.Context, campaignID string) (int, error) {
	return f.counts[campaignID], nil
}

func TestSynchronizer_Reconcile_CorrectsDriftedProgress(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{
		ID: "c1", Status: domain.CampaignRunning,
		Progress: domain.Progress{Attempted: 100, Succeeded: 50},
	}

	err := sync.Reconcile(context.Background(), fakeReconcileCounter{counts: map[string]int{"c1": 90}})
	require.NoError(t, err)
	assert.Equal(t, 90, repo.campaigns["c1"].Progress.Succeeded)
}

func TestSynchronizer_Reconcile_IgnoresSmallDrift(t *testing.T) {
	sync, repo, cleanup := newTestSynchronizer(t)
	defer cleanup()

	repo.campaigns["c1"] = &domain.Campaign{
		ID: "c1", Status: domain.CampaignRunning,
		Progress: domain.Progress{Attempted: 100, Succeeded: 100},
	}

	err := sync.Reconcile(context.Background(), fakeReconcileCounter{counts: map[string]int{"c1": 100}})
	require.NoError(t, err)
	assert.Equal(t, 100, repo.campaigns["c1"].Progress.Succeeded)
}

func TestSynchronizer_AcquireRenewRelease(t *testing.T) {
	sync, _, cleanup := newTestSynchronizer(t)
	defer cleanup()

	ctx := context.Background()
	ok, err := sync.Acquire(ctx, "camp-1", "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sync.Acquire(ctx, "camp-1", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok, "second owner should not acquire an already-held lease")

	require.NoError(t, sync.Renew(ctx, "camp-1", "owner-a"))
	require.NoError(t, sync.Release(ctx, "camp-1", "owner-a"))

	ok, err = sync.Acquire(ctx, "camp-1", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok, "lease should be acquirable after release")
}
