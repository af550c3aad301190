package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/gateway"
	"github.com/harborwave/humanizer/internal/engine/quota"
)

type fakeRepo struct {
	mu       sync.Mutex
	sent     []string
	failed   []string
	requeued []string
	deadLet  []string
}

func (f *fakeRepo) ClaimBatch(ctx context.Context, owner string, n int) ([]domain.ScheduledMessage, error) {
	return nil, nil
}
func (f *fakeRepo) MarkSent(ctx context.Context, id, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}
func (f *fakeRepo) MarkFailed(ctx context.Context, id, reason string, deadLetter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	if deadLetter {
		f.deadLet = append(f.deadLet, id)
	}
	return nil
}
func (f *fakeRepo) QueueDepth(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeRepo) RequeueStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeRepo) Enqueue(ctx context.Context, msgs []domain.ScheduledMessage) error { return nil }
func (f *fakeRepo) Requeue(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, id)
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	permanent bool
}

func (g *fakeGateway) Send(ctx context.Context, spec domain.SendSpec) (*domain.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.permanent {
		return nil, &errs.GatewayPermanentError{StatusCode: 400, Reason: "bad request"}
	}
	if g.calls <= g.failUntil {
		return nil, errors.New("transient provider error")
	}
	return &domain.SendResult{ProviderMessageID: "prov-1", AcceptedAt: time.Now()}, nil
}

type fakeVarLog struct {
	mu      sync.Mutex
	entries []domain.VariationLogEntry
}

func (v *fakeVarLog) Append(ctx context.Context, entries []domain.VariationLogEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, entries...)
	return nil
}

func newTestPool(t *testing.T, repo Repository, gw gateway.Gateway, varLog VariationLogger) (*Pool, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := quota.NewLedger(client, nil)

	pool := NewPool(repo, gateway.SingleGatewayFactory{GW: gw}, ledger, nil, varLog, client, nil, Config{})
	return pool, func() {
		client.Close()
		mr.Close()
	}
}

func testMessage() domain.ScheduledMessage {
	return domain.ScheduledMessage{
		ID:           "msg-1",
		CampaignID:   "camp-1",
		AccountID:    "acct-1",
		RecipientIdx: 0,
		Address:      "+15550000000",
		TemplateRaw:  "Hi {{name}}",
		RenderedText: "Hi there",
		Selections:   []domain.Selection{{BlockIndex: 0, OptionIndex: 0, OptionText: "there"}},
	}
}

func TestPool_ProcessOne_SuccessCommitsAndLogs(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{}
	varLog := &fakeVarLog{}
	pool, cleanup := newTestPool(t, repo, gw, varLog)
	defer cleanup()

	pool.processOne(context.Background(), testMessage())

	assert.Equal(t, []string{"msg-1"}, repo.sent)
	assert.Empty(t, repo.failed)
	require.Len(t, varLog.entries, 1)
	assert.Equal(t, "camp-1", varLog.entries[0].CampaignID)
	assert.Equal(t, "prov-1", varLog.entries[0].ProviderMessageID)
	assert.Equal(t, []domain.Selection{{BlockIndex: 0, OptionIndex: 0, OptionText: "there"}}, varLog.entries[0].Selections)
}

func TestPool_ProcessOne_RetriesTransientThenSucceeds(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{failUntil: 2}
	pool, cleanup := newTestPool(t, repo, gw, nil)
	defer cleanup()

	start := time.Now()
	pool.processOne(context.Background(), testMessage())
	elapsed := time.Since(start)

	assert.Equal(t, []string{"msg-1"}, repo.sent)
	assert.GreaterOrEqual(t, gw.calls, 3)
	// two retries at >=100ms floor each
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestPool_ProcessOne_PermanentFailureReleasesQuotaAndDoesNotRetry(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{permanent: true}
	pool, cleanup := newTestPool(t, repo, gw, nil)
	defer cleanup()

	pool.processOne(context.Background(), testMessage())

	assert.Equal(t, 1, gw.calls, "permanent error must not be retried")
	assert.Equal(t, []string{"msg-1"}, repo.failed)

	minute, _, err := pool.ledger.Usage(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), minute, "reservation must be released, not committed, on permanent failure")
}

func TestPool_ProcessOne_ExhaustedRetriesReleasesQuotaAndMarksFailed(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{failUntil: sendMaxAttempts}
	pool, cleanup := newTestPool(t, repo, gw, nil)
	defer cleanup()

	pool.processOne(context.Background(), testMessage())

	assert.Equal(t, sendMaxAttempts, gw.calls)
	assert.Equal(t, []string{"msg-1"}, repo.failed)
}

func TestPool_ProcessOne_QuotaExceededRequeuesWithoutFailing(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ledger := quota.NewLedger(client, map[domain.AccountPlan]domain.QuotaWindow{
		domain.PlanStandard: {Plan: domain.PlanStandard, PerMinuteLimit: 0, PerDayLimit: 0},
	})

	pool := NewPool(repo, gateway.SingleGatewayFactory{GW: gw}, ledger, nil, nil, client, nil, Config{})
	pool.processOne(context.Background(), testMessage())

	assert.Equal(t, 0, gw.calls)
	assert.Empty(t, repo.failed)
	assert.Equal(t, []string{"msg-1"}, repo.requeued)
}

func TestGroupByCampaign_SortsByRecipientIndex(t *testing.T) {
	batch := []domain.ScheduledMessage{
		{ID: "m3", CampaignID: "camp-a", RecipientIdx: 2},
		{ID: "m1", CampaignID: "camp-a", RecipientIdx: 0},
		{ID: "m2", CampaignID: "camp-a", RecipientIdx: 1},
		{ID: "m4", CampaignID: "camp-b", RecipientIdx: 0},
	}

	groups := groupByCampaign(batch)
	require.Len(t, groups, 2)
	require.Len(t, groups["camp-a"], 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{
		groups["camp-a"][0].ID, groups["camp-a"][1].ID, groups["camp-a"][2].ID,
	})
}

func TestPool_ProcessCampaignGroup_RequeuesWhenLockBusy(t *testing.T) {
	repo := &fakeRepo{}
	gw := &fakeGateway{}
	pool, cleanup := newTestPool(t, repo, gw, nil)
	defer cleanup()

	group := []domain.ScheduledMessage{testMessage()}

	lock := pool.redisClient
	require.NoError(t, lock.Set(context.Background(), "lock:dispatch:camp-1", "someone-else", time.Minute).Err())

	pool.processCampaignGroup(context.Background(), "camp-1", group)

	assert.Equal(t, 0, gw.calls)
	assert.Equal(t, []string{"msg-1"}, repo.requeued)
}
