package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/gateway"
	"github.com/harborwave/humanizer/internal/engine/quota"
	"github.com/harborwave/humanizer/internal/pkg/distlock"
	"github.com/harborwave/humanizer/internal/pkg/logger"
	"github.com/harborwave/humanizer/internal/pkg/metrics"
)

const (
	sendMaxAttempts  = 5
	sendBaseDelay    = 500 * time.Millisecond
	sendMaxDelay     = 15 * time.Second
	dispatchLockTTL  = 10 * time.Minute
)

// VariationLogger persists the selections a sent message was rendered
// with, satisfied by tracker.VariationLogStore; kept as a narrow interface
// so this package doesn't depend on the tracker package's SQS wiring.
type VariationLogger interface {
	Append(ctx context.Context, entries []domain.VariationLogEntry) error
}

// Pool is the SingleMessageScheduler: a fixed number of goroutines that
// repeatedly claim a batch of queued messages, group them by campaign so
// one campaign's recipients are always dispatched in index order even
// across goroutines, pace and reserve quota for each, dispatch through a
// gateway with bounded backoff, and record the outcome. Each row is
// claimed by exactly one worker at a time via Repository.ClaimBatch's FOR
// UPDATE SKIP LOCKED.
type Pool struct {
	repo         Repository
	gatewayFac   gateway.Factory
	ledger       *quota.Ledger
	backpressure *BackpressureMonitor
	varLog       VariationLogger

	redisClient *redis.Client
	db          *sql.DB

	ownerID      string
	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	accountPlan func(accountID string) domain.AccountPlan

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// Config holds Pool construction parameters.
type Config struct {
	NumWorkers   int
	BatchSize    int
	PollInterval time.Duration
	AccountPlan  func(accountID string) domain.AccountPlan
}

// NewPool builds a dispatch pool. Defaults mirror the teacher's send worker
// pool sizing: enough workers to keep a moderate batch size continuously in
// flight without overwhelming the provider's rate limits (quota.Ledger is
// the actual backstop). redisClient/db back the per-campaign dispatch lock
// (distlock prefers Redis, falling back to a Postgres advisory lock); both
// may be nil only in tests that never exercise concurrent campaign
// contention.
func NewPool(repo Repository, gatewayFac gateway.Factory, ledger *quota.Ledger, bp *BackpressureMonitor, varLog VariationLogger, redisClient *redis.Client, db *sql.DB, cfg Config) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.AccountPlan == nil {
		cfg.AccountPlan = func(string) domain.AccountPlan { return domain.PlanStandard }
	}

	host, _ := os.Hostname()
	return &Pool{
		repo:         repo,
		gatewayFac:   gatewayFac,
		ledger:       ledger,
		backpressure: bp,
		varLog:       varLog,
		redisClient:  redisClient,
		db:           db,
		ownerID:      fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		numWorkers:   cfg.NumWorkers,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		accountPlan:  cfg.AccountPlan,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker goroutines. It returns immediately; call Stop
// (via ctx cancellation) and Wait to shut down cleanly.
func (p *Pool) Start(ctx context.Context) {
	logger.Info("dispatch pool starting", "workers", p.numWorkers, "batch_size", p.batchSize, "owner", p.ownerID)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

// Wait blocks until all worker goroutines have exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.backpressure != nil && p.backpressure.Paused() {
			time.Sleep(p.pollInterval * 4)
			continue
		}

		batch, err := p.repo.ClaimBatch(ctx, p.ownerID, p.batchSize)
		if err != nil {
			logger.Error("claim batch failed", "error", err.Error())
			time.Sleep(p.pollInterval)
			continue
		}
		if len(batch) == 0 {
			time.Sleep(p.pollInterval)
			continue
		}

		for campaignID, group := range groupByCampaign(batch) {
			p.processCampaignGroup(ctx, campaignID, group)
		}
	}
}

// groupByCampaign partitions a claimed batch by CampaignID, sorting each
// group by RecipientIdx so a worker always dispatches one campaign's
// recipients in order even when ClaimBatch interleaved them with other
// campaigns.
func groupByCampaign(batch []domain.ScheduledMessage) map[string][]domain.ScheduledMessage {
	groups := make(map[string][]domain.ScheduledMessage)
	for _, m := range batch {
		groups[m.CampaignID] = append(groups[m.CampaignID], m)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].RecipientIdx < g[j].RecipientIdx })
	}
	return groups
}

// processCampaignGroup holds an exclusive dispatch lock for campaignID for
// the duration of the group, so no other worker goroutine or process
// interleaves sends for the same campaign — the in-campaign strict-order
// guarantee holds across the whole pool, not just within one goroutine. If
// the lock is already held, the group's messages are requeued untouched
// (no attempt charged) for whichever worker currently holds it to pick up.
func (p *Pool) processCampaignGroup(ctx context.Context, campaignID string, group []domain.ScheduledMessage) {
	lock := distlock.NewLock(p.redisClient, p.db, "dispatch:"+campaignID, dispatchLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("dispatch lock acquire failed", "campaign_id", campaignID, "error", err.Error())
		p.requeueGroup(ctx, group)
		return
	}
	if !acquired {
		p.requeueGroup(ctx, group)
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Error("dispatch lock release failed", "campaign_id", campaignID, "error", err.Error())
		}
	}()

	for i, msg := range group {
		if i > 0 {
			p.pace(msg)
		}
		p.processOne(ctx, msg)
	}
}

func (p *Pool) requeueGroup(ctx context.Context, group []domain.ScheduledMessage) {
	for _, msg := range group {
		if err := p.repo.Requeue(ctx, msg.ID); err != nil {
			logger.Error("requeue busy-campaign message failed", "message_id", msg.ID, "error", err.Error())
		}
	}
}

// pace sleeps a random duration within [MinIntervalMs, MaxIntervalMs] before
// a recipient after the first in its campaign group.
func (p *Pool) pace(msg domain.ScheduledMessage) {
	lo, hi := msg.PacingMinIntervalMs, msg.PacingMaxIntervalMs
	if hi <= 0 {
		return
	}
	if hi < lo {
		hi = lo
	}
	p.rngMu.Lock()
	delay := lo
	if hi > lo {
		delay = lo + p.rng.Int63n(hi-lo+1)
	}
	p.rngMu.Unlock()
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

func (p *Pool) processOne(ctx context.Context, msg domain.ScheduledMessage) {
	gw, err := p.gatewayFac.GatewayFor(ctx, msg.AccountID)
	if err != nil {
		p.fail(ctx, msg, nil, fmt.Sprintf("resolve gateway: %v", err))
		return
	}

	var reservation *quota.Reservation
	if p.ledger != nil {
		plan := p.accountPlan(msg.AccountID)
		reservation, err = p.ledger.Reserve(ctx, msg.AccountID, plan, 1)
		if err != nil {
			// Quota exceeded is not a send failure — put it back for a
			// later pass rather than burning a retry attempt.
			if qe, ok := err.(*errs.QuotaExceeded); ok {
				logger.Debug("quota deferred message", "message_id", msg.ID, "window", qe.Window, "retry_after", qe.RetryAfter)
				metrics.QuotaDenials.WithLabelValues(qe.Window).Inc()
				_ = p.repo.Requeue(ctx, msg.ID)
				return
			}
			p.fail(ctx, msg, nil, fmt.Sprintf("quota reserve: %v", err))
			return
		}
	}

	result, sendErr := p.sendWithBackoff(ctx, gw, msg)
	if sendErr != nil {
		metrics.MessagesDispatched.WithLabelValues("failed").Inc()
		p.fail(ctx, msg, reservation, sendErr.Error())
		return
	}
	metrics.MessagesDispatched.WithLabelValues("sent").Inc()

	if reservation != nil {
		if err := p.ledger.Commit(ctx, reservation); err != nil {
			logger.Error("quota commit failed", "message_id", msg.ID, "error", err.Error())
		}
	}

	if err := p.repo.MarkSent(ctx, msg.ID, result.ProviderMessageID); err != nil {
		logger.Error("mark sent failed", "message_id", msg.ID, "error", err.Error())
	}

	if p.varLog != nil {
		entry := domain.VariationLogEntry{
			ID:                uuid.New().String(),
			CampaignID:        msg.CampaignID,
			MessageID:         msg.ID,
			ProviderMessageID: result.ProviderMessageID,
			AccountID:         msg.AccountID,
			TemplateRaw:       msg.TemplateRaw,
			Selections:        msg.Selections,
			RecipientIndex:    msg.RecipientIdx,
			RecipientAddress:  msg.Address,
			SentAt:            result.AcceptedAt.Unix(),
		}
		if err := p.varLog.Append(ctx, []domain.VariationLogEntry{entry}); err != nil {
			logger.Error("variation log append failed", "message_id", msg.ID, "error", err.Error())
		}
	}
}

// sendWithBackoff retries a transient send failure with exponential
// backoff and full jitter (base 500ms, capped at 15s) up to sendMaxAttempts
// total attempts. A GatewayPermanentError or a cancelled context stops
// retrying immediately.
func (p *Pool) sendWithBackoff(ctx context.Context, gw gateway.Gateway, msg domain.ScheduledMessage) (*domain.SendResult, error) {
	var lastErr error
	for attempt := 0; attempt < sendMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoffDelay(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		timer := prometheus.NewTimer(metrics.DispatchDuration)
		result, err := gw.Send(ctx, domain.SendSpec{
			AccountCredential: msg.AccountID,
			Address:           msg.Address,
			Text:              msg.RenderedText,
		})
		timer.ObserveDuration()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errs.IsGatewayPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("send attempt failed, retrying", "message_id", msg.ID, "attempt", attempt+1, "error", err.Error())
	}
	return nil, lastErr
}

func (p *Pool) backoffDelay(attempt int) time.Duration {
	expDelay := float64(sendBaseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(sendMaxDelay) {
		expDelay = float64(sendMaxDelay)
	}
	p.rngMu.Lock()
	jittered := time.Duration(p.rng.Float64() * expDelay)
	p.rngMu.Unlock()
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func (p *Pool) fail(ctx context.Context, msg domain.ScheduledMessage, reservation *quota.Reservation, reason string) {
	if reservation != nil && p.ledger != nil {
		if err := p.ledger.Release(ctx, reservation); err != nil {
			logger.Error("quota release failed", "message_id", msg.ID, "error", err.Error())
		}
	}
	deadLetter := msg.Attempts+1 >= MaxRetryCount
	if err := p.repo.MarkFailed(ctx, msg.ID, reason, deadLetter); err != nil {
		logger.Error("mark failed failed", "message_id", msg.ID, "error", err.Error())
	}
	if deadLetter {
		logger.Warn("message dead-lettered", "message_id", msg.ID, "reason", reason)
	}
}
