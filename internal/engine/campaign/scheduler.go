// Package campaign implements CampaignScheduler: the loop that discovers
// due campaigns, claims ownership of each through statesync, renders each
// recipient's humanized message, and hands the result to the message queue
// for dispatch. It generalizes the teacher's scheduler/preparation/
// heartbeat goroutine topology from per-ESP email campaigns to the
// template + variation-group model.
package campaign

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/humanize"
	"github.com/harborwave/humanizer/internal/engine/seam"
	"github.com/harborwave/humanizer/internal/engine/statesync"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// QueueWriter is the subset of the message-queue repository the scheduler
// needs to hand off rendered messages; satisfied by schedule.Repository's
// insertion path (kept as a narrow interface so this package doesn't import
// the scheduling package's worker-pool concerns).
type QueueWriter interface {
	Enqueue(ctx context.Context, msgs []domain.ScheduledMessage) error
}

const (
	schedulerInterval    = 15 * time.Second
	heartbeatInterval    = 2 * time.Minute
	reconcileInterval    = 60 * time.Second
	recipientPageSize    = 500
)

// Scheduler drives campaigns from "scheduled" to "running" to "completed",
// claiming exclusive ownership of each via statesync so only one process
// advances a given campaign at a time.
type Scheduler struct {
	sync      *statesync.Synchronizer
	queue     QueueWriter
	processor *humanize.Processor
	clock     seam.Clock
	counter   statesync.ReconcileCounter

	ownerID string

	stopCh chan struct{}
}

// New builds a Scheduler. rnd/clock may be nil to use system defaults.
func New(sync *statesync.Synchronizer, queue QueueWriter, rnd seam.RandomSource, clock seam.Clock) *Scheduler {
	if rnd == nil {
		rnd = seam.NewSystemRandom(time.Now().UnixNano())
	}
	if clock == nil {
		clock = seam.SystemClock{}
	}
	host, _ := os.Hostname()
	return &Scheduler{
		sync:      sync,
		queue:     queue,
		processor: humanize.NewProcessor(rnd, 0),
		clock:     clock,
		ownerID:   fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		stopCh:    make(chan struct{}),
	}
}

// SetReconcileCounter wires the authoritative send-count source Reconcile
// needs; left unset, the periodic reconciliation loop is a no-op.
func (s *Scheduler) SetReconcileCounter(counter statesync.ReconcileCounter) {
	s.counter = counter
}

// Restore reclaims and resumes every running campaign whose lease has
// expired or is held by this Scheduler's owner ID. The owner ID is the
// hostname plus a random suffix chosen in New, so a restarted process does
// not match its predecessor's leases and reclaims them only once they expire.
// Call once at startup, before Start, so in-flight campaigns pick back up
// from their last persisted Progress instead of sitting idle until their
// lease naturally expires and schedulerLoop rediscovers them.
func (s *Scheduler) Restore(ctx context.Context) error {
	return s.sync.Restore(ctx, s.ownerID, func(campaignID string) {
		go s.processCampaign(ctx, campaignID)
	})
}

// Start launches the scheduler, heartbeat, and reconciliation loops; it
// blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.schedulerLoop(ctx)
	go s.heartbeatLoop(ctx)
	go s.reconcileLoop(ctx)
	<-ctx.Done()
}

func (s *Scheduler) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.sync.DueForScheduling(ctx, s.clock.Now(), 20)
	if err != nil {
		logger.Error("scheduler: list due campaigns failed", "error", err.Error())
		return
	}
	for _, c := range due {
		claimed, err := s.sync.Acquire(ctx, c.ID, s.ownerID)
		if err != nil {
			logger.Error("scheduler: acquire failed", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}
		go s.processCampaign(ctx, c.ID)
	}
}

// processCampaign renders and enqueues the campaign's remaining recipients,
// respecting its failure policy, then releases the lease. It always
// releases the lease on return, including on panic-free early exits.
func (s *Scheduler) processCampaign(ctx context.Context, campaignID string) {
	defer func() {
		if err := s.sync.Release(ctx, campaignID, s.ownerID); err != nil {
			logger.Error("scheduler: release lease failed", "campaign_id", campaignID, "error", err.Error())
		}
	}()

	c, err := s.sync.Get(ctx, "", campaignID)
	if err != nil {
		logger.Error("scheduler: get campaign failed", "campaign_id", campaignID, "error", err.Error())
		return
	}
	if c.Status == domain.CampaignScheduled {
		if err := s.sync.Transition(ctx, c.AccountID, campaignID, domain.CampaignRunning); err != nil {
			logger.Error("scheduler: transition to running failed", "campaign_id", campaignID, "error", err.Error())
			return
		}
	}

	tmpl := humanize.Parse(c.TemplateRaw)
	if !tmpl.IsValid {
		s.abort(ctx, c, fmt.Sprintf("template is invalid: %v", tmpl.Errors))
		return
	}

	progress := c.Progress
	for {
		recipients, err := s.sync.Recipients(ctx, campaignID, progress.NextIndex, recipientPageSize)
		if err != nil {
			logger.Error("scheduler: list recipients failed", "campaign_id", campaignID, "error", err.Error())
			return
		}
		if len(recipients) == 0 {
			break
		}

		batch := make([]domain.ScheduledMessage, 0, len(recipients))
		for _, rec := range recipients {
			msg := s.processor.Process(c.TemplateRaw, rec.PerRecipientVariables, humanize.ProcessOptions{})
			if !msg.Success {
				progress.Failed++
				if c.Pacing.FailurePolicy == domain.FailurePolicyAbortCampaign {
					s.abort(ctx, c, fmt.Sprintf("render failed for recipient %d: %v", rec.Index, msg.Errors))
					return
				}
				continue
			}
			batch = append(batch, domain.ScheduledMessage{
				ID:                  uuid.New().String(),
				CampaignID:          c.ID,
				AccountID:           c.AccountID,
				RecipientIdx:        rec.Index,
				Address:             rec.Address,
				RenderedText:        msg.Final,
				TemplateRaw:         c.TemplateRaw,
				Selections:          msg.Selections,
				PacingMinIntervalMs: c.Pacing.MinIntervalMs,
				PacingMaxIntervalMs: c.Pacing.MaxIntervalMs,
				Status:              domain.MessageQueued,
			})
			progress.Attempted++
		}

		if len(batch) > 0 {
			if err := s.queue.Enqueue(ctx, batch); err != nil {
				logger.Error("scheduler: enqueue batch failed", "campaign_id", campaignID, "error", err.Error())
				return
			}
			progress.Succeeded += len(batch)
		}

		progress.NextIndex = recipients[len(recipients)-1].Index + 1
		if err := s.sync.AdvanceProgress(ctx, campaignID, progress); err != nil {
			logger.Error("scheduler: advance progress failed", "campaign_id", campaignID, "error", err.Error())
			return
		}

		if err := s.sync.Renew(ctx, campaignID, s.ownerID); err != nil {
			logger.Warn("scheduler: lease renewal failed mid-run", "campaign_id", campaignID, "error", err.Error())
			return
		}

		if len(recipients) < recipientPageSize {
			break
		}
	}

	if err := s.sync.Transition(ctx, c.AccountID, campaignID, domain.CampaignCompleted); err != nil && err != errs.ErrAlreadyTerminal {
		logger.Error("scheduler: transition to completed failed", "campaign_id", campaignID, "error", err.Error())
	}
}

func (s *Scheduler) abort(ctx context.Context, c *domain.Campaign, reason string) {
	logger.Error("scheduler: aborting campaign", "campaign_id", c.ID, "reason", reason)
	if err := s.sync.Transition(ctx, c.AccountID, c.ID, domain.CampaignFailed); err != nil {
		logger.Error("scheduler: mark failed failed", "campaign_id", c.ID, "error", err.Error())
	}
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	if s.counter == nil {
		return
	}
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sync.Reconcile(ctx, s.counter); err != nil {
				logger.Error("scheduler: reconcile failed", "error", err.Error())
			}
		}
	}
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("scheduler heartbeat", "owner", s.ownerID)
		}
	}
}

// ValidateScheduleTime rejects a start time in the past.
func ValidateScheduleTime(clock seam.Clock, startsAt time.Time) error {
	if startsAt.Before(clock.Now()) {
		return fmt.Errorf("scheduled time %s is in the past", startsAt.Format(time.RFC3339))
	}
	return nil
}
