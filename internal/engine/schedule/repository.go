// Package schedule implements SingleMessageScheduler: the worker pool that
// claims queued ScheduledMessage rows exactly once and dispatches them
// through a gateway.Gateway, with backpressure and dead-letter recovery.
package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harborwave/humanizer/internal/domain"
)

// Repository is the persistence contract for the message queue.
type Repository interface {
	// ClaimBatch atomically claims up to n queued messages (stale claims are
	// put back to queued by RequeueStale) for owner, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
	// workers never claim the same row twice.
	ClaimBatch(ctx context.Context, owner string, n int) ([]domain.ScheduledMessage, error)
	MarkSent(ctx context.Context, id, providerMessageID string) error
	MarkFailed(ctx context.Context, id, reason string, deadLetter bool) error
	QueueDepth(ctx context.Context) (int, error)

	// RequeueStale resets claimed/sending rows whose claim is older than
	// staleAfter back to queued (if under maxAttempts) or dead_letter.
	RequeueStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (requeued, deadLettered int, err error)

	// Enqueue inserts freshly rendered messages in 'queued' status.
	Enqueue(ctx context.Context, msgs []domain.ScheduledMessage) error

	// Requeue resets a claimed message back to queued without counting it
	// as a failed attempt, used when a claim can't be dispatched through no
	// fault of the message itself (e.g. its campaign's dispatch lock is
	// held by another worker).
	Requeue(ctx context.Context, id string) error
}

// PostgresRepository implements Repository against a scheduled_messages
// table, generalizing the teacher's FOR UPDATE SKIP LOCKED claim query from
// a per-ESP email queue to a provider-agnostic message queue.
type PostgresRepository struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) *PostgresRepository { return &PostgresRepository{db: db} }

func (r *PostgresRepository) ClaimBatch(ctx context.Context, owner string, n int) ([]domain.ScheduledMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE scheduled_messages
			SET status = 'claimed', claimed_by = $1, claimed_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM scheduled_messages
				WHERE status = 'queued'
				ORDER BY created_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, campaign_id, account_id, recipient_index, address, template_raw,
			          rendered_text, selections_json, status,
			          pacing_min_interval_ms, pacing_max_interval_ms,
			          attempts, last_error, provider_message_id, claimed_by, claimed_at,
			          created_at, updated_at
		)
		SELECT * FROM claimed
	`, owner, n)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledMessage
	for rows.Next() {
		var m domain.ScheduledMessage
		var lastErr sql.NullString
		var providerID sql.NullString
		var claimedBy sql.NullString
		var claimedAt sql.NullTime
		var selectionsJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.AccountID, &m.RecipientIdx, &m.Address, &m.TemplateRaw,
			&m.RenderedText, &selectionsJSON, &m.Status,
			&m.PacingMinIntervalMs, &m.PacingMaxIntervalMs,
			&m.Attempts, &lastErr, &providerID, &claimedBy, &claimedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		m.LastError = lastErr.String
		m.ProviderMessageID = providerID.String
		m.ClaimedBy = claimedBy.String
		if claimedAt.Valid {
			m.ClaimedAt = &claimedAt.Time
		}
		if selectionsJSON.Valid && selectionsJSON.String != "" {
			if err := json.Unmarshal([]byte(selectionsJSON.String), &m.Selections); err != nil {
				return nil, fmt.Errorf("decode selections for message %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *PostgresRepository) MarkSent(ctx context.Context, id, providerMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent', provider_message_id = $1, updated_at = NOW()
		WHERE id = $2
	`, providerMessageID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id, reason string, deadLetter bool) error {
	status := "queued"
	if deadLetter {
		status = "dead_letter"
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = $1, attempts = attempts + 1, last_error = $2, claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $3
	`, status, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Enqueue(ctx context.Context, msgs []domain.ScheduledMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("enqueue: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		selectionsJSON, err := json.Marshal(m.Selections)
		if err != nil {
			return fmt.Errorf("encode selections for recipient %d: %w", m.RecipientIdx, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_messages
				(id, campaign_id, account_id, recipient_index, address, template_raw,
				 rendered_text, selections_json, pacing_min_interval_ms, pacing_max_interval_ms,
				 status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'queued', NOW(), NOW())
			ON CONFLICT (campaign_id, recipient_index) DO NOTHING
		`, m.ID, m.CampaignID, m.AccountID, m.RecipientIdx, m.Address, m.TemplateRaw,
			m.RenderedText, string(selectionsJSON), m.PacingMinIntervalMs, m.PacingMaxIntervalMs); err != nil {
			return fmt.Errorf("enqueue message for recipient %d: %w", m.RecipientIdx, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) Requeue(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

func (r *PostgresRepository) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_messages WHERE status = 'queued'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RequeueStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	requeueRes, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status IN ('claimed','sending')
		  AND claimed_at < NOW() - ($1 || ' seconds')::interval
		  AND attempts < $2
	`, int64(staleAfter.Seconds()), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale: %w", err)
	}
	requeued, _ := requeueRes.RowsAffected()

	deadRes, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'dead_letter', updated_at = NOW()
		WHERE status IN ('claimed','sending')
		  AND claimed_at < NOW() - ($1 || ' seconds')::interval
		  AND attempts >= $2
	`, int64(staleAfter.Seconds()), maxAttempts)
	if err != nil {
		return int(requeued), 0, fmt.Errorf("dead-letter stale: %w", err)
	}
	dead, _ := deadRes.RowsAffected()

	return int(requeued), int(dead), nil
}
