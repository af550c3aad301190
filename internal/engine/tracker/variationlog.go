package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/harborwave/humanizer/internal/domain"
)

// VariationLogStore persists VariationLogEntry rows as they are dispatched,
// so report.Builder can later reconstruct per-block option distribution and
// delivery/read performance without re-rendering any message.
type VariationLogStore struct{ db *sql.DB }

func NewVariationLogStore(db *sql.DB) *VariationLogStore { return &VariationLogStore{db: db} }

func (s *VariationLogStore) Append(ctx context.Context, entries []domain.VariationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("variation log: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		selJSON, err := json.Marshal(e.Selections)
		if err != nil {
			return fmt.Errorf("variation log: encode selections: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO variation_log
				(id, campaign_id, message_id, provider_message_id, account_id,
				 template_raw, selections, recipient_index, recipient, sent_at,
				 delivered, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, to_timestamp($10), false, false)
		`, e.ID, e.CampaignID, e.MessageID, nullIfEmpty(e.ProviderMessageID), e.AccountID,
			e.TemplateRaw, selJSON, e.RecipientIndex, e.RecipientAddress, e.SentAt); err != nil {
			return fmt.Errorf("variation log: insert recipient %d: %w", e.RecipientIndex, err)
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Selections returns every logged selection set for a campaign, for
// distribution-report aggregation.
func (s *VariationLogStore) Selections(ctx context.Context, campaignID string) ([][]domain.Selection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT selections FROM variation_log WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("variation log: query: %w", err)
	}
	defer rows.Close()

	var out [][]domain.Selection
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("variation log: scan: %w", err)
		}
		var sel []domain.Selection
		if err := json.Unmarshal(raw, &sel); err != nil {
			return nil, fmt.Errorf("variation log: decode selections: %w", err)
		}
		out = append(out, sel)
	}
	return out, nil
}

// Entries returns every logged row for a campaign in send order, for CSV/JSON
// export and delivery-rate computation.
func (s *VariationLogStore) Entries(ctx context.Context, campaignID string) ([]domain.VariationLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, message_id, COALESCE(provider_message_id, ''), account_id,
		       template_raw, selections, recipient_index, recipient,
		       EXTRACT(EPOCH FROM sent_at)::bigint, delivered, read
		FROM variation_log
		WHERE campaign_id = $1
		ORDER BY sent_at ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("variation log: query entries: %w", err)
	}
	defer rows.Close()

	var out []domain.VariationLogEntry
	for rows.Next() {
		var e domain.VariationLogEntry
		var selRaw []byte
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.MessageID, &e.ProviderMessageID, &e.AccountID,
			&e.TemplateRaw, &selRaw, &e.RecipientIndex, &e.RecipientAddress,
			&e.SentAt, &e.Delivered, &e.Read); err != nil {
			return nil, fmt.Errorf("variation log: scan entry: %w", err)
		}
		if err := json.Unmarshal(selRaw, &e.Selections); err != nil {
			return nil, fmt.Errorf("variation log: decode selections: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Count reports how many messages have been logged for a campaign — the
// StateSynchronizer's reconciliation source of truth for "succeeded", since
// a row is only ever appended after a confirmed successful dispatch.
func (s *VariationLogStore) Count(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM variation_log WHERE campaign_id = $1
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("variation log: count: %w", err)
	}
	return n, nil
}

// UpdateDelivery applies a delivered/read flag to the logged row matching
// providerMessageID. Flags are monotonic — once set they are never cleared
// by a later event, so an out-of-order or duplicate "delivered" callback
// after a "read" one can't un-read a message.
func (s *VariationLogStore) UpdateDelivery(ctx context.Context, providerMessageID string, delivered, read bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE variation_log
		SET delivered = delivered OR $1,
		    read = read OR $2
		WHERE provider_message_id = $3
	`, delivered, read, providerMessageID)
	if err != nil {
		return fmt.Errorf("variation log: update delivery: %w", err)
	}
	return nil
}
