package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/statesync"
)

// CampaignRepo implements statesync.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var startsAt sql.NullTime
	var leaseOwner sql.NullString
	var leaseExpires sql.NullTime
	var lastErr sql.NullString
	var pacingJSON []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, template_raw, pacing, status,
		       total_recipients, attempted, succeeded, failed, next_index,
		       COALESCE(last_error,''), starts_at, lease_owner, lease_expires_at,
		       created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND account_id = $2
	`, id, accountID).Scan(
		&c.ID, &c.AccountID, &c.Name, &c.TemplateRaw, &pacingJSON, &c.Status,
		&c.Progress.TotalRecipients, &c.Progress.Attempted, &c.Progress.Succeeded, &c.Progress.Failed, &c.Progress.NextIndex,
		&lastErr, &startsAt, &leaseOwner, &leaseExpires,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := json.Unmarshal(pacingJSON, &c.Pacing); err != nil {
		return nil, fmt.Errorf("decode pacing: %w", err)
	}
	c.LastError = lastErr.String
	if startsAt.Valid {
		c.StartsAt = &startsAt.Time
	}
	c.LeaseOwner = leaseOwner.String
	if leaseExpires.Valid {
		c.LeaseExpires = &leaseExpires.Time
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, accountID string, f statesync.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE account_id = $1`
	args := []interface{}{accountID}
	if f.Status != "" {
		countQ += " AND status = $2"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT id, name, status, total_recipients, attempted, succeeded, failed, created_at
		FROM campaigns
		WHERE account_id = $1`
	qArgs := []interface{}{accountID}
	qIdx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", qIdx)
		qArgs = append(qArgs, f.Status)
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status,
			&c.Progress.TotalRecipients, &c.Progress.Attempted, &c.Progress.Succeeded, &c.Progress.Failed,
			&c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		c.AccountID = accountID
		out = append(out, c)
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	pacingJSON, err := json.Marshal(c.Pacing)
	if err != nil {
		return "", fmt.Errorf("encode pacing: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, account_id, name, template_raw, pacing, status, total_recipients, starts_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, c.ID, c.AccountID, c.Name, c.TemplateRaw, pacingJSON, c.Status, len(recipients), c.StartsAt)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}

	for _, rec := range recipients {
		varsJSON, err := json.Marshal(rec.PerRecipientVariables)
		if err != nil {
			return "", fmt.Errorf("encode recipient variables: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_recipients (campaign_id, recipient_index, address, variables)
			VALUES ($1, $2, $3, $4)
		`, c.ID, rec.Index, rec.Address, varsJSON); err != nil {
			return "", fmt.Errorf("insert recipient %d: %w", rec.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, accountID, id string, u statesync.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.TemplateRaw != nil {
		add("template_raw", *u.TemplateRaw)
	}
	if u.StartsAt != nil {
		add("starts_at", *u.StartsAt)
	}
	if u.Pacing != nil {
		pacingJSON, err := json.Marshal(*u.Pacing)
		if err != nil {
			return fmt.Errorf("encode pacing: %w", err)
		}
		add("pacing", pacingJSON)
	}

	if len(sets) == 0 {
		return nil
	}

	add("updated_at", time.Now())
	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d AND account_id = $%d",
		joinComma(sets), idx, idx+1)
	args = append(args, id, accountID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, accountID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns
		WHERE id = $1 AND account_id = $2 AND status IN ('scheduled','cancelled')
	`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, accountID, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND account_id = $3
	`, status, id, accountID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Recipients(ctx context.Context, campaignID string, fromIndex, limit int) ([]domain.Recipient, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT recipient_index, address, variables
		FROM campaign_recipients
		WHERE campaign_id = $1 AND recipient_index >= $2
		ORDER BY recipient_index
		LIMIT $3
	`, campaignID, fromIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		var varsJSON []byte
		if err := rows.Scan(&rec.Index, &rec.Address, &varsJSON); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(varsJSON) > 0 {
			if err := json.Unmarshal(varsJSON, &rec.PerRecipientVariables); err != nil {
				return nil, fmt.Errorf("decode recipient variables: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *CampaignRepo) RecipientCount(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

func (r *CampaignRepo) AdvanceProgress(ctx context.Context, campaignID string, p domain.Progress) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET attempted = $1, succeeded = $2, failed = $3, next_index = $4, updated_at = NOW()
		WHERE id = $5
	`, p.Attempted, p.Succeeded, p.Failed, p.NextIndex, campaignID)
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	return nil
}

func (r *CampaignRepo) TryAcquireLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET lease_owner = $1, lease_expires_at = $2
		WHERE id = $3 AND (lease_owner IS NULL OR lease_expires_at < NOW() OR lease_owner = $1)
	`, owner, expiresAt, campaignID)
	if err != nil {
		return false, fmt.Errorf("try acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) RenewLease(ctx context.Context, campaignID, owner string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET lease_expires_at = $1
		WHERE id = $2 AND lease_owner = $3 AND lease_expires_at >= NOW()
	`, expiresAt, campaignID, owner)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) ReleaseLease(ctx context.Context, campaignID, owner string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2
	`, campaignID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *CampaignRepo) DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, name, status
		FROM campaigns
		WHERE status IN ('scheduled','running')
		  AND (starts_at IS NULL OR starts_at <= $1)
		  AND (lease_owner IS NULL OR lease_expires_at < $1)
		ORDER BY starts_at NULLS FIRST
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due for scheduling: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Status); err != nil {
			return nil, fmt.Errorf("scan due campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *CampaignRepo) RunningCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, name, template_raw, pacing, status,
		       total_recipients, attempted, succeeded, failed, next_index,
		       COALESCE(last_error,''), starts_at, lease_owner, lease_expires_at,
		       created_at, updated_at
		FROM campaigns
		WHERE status = 'running'
	`)
	if err != nil {
		return nil, fmt.Errorf("running campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var startsAt sql.NullTime
		var leaseOwner sql.NullString
		var leaseExpires sql.NullTime
		var lastErr sql.NullString
		var pacingJSON []byte

		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.Name, &c.TemplateRaw, &pacingJSON, &c.Status,
			&c.Progress.TotalRecipients, &c.Progress.Attempted, &c.Progress.Succeeded, &c.Progress.Failed, &c.Progress.NextIndex,
			&lastErr, &startsAt, &leaseOwner, &leaseExpires,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan running campaign: %w", err)
		}
		if err := json.Unmarshal(pacingJSON, &c.Pacing); err != nil {
			return nil, fmt.Errorf("decode pacing: %w", err)
		}
		c.LastError = lastErr.String
		if startsAt.Valid {
			c.StartsAt = &startsAt.Time
		}
		c.LeaseOwner = leaseOwner.String
		if leaseExpires.Valid {
			c.LeaseExpires = &leaseExpires.Time
		}
		out = append(out, c)
	}
	return out, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
