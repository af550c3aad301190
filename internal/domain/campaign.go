package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// FailurePolicy controls how CampaignScheduler reacts to a processing error
// for a single recipient.
type FailurePolicy string

const (
	FailurePolicyAbortCampaign FailurePolicy = "abort_campaign"
	FailurePolicySkipRecipient FailurePolicy = "skip_recipient"
	FailurePolicyRetryUpToK    FailurePolicy = "retry_up_to_k"
)

// Pacing controls the inter-send delay and concurrency of a campaign.
type Pacing struct {
	MinIntervalMs int64         `json:"min_interval_ms" db:"min_interval_ms"`
	MaxIntervalMs int64         `json:"max_interval_ms" db:"max_interval_ms"`
	MaxParallel   int           `json:"max_parallel" db:"max_parallel"`
	FailurePolicy FailurePolicy `json:"failure_policy" db:"failure_policy"`
	RetryMax      int           `json:"retry_max" db:"retry_max"`
}

// Progress tracks a campaign's advance through its recipient list.
type Progress struct {
	TotalRecipients int `json:"total_recipients"`
	Attempted       int `json:"attempted"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	NextIndex       int `json:"next_index"`
}

// Recipient is a single addressee of a campaign, with per-recipient overrides
// for the template's {{variable}} substitutions.
type Recipient struct {
	Index                 int               `json:"index" db:"recipient_index"`
	Address               string            `json:"address" db:"address"`
	PerRecipientVariables map[string]string `json:"per_recipient_variables,omitempty" db:"-"`
}

// Campaign is a bulk-send job against an ordered recipient list sharing one
// humanized template.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	Name        string         `json:"name" db:"name"`
	TemplateRaw string         `json:"template_raw" db:"template_raw"`
	Pacing      Pacing         `json:"pacing" db:"-"`
	Status      CampaignStatus `json:"status" db:"status"`
	Progress    Progress       `json:"progress" db:"-"`
	LastError   string         `json:"last_error,omitempty" db:"last_error"`

	StartsAt *time.Time `json:"starts_at,omitempty" db:"starts_at"`

	LeaseOwner    string     `json:"-" db:"lease_owner"`
	LeaseExpires  *time.Time `json:"-" db:"lease_expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the campaign has reached a final state.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignCompleted, CampaignCancelled, CampaignFailed:
		return true
	default:
		return false
	}
}

// CanPause reports whether the campaign can transition to paused.
func (c *Campaign) CanPause() bool {
	switch c.Status {
	case CampaignScheduled, CampaignRunning:
		return true
	default:
		return false
	}
}

// CanResume reports whether a paused campaign can resume.
func (c *Campaign) CanResume() bool {
	return c.Status == CampaignPaused
}

// CanCancel reports whether the campaign can still be cancelled.
func (c *Campaign) CanCancel() bool {
	return !c.IsTerminal()
}
