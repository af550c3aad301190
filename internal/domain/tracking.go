package domain

import "time"

// DistributionBucket aggregates how often each option of a single block was
// selected across a campaign's rendered messages.
type DistributionBucket struct {
	BlockIndex  int     `json:"block_index"`
	OptionIndex int     `json:"option_index"`
	OptionText  string  `json:"option_text"`
	Count       int     `json:"count"`
	Fraction    float64 `json:"fraction"`
}

// DistributionReport is the full per-block option-distribution breakdown
// for one campaign, plus the chi-square goodness-of-fit statistic against a
// uniform null hypothesis.
type DistributionReport struct {
	CampaignID       string               `json:"campaign_id"`
	SampleSize       int                  `json:"sample_size"`
	Buckets          []DistributionBucket `json:"buckets"`
	ChiSquare        float64              `json:"chi_square"`
	DegreesOfFreedom int                  `json:"degrees_of_freedom"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// CampaignStats is the ReportEngine's full statistical summary for one
// campaign: distribution plus delivery/read performance.
type CampaignStats struct {
	CampaignID          string               `json:"campaign_id"`
	SampleSize          int                  `json:"sample_size"`
	Buckets             []DistributionBucket `json:"buckets"`
	DeliveredCount      int                  `json:"delivered_count"`
	ReadCount           int                  `json:"read_count"`
	DeliveryRate        float64              `json:"delivery_rate"`
	ReadRate            float64              `json:"read_rate"`
	FirstSentAt         *time.Time           `json:"first_sent_at,omitempty"`
	LastSentAt          *time.Time           `json:"last_sent_at,omitempty"`
	CalculationDuration time.Duration        `json:"calculation_duration_ns"`
	GeneratedAt         time.Time            `json:"generated_at"`
}
