package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaign_IsTerminal(t *testing.T) {
	tests := []struct {
		status CampaignStatus
		want   bool
	}{
		{CampaignScheduled, false},
		{CampaignRunning, false},
		{CampaignPaused, false},
		{CampaignCompleted, true},
		{CampaignCancelled, true},
		{CampaignFailed, true},
	}
	for _, tt := range tests {
		c := &Campaign{Status: tt.status}
		assert.Equal(t, tt.want, c.IsTerminal(), "status=%s", tt.status)
	}
}

func TestCampaign_CanPause(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignScheduled}).CanPause())
	assert.True(t, (&Campaign{Status: CampaignRunning}).CanPause())
	assert.False(t, (&Campaign{Status: CampaignPaused}).CanPause())
	assert.False(t, (&Campaign{Status: CampaignCompleted}).CanPause())
}

func TestCampaign_CanResume(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignPaused}).CanResume())
	assert.False(t, (&Campaign{Status: CampaignRunning}).CanResume())
}

func TestCampaign_CanCancel(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignScheduled}).CanCancel())
	assert.True(t, (&Campaign{Status: CampaignPaused}).CanCancel())
	assert.False(t, (&Campaign{Status: CampaignCompleted}).CanCancel())
	assert.False(t, (&Campaign{Status: CampaignCancelled}).CanCancel())
}
