package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/engine/statesync"
)

func setupTestDB(t *testing.T) (*CampaignRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewCampaignRepo(db), mock, func() { db.Close() }
}

func TestCampaignRepo_Get(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "name", "template_raw", "pacing", "status",
		"total_recipients", "attempted", "succeeded", "failed", "next_index",
		"last_error", "starts_at", "lease_owner", "lease_expires_at",
		"created_at", "updated_at",
	}).AddRow("camp-1", "acct-1", "Welcome", "Hi {{name}}", []byte(`{"min_interval_ms":100}`), "running",
		10, 5, 4, 1, 5, "", nil, nil, nil, now, now)

	mock.ExpectQuery("SELECT id, account_id").WithArgs("camp-1", "acct-1").WillReturnRows(rows)

	c, err := repo.Get(context.Background(), "acct-1", "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "camp-1", c.ID)
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.Equal(t, int64(100), c.Pacing.MinIntervalMs)
	assert.Equal(t, 10, c.Progress.TotalRecipients)
}

func TestCampaignRepo_Get_NotFound(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, account_id").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "acct-1", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCampaignRepo_Create(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO campaigns").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO campaign_recipients").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := &domain.Campaign{ID: "camp-1", AccountID: "acct-1", Name: "Welcome", Status: domain.CampaignScheduled}
	recipients := []domain.Recipient{{Index: 0, Address: "+15550001111"}}

	id, err := repo.Create(context.Background(), c, recipients)
	require.NoError(t, err)
	assert.Equal(t, "camp-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_Update_NoFields(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	err := repo.Update(context.Background(), "acct-1", "camp-1", statesync.UpdateFields{})
	require.NoError(t, err)
}

func TestCampaignRepo_Update_Name(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE campaigns SET name").WillReturnResult(sqlmock.NewResult(0, 1))

	name := "New Name"
	err := repo.Update(context.Background(), "acct-1", "camp-1", statesync.UpdateFields{Name: &name})
	require.NoError(t, err)
}

func TestCampaignRepo_Update_NotFound(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE campaigns SET name").WillReturnResult(sqlmock.NewResult(0, 0))

	name := "New Name"
	err := repo.Update(context.Background(), "acct-1", "camp-1", statesync.UpdateFields{Name: &name})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCampaignRepo_TryAcquireLease(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE campaigns").WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.TryAcquireLease(context.Background(), "camp-1", "owner-a", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCampaignRepo_TryAcquireLease_AlreadyHeld(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE campaigns").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TryAcquireLease(context.Background(), "camp-1", "owner-b", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCampaignRepo_RunningCampaigns(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "name", "template_raw", "pacing", "status",
		"total_recipients", "attempted", "succeeded", "failed", "next_index",
		"last_error", "starts_at", "lease_owner", "lease_expires_at",
		"created_at", "updated_at",
	}).AddRow("camp-1", "acct-1", "Welcome", "Hi {{name}}", []byte(`{"min_interval_ms":100}`), "running",
		10, 5, 4, 1, 5, "", nil, "worker-a", now.Add(-time.Minute), now, now)

	mock.ExpectQuery("SELECT id, account_id").WillReturnRows(rows)

	campaigns, err := repo.RunningCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "camp-1", campaigns[0].ID)
	assert.Equal(t, "worker-a", campaigns[0].LeaseOwner)
	require.NotNil(t, campaigns[0].LeaseExpires)
}

func TestCampaignRepo_Delete_NotFound(t *testing.T) {
	repo, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM campaigns").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "acct-1", "camp-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
