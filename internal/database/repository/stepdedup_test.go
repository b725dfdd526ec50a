package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/models"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
)

func newDedup(org, run, stepKey, hash string) *models.StepDedup {
	return &models.StepDedup{
		OrganizationID: org,
		WorkflowRunID:  run,
		StepKey:        stepKey,
		InputHash:      hash,
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}
}

func TestStepDedupRepository_InsertCollision(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewStepDedupRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.InsertLocked(ctx, newDedup("org-1", "run-1", "step-0", "h1")))
	assert.ErrorIs(t, repo.InsertLocked(ctx, newDedup("org-1", "run-1", "step-0", "h1")), ErrDuplicateKey)

	// A different input hash is a distinct side effect.
	require.NoError(t, repo.InsertLocked(ctx, newDedup("org-1", "run-1", "step-0", "h2")))
}

func TestStepDedupRepository_MarkDone(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewStepDedupRepository(db)
	ctx := context.Background()

	d := newDedup("org-1", "run-1", "step-0", "h1")
	require.NoError(t, repo.InsertLocked(ctx, d))

	ok, err := repo.MarkDone(ctx, d.ID, []byte(`{"externalId":"m-1"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	// Completing twice is a no-op.
	ok, err = repo.MarkDone(ctx, d.ID, []byte(`{"externalId":"m-2"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "org-1", "run-1", "step-0", "h1")
	require.NoError(t, err)
	assert.Equal(t, models.DedupDone, got.Status)
	assert.JSONEq(t, `{"externalId":"m-1"}`, string(got.Result))
}

func TestStepDedupRepository_StealLock(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewStepDedupRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	d := newDedup("org-1", "run-1", "step-0", "h1")
	require.NoError(t, repo.InsertLocked(ctx, d))

	ok, err := repo.StealLock(ctx, d.ID, now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "fresh lock must not be stolen")

	ok, err = repo.StealLock(ctx, d.ID, now.Add(time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepDedupRepository_Delete(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewStepDedupRepository(db)
	ctx := context.Background()

	d := newDedup("org-1", "run-1", "step-0", "h1")
	require.NoError(t, repo.InsertLocked(ctx, d))
	require.NoError(t, repo.Delete(ctx, d.ID))

	_, err := repo.Get(ctx, "org-1", "run-1", "step-0", "h1")
	assert.ErrorIs(t, err, ErrNotFound)
}
