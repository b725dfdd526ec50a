package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

func newKey(org, scope, key, fingerprint string) *models.IdempotencyKey {
	return &models.IdempotencyKey{
		OrganizationID:     org,
		Scope:              scope,
		Key:                key,
		RequestFingerprint: fingerprint,
		ExpiresAt:          time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestIdempotencyRepository_InsertCollision(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()

	first := newKey("org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, repo.InsertInProgress(ctx, first))

	second := newKey("org-1", "trigger", "key-1", "fp-1")
	err := repo.InsertInProgress(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// Same key in a different scope or organization is a fresh row.
	require.NoError(t, repo.InsertInProgress(ctx, newKey("org-1", "payment", "key-1", "fp-1")))
	require.NoError(t, repo.InsertInProgress(ctx, newKey("org-2", "trigger", "key-1", "fp-1")))
}

func TestIdempotencyRepository_FinalizeAndGet(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()

	k := newKey("org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, repo.InsertInProgress(ctx, k))
	require.NoError(t, repo.Finalize(ctx, k.ID, models.IdempotencyCompleted, 201, []byte(`{"id":"e-1"}`), nil))

	got, err := repo.Get(ctx, "org-1", "trigger", "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyCompleted, got.Status)
	assert.Equal(t, int32(201), got.ResponseCode.Int32)
	assert.JSONEq(t, `{"id":"e-1"}`, string(got.ResponseBody))
}

func TestIdempotencyRepository_Reacquire(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	k := newKey("org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, repo.InsertInProgress(ctx, k))

	// Fresh IN_PROGRESS lock: not stealable.
	ok, err := repo.Reacquire(ctx, k.ID, "fp-1", now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// Stale lock (staleBefore in the future covers the row's locked_at).
	ok, err = repo.Reacquire(ctx, k.ID, "fp-1", now.Add(time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyRepository_ReacquireFailed5xx(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	k := newKey("org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, repo.InsertInProgress(ctx, k))
	require.NoError(t, repo.Finalize(ctx, k.ID, models.IdempotencyFailed, 503, nil, []byte(`{"error":"upstream"}`)))

	// Server errors are not terminal: the key can be taken over.
	ok, err := repo.Reacquire(ctx, k.ID, "fp-1", now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "org-1", "trigger", "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IdempotencyInProgress, got.Status)
	assert.Empty(t, got.ErrorBody)
}

func TestIdempotencyRepository_CachedClientErrorNotReacquirable(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewIdempotencyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	k := newKey("org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, repo.InsertInProgress(ctx, k))
	require.NoError(t, repo.Finalize(ctx, k.ID, models.IdempotencyFailed, 422, nil, []byte(`{"error":"bad"}`)))

	ok, err := repo.Reacquire(ctx, k.ID, "fp-1", now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
