package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
)

func TestUsageRepository_IncrementIfBelow(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	// First two increments pass, third is rejected at limit 2.
	for want := 1; want <= 2; want++ {
		count, ok, err := repo.IncrementIfBelow(ctx, "org-1", "2026-08-29", QuotaWorkflowRuns, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, count)
	}

	count, ok, err := repo.IncrementIfBelow(ctx, "org-1", "2026-08-29", QuotaWorkflowRuns, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, count, "rejected increment must not change the counter")
}

func TestUsageRepository_IncrementIfBelow_UnknownCounter(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)

	_, _, err := repo.IncrementIfBelow(context.Background(), "org-1", "2026-08-29", QuotaCounter("nope"), 1)
	assert.Error(t, err)
}

func TestUsageRepository_CountersAreIndependentPerDay(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	_, ok, err := repo.IncrementIfBelow(ctx, "org-1", "2026-08-28", QuotaMessages, 1)
	require.NoError(t, err)
	require.True(t, ok)

	count, ok, err := repo.IncrementIfBelow(ctx, "org-1", "2026-08-29", QuotaMessages, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestUsageRepository_AcquireRelease(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	ok, current, err := repo.AcquireSlot(ctx, "org-1", "2026-08-29", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, current)

	// Second acquisition denied at the limit.
	ok, current, err = repo.AcquireSlot(ctx, "org-1", "2026-08-29", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, current)

	require.NoError(t, repo.ReleaseSlot(ctx, "org-1", "2026-08-29"))

	ok, _, err = repo.AcquireSlot(ctx, "org-1", "2026-08-29", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsageRepository_ReleaseNeverGoesNegative(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureRow(ctx, "org-1", "2026-08-29"))
	require.NoError(t, repo.ReleaseSlot(ctx, "org-1", "2026-08-29"))
	require.NoError(t, repo.ReleaseSlot(ctx, "org-1", "2026-08-29"))

	usage, err := repo.Get(ctx, "org-1", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.ConcurrentRunsCurrent)
}

func TestUsageRepository_OrganizationsDoNotContend(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	ok, _, err := repo.AcquireSlot(ctx, "org-1", "2026-08-29", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = repo.AcquireSlot(ctx, "org-2", "2026-08-29", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
