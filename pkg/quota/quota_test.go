package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxthdr/saimiris-gateway/pkg/store"
)

func TestCanSubmit_Scenario(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.UpsertUserLimit(ctx, "hash1", 100))

	_, err := repo.CreateTracking(ctx, "hash1", "meas-1", "agent-1", 60)
	require.NoError(t, err)

	acc := NewAccountant(repo)

	ok, stats, err := acc.CanSubmit(ctx, "hash1", 30, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(60), stats.TotalProbes)

	ok, _, err = acc.CanSubmit(ctx, "hash1", 41, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanSubmit_DefaultLimitWhenUnset(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	acc := NewAccountant(repo)

	ok, stats, err := acc.CanSubmit(ctx, "hash-new", 5000, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(store.DefaultProbeLimit), stats.Limit)
}

func TestGetUsageStats_CountsDistinctMeasurements(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.CreateTracking(ctx, "hash1", "meas-1", "agent-1", 10)
	require.NoError(t, err)
	_, err = repo.CreateTracking(ctx, "hash1", "meas-1", "agent-2", 10)
	require.NoError(t, err)
	_, err = repo.CreateTracking(ctx, "hash1", "meas-2", "agent-1", 10)
	require.NoError(t, err)

	acc := NewAccountant(repo)
	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	stats, err := acc.GetUsageStats(ctx, "hash1", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.SubmissionCount)
	assert.Equal(t, int64(30), stats.TotalProbes)
}

func TestCanSubmit_WindowExcludesOldRows(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return fixed.Add(-48 * time.Hour) })

	_, err := repo.CreateTracking(ctx, "hash1", "meas-old", "agent-1", 9000)
	require.NoError(t, err)

	repo.SetClock(func() time.Time { return fixed })
	acc := NewAccountant(repo)
	acc.SetClock(func() time.Time { return fixed })

	ok, stats, err := acc.CanSubmit(ctx, "hash1", 100, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), stats.TotalProbes)
}

func TestCanSubmit_RollingWindow(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	repo.SetClock(func() time.Time { return fixed.Add(-2 * time.Hour) })
	_, err := repo.CreateTracking(ctx, "hash1", "meas-1", "agent-1", 50)
	require.NoError(t, err)

	require.NoError(t, repo.UpsertUserLimit(ctx, "hash1", 80))

	acc := NewAccountant(repo)
	acc.SetClock(func() time.Time { return fixed })

	window := 3 * time.Hour
	ok, stats, err := acc.CanSubmit(ctx, "hash1", 40, &window)
	require.NoError(t, err)
	assert.False(t, ok, "50 + 40 > limit of 80")
	assert.Equal(t, int64(50), stats.TotalProbes)

	ok, _, err = acc.CanSubmit(ctx, "hash1", 20, &window)
	require.NoError(t, err)
	assert.True(t, ok, "50 + 20 <= limit of 80")
}
