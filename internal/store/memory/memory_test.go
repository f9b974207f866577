package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulr8/trailblazer/internal/domain"
)

func TestDedupKeyIsSourcePlusExternalID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Insert(ctx, "user-1", domain.Activity{
		Source:     domain.SourceAppleHealth,
		ExternalID: "hk-1",
		Type:       domain.TypeRun,
		StartedAt:  time.Now(),
	})
	require.NoError(t, err)

	exists, err := store.Exists(ctx, "user-1", domain.SourceAppleHealth, "hk-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Same externalId under a different source does not collide.
	exists, err = store.Exists(ctx, "user-1", domain.SourceManual, "hk-1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists(ctx, "user-2", domain.SourceAppleHealth, "hk-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClearConnectionRemovesState(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.SetConnection(ctx, "user-1", domain.Connection{
		IsAuthorized: true,
		ConnectedAt:  time.Now().UTC(),
	}))

	conn, err := store.GetConnection(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.True(t, conn.IsAuthorized)

	require.NoError(t, store.ClearConnection(ctx, "user-1"))

	conn, err = store.GetConnection(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestIncrementStatsIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.IncrementStats(ctx, "user-1", domain.StatsDelta{Minutes: 30, Km: 5, Steps: 6500}))
	require.NoError(t, store.IncrementStats(ctx, "user-1", domain.StatsDelta{Minutes: 15, Km: 2.5, Steps: 3250}))

	stats, err := store.GetStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 45, stats.TotalMinutes)
	assert.Equal(t, 7.5, stats.TotalKm)
	assert.Equal(t, 9750, stats.TotalSteps)
}

func TestDistinctActivityDaysCollapsesSameDay(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	day := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{
		day.Add(7 * time.Hour),
		day.Add(19 * time.Hour),
		day.AddDate(0, 0, 2).Add(9 * time.Hour),
	} {
		_, err := store.Insert(ctx, "user-1", domain.Activity{
			Source:    domain.SourceManual,
			Type:      domain.TypeWalk,
			StartedAt: at,
		})
		require.NoError(t, err)
	}

	days, err := store.DistinctActivityDays(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, day, days[0])
	assert.Equal(t, day.AddDate(0, 0, 2), days[1])
}
