package memory

import (
	"context"
	"testing"
	"time"

	"vitalsdash/domain/core"
	"vitalsdash/domain/vitals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotAt(t *testing.T, metric vitals.Metric, id string, at time.Time) *vitals.Snapshot {
	t.Helper()
	s, err := vitals.NewSnapshot(metric, []vitals.MetricDocument{{ID: id}}, at)
	require.NoError(t, err)
	return s
}

func TestSnapshotRepository_LatestAndPrune(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Latest(ctx, vitals.MetricHeartRate)
	assert.ErrorIs(t, err, core.ErrSnapshotNotFound)

	// Saved out of order on purpose.
	require.NoError(t, repo.Save(ctx, snapshotAt(t, vitals.MetricHeartRate, "second", base.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, snapshotAt(t, vitals.MetricHeartRate, "first", base)))
	require.NoError(t, repo.Save(ctx, snapshotAt(t, vitals.MetricHeartRate, "third", base.Add(2*time.Hour))))
	require.NoError(t, repo.Save(ctx, snapshotAt(t, vitals.MetricOxygenSaturation, "oxygen", base)))

	latest, err := repo.Latest(ctx, vitals.MetricHeartRate)
	require.NoError(t, err)
	doc, ok := latest.Primary()
	require.True(t, ok)
	assert.Equal(t, "third", doc.ID)

	removed, err := repo.Prune(ctx, vitals.MetricHeartRate, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, repo.Count(vitals.MetricHeartRate))
	assert.Equal(t, 1, repo.Count(vitals.MetricOxygenSaturation))

	removed, err = repo.Prune(ctx, vitals.MetricHeartRate, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)

	assert.Error(t, repo.Save(ctx, nil))
}
