package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	cutoff int64
	err    error
}

func (f *fakeCleaner) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestEmbeddingCacheCleanupJob(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cleaner := &fakeCleaner{}
	j := NewEmbeddingCacheCleanupJob(cleaner, 7)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-7*24*time.Hour).UnixMilli(), cleaner.cutoff)

	j = NewEmbeddingCacheCleanupJob(cleaner, 0)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).UnixMilli(), cleaner.cutoff)

	cleaner.err = errors.New("db down")
	require.Error(t, j.Run(context.Background()))
}

type ctimeCleaner struct {
	ctimes map[string]int64
}

func (c *ctimeCleaner) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	var n int64
	for k, ts := range c.ctimes {
		if ts < cutoff {
			delete(c.ctimes, k)
			n++
		}
	}
	return n, nil
}

func TestEmbeddingCacheCleanupKeepsFreshEntries(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cleaner := &ctimeCleaner{ctimes: map[string]int64{
		"fresh": now.Add(-time.Hour).UnixMilli(),
		"stale": now.Add(-40 * 24 * time.Hour).UnixMilli(),
	}}
	j := NewEmbeddingCacheCleanupJob(cleaner, 30)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Run(context.Background()))
	require.Contains(t, cleaner.ctimes, "fresh")
	require.NotContains(t, cleaner.ctimes, "stale")
}

func TestJobsWithoutDependenciesAreNoops(t *testing.T) {
	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 1).Run(context.Background()))
	require.NoError(t, NewIngestPendingJob(nil, 10).Run(context.Background()))
	require.NoError(t, NewDiscoveryJob(nil).Run(context.Background()))
}
