package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/repo"
	"github.com/xxxsen/legisrag/internal/testutil"
)

func TestEmbeddingCacheRepo(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(db)

	require.NoError(t, cache.SaveMany(ctx, []*model.EmbeddingCache{
		{ModelName: "m@3", TaskType: "RETRIEVAL_DOCUMENT", ContentHash: "h1", Embedding: []float32{1, 2, 3}, Ctime: 10},
		{ModelName: "m@3", TaskType: "RETRIEVAL_DOCUMENT", ContentHash: "h2", Embedding: []float32{4, 5, 6}, Ctime: 100},
	}))
	got, err := cache.GetMany(ctx, "m@3", "RETRIEVAL_DOCUMENT", []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []float32{1, 2, 3}, got["h1"])

	deleted, err := cache.DeleteBefore(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
