package embedcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
)

type countingEmbedder struct {
	cfg   ai.EmbeddingConfig
	calls [][]string
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, c.cfg.Dimension)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Config() ai.EmbeddingConfig { return c.cfg }

type memStore struct {
	mu      sync.Mutex
	items   map[string][]float32
	ctimes  map[string]int64
	getErr  error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{items: map[string][]float32{}, ctimes: map[string]int64{}}
}

func (m *memStore) GetMany(ctx context.Context, modelName, taskType string, hashes []string) (map[string][]float32, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := m.items[modelName+"|"+taskType+"|"+h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (m *memStore) SaveMany(ctx context.Context, items []*model.EmbeddingCache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		key := item.ModelName + "|" + item.TaskType + "|" + item.ContentHash
		m.items[key] = item.Embedding
		m.ctimes[key] = item.Ctime
	}
	return nil
}

func TestLRUCacheOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	e := WrapLruCacheToEmbedder(inner, 16, time.Minute)

	_, err := e.Embed(context.Background(), []string{"a", "bb"}, ai.TaskRetrievalQuery)
	require.NoError(t, err)
	vecs, err := e.Embed(context.Background(), []string{"bb", "ccc", "a"}, ai.TaskRetrievalQuery)
	require.NoError(t, err)

	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"ccc"}, inner.calls[1])
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(1), vecs[2][0])
	assert.Equal(t, inner.cfg, e.Config())
}

func TestLRUCacheReturnsCopies(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	e := WrapLruCacheToEmbedder(inner, 16, time.Minute)
	first, err := e.Embed(context.Background(), []string{"a"}, ai.TaskRetrievalQuery)
	require.NoError(t, err)
	first[0][0] = 99
	second, err := e.Embed(context.Background(), []string{"a"}, ai.TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, float32(1), second[0][0])
}

func TestLRUCacheDisabled(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	assert.Same(t, ai.IEmbedder(inner), WrapLruCacheToEmbedder(inner, 0, time.Minute))
}

func TestDBCacheReusesVectorsAcrossCalls(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	store := newMemStore()
	e := WrapDBCacheToEmbedder(inner, store)

	_, err := e.Embed(context.Background(), []string{"one", "two"}, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	vecs, err := e.Embed(context.Background(), []string{"two", "three", "one"}, ai.TaskRetrievalDocument)
	require.NoError(t, err)

	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"three"}, inner.calls[1])
	assert.Equal(t, float32(5), vecs[1][0])

	// a different task type is a different cache entry
	_, err = e.Embed(context.Background(), []string{"one"}, ai.TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Len(t, inner.calls, 3)
}

func TestDBCacheIgnoresStoreErrors(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	store := newMemStore()
	store.getErr = errors.New("db down")
	store.saveErr = errors.New("db down")
	e := WrapDBCacheToEmbedder(inner, store)
	vecs, err := e.Embed(context.Background(), []string{"x"}, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestDBCacheSkipsWrongDimensionEntries(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	store := newMemStore()
	store.items[cacheModelName(inner.cfg)+"|"+ai.TaskRetrievalDocument+"|"+textHash("x")] = []float32{1, 2, 3}
	e := WrapDBCacheToEmbedder(inner, store)
	vecs, err := e.Embed(context.Background(), []string{"x"}, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, vecs[0], 2)
	assert.Len(t, inner.calls, 1)
}

func TestDBCacheStampsCtimeInMillis(t *testing.T) {
	inner := &countingEmbedder{cfg: ai.EmbeddingConfig{Model: "m", Dimension: 2}}
	store := newMemStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := WrapDBCacheToEmbedder(inner, store).(*dbEmbedder)
	e.now = func() time.Time { return now }

	_, err := e.Embed(context.Background(), []string{"x"}, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	key := cacheModelName(inner.cfg) + "|" + ai.TaskRetrievalDocument + "|" + textHash("x")
	assert.Equal(t, now.UnixMilli(), store.ctimes[key])
}
