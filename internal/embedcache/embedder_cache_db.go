package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
)

func WrapDBCacheToEmbedder(e ai.IEmbedder, store Store) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store, now: time.Now}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store Store
	now   func() time.Time
}

func (d *dbEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	cfg := d.next.Config()
	modelName := cacheModelName(cfg)
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = textHash(t)
	}
	out := make([][]float32, len(texts))
	cached, err := d.store.GetMany(ctx, modelName, taskType, hashes)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read embedding cache failed", zap.Error(err))
		cached = nil
	}
	hits := 0
	for i, h := range hashes {
		if v, ok := cached[h]; ok && len(v) == cfg.Dimension {
			out[i] = v
			hits++
		}
	}
	if hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("task_type", taskType), zap.Int("hits", hits), zap.Int("total", len(texts)))
	}
	fresh, err := fillMisses(ctx, d.next, texts, taskType, out)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return out, nil
	}
	now := d.now().UnixMilli()
	items := make([]*model.EmbeddingCache, 0, len(fresh))
	for _, i := range fresh {
		items = append(items, &model.EmbeddingCache{
			ModelName:   modelName,
			TaskType:    taskType,
			ContentHash: hashes[i],
			Embedding:   out[i],
			Ctime:       now,
		})
	}
	if err := d.store.SaveMany(ctx, items); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
	return out, nil
}

func (d *dbEmbedder) Config() ai.EmbeddingConfig {
	return d.next.Config()
}
