package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupEmbedder struct {
	cfg   EmbeddingConfig
	items []EmbedderEntry
}

// NewGroupEmbedder tries each entry in order. All entries must produce
// vectors in the same space, otherwise fallback would mix incomparable scores.
func NewGroupEmbedder(items []EmbedderEntry) (IEmbedder, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("embedder group is empty")
	}
	cfg := items[0].Embedder.Config()
	for _, item := range items[1:] {
		if !item.Embedder.Config().Equal(cfg) {
			return nil, fmt.Errorf("embedder %s uses %s/%d, group uses %s/%d",
				item.Name, item.Embedder.Config().Model, item.Embedder.Config().Dimension, cfg.Model, cfg.Dimension)
		}
	}
	if len(items) == 1 {
		return items[0].Embedder, nil
	}
	return &groupEmbedder{cfg: cfg, items: items}, nil
}

func (g *groupEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Embedder.Embed(ctx, texts, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	return nil, lastErr
}

func (g *groupEmbedder) Config() EmbeddingConfig {
	return g.cfg
}
